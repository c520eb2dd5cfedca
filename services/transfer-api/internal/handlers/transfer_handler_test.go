package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ezpaylabs/transfer-engine/pkg"
	middleware "github.com/ezpaylabs/transfer-engine/pkg/middlewares"
	"github.com/ezpaylabs/transfer-engine/pkg/views"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubTransferService struct {
	result views.TransferResult
	err    error
	gotKey string
	gotReq views.TransferRequest
}

func (s *stubTransferService) Transfer(_ context.Context, _ string, idempotencyKey string, req views.TransferRequest) (views.TransferResult, error) {
	s.gotKey = idempotencyKey
	s.gotReq = req
	return s.result, s.err
}

type stubAccountService struct {
	history []views.TransactionInfo
	err     error
}

func (s *stubAccountService) CreateAccount(context.Context, string, views.CreateAccountRequest) (views.AccountInfo, error) {
	return views.AccountInfo{}, s.err
}
func (s *stubAccountService) LookupByNumber(context.Context, string, string) (views.AccountInfo, error) {
	return views.AccountInfo{}, s.err
}
func (s *stubAccountService) History(context.Context, string, uuid.UUID, int) ([]views.TransactionInfo, error) {
	return s.history, s.err
}
func (s *stubAccountService) RecentSent(context.Context, string, uuid.UUID, int, string) ([]views.TransactionInfo, error) {
	return s.history, s.err
}

func newTestRouter(transfers *stubTransferService, accounts *stubAccountService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/api/v1")
	api.Use(middleware.TraceID())
	h := NewTransferHandler(zap.NewNop(), transfers, accounts, nil)
	h.RegisterRoutes(api)
	return r
}

func postTransfer(r *gin.Engine, body map[string]any, idempotencyKey string) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transaction/transfer", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(pkg.HeaderIdempotencyKey, idempotencyKey)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func validTransferBody() map[string]any {
	return map[string]any{
		"fromAccountId":   uuid.New().String(),
		"toAccountNumber": "1101234567890",
		"amount":          3000,
	}
}

func TestTransferEndpointSuccess(t *testing.T) {
	key := uuid.New().String()
	svc := &stubTransferService{result: views.TransferResult{
		TransferID:     uuid.New().String(),
		Status:         pkg.TransferStatusSuccess,
		SenderBalance:  7_000,
		Message:        "송금이 완료되었습니다.",
		IdempotencyKey: key,
	}}
	r := newTestRouter(svc, &stubAccountService{})

	w := postTransfer(r, validTransferBody(), key)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, key, w.Header().Get(pkg.HeaderIdempotencyKey))
	assert.Equal(t, key, svc.gotKey)

	var resp pkg.CommonResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
}

func TestTransferEndpointReplayedReturns200(t *testing.T) {
	svc := &stubTransferService{result: views.TransferResult{
		TransferID:     uuid.New().String(),
		Status:         pkg.TransferStatusSuccess,
		IdempotencyKey: uuid.New().String(),
		Replayed:       true,
	}}
	r := newTestRouter(svc, &stubAccountService{})

	w := postTransfer(r, validTransferBody(), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTransferEndpointBusinessFailure(t *testing.T) {
	svc := &stubTransferService{
		result: views.TransferResult{
			Status:    pkg.TransferStatusFailed,
			ErrorCode: pkg.ErrInsufficientFundsCode.Code,
			Message:   pkg.ErrInsufficientFundsCode.Message,
		},
		err: pkg.NewDomainError(pkg.ErrInsufficientFundsCode, nil),
	}
	r := newTestRouter(svc, &stubAccountService{})

	w := postTransfer(r, validTransferBody(), "")
	assert.Equal(t, pkg.ErrInsufficientFundsCode.Status, w.Code)

	var resp pkg.CommonResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "fail", resp.Status)
	assert.Equal(t, pkg.ErrInsufficientFundsCode.Message, resp.Message)
}

func TestTransferEndpointRejectsBadBody(t *testing.T) {
	svc := &stubTransferService{}
	r := newTestRouter(svc, &stubAccountService{})

	for _, body := range []map[string]any{
		{"toAccountNumber": "1101234567890", "amount": 3000},             // missing sender
		{"fromAccountId": uuid.New().String(), "amount": 3000},           // missing receiver
		{"fromAccountId": uuid.New().String(), "toAccountNumber": "110"}, // number too short, no amount
		{"fromAccountId": "nope", "toAccountNumber": "1101234567890", "amount": 3000},
	} {
		w := postTransfer(r, body, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	accounts := &stubAccountService{history: []views.TransactionInfo{
		{TransferID: uuid.New().String(), Amount: 1_000, Status: pkg.TransferStatusSuccess},
	}}
	r := newTestRouter(&stubTransferService{}, accounts)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/transaction/account/"+uuid.New().String(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp pkg.CommonResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)

	// Bad account id is rejected before hitting the service.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/transaction/account/not-a-uuid", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
