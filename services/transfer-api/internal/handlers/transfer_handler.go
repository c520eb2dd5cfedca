package handlers

import (
	"net/http"
	"strconv"

	"github.com/ezpaylabs/transfer-engine/pkg"
	"github.com/ezpaylabs/transfer-engine/pkg/utils"
	"github.com/ezpaylabs/transfer-engine/pkg/views"
	"github.com/ezpaylabs/transfer-engine/services/transfer-api/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type TransferHandler struct {
	logger   *zap.Logger
	service  services.TransferService
	accounts services.AccountService
	limiter  *pkg.DistributedLimiter
}

func NewTransferHandler(logger *zap.Logger, svc services.TransferService,
	accounts services.AccountService, limiter *pkg.DistributedLimiter) *TransferHandler {
	return &TransferHandler{logger: logger, service: svc, accounts: accounts, limiter: limiter}
}

// RegisterRoutes registers transaction routes on the provided group.
func (h *TransferHandler) RegisterRoutes(r *gin.RouterGroup) {
	tx := r.Group("/transaction")
	tx.POST("/transfer", h.Transfer)
	tx.GET("/account/:accountId", h.History)
	tx.GET("/account/:accountId/recent", h.RecentSent)
}

func (h *TransferHandler) Transfer(c *gin.Context) {
	traceID, err := utils.GetTraceID(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, pkg.NewFailResponse(pkg.ErrServerCode.Message))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(c.Request.Context()) {
		c.JSON(pkg.ErrRateLimitedCode.Status, pkg.NewFailResponse(pkg.ErrRateLimitedCode.Message))
		return
	}

	var req views.TransferRequest
	if err = c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, pkg.NewFailResponse("invalid request body"))
		return
	}

	idempotencyKey := c.GetHeader(pkg.HeaderIdempotencyKey)
	result, err := h.service.Transfer(c.Request.Context(), traceID, idempotencyKey, req)
	if result.IdempotencyKey != "" {
		// Echo the key so clients that omitted it can retry safely.
		c.Header(pkg.HeaderIdempotencyKey, result.IdempotencyKey)
	}
	if err != nil {
		resp := pkg.ToErrorResponse(h.logger, traceID, err)
		body := pkg.NewFailResponse(resp.Message)
		if result.ErrorCode != "" {
			body.Data = result
		}
		c.JSON(resp.Status, body)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, pkg.NewSuccessResponse(result, result.Message))
}

func (h *TransferHandler) History(c *gin.Context) {
	traceID, err := utils.GetTraceID(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, pkg.NewFailResponse(pkg.ErrServerCode.Message))
		return
	}
	accountID, err := uuid.Parse(c.Param("accountId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, pkg.NewFailResponse("invalid account id"))
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))

	history, err := h.accounts.History(c.Request.Context(), traceID, accountID, limit)
	if err != nil {
		resp := pkg.ToErrorResponse(h.logger, traceID, err)
		c.JSON(resp.Status, pkg.NewFailResponse(resp.Message))
		return
	}
	c.JSON(http.StatusOK, pkg.NewSuccessResponse(history, ""))
}

func (h *TransferHandler) RecentSent(c *gin.Context) {
	traceID, err := utils.GetTraceID(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, pkg.NewFailResponse(pkg.ErrServerCode.Message))
		return
	}
	accountID, err := uuid.Parse(c.Param("accountId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, pkg.NewFailResponse("invalid account id"))
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	sort := c.DefaultQuery("sort", "desc")

	recent, err := h.accounts.RecentSent(c.Request.Context(), traceID, accountID, limit, sort)
	if err != nil {
		resp := pkg.ToErrorResponse(h.logger, traceID, err)
		c.JSON(resp.Status, pkg.NewFailResponse(resp.Message))
		return
	}
	c.JSON(http.StatusOK, pkg.NewSuccessResponse(recent, ""))
}
