package services

import (
	"context"
	"errors"

	"github.com/ezpaylabs/transfer-engine/pkg"
	middleware "github.com/ezpaylabs/transfer-engine/pkg/middlewares"
	"github.com/ezpaylabs/transfer-engine/pkg/repositories"
	"github.com/ezpaylabs/transfer-engine/pkg/views"
	"github.com/ezpaylabs/transfer-engine/services/transfer-api/internal/engine"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type TransferService interface {
	// Transfer executes one transfer attempt. idempotencyKey may be empty, in
	// which case a fresh key is generated and the attempt is unique.
	Transfer(ctx context.Context, traceID string, idempotencyKey string, req views.TransferRequest) (views.TransferResult, error)
}

type TransferServiceImpl struct {
	logger      *zap.Logger
	engine      *engine.Engine
	accountRepo repositories.AccountRepository
}

func NewTransferService(logger *zap.Logger, eng *engine.Engine, accountRepo repositories.AccountRepository) TransferService {
	return &TransferServiceImpl{logger: logger, engine: eng, accountRepo: accountRepo}
}

func (s *TransferServiceImpl) Transfer(ctx context.Context, traceID string, idempotencyKey string, req views.TransferRequest) (views.TransferResult, error) {
	fromID, err := uuid.Parse(req.FromAccountID)
	if err != nil {
		return views.TransferResult{}, pkg.NewAppError(pkg.ErrInvalidInputCode, "invalid sender account id", err)
	}

	// Resolve the receiver's account number before touching the engine so a
	// typo fails fast without consuming the idempotency key.
	receiver, err := s.accountRepo.FindByNumber(ctx, req.ToAccountNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return views.TransferResult{}, pkg.NewDomainError(pkg.ErrAccountNotFoundCode, err)
		}
		return views.TransferResult{}, pkg.HandleSQLError(traceID, s.logger, err)
	}

	key := uuid.New()
	if idempotencyKey != "" {
		key, err = uuid.Parse(idempotencyKey)
		if err != nil {
			return views.TransferResult{}, pkg.NewAppError(pkg.ErrInvalidInputCode, "idempotency key must be a UUID", err)
		}
	}

	result, execErr := s.engine.Execute(ctx, engine.Command{
		FromAccountID:  fromID,
		ToAccountID:    receiver.ID,
		Amount:         req.Amount,
		Memo:           req.Memo,
		Category:       req.Category,
		IdempotencyKey: key,
	})
	if result.Status != "" {
		middleware.ObserveTransfer(string(result.Status))
	}
	if execErr != nil {
		s.logger.Warn("transfer rejected",
			zap.String(pkg.TraceId, traceID),
			zap.String(pkg.IdempotencyKey, key.String()),
			zap.Error(execErr))
		return result, execErr
	}
	return result, nil
}
