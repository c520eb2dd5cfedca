package services

import (
	"context"
	"errors"

	"github.com/ezpaylabs/transfer-engine/pkg"
	"github.com/ezpaylabs/transfer-engine/pkg/repositories"
	"github.com/ezpaylabs/transfer-engine/pkg/views"
	"github.com/ezpaylabs/transfer-engine/services/transfer-api/internal/engine"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type LimitService interface {
	Usage(ctx context.Context, traceID string, userID, accountID uuid.UUID) (views.TransferLimitInfo, error)
	Update(ctx context.Context, traceID string, userID uuid.UUID, req views.TransferLimitRequest) (views.TransferLimitInfo, error)
	Reset(ctx context.Context, traceID string, userID uuid.UUID) (views.TransferLimitInfo, error)
}

type LimitServiceImpl struct {
	logger      *zap.Logger
	limitRepo   repositories.TransferLimitRepository
	userRepo    repositories.UserRepository
	accountRepo repositories.AccountRepository
	checker     *engine.LimitChecker
}

func NewLimitService(logger *zap.Logger, limitRepo repositories.TransferLimitRepository,
	userRepo repositories.UserRepository, accountRepo repositories.AccountRepository,
	checker *engine.LimitChecker) LimitService {
	return &LimitServiceImpl{
		logger:      logger,
		limitRepo:   limitRepo,
		userRepo:    userRepo,
		accountRepo: accountRepo,
		checker:     checker,
	}
}

// Usage reports the user's configured limits with today's consumption. When
// accountID is nil the user's main account is used.
func (s *LimitServiceImpl) Usage(ctx context.Context, traceID string, userID, accountID uuid.UUID) (views.TransferLimitInfo, error) {
	if err := s.requireUser(ctx, traceID, userID); err != nil {
		return views.TransferLimitInfo{}, err
	}
	if accountID == uuid.Nil {
		accounts, err := s.accountRepo.ListByUserId(ctx, userID)
		if err != nil {
			return views.TransferLimitInfo{}, pkg.HandleSQLError(traceID, s.logger, err)
		}
		if len(accounts) == 0 {
			return views.TransferLimitInfo{}, pkg.NewDomainError(pkg.ErrAccountNotFoundCode, nil)
		}
		accountID = accounts[0].ID
		for _, a := range accounts {
			if a.IsMain {
				accountID = a.ID
				break
			}
		}
	}
	limit, used, remaining, err := s.checker.Usage(ctx, userID, accountID)
	if err != nil {
		return views.TransferLimitInfo{}, pkg.HandleSQLError(traceID, s.logger, err)
	}
	return views.TransferLimitInfo{
		UserID:              userID.String(),
		DailyLimit:          limit.DailyLimit,
		PerTransactionLimit: limit.PerTransactionLimit,
		UsedAmount:          used,
		RemainingAmount:     remaining,
	}, nil
}

// Update sets a user's limits. Per-transaction may not exceed daily.
func (s *LimitServiceImpl) Update(ctx context.Context, traceID string, userID uuid.UUID, req views.TransferLimitRequest) (views.TransferLimitInfo, error) {
	if req.PerTransactionLimit > req.DailyLimit {
		return views.TransferLimitInfo{}, pkg.NewAppError(pkg.ErrInvalidInputCode,
			"per-transaction limit cannot exceed daily limit", nil)
	}
	if err := s.requireUser(ctx, traceID, userID); err != nil {
		return views.TransferLimitInfo{}, err
	}
	limit, err := s.limitRepo.Update(ctx, userID, req.DailyLimit, req.PerTransactionLimit)
	if err != nil {
		return views.TransferLimitInfo{}, pkg.HandleSQLError(traceID, s.logger, err)
	}
	s.logger.Info("transfer limits updated",
		zap.String(pkg.TraceId, traceID),
		zap.String("user_id", userID.String()),
		zap.Int64("daily_limit", limit.DailyLimit),
		zap.Int64("per_transaction_limit", limit.PerTransactionLimit))
	return views.TransferLimitInfo{
		UserID:              userID.String(),
		DailyLimit:          limit.DailyLimit,
		PerTransactionLimit: limit.PerTransactionLimit,
	}, nil
}

// Reset restores a user's limits to the service defaults.
func (s *LimitServiceImpl) Reset(ctx context.Context, traceID string, userID uuid.UUID) (views.TransferLimitInfo, error) {
	if err := s.requireUser(ctx, traceID, userID); err != nil {
		return views.TransferLimitInfo{}, err
	}
	limit, err := s.limitRepo.Reset(ctx, userID)
	if err != nil {
		return views.TransferLimitInfo{}, pkg.HandleSQLError(traceID, s.logger, err)
	}
	return views.TransferLimitInfo{
		UserID:              userID.String(),
		DailyLimit:          limit.DailyLimit,
		PerTransactionLimit: limit.PerTransactionLimit,
	}, nil
}

func (s *LimitServiceImpl) requireUser(ctx context.Context, traceID string, userID uuid.UUID) error {
	if _, err := s.userRepo.FindById(ctx, userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pkg.NewAppError(pkg.ErrRecordNotFoundCode, "user not found", err)
		}
		return pkg.HandleSQLError(traceID, s.logger, err)
	}
	return nil
}
