package engine

import (
	"context"
	"time"

	"github.com/ezpaylabs/transfer-engine/pkg"
	"github.com/ezpaylabs/transfer-engine/pkg/models"
	"github.com/google/uuid"
)

// LimitStore serves the per-user limit configuration.
type LimitStore interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (models.TransferLimit, error)
}

// DailyAggregator totals an account's successful outgoing transfers for a day.
type DailyAggregator interface {
	SumSentForDay(ctx context.Context, accountID uuid.UUID, day time.Time) (int64, error)
}

// LimitChecker enforces per-transaction and daily cumulative transfer limits.
// The engine calls Check while holding the sender's account lock, which closes
// the race where two concurrent transfers each pass the daily check alone but
// together exceed it.
type LimitChecker struct {
	limits    LimitStore
	aggregate DailyAggregator
	now       func() time.Time
}

func NewLimitChecker(limits LimitStore, aggregate DailyAggregator) *LimitChecker {
	return &LimitChecker{limits: limits, aggregate: aggregate, now: time.Now}
}

// Check validates amount against the owner's per-transaction limit and the
// sender account's remaining daily budget. Returns a domain AppError on
// violation.
func (c *LimitChecker) Check(ctx context.Context, userID, accountID uuid.UUID, amount int64) error {
	limit, err := c.limits.GetOrCreate(ctx, userID)
	if err != nil {
		return err
	}

	if amount > limit.PerTransactionLimit {
		return pkg.NewDomainError(pkg.ErrPerTransactionLimitCode, nil)
	}

	usedToday, err := c.aggregate.SumSentForDay(ctx, accountID, c.now())
	if err != nil {
		return err
	}
	if usedToday+amount > limit.DailyLimit {
		return pkg.NewDomainError(pkg.ErrDailyLimitCode, nil)
	}
	return nil
}

// Usage reports today's consumed and remaining daily budget for an account.
func (c *LimitChecker) Usage(ctx context.Context, userID, accountID uuid.UUID) (models.TransferLimit, int64, int64, error) {
	limit, err := c.limits.GetOrCreate(ctx, userID)
	if err != nil {
		return models.TransferLimit{}, 0, 0, err
	}
	usedToday, err := c.aggregate.SumSentForDay(ctx, accountID, c.now())
	if err != nil {
		return models.TransferLimit{}, 0, 0, err
	}
	remaining := limit.DailyLimit - usedToday
	if remaining < 0 {
		remaining = 0
	}
	return limit, usedToday, remaining, nil
}
