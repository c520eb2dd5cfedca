package models

import (
	"time"

	"github.com/google/uuid"
)

// Default limits applied when a user has no configured row yet.
const (
	DefaultDailyLimit          int64 = 1_000_000
	DefaultPerTransactionLimit int64 = 100_000
)

// TransferLimit maps to table `transfer_limits`; one row per user.
type TransferLimit struct {
	UserID              uuid.UUID
	DailyLimit          int64
	PerTransactionLimit int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
