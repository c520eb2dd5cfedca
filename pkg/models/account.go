package models

import (
	"time"

	"github.com/ezpaylabs/transfer-engine/pkg"
	"github.com/google/uuid"
)

// Account maps to table `accounts`. Balance is kept in the smallest currency
// unit as a non-negative integer; Version is the optimistic-concurrency
// counter bumped on every balance change.
type Account struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	AccountNumber string
	BankName      string
	Balance       int64
	Status        pkg.AccountStatus
	IsMain        bool
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (a Account) Active() bool {
	return a.Status == pkg.AccountStatusActive
}
