package models

import (
	"time"

	"github.com/ezpaylabs/transfer-engine/pkg"
	"github.com/google/uuid"
)

// Notification maps to table `notifications`; written by notify-worker.
type Notification struct {
	ID         uuid.UUID
	TransferID uuid.UUID
	AccountID  uuid.UUID
	Kind       pkg.NotificationKind
	Message    string
	CreatedAt  time.Time
}
