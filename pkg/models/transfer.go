package models

import (
	"time"

	"github.com/ezpaylabs/transfer-engine/pkg"
	"github.com/ezpaylabs/transfer-engine/pkg/views"
	"github.com/google/uuid"
)

// Transfer maps to table `transfers`. A row is created once per transfer
// attempt and is immutable after reaching a terminal status.
type Transfer struct {
	ID                uuid.UUID
	SenderAccountID   uuid.UUID
	ReceiverAccountID uuid.UUID
	Amount            int64
	Memo              string
	Category          string
	Status            pkg.TransferStatus
	Message           string
	IdempotencyKey    uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (t Transfer) ToEvent() views.TransferEvent {
	return views.TransferEvent{
		TransferID:        t.ID.String(),
		SenderAccountID:   t.SenderAccountID.String(),
		ReceiverAccountID: t.ReceiverAccountID.String(),
		Amount:            t.Amount,
		Memo:              t.Memo,
		Category:          t.Category,
		Status:            t.Status,
		Message:           t.Message,
		OccurredAt:        t.UpdatedAt,
	}
}
