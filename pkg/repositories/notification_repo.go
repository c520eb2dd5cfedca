package repositories

import (
	"context"

	"github.com/ezpaylabs/transfer-engine/pkg/database"
	"github.com/ezpaylabs/transfer-engine/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// NotificationRepository persists notification rows written by notify-worker.
type NotificationRepository interface {
	Create(ctx context.Context, tx pgx.Tx, notification models.Notification) (pgconn.CommandTag, error)
}

type NotificationRepositoryImpl struct {
	db *database.DB
}

func NewNotificationRepository(db *database.DB) NotificationRepository {
	return &NotificationRepositoryImpl{db: db}
}

func (n NotificationRepositoryImpl) Create(ctx context.Context, tx pgx.Tx, notification models.Notification) (pgconn.CommandTag, error) {
	return tx.Exec(ctx, `
		INSERT INTO notifications (id, transfer_id, account_id, kind, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING`,
		notification.ID, notification.TransferID, notification.AccountID,
		notification.Kind, notification.Message, notification.CreatedAt)
}
