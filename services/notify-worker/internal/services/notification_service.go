package services

import (
	"context"
	"fmt"
	"time"

	"github.com/ezpaylabs/transfer-engine/pkg"
	"github.com/ezpaylabs/transfer-engine/pkg/models"
	"github.com/ezpaylabs/transfer-engine/pkg/views"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// TxRunner runs fn inside a database transaction.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error
}

// NotificationStore persists notification rows.
type NotificationStore interface {
	Create(ctx context.Context, tx pgx.Tx, notification models.Notification) (pgconn.CommandTag, error)
}

type NotificationService interface {
	Record(ctx context.Context, event views.TransferEvent) error
}

// NotificationServiceImpl turns terminal transfer events into per-account
// notification rows. A successful transfer notifies both sides; a failed one
// notifies the sender only. Inserts are conflict-free on redelivery.
type NotificationServiceImpl struct {
	logger *zap.Logger
	db     TxRunner
	repo   NotificationStore
}

func NewNotificationService(logger *zap.Logger, db TxRunner, repo NotificationStore) NotificationService {
	return &NotificationServiceImpl{logger: logger, db: db, repo: repo}
}

func (s *NotificationServiceImpl) Record(ctx context.Context, event views.TransferEvent) error {
	transferID, err := uuid.Parse(event.TransferID)
	if err != nil {
		return fmt.Errorf("invalid transfer id %q: %w", event.TransferID, err)
	}
	senderID, err := uuid.Parse(event.SenderAccountID)
	if err != nil {
		return fmt.Errorf("invalid sender account id %q: %w", event.SenderAccountID, err)
	}
	receiverID, err := uuid.Parse(event.ReceiverAccountID)
	if err != nil {
		return fmt.Errorf("invalid receiver account id %q: %w", event.ReceiverAccountID, err)
	}

	now := time.Now()
	var notifications []models.Notification
	switch event.Status {
	case pkg.TransferStatusSuccess:
		notifications = []models.Notification{
			{
				ID:         uuid.New(),
				TransferID: transferID,
				AccountID:  senderID,
				Kind:       pkg.NotificationWithdrawal,
				Message:    fmt.Sprintf("%d원이 출금되었습니다.", event.Amount),
				CreatedAt:  now,
			},
			{
				ID:         uuid.New(),
				TransferID: transferID,
				AccountID:  receiverID,
				Kind:       pkg.NotificationDeposit,
				Message:    fmt.Sprintf("%d원이 입금되었습니다.", event.Amount),
				CreatedAt:  now,
			},
		}
	case pkg.TransferStatusFailed:
		notifications = []models.Notification{
			{
				ID:         uuid.New(),
				TransferID: transferID,
				AccountID:  senderID,
				Kind:       pkg.NotificationTransferFailed,
				Message:    failureMessage(event.Message),
				CreatedAt:  now,
			},
		}
	default:
		return fmt.Errorf("unexpected transfer status %q", event.Status)
	}

	err = s.db.WithTransaction(ctx, func(ctx context.Context, tx pgx.Tx) error {
		for _, n := range notifications {
			if _, err := s.repo.Create(ctx, tx, n); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("notifications recorded",
		zap.String(pkg.TransferId, transferID.String()),
		zap.String("status", string(event.Status)),
		zap.Int("count", len(notifications)))
	return nil
}

func failureMessage(reason string) string {
	if reason == "" {
		return "송금에 실패했습니다."
	}
	return "송금에 실패했습니다: " + reason
}
