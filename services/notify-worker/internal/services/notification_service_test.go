package services

import (
	"context"
	"testing"
	"time"

	"github.com/ezpaylabs/transfer-engine/pkg"
	"github.com/ezpaylabs/transfer-engine/pkg/models"
	"github.com/ezpaylabs/transfer-engine/pkg/views"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeTxRunner runs the callback with a nil tx; the fake store ignores it.
type fakeTxRunner struct{}

func (fakeTxRunner) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

type fakeNotificationStore struct {
	created []models.Notification
}

func (f *fakeNotificationStore) Create(_ context.Context, _ pgx.Tx, n models.Notification) (pgconn.CommandTag, error) {
	f.created = append(f.created, n)
	return pgconn.CommandTag{}, nil
}

func successEvent(amount int64) views.TransferEvent {
	return views.TransferEvent{
		TransferID:        uuid.New().String(),
		SenderAccountID:   uuid.New().String(),
		ReceiverAccountID: uuid.New().String(),
		Amount:            amount,
		Status:            pkg.TransferStatusSuccess,
		OccurredAt:        time.Now(),
	}
}

func TestRecordSuccessNotifiesBothSides(t *testing.T) {
	store := &fakeNotificationStore{}
	svc := NewNotificationService(zap.NewNop(), fakeTxRunner{}, store)

	event := successEvent(3_000)
	require.NoError(t, svc.Record(context.Background(), event))

	require.Len(t, store.created, 2)
	byKind := map[pkg.NotificationKind]models.Notification{}
	for _, n := range store.created {
		byKind[n.Kind] = n
	}

	withdrawal, ok := byKind[pkg.NotificationWithdrawal]
	require.True(t, ok)
	assert.Equal(t, event.SenderAccountID, withdrawal.AccountID.String())
	assert.Contains(t, withdrawal.Message, "3000")

	deposit, ok := byKind[pkg.NotificationDeposit]
	require.True(t, ok)
	assert.Equal(t, event.ReceiverAccountID, deposit.AccountID.String())
}

func TestRecordFailureNotifiesSenderOnly(t *testing.T) {
	store := &fakeNotificationStore{}
	svc := NewNotificationService(zap.NewNop(), fakeTxRunner{}, store)

	event := successEvent(3_000)
	event.Status = pkg.TransferStatusFailed
	event.Message = "잔액이 부족합니다."
	require.NoError(t, svc.Record(context.Background(), event))

	require.Len(t, store.created, 1)
	n := store.created[0]
	assert.Equal(t, pkg.NotificationTransferFailed, n.Kind)
	assert.Equal(t, event.SenderAccountID, n.AccountID.String())
	assert.Contains(t, n.Message, event.Message)
}

func TestRecordRejectsMalformedEvent(t *testing.T) {
	store := &fakeNotificationStore{}
	svc := NewNotificationService(zap.NewNop(), fakeTxRunner{}, store)

	event := successEvent(1_000)
	event.TransferID = "not-a-uuid"
	require.Error(t, svc.Record(context.Background(), event))
	assert.Empty(t, store.created)

	event = successEvent(1_000)
	event.Status = pkg.TransferStatusPending
	require.Error(t, svc.Record(context.Background(), event))
	assert.Empty(t, store.created)
}
