package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/ezpaylabs/transfer-engine/pkg"
	"github.com/ezpaylabs/transfer-engine/pkg/database"
	"github.com/ezpaylabs/transfer-engine/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransferRepository persists transfer records and serves history and the
// daily aggregate used by the limit checker.
type TransferRepository interface {
	// Create inserts a PENDING transfer record.
	Create(ctx context.Context, transfer models.Transfer) error
	// MarkStatus moves a record to a terminal status with a message.
	MarkStatus(ctx context.Context, transferID uuid.UUID, status pkg.TransferStatus, message string) error
	FindById(ctx context.Context, transferID uuid.UUID) (models.Transfer, error)
	FindExecutedByKey(ctx context.Context, key uuid.UUID) (models.Transfer, error)
	// SumSentForDay totals successful outgoing amounts of one account within
	// the given calendar day. Reads the primary: the limit double-check runs
	// under the account lock and must not see replica lag.
	SumSentForDay(ctx context.Context, accountID uuid.UUID, day time.Time) (int64, error)
	// ListByAccount returns sent and received transfers, newest first.
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Transfer, error)
	// ListRecentSent returns the account's recent outgoing transfers.
	ListRecentSent(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Transfer, error)
}

type TransferRepositoryImpl struct {
	db *database.DB
}

func NewTransferRepository(db *database.DB) TransferRepository {
	return &TransferRepositoryImpl{db: db}
}

const transferColumns = `id, sender_account_id, receiver_account_id, amount, memo, category, status, message, idempotency_key, created_at, updated_at`

func (t TransferRepositoryImpl) Create(ctx context.Context, transfer models.Transfer) error {
	_, err := t.db.Exec(ctx, `
		INSERT INTO transfers (id, sender_account_id, receiver_account_id, amount, memo, category, status, message, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		transfer.ID, transfer.SenderAccountID, transfer.ReceiverAccountID, transfer.Amount,
		transfer.Memo, transfer.Category, transfer.Status, transfer.Message,
		transfer.IdempotencyKey, transfer.CreatedAt, transfer.UpdatedAt)
	return err
}

func (t TransferRepositoryImpl) MarkStatus(ctx context.Context, transferID uuid.UUID, status pkg.TransferStatus, message string) error {
	// Terminal records are immutable: only PENDING rows may move.
	tag, err := t.db.Exec(ctx, `
		UPDATE transfers SET status = $1, message = $2, updated_at = now()
		WHERE id = $3 AND status = $4`,
		status, message, transferID, pkg.TransferStatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("transfer record not pending")
	}
	return nil
}

func (t TransferRepositoryImpl) FindById(ctx context.Context, transferID uuid.UUID) (models.Transfer, error) {
	row := t.db.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, transferID)
	return scanTransfer(row)
}

// FindExecutedByKey returns the successful transfer executed under key, if
// any. Failed attempts under the same key are ignored; the partial unique
// index guarantees at most one row matches.
func (t TransferRepositoryImpl) FindExecutedByKey(ctx context.Context, key uuid.UUID) (models.Transfer, error) {
	if key == uuid.Nil {
		return models.Transfer{}, errors.New("idempotency key cannot be nil")
	}
	row := t.db.QueryRowPrimary(ctx, `SELECT `+transferColumns+` FROM transfers WHERE idempotency_key = $1 AND status = $2`,
		key, pkg.TransferStatusSuccess)
	return scanTransfer(row)
}

func (t TransferRepositoryImpl) SumSentForDay(ctx context.Context, accountID uuid.UUID, day time.Time) (int64, error) {
	var total int64
	err := t.db.QueryRowPrimary(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM transfers
		WHERE sender_account_id = $1 AND status = $2 AND created_at >= $3 AND created_at < $4`,
		accountID, pkg.TransferStatusSuccess, startOfDay(day), startOfDay(day).AddDate(0, 0, 1),
	).Scan(&total)
	return total, err
}

func (t TransferRepositoryImpl) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Transfer, error) {
	rows, err := t.db.Query(ctx, `
		SELECT `+transferColumns+` FROM transfers
		WHERE sender_account_id = $1 OR receiver_account_id = $1
		ORDER BY created_at DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransfers(rows)
}

func (t TransferRepositoryImpl) ListRecentSent(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Transfer, error) {
	rows, err := t.db.Query(ctx, `
		SELECT `+transferColumns+` FROM transfers
		WHERE sender_account_id = $1
		ORDER BY created_at DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransfers(rows)
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func scanTransfer(row pgx.Row) (models.Transfer, error) {
	var transfer models.Transfer
	var status string
	err := row.Scan(&transfer.ID, &transfer.SenderAccountID, &transfer.ReceiverAccountID,
		&transfer.Amount, &transfer.Memo, &transfer.Category, &status, &transfer.Message,
		&transfer.IdempotencyKey, &transfer.CreatedAt, &transfer.UpdatedAt)
	if err != nil {
		return models.Transfer{}, err
	}
	transfer.Status = pkg.TransferStatus(status)
	return transfer, nil
}

func collectTransfers(rows pgx.Rows) ([]models.Transfer, error) {
	var transfers []models.Transfer
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, transfer)
	}
	return transfers, rows.Err()
}
