package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/ezpaylabs/transfer-engine/pkg/database"
	"github.com/ezpaylabs/transfer-engine/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransferLimitRepository manages per-user transfer limit rows. A user with no
// row gets the defaults created on first read.
type TransferLimitRepository interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (models.TransferLimit, error)
	Update(ctx context.Context, userID uuid.UUID, dailyLimit, perTransactionLimit int64) (models.TransferLimit, error)
	Reset(ctx context.Context, userID uuid.UUID) (models.TransferLimit, error)
}

type TransferLimitRepositoryImpl struct {
	db *database.DB
}

func NewTransferLimitRepository(db *database.DB) TransferLimitRepository {
	return &TransferLimitRepositoryImpl{db: db}
}

const limitColumns = `user_id, daily_limit, per_transaction_limit, created_at, updated_at`

func (r TransferLimitRepositoryImpl) GetOrCreate(ctx context.Context, userID uuid.UUID) (models.TransferLimit, error) {
	if userID == uuid.Nil {
		return models.TransferLimit{}, errors.New("user ID cannot be nil")
	}

	row := r.db.QueryRowPrimary(ctx, `SELECT `+limitColumns+` FROM transfer_limits WHERE user_id = $1`, userID)
	limit, err := scanLimit(row)
	if err == nil {
		return limit, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.TransferLimit{}, err
	}

	// First read for this user: create the default row. ON CONFLICT covers the
	// concurrent first-read race.
	now := time.Now()
	row = r.db.QueryRowPrimary(ctx, `
		INSERT INTO transfer_limits (user_id, daily_limit, per_transaction_limit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = transfer_limits.updated_at
		RETURNING `+limitColumns,
		userID, models.DefaultDailyLimit, models.DefaultPerTransactionLimit, now)
	return scanLimit(row)
}

func (r TransferLimitRepositoryImpl) Update(ctx context.Context, userID uuid.UUID, dailyLimit, perTransactionLimit int64) (models.TransferLimit, error) {
	row := r.db.QueryRowPrimary(ctx, `
		INSERT INTO transfer_limits (user_id, daily_limit, per_transaction_limit, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (user_id) DO UPDATE SET daily_limit = $2, per_transaction_limit = $3, updated_at = now()
		RETURNING `+limitColumns,
		userID, dailyLimit, perTransactionLimit)
	return scanLimit(row)
}

func (r TransferLimitRepositoryImpl) Reset(ctx context.Context, userID uuid.UUID) (models.TransferLimit, error) {
	return r.Update(ctx, userID, models.DefaultDailyLimit, models.DefaultPerTransactionLimit)
}

func scanLimit(row pgx.Row) (models.TransferLimit, error) {
	var limit models.TransferLimit
	err := row.Scan(&limit.UserID, &limit.DailyLimit, &limit.PerTransactionLimit, &limit.CreatedAt, &limit.UpdatedAt)
	return limit, err
}
