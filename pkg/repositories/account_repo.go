package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/ezpaylabs/transfer-engine/pkg"
	"github.com/ezpaylabs/transfer-engine/pkg/database"
	"github.com/ezpaylabs/transfer-engine/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// AccountRepository is the account ledger store. ApplyDelta is the only way a
// balance changes.
type AccountRepository interface {
	// Create inserts a new account inside the given transaction.
	Create(ctx context.Context, tx pgx.Tx, account models.Account) (pgconn.CommandTag, error)
	// FindById reads an account from the primary, so the engine always sees
	// the latest committed version counter.
	FindById(ctx context.Context, accountID uuid.UUID) (models.Account, error)
	// FindByNumber resolves an account number to an account (replica read).
	FindByNumber(ctx context.Context, accountNumber string) (models.Account, error)
	// ListByUserId returns all accounts of a user (replica read).
	ListByUserId(ctx context.Context, userID uuid.UUID) ([]models.Account, error)
	// ApplyDelta atomically adjusts the balance by delta (negative for debit)
	// iff the stored version equals expectedVersion and the resulting balance
	// stays non-negative; the version is incremented on success. Returns
	// pkg.ErrVersionConflict when the version is stale, pkg.ErrInsufficientFunds
	// when the debit would go negative, pkg.ErrAccountNotFound when the row is
	// gone.
	ApplyDelta(ctx context.Context, accountID uuid.UUID, delta int64, expectedVersion int64) (models.Account, error)
}

type AccountRepositoryImpl struct {
	db *database.DB
}

func NewAccountRepository(db *database.DB) AccountRepository {
	return &AccountRepositoryImpl{db: db}
}

const accountColumns = `id, user_id, account_number, bank_name, balance, status, is_main, version, created_at, updated_at`

func (a AccountRepositoryImpl) Create(ctx context.Context, tx pgx.Tx, account models.Account) (pgconn.CommandTag, error) {
	return tx.Exec(ctx, `INSERT INTO accounts (id, user_id, account_number, bank_name, balance, status, is_main, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		account.ID, account.UserID, account.AccountNumber, account.BankName, account.Balance,
		account.Status, account.IsMain, account.Version, account.CreatedAt, account.UpdatedAt)
}

func (a AccountRepositoryImpl) FindById(ctx context.Context, accountID uuid.UUID) (models.Account, error) {
	if accountID == uuid.Nil {
		return models.Account{}, fmt.Errorf("invalid account ID: %s", accountID.String())
	}
	row := a.db.QueryRowPrimary(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	return scanAccount(row)
}

func (a AccountRepositoryImpl) FindByNumber(ctx context.Context, accountNumber string) (models.Account, error) {
	row := a.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, accountNumber)
	return scanAccount(row)
}

func (a AccountRepositoryImpl) ListByUserId(ctx context.Context, userID uuid.UUID) ([]models.Account, error) {
	rows, err := a.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

func (a AccountRepositoryImpl) ApplyDelta(ctx context.Context, accountID uuid.UUID, delta int64, expectedVersion int64) (models.Account, error) {
	row := a.db.QueryRowPrimary(ctx, `
		UPDATE accounts
		SET balance = balance + $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND version = $3 AND balance + $1 >= 0
		RETURNING `+accountColumns,
		delta, accountID, expectedVersion)

	account, err := scanAccount(row)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Account{}, err
	}

	// The guarded update matched nothing: re-read to tell a stale version from
	// an overdraft from a deleted row.
	current, readErr := a.FindById(ctx, accountID)
	if readErr != nil {
		if errors.Is(readErr, pgx.ErrNoRows) {
			return models.Account{}, pkg.ErrAccountNotFound
		}
		return models.Account{}, readErr
	}
	if current.Version != expectedVersion {
		return models.Account{}, pkg.ErrVersionConflict
	}
	if current.Balance+delta < 0 {
		return models.Account{}, pkg.ErrInsufficientFunds
	}
	// Version and balance both pass now, so the row moved between the update
	// and the re-read; let the caller retry.
	return models.Account{}, pkg.ErrVersionConflict
}

func scanAccount(row pgx.Row) (models.Account, error) {
	var account models.Account
	var status string
	err := row.Scan(&account.ID, &account.UserID, &account.AccountNumber, &account.BankName,
		&account.Balance, &status, &account.IsMain, &account.Version, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return models.Account{}, err
	}
	account.Status = pkg.AccountStatus(status)
	return account, nil
}
