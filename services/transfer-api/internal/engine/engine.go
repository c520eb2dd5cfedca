package engine

import (
	"context"
	"errors"
	"time"

	"github.com/ezpaylabs/transfer-engine/pkg"
	"github.com/ezpaylabs/transfer-engine/pkg/models"
	"github.com/ezpaylabs/transfer-engine/pkg/utils"
	"github.com/ezpaylabs/transfer-engine/pkg/views"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// LedgerStore is the durable account store the engine mutates. ApplyDelta must
// be atomic per row (compare-and-swap on the version counter).
type LedgerStore interface {
	FindById(ctx context.Context, accountID uuid.UUID) (models.Account, error)
	ApplyDelta(ctx context.Context, accountID uuid.UUID, delta int64, expectedVersion int64) (models.Account, error)
}

// TransferLog persists transfer records.
type TransferLog interface {
	Create(ctx context.Context, transfer models.Transfer) error
	MarkStatus(ctx context.Context, transferID uuid.UUID, status pkg.TransferStatus, message string) error
	FindExecutedByKey(ctx context.Context, key uuid.UUID) (models.Transfer, error)
}

// EventPublisher emits terminal transfer events for downstream consumers
// (notifications, audit).
type EventPublisher interface {
	PublishTransferEvent(event views.TransferEvent) error
}

// Config bounds the optimistic-concurrency retry loop.
type Config struct {
	MaxRetries       int
	RetryBaseBackoff time.Duration
	MaxRetryBackoff  time.Duration
}

// Command is one transfer attempt.
type Command struct {
	FromAccountID  uuid.UUID
	ToAccountID    uuid.UUID
	Amount         int64
	Memo           string
	Category       string
	IdempotencyKey uuid.UUID
}

// Engine executes transfers as all-or-nothing two-account mutations:
// idempotency claim, ordered per-account locks, limit check under the lock,
// CAS debit then CAS credit with synchronous compensation if the credit fails.
type Engine struct {
	logger    *zap.Logger
	cfg       Config
	ledger    LedgerStore
	transfers TransferLog
	limits    *LimitChecker
	guard     Guard
	locks     *LockTable
	publisher EventPublisher
	sleep     func(time.Duration)
}

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Logger    *zap.Logger
	Config    Config
	Ledger    LedgerStore
	Transfers TransferLog
	Limits    *LimitChecker
	Guard     Guard
	Locks     *LockTable
	Publisher EventPublisher
}

func New(cfg EngineConfig) *Engine {
	return &Engine{
		logger:    cfg.Logger,
		cfg:       cfg.Config,
		ledger:    cfg.Ledger,
		transfers: cfg.Transfers,
		limits:    cfg.Limits,
		guard:     cfg.Guard,
		locks:     cfg.Locks,
		publisher: cfg.Publisher,
		sleep:     time.Sleep,
	}
}

const successMessage = "송금이 완료되었습니다."

// compensation must not give up on contention; the cap only guards against a
// livelocked store.
const compensationRetryCap = 32

// Execute runs one transfer to a terminal result. Validation failures return a
// typed AppError without mutating any balance; once the debit has been applied
// the engine either credits the destination or restores the source before
// returning.
func (e *Engine) Execute(ctx context.Context, cmd Command) (views.TransferResult, error) {
	if cmd.Amount <= 0 {
		return views.TransferResult{}, pkg.NewAppError(pkg.ErrInvalidInputCode, "송금 금액은 0보다 커야 합니다.", nil)
	}
	if cmd.FromAccountID == cmd.ToAccountID {
		return views.TransferResult{}, pkg.NewDomainError(pkg.ErrSelfTransferCode, nil)
	}
	if cmd.IdempotencyKey == uuid.Nil {
		return views.TransferResult{}, pkg.NewAppError(pkg.ErrInvalidInputCode, "idempotency key is required", nil)
	}

	prior, claimed, err := e.guard.Reserve(ctx, cmd.IdempotencyKey)
	if err != nil {
		return views.TransferResult{}, pkg.NewAppError(pkg.ErrServerCode, "idempotency guard unavailable", err)
	}
	if !claimed {
		if prior == nil {
			return views.TransferResult{}, pkg.NewDomainError(pkg.ErrDuplicateInProgressCode, nil)
		}
		replay := *prior
		replay.Replayed = true
		e.logger.Info("idempotent replay",
			zap.String(pkg.IdempotencyKey, cmd.IdempotencyKey.String()),
			zap.String(pkg.TransferId, replay.TransferID))
		return replay, nil
	}

	// Cancellation is honored up to and including lock acquisition; nothing
	// has executed yet, so the claim is freed for a retry.
	unlock, err := e.locks.LockPair(ctx, cmd.FromAccountID, cmd.ToAccountID)
	if err != nil {
		e.release(cmd.IdempotencyKey)
		return views.TransferResult{}, pkg.NewAppError(pkg.ErrTransientFailureCode, "cancelled before execution", err)
	}
	defer unlock()

	// From here a client disconnect must not abandon a half-applied transfer:
	// the mutation path runs on a non-cancelable context to completion or
	// compensation.
	mctx := context.WithoutCancel(ctx)

	// Durable replay guard: if the Redis reservation was lost, the transfers
	// table still knows whether this key already executed.
	executed, replayErr := e.transfers.FindExecutedByKey(mctx, cmd.IdempotencyKey)
	if replayErr != nil && !errors.Is(replayErr, pgx.ErrNoRows) {
		// The guard cannot be consulted; executing anyway could double-apply
		// a transfer whose reservation was lost. Free the claim for a retry.
		e.release(cmd.IdempotencyKey)
		return views.TransferResult{}, pkg.NewAppError(pkg.ErrTransientFailureCode, "replay guard unavailable", replayErr)
	}
	if replayErr == nil {
		result := views.TransferResult{
			TransferID:     executed.ID.String(),
			Status:         executed.Status,
			Message:        executed.Message,
			IdempotencyKey: cmd.IdempotencyKey.String(),
			Replayed:       true,
		}
		if account, err := e.ledger.FindById(mctx, executed.SenderAccountID); err == nil {
			result.SenderBalance = account.Balance
		}
		if err := e.guard.Complete(mctx, cmd.IdempotencyKey, result); err != nil {
			e.logger.Error("failed to store idempotency result",
				zap.String(pkg.IdempotencyKey, cmd.IdempotencyKey.String()), zap.Error(err))
		}
		return result, nil
	}

	sender, err := e.ledger.FindById(mctx, cmd.FromAccountID)
	if err != nil {
		return e.failWithoutRecord(mctx, cmd, err)
	}
	receiver, err := e.ledger.FindById(mctx, cmd.ToAccountID)
	if err != nil {
		return e.failWithoutRecord(mctx, cmd, err)
	}
	if !sender.Active() || !receiver.Active() {
		return e.failWithoutRecord(mctx, cmd, pkg.NewDomainError(pkg.ErrAccountLockedCode, nil))
	}

	// Limit check runs under the sender's lock: concurrent transfers from the
	// same account are serialized here, so the daily aggregate cannot be
	// passed by two requests that together exceed it.
	if err := e.limits.Check(mctx, sender.UserID, sender.ID, cmd.Amount); err != nil {
		return e.failWithoutRecord(mctx, cmd, err)
	}

	now := time.Now()
	record := models.Transfer{
		ID:                uuid.New(),
		SenderAccountID:   cmd.FromAccountID,
		ReceiverAccountID: cmd.ToAccountID,
		Amount:            cmd.Amount,
		Memo:              cmd.Memo,
		Category:          cmd.Category,
		Status:            pkg.TransferStatusPending,
		IdempotencyKey:    cmd.IdempotencyKey,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.transfers.Create(mctx, record); err != nil {
		e.release(cmd.IdempotencyKey)
		return views.TransferResult{}, pkg.NewAppError(pkg.ErrServerCode, "failed to create transfer record", err)
	}

	debited, err := e.applyBothLegs(mctx, cmd, sender, receiver)
	if err != nil {
		return e.failWithRecord(mctx, record, err)
	}

	if err := e.transfers.MarkStatus(mctx, record.ID, pkg.TransferStatusSuccess, successMessage); err != nil {
		e.logger.Error("failed to mark transfer success",
			zap.String(pkg.TransferId, record.ID.String()), zap.Error(err))
	}
	result := views.TransferResult{
		TransferID:     record.ID.String(),
		Status:         pkg.TransferStatusSuccess,
		SenderBalance:  debited.Balance,
		Message:        successMessage,
		IdempotencyKey: cmd.IdempotencyKey.String(),
	}
	if err := e.guard.Complete(mctx, cmd.IdempotencyKey, result); err != nil {
		e.logger.Error("failed to store idempotency result",
			zap.String(pkg.IdempotencyKey, cmd.IdempotencyKey.String()), zap.Error(err))
	}
	e.publishTerminal(record, pkg.TransferStatusSuccess, successMessage)
	e.logger.Info("transfer completed",
		zap.String(pkg.TransferId, record.ID.String()),
		zap.Int64("amount", cmd.Amount))
	return result, nil
}

// applyBothLegs performs debit then credit, retrying version conflicts with
// jittered backoff. If the credit fails after a successful debit, the debit is
// reversed before anything is surfaced.
func (e *Engine) applyBothLegs(ctx context.Context, cmd Command, sender, receiver models.Account) (models.Account, error) {
	for attempt := 1; ; attempt++ {
		debited, err := e.ledger.ApplyDelta(ctx, cmd.FromAccountID, -cmd.Amount, sender.Version)
		if err != nil {
			if errors.Is(err, pkg.ErrVersionConflict) {
				if pauseErr := e.pause(attempt); pauseErr != nil {
					return models.Account{}, pauseErr
				}
				if sender, err = e.ledger.FindById(ctx, cmd.FromAccountID); err != nil {
					return models.Account{}, err
				}
				continue
			}
			return models.Account{}, err
		}

		_, creditErr := e.ledger.ApplyDelta(ctx, cmd.ToAccountID, cmd.Amount, receiver.Version)
		if creditErr == nil {
			return debited, nil
		}

		// Debit landed, credit did not: restore the source before anything
		// else becomes visible as a half-applied transfer.
		if compErr := e.compensate(ctx, cmd.FromAccountID, cmd.Amount, debited.Version); compErr != nil {
			e.logger.Error("compensation failed, ledger requires reconciliation",
				zap.String("account_id", cmd.FromAccountID.String()),
				zap.Int64("amount", cmd.Amount),
				zap.Error(compErr))
			return models.Account{}, pkg.NewAppError(pkg.ErrServerCode, "failed to reverse debit", compErr)
		}

		if errors.Is(creditErr, pkg.ErrVersionConflict) {
			if pauseErr := e.pause(attempt); pauseErr != nil {
				return models.Account{}, pauseErr
			}
			// Compensation bumped the sender's version; reload both sides.
			if sender, err = e.ledger.FindById(ctx, cmd.FromAccountID); err != nil {
				return models.Account{}, err
			}
			if receiver, err = e.ledger.FindById(ctx, cmd.ToAccountID); err != nil {
				return models.Account{}, err
			}
			continue
		}
		return models.Account{}, creditErr
	}
}

// compensate reverses a debit. Contention is retried well past the normal
// retry budget: giving up here would strand funds.
func (e *Engine) compensate(ctx context.Context, accountID uuid.UUID, amount int64, expectedVersion int64) error {
	version := expectedVersion
	for attempt := 1; attempt <= compensationRetryCap; attempt++ {
		_, err := e.ledger.ApplyDelta(ctx, accountID, amount, version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, pkg.ErrVersionConflict) {
			return err
		}
		account, readErr := e.ledger.FindById(ctx, accountID)
		if readErr != nil {
			return readErr
		}
		version = account.Version
		e.sleep(utils.CalculateExponentialBackoffWithJitter(attempt, e.cfg.RetryBaseBackoff, e.cfg.MaxRetryBackoff))
	}
	return errors.New("compensation retries exhausted")
}

// pause sleeps before the next optimistic retry, or fails the attempt as
// transient once the budget is spent.
func (e *Engine) pause(attempt int) error {
	if attempt >= e.cfg.MaxRetries {
		return pkg.NewDomainError(pkg.ErrTransientFailureCode, pkg.ErrVersionConflict)
	}
	e.sleep(utils.CalculateExponentialBackoffWithJitter(attempt, e.cfg.RetryBaseBackoff, e.cfg.MaxRetryBackoff))
	return nil
}

// failWithoutRecord handles failures before a transfer record exists
// (validation, lookups, limits). Deterministic business failures are stored as
// terminal idempotency results so duplicates replay them; anything else frees
// the claim for a retry.
func (e *Engine) failWithoutRecord(ctx context.Context, cmd Command, cause error) (views.TransferResult, error) {
	appErr, terminal := e.classify(cause)
	if !terminal {
		e.release(cmd.IdempotencyKey)
		return views.TransferResult{}, appErr
	}
	result := views.TransferResult{
		Status:         pkg.TransferStatusFailed,
		ErrorCode:      appErr.Code.Code,
		Message:        appErr.Message,
		IdempotencyKey: cmd.IdempotencyKey.String(),
	}
	if err := e.guard.Complete(ctx, cmd.IdempotencyKey, result); err != nil {
		e.logger.Error("failed to store idempotency result",
			zap.String(pkg.IdempotencyKey, cmd.IdempotencyKey.String()), zap.Error(err))
	}
	return result, appErr
}

// failWithRecord marks the PENDING record FAILED and finishes like
// failWithoutRecord.
func (e *Engine) failWithRecord(ctx context.Context, record models.Transfer, cause error) (views.TransferResult, error) {
	appErr, terminal := e.classify(cause)
	if err := e.transfers.MarkStatus(ctx, record.ID, pkg.TransferStatusFailed, appErr.Message); err != nil {
		e.logger.Error("failed to mark transfer failed",
			zap.String(pkg.TransferId, record.ID.String()), zap.Error(err))
	}
	e.publishTerminal(record, pkg.TransferStatusFailed, appErr.Message)
	if !terminal {
		e.release(record.IdempotencyKey)
		return views.TransferResult{}, appErr
	}
	result := views.TransferResult{
		TransferID:     record.ID.String(),
		Status:         pkg.TransferStatusFailed,
		ErrorCode:      appErr.Code.Code,
		Message:        appErr.Message,
		IdempotencyKey: record.IdempotencyKey.String(),
	}
	if err := e.guard.Complete(ctx, record.IdempotencyKey, result); err != nil {
		e.logger.Error("failed to store idempotency result",
			zap.String(pkg.IdempotencyKey, record.IdempotencyKey.String()), zap.Error(err))
	}
	return result, appErr
}

// classify converts any failure into an AppError and reports whether it is a
// deterministic business outcome (terminal, replayable) or a transient/internal
// one (claim released, retry re-executes).
func (e *Engine) classify(cause error) (pkg.AppError, bool) {
	var appErr pkg.AppError
	if errors.As(cause, &appErr) {
		terminal := appErr.Code.Code != pkg.ErrTransientFailureCode.Code &&
			appErr.Code.Code != pkg.ErrServerCode.Code
		return appErr, terminal
	}
	switch {
	case errors.Is(cause, pkg.ErrAccountNotFound), errors.Is(cause, pgx.ErrNoRows):
		return pkg.NewDomainError(pkg.ErrAccountNotFoundCode, cause).(pkg.AppError), true
	case errors.Is(cause, pkg.ErrInsufficientFunds):
		return pkg.NewDomainError(pkg.ErrInsufficientFundsCode, cause).(pkg.AppError), true
	default:
		return pkg.NewAppError(pkg.ErrServerCode, "transfer failed", cause).(pkg.AppError), false
	}
}

func (e *Engine) release(key uuid.UUID) {
	if err := e.guard.Release(context.Background(), key); err != nil {
		e.logger.Error("failed to release idempotency claim",
			zap.String(pkg.IdempotencyKey, key.String()), zap.Error(err))
	}
}

func (e *Engine) publishTerminal(record models.Transfer, status pkg.TransferStatus, message string) {
	if e.publisher == nil {
		return
	}
	record.Status = status
	record.Message = message
	record.UpdatedAt = time.Now()
	if err := e.publisher.PublishTransferEvent(record.ToEvent()); err != nil {
		e.logger.Error("failed to publish transfer event",
			zap.String(pkg.TransferId, record.ID.String()), zap.Error(err))
	}
}
