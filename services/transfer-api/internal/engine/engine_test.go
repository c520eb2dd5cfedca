package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ezpaylabs/transfer-engine/pkg"
	"github.com/ezpaylabs/transfer-engine/pkg/models"
	"github.com/ezpaylabs/transfer-engine/pkg/views"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLedger struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]models.Account
	// beforeApply runs ahead of each CAS attempt and may inject failures.
	beforeApply func(accountID uuid.UUID, delta int64) error
}

func newFakeLedger(accounts ...models.Account) *fakeLedger {
	l := &fakeLedger{accounts: make(map[uuid.UUID]models.Account)}
	for _, a := range accounts {
		l.accounts[a.ID] = a
	}
	return l
}

func (l *fakeLedger) FindById(_ context.Context, accountID uuid.UUID) (models.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[accountID]
	if !ok {
		return models.Account{}, pkg.ErrAccountNotFound
	}
	return a, nil
}

func (l *fakeLedger) ApplyDelta(_ context.Context, accountID uuid.UUID, delta int64, expectedVersion int64) (models.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.beforeApply != nil {
		if err := l.beforeApply(accountID, delta); err != nil {
			return models.Account{}, err
		}
	}
	a, ok := l.accounts[accountID]
	if !ok {
		return models.Account{}, pkg.ErrAccountNotFound
	}
	if a.Version != expectedVersion {
		return models.Account{}, pkg.ErrVersionConflict
	}
	if a.Balance+delta < 0 {
		return models.Account{}, pkg.ErrInsufficientFunds
	}
	a.Balance += delta
	a.Version++
	l.accounts[accountID] = a
	return a, nil
}

func (l *fakeLedger) balance(accountID uuid.UUID) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accounts[accountID].Balance
}

type fakeTransferLog struct {
	mu      sync.Mutex
	records map[uuid.UUID]models.Transfer
	findErr error
}

func newFakeTransferLog() *fakeTransferLog {
	return &fakeTransferLog{records: make(map[uuid.UUID]models.Transfer)}
}

func (f *fakeTransferLog) Create(_ context.Context, transfer models.Transfer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[transfer.ID] = transfer
	return nil
}

func (f *fakeTransferLog) MarkStatus(_ context.Context, transferID uuid.UUID, status pkg.TransferStatus, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[transferID]
	if !ok {
		return errors.New("transfer record not found")
	}
	if rec.Status != pkg.TransferStatusPending {
		return errors.New("transfer record not pending")
	}
	rec.Status = status
	rec.Message = message
	f.records[transferID] = rec
	return nil
}

func (f *fakeTransferLog) FindExecutedByKey(_ context.Context, key uuid.UUID) (models.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return models.Transfer{}, f.findErr
	}
	for _, rec := range f.records {
		if rec.IdempotencyKey == key && rec.Status == pkg.TransferStatusSuccess {
			return rec, nil
		}
	}
	return models.Transfer{}, pgx.ErrNoRows
}

func (f *fakeTransferLog) all() []models.Transfer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Transfer, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec)
	}
	return out
}

// memoryGuard mirrors RedisGuard semantics without Redis. A nil value marks an
// in-flight claim.
type memoryGuard struct {
	mu     sync.Mutex
	claims map[uuid.UUID]*views.TransferResult
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{claims: make(map[uuid.UUID]*views.TransferResult)}
}

func (g *memoryGuard) Reserve(_ context.Context, key uuid.UUID) (*views.TransferResult, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prior, exists := g.claims[key]
	if !exists {
		g.claims[key] = nil
		return nil, true, nil
	}
	if prior == nil {
		return nil, false, nil
	}
	copied := *prior
	return &copied, false, nil
}

func (g *memoryGuard) Complete(_ context.Context, key uuid.UUID, result views.TransferResult) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.claims[key] = &result
	return nil
}

func (g *memoryGuard) Release(_ context.Context, key uuid.UUID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claims, key)
	return nil
}

type staticLimits struct {
	limit models.TransferLimit
}

func (s *staticLimits) GetOrCreate(_ context.Context, userID uuid.UUID) (models.TransferLimit, error) {
	limit := s.limit
	limit.UserID = userID
	return limit, nil
}

type staticAggregator struct {
	used int64
}

func (s *staticAggregator) SumSentForDay(_ context.Context, _ uuid.UUID, _ time.Time) (int64, error) {
	return atomic.LoadInt64(&s.used), nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []views.TransferEvent
}

func (p *fakePublisher) PublishTransferEvent(event views.TransferEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) all() []views.TransferEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]views.TransferEvent(nil), p.events...)
}

type fixture struct {
	engine     *Engine
	ledger     *fakeLedger
	log        *fakeTransferLog
	guard      *memoryGuard
	publisher  *fakePublisher
	limits     *staticLimits
	aggregator *staticAggregator
}

func newFixture(accounts ...models.Account) *fixture {
	ledger := newFakeLedger(accounts...)
	log := newFakeTransferLog()
	guard := newMemoryGuard()
	publisher := &fakePublisher{}
	limits := &staticLimits{limit: models.TransferLimit{
		DailyLimit:          models.DefaultDailyLimit,
		PerTransactionLimit: models.DefaultPerTransactionLimit,
	}}
	aggregator := &staticAggregator{}

	eng := New(EngineConfig{
		Logger:    zap.NewNop(),
		Config:    Config{MaxRetries: 5, RetryBaseBackoff: time.Millisecond, MaxRetryBackoff: 5 * time.Millisecond},
		Ledger:    ledger,
		Transfers: log,
		Limits:    NewLimitChecker(limits, aggregator),
		Guard:     guard,
		Locks:     NewLockTable(),
		Publisher: publisher,
	})
	eng.sleep = func(time.Duration) {}

	return &fixture{
		engine:     eng,
		ledger:     ledger,
		log:        log,
		guard:      guard,
		publisher:  publisher,
		limits:     limits,
		aggregator: aggregator,
	}
}

func activeAccount(balance int64) models.Account {
	return models.Account{
		ID:      uuid.New(),
		UserID:  uuid.New(),
		Balance: balance,
		Version: 1,
		Status:  pkg.AccountStatusActive,
	}
}

func transferCmd(from, to models.Account, amount int64) Command {
	return Command{
		FromAccountID:  from.ID,
		ToAccountID:    to.ID,
		Amount:         amount,
		IdempotencyKey: uuid.New(),
	}
}

func assertDomainError(t *testing.T, err error, code pkg.ErrorCode) {
	t.Helper()
	var appErr pkg.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, code.Code, appErr.Code.Code)
}

func TestExecuteTransfersFunds(t *testing.T) {
	sender := activeAccount(10_000)
	receiver := activeAccount(5_000)
	f := newFixture(sender, receiver)

	result, err := f.engine.Execute(context.Background(), transferCmd(sender, receiver, 3_000))
	require.NoError(t, err)

	assert.Equal(t, pkg.TransferStatusSuccess, result.Status)
	assert.Equal(t, int64(7_000), result.SenderBalance)
	assert.NotEmpty(t, result.TransferID)
	assert.False(t, result.Replayed)

	assert.Equal(t, int64(7_000), f.ledger.balance(sender.ID))
	assert.Equal(t, int64(8_000), f.ledger.balance(receiver.ID))

	records := f.log.all()
	require.Len(t, records, 1)
	assert.Equal(t, pkg.TransferStatusSuccess, records[0].Status)
	assert.Equal(t, int64(3_000), records[0].Amount)

	events := f.publisher.all()
	require.Len(t, events, 1)
	assert.Equal(t, pkg.TransferStatusSuccess, events[0].Status)
	assert.Equal(t, records[0].ID.String(), events[0].TransferID)
}

func TestExecuteInsufficientFunds(t *testing.T) {
	sender := activeAccount(1_000)
	receiver := activeAccount(0)
	f := newFixture(sender, receiver)

	result, err := f.engine.Execute(context.Background(), transferCmd(sender, receiver, 5_000))
	assertDomainError(t, err, pkg.ErrInsufficientFundsCode)
	assert.Equal(t, pkg.TransferStatusFailed, result.Status)
	assert.Equal(t, pkg.ErrInsufficientFundsCode.Code, result.ErrorCode)

	assert.Equal(t, int64(1_000), f.ledger.balance(sender.ID))
	assert.Equal(t, int64(0), f.ledger.balance(receiver.ID))

	records := f.log.all()
	require.Len(t, records, 1)
	assert.Equal(t, pkg.TransferStatusFailed, records[0].Status)

	events := f.publisher.all()
	require.Len(t, events, 1)
	assert.Equal(t, pkg.TransferStatusFailed, events[0].Status)
}

func TestExecuteRejectsNonPositiveAmount(t *testing.T) {
	sender := activeAccount(10_000)
	receiver := activeAccount(0)
	f := newFixture(sender, receiver)

	for _, amount := range []int64{0, -500} {
		cmd := transferCmd(sender, receiver, amount)
		_, err := f.engine.Execute(context.Background(), cmd)
		assertDomainError(t, err, pkg.ErrInvalidInputCode)
	}
	assert.Empty(t, f.log.all())
}

func TestExecuteRejectsSelfTransfer(t *testing.T) {
	account := activeAccount(10_000)
	f := newFixture(account)

	cmd := Command{
		FromAccountID:  account.ID,
		ToAccountID:    account.ID,
		Amount:         1_000,
		IdempotencyKey: uuid.New(),
	}
	_, err := f.engine.Execute(context.Background(), cmd)
	assertDomainError(t, err, pkg.ErrSelfTransferCode)
	assert.Equal(t, int64(10_000), f.ledger.balance(account.ID))
}

func TestExecuteAccountNotFound(t *testing.T) {
	sender := activeAccount(10_000)
	f := newFixture(sender)

	cmd := Command{
		FromAccountID:  sender.ID,
		ToAccountID:    uuid.New(),
		Amount:         1_000,
		IdempotencyKey: uuid.New(),
	}
	result, err := f.engine.Execute(context.Background(), cmd)
	assertDomainError(t, err, pkg.ErrAccountNotFoundCode)
	assert.Equal(t, pkg.ErrAccountNotFoundCode.Code, result.ErrorCode)
	assert.Equal(t, int64(10_000), f.ledger.balance(sender.ID))
	assert.Empty(t, f.log.all())
}

func TestExecuteRejectsLockedAccount(t *testing.T) {
	sender := activeAccount(10_000)
	receiver := activeAccount(0)
	receiver.Status = pkg.AccountStatusLocked
	f := newFixture(sender, receiver)

	_, err := f.engine.Execute(context.Background(), transferCmd(sender, receiver, 1_000))
	assertDomainError(t, err, pkg.ErrAccountLockedCode)
	assert.Equal(t, int64(10_000), f.ledger.balance(sender.ID))
	assert.Empty(t, f.log.all())
}

func TestExecutePerTransactionLimit(t *testing.T) {
	sender := activeAccount(500_000)
	receiver := activeAccount(0)
	f := newFixture(sender, receiver)

	_, err := f.engine.Execute(context.Background(), transferCmd(sender, receiver, 150_000))
	assertDomainError(t, err, pkg.ErrPerTransactionLimitCode)
	assert.Equal(t, int64(500_000), f.ledger.balance(sender.ID))
	assert.Empty(t, f.log.all())
}

func TestExecuteDailyLimit(t *testing.T) {
	sender := activeAccount(500_000)
	receiver := activeAccount(0)
	f := newFixture(sender, receiver)
	f.limits.limit.DailyLimit = 10_000
	atomic.StoreInt64(&f.aggregator.used, 8_000)

	_, err := f.engine.Execute(context.Background(), transferCmd(sender, receiver, 3_000))
	assertDomainError(t, err, pkg.ErrDailyLimitCode)
	assert.Equal(t, int64(500_000), f.ledger.balance(sender.ID))

	result, err := f.engine.Execute(context.Background(), transferCmd(sender, receiver, 2_000))
	require.NoError(t, err)
	assert.Equal(t, pkg.TransferStatusSuccess, result.Status)
	assert.Equal(t, int64(498_000), f.ledger.balance(sender.ID))
}

func TestExecuteIdempotentReplay(t *testing.T) {
	sender := activeAccount(10_000)
	receiver := activeAccount(5_000)
	f := newFixture(sender, receiver)
	cmd := transferCmd(sender, receiver, 3_000)

	first, err := f.engine.Execute(context.Background(), cmd)
	require.NoError(t, err)

	second, err := f.engine.Execute(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.TransferID, second.TransferID)
	assert.Equal(t, first.SenderBalance, second.SenderBalance)

	// The replay must not re-execute the transfer.
	assert.Equal(t, int64(7_000), f.ledger.balance(sender.ID))
	assert.Equal(t, int64(8_000), f.ledger.balance(receiver.ID))
	assert.Len(t, f.log.all(), 1)
	assert.Len(t, f.publisher.all(), 1)
}

func TestExecuteReplaysFailedResult(t *testing.T) {
	sender := activeAccount(1_000)
	receiver := activeAccount(0)
	f := newFixture(sender, receiver)
	cmd := transferCmd(sender, receiver, 5_000)

	_, err := f.engine.Execute(context.Background(), cmd)
	assertDomainError(t, err, pkg.ErrInsufficientFundsCode)

	replay, err := f.engine.Execute(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, pkg.TransferStatusFailed, replay.Status)
	assert.Equal(t, pkg.ErrInsufficientFundsCode.Code, replay.ErrorCode)
	assert.Len(t, f.log.all(), 1)
}

func TestExecuteDurableReplayAfterGuardLoss(t *testing.T) {
	sender := activeAccount(10_000)
	receiver := activeAccount(5_000)
	f := newFixture(sender, receiver)
	cmd := transferCmd(sender, receiver, 3_000)

	first, err := f.engine.Execute(context.Background(), cmd)
	require.NoError(t, err)

	// Simulate Redis losing the reservation; the transfers table still
	// prevents a second execution.
	require.NoError(t, f.guard.Release(context.Background(), cmd.IdempotencyKey))

	second, err := f.engine.Execute(context.Background(), cmd)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.TransferID, second.TransferID)
	assert.Equal(t, int64(7_000), f.ledger.balance(sender.ID))
	assert.Equal(t, int64(8_000), f.ledger.balance(receiver.ID))
	assert.Len(t, f.log.all(), 1)
}

func TestExecuteFailsWhenReplayGuardUnreachable(t *testing.T) {
	sender := activeAccount(10_000)
	receiver := activeAccount(5_000)
	f := newFixture(sender, receiver)
	cmd := transferCmd(sender, receiver, 3_000)

	// With the transfers table down the engine cannot tell whether this key
	// already executed, so it must not touch the ledger.
	f.log.findErr = errors.New("connection refused")

	_, err := f.engine.Execute(context.Background(), cmd)
	assertDomainError(t, err, pkg.ErrTransientFailureCode)
	assert.Equal(t, int64(10_000), f.ledger.balance(sender.ID))
	assert.Equal(t, int64(5_000), f.ledger.balance(receiver.ID))
	assert.Empty(t, f.log.all())

	// The claim was released, so the same key succeeds once storage is back.
	f.log.findErr = nil
	result, err := f.engine.Execute(context.Background(), cmd)
	require.NoError(t, err)
	assert.False(t, result.Replayed)
	assert.Equal(t, int64(7_000), f.ledger.balance(sender.ID))
}

func TestExecuteDuplicateInProgress(t *testing.T) {
	sender := activeAccount(10_000)
	receiver := activeAccount(0)
	f := newFixture(sender, receiver)
	cmd := transferCmd(sender, receiver, 1_000)

	// Simulate another request holding the key in flight.
	_, claimed, err := f.guard.Reserve(context.Background(), cmd.IdempotencyKey)
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = f.engine.Execute(context.Background(), cmd)
	assertDomainError(t, err, pkg.ErrDuplicateInProgressCode)
	assert.Equal(t, int64(10_000), f.ledger.balance(sender.ID))
}

func TestExecuteRetriesDebitConflict(t *testing.T) {
	sender := activeAccount(10_000)
	receiver := activeAccount(0)
	f := newFixture(sender, receiver)

	var debitAttempts int32
	f.ledger.beforeApply = func(_ uuid.UUID, delta int64) error {
		if delta < 0 && atomic.AddInt32(&debitAttempts, 1) == 1 {
			return pkg.ErrVersionConflict
		}
		return nil
	}

	result, err := f.engine.Execute(context.Background(), transferCmd(sender, receiver, 2_000))
	require.NoError(t, err)
	assert.Equal(t, pkg.TransferStatusSuccess, result.Status)
	assert.Equal(t, int64(8_000), f.ledger.balance(sender.ID))
	assert.Equal(t, int64(2_000), f.ledger.balance(receiver.ID))
	assert.EqualValues(t, 2, atomic.LoadInt32(&debitAttempts))
}

func TestExecuteExhaustedRetriesReleasesClaim(t *testing.T) {
	sender := activeAccount(10_000)
	receiver := activeAccount(0)
	f := newFixture(sender, receiver)
	cmd := transferCmd(sender, receiver, 1_000)

	f.ledger.beforeApply = func(_ uuid.UUID, delta int64) error {
		if delta < 0 {
			return pkg.ErrVersionConflict
		}
		return nil
	}

	_, err := f.engine.Execute(context.Background(), cmd)
	assertDomainError(t, err, pkg.ErrTransientFailureCode)
	assert.Equal(t, int64(10_000), f.ledger.balance(sender.ID))

	records := f.log.all()
	require.Len(t, records, 1)
	assert.Equal(t, pkg.TransferStatusFailed, records[0].Status)

	// The claim was released, so a retry with the same key re-executes.
	f.ledger.beforeApply = nil
	result, err := f.engine.Execute(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, pkg.TransferStatusSuccess, result.Status)
	assert.False(t, result.Replayed)
	assert.Equal(t, int64(9_000), f.ledger.balance(sender.ID))
}

func TestExecuteCompensatesFailedCredit(t *testing.T) {
	sender := activeAccount(10_000)
	receiver := activeAccount(5_000)
	f := newFixture(sender, receiver)

	storageErr := errors.New("storage offline")
	f.ledger.beforeApply = func(accountID uuid.UUID, delta int64) error {
		if accountID == receiver.ID && delta > 0 {
			return storageErr
		}
		return nil
	}

	_, err := f.engine.Execute(context.Background(), transferCmd(sender, receiver, 3_000))
	require.Error(t, err)
	assertDomainError(t, err, pkg.ErrServerCode)

	// The debit was reversed: neither balance changed.
	assert.Equal(t, int64(10_000), f.ledger.balance(sender.ID))
	assert.Equal(t, int64(5_000), f.ledger.balance(receiver.ID))

	records := f.log.all()
	require.Len(t, records, 1)
	assert.Equal(t, pkg.TransferStatusFailed, records[0].Status)
}

func TestExecuteConcurrentOppositeDirections(t *testing.T) {
	a := activeAccount(50_000)
	b := activeAccount(50_000)
	f := newFixture(a, b)

	const iterations = 25
	var wg sync.WaitGroup
	run := func(from, to models.Account) {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			_, err := f.engine.Execute(context.Background(), transferCmd(from, to, 100))
			assert.NoError(t, err)
		}
	}
	wg.Add(2)
	go run(a, b)
	go run(b, a)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("opposite-direction transfers deadlocked")
	}

	// Equal traffic both ways: balances return to the start and the total is
	// conserved.
	assert.Equal(t, int64(50_000), f.ledger.balance(a.ID))
	assert.Equal(t, int64(50_000), f.ledger.balance(b.ID))
	assert.Len(t, f.log.all(), 2*iterations)
}

func TestExecuteConcurrentSameSenderConservesBalance(t *testing.T) {
	sender := activeAccount(10_000)
	receiver := activeAccount(0)
	f := newFixture(sender, receiver)

	// 30 concurrent 1,000 transfers against a 10,000 balance: exactly ten can
	// succeed, the rest must fail with insufficient funds.
	const attempts = 30
	var success, insufficient int32
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			_, err := f.engine.Execute(context.Background(), transferCmd(sender, receiver, 1_000))
			if err == nil {
				atomic.AddInt32(&success, 1)
				return
			}
			var appErr pkg.AppError
			if errors.As(err, &appErr) && appErr.Code.Code == pkg.ErrInsufficientFundsCode.Code {
				atomic.AddInt32(&insufficient, 1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 10, atomic.LoadInt32(&success))
	assert.EqualValues(t, attempts-10, atomic.LoadInt32(&insufficient))
	assert.Equal(t, int64(0), f.ledger.balance(sender.ID))
	assert.Equal(t, int64(10_000), f.ledger.balance(receiver.ID))
}

func TestExecuteCancelledBeforeLockReleasesClaim(t *testing.T) {
	sender := activeAccount(10_000)
	receiver := activeAccount(0)
	f := newFixture(sender, receiver)
	cmd := transferCmd(sender, receiver, 1_000)

	// Hold the sender's lock so acquisition blocks, then cancel.
	unlock, err := f.engine.locks.LockPair(context.Background(), sender.ID, receiver.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.engine.Execute(ctx, cmd)
	assertDomainError(t, err, pkg.ErrTransientFailureCode)
	assert.Equal(t, int64(10_000), f.ledger.balance(sender.ID))

	unlock()

	// Nothing executed, so the same key runs fresh afterwards.
	result, err := f.engine.Execute(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, pkg.TransferStatusSuccess, result.Status)
	assert.False(t, result.Replayed)
}
