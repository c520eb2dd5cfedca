package engine

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/uuid"
)

// accountLock is a context-aware mutex: buffered channel of size one, claimed
// by sending and released by receiving.
type accountLock chan struct{}

func (l accountLock) acquire(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l accountLock) release() {
	<-l
}

// LockTable serializes transfers per account. Both participants of a transfer
// are locked in canonical UUID order (lower bytes first), so two concurrent
// opposite-direction transfers on the same pair cannot deadlock.
type LockTable struct {
	mu    sync.Mutex
	locks map[uuid.UUID]accountLock
}

func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[uuid.UUID]accountLock)}
}

func (t *LockTable) lockFor(id uuid.UUID) accountLock {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[id]
	if !ok {
		l = make(accountLock, 1)
		t.locks[id] = l
	}
	return l
}

// LockPair acquires both account locks in canonical order. Acquisition honors
// ctx cancellation; once both locks are held the returned release func must be
// called exactly once. On error no lock is held.
func (t *LockTable) LockPair(ctx context.Context, a, b uuid.UUID) (func(), error) {
	first, second := a, b
	if bytes.Compare(b[:], a[:]) < 0 {
		first, second = b, a
	}

	firstLock := t.lockFor(first)
	secondLock := t.lockFor(second)

	if err := firstLock.acquire(ctx); err != nil {
		return nil, err
	}
	if err := secondLock.acquire(ctx); err != nil {
		firstLock.release()
		return nil, err
	}
	return func() {
		secondLock.release()
		firstLock.release()
	}, nil
}
