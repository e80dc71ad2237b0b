// Package locks provides the row-scoped exclusive locks taken by settlement.
// Keys look like "bet:<id>" and "account:<id>".
package locks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
)

// BetKey is the lock key of a bet row
func BetKey(id fmt.Stringer) string { return "bet:" + id.String() }

// AccountKey is the lock key of an account row
func AccountKey(id fmt.Stringer) string { return "account:" + id.String() }

type memoryEntry struct {
	sem  *semaphore.Weighted
	refs int
}

// MemoryLocker serialises holders of the same key inside one process.
// Entries are reference counted and dropped when nobody holds or waits on them.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	timeout time.Duration
}

// NewMemoryLocker creates an in-process locker. A zero timeout waits until ctx is done.
func NewMemoryLocker(timeout time.Duration) *MemoryLocker {
	return &MemoryLocker{
		entries: make(map[string]*memoryEntry),
		timeout: timeout,
	}
}

// Acquire blocks until key is held or the wait bound expires, in which case it
// returns models.ErrContention. The returned release func is safe to call twice.
func (l *MemoryLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &memoryEntry{sem: semaphore.NewWeighted(1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	waitCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		l.unref(key, e)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s held longer than %s", models.ErrContention, key, l.timeout)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			l.unref(key, e)
		})
	}, nil
}

func (l *MemoryLocker) unref(key string, e *memoryEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// size reports the number of live entries
func (l *MemoryLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
