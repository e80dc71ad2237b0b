package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
)

// Backoff is the retry policy applied to contended settlements
type Backoff struct {
	MaxRetries int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff returns the policy used when none is configured
func DefaultBackoff() Backoff {
	return Backoff{
		MaxRetries: 5,
		Initial:    50 * time.Millisecond,
		Max:        2 * time.Second,
		Multiplier: 2,
	}
}

// Delay returns the wait before retry number attempt (1-based)
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(b.Initial)
	for i := 1; i < attempt; i++ {
		delay *= mult
		if b.Max > 0 && delay >= float64(b.Max) {
			return b.Max
		}
	}
	if b.Max > 0 && time.Duration(delay) > b.Max {
		return b.Max
	}
	return time.Duration(delay)
}

// retry runs fn until it succeeds, fails permanently or exhausts MaxRetries.
// Only contention is retried. It returns the number of retries performed.
func (b Backoff) retry(ctx context.Context, fn func() error) (int, error) {
	var lastErr error

	for attempt := 0; attempt <= b.MaxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(b.Delay(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return attempt - 1, ctx.Err()
			case <-timer.C:
			}
		}

		err := fn()
		if err == nil {
			return attempt, nil
		}
		if !models.IsRetryable(err) {
			return attempt, err
		}
		lastErr = err
	}

	return b.MaxRetries, fmt.Errorf("gave up after %d retries: %w", b.MaxRetries, lastErr)
}
