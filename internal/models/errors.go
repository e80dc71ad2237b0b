package models

import "errors"

// Settlement error taxonomy. Callers match with errors.Is.
var (
	ErrNotFound               = errors.New("not found")
	ErrAlreadySettled         = errors.New("bet already settled")
	ErrInconsistentOutcome    = errors.New("actual return inconsistent with outcome")
	ErrInvalidBet             = errors.New("invalid bet record")
	ErrContention             = errors.New("lock contention, retry later")
	ErrReconciliationMismatch = errors.New("ledger reconciliation mismatch")
	ErrInvalidRequest         = errors.New("invalid request")
)

// IsRetryable reports whether err may succeed if the caller tries again.
// Only lock contention qualifies; every other settlement error is permanent
// for the given input.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention)
}
