package service

//go:generate mockgen -source=lock_interface.go -destination=../mocks/mock_lock.go -package=mocks

import "context"

// Locker hands out exclusive row-scoped locks. Acquire fails with
// models.ErrContention when the lock cannot be taken within its wait bound.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
