package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
)

// Cache is an interface that abstracts the read-model cache
// This allows for easier testing and mocking
type Cache interface {
	GetBankroll(ctx context.Context, accountID uuid.UUID) (*models.BankrollStatus, error)
	SetBankroll(ctx context.Context, status *models.BankrollStatus, gen int64) error
	GetStatistics(ctx context.Context, accountID uuid.UUID, filterKey string) (*models.StatisticsSnapshot, error)
	SetStatistics(ctx context.Context, accountID uuid.UUID, filterKey string, snap *models.StatisticsSnapshot, gen int64) error
	// Generation is read before loading from the store; Set calls carrying an
	// older generation than the current one are dropped
	Generation(ctx context.Context, accountID uuid.UUID) (int64, error)
	InvalidateAccount(ctx context.Context, accountID uuid.UUID) error
	Ping(ctx context.Context) error
	Close() error
}

// cacheGeneration reads the generation a store load will be cached under.
// The second result is false when nothing should be cached.
func cacheGeneration(ctx context.Context, cache Cache, logger zerolog.Logger, accountID uuid.UUID) (int64, bool) {
	if cache == nil {
		return 0, false
	}
	gen, err := cache.Generation(ctx, accountID)
	if err != nil {
		logger.Warn().Err(err).Str("account_id", accountID.String()).Msg("failed to read cache generation")
		return 0, false
	}
	return gen, true
}
