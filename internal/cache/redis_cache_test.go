package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
)

// testRedisCacheSetup is a helper struct to hold test dependencies
type testRedisCacheSetup struct {
	cache     *RedisCache
	miniRedis *miniredis.Miniredis
	ctx       context.Context
}

// setupTestRedisCache creates a test cache with miniredis
func setupTestRedisCache(t *testing.T) *testRedisCacheSetup {
	// Create miniredis server
	mr, err := miniredis.Run()
	require.NoError(t, err)

	logger := zerolog.Nop()

	config := RedisCacheConfig{
		Addr:     mr.Addr(),
		Password: "",
		DB:       0,
		TTL:      5 * time.Minute,
	}

	cache := NewRedisCache(config, logger)
	ctx := context.Background()

	return &testRedisCacheSetup{
		cache:     cache,
		miniRedis: mr,
		ctx:       ctx,
	}
}

// cleanup cleans up test resources
func (s *testRedisCacheSetup) cleanup() {
	s.cache.Close()
	s.miniRedis.Close()
}

func newBankroll(accountID uuid.UUID) *models.BankrollStatus {
	return &models.BankrollStatus{
		AccountID:     accountID,
		Balance:       decimal.RequireFromString("1090.91"),
		Baseline:      decimal.NewFromInt(1000),
		Available:     decimal.RequireFromString("990.91"),
		PendingStake:  decimal.NewFromInt(100),
		PendingBets:   1,
		UnitSize:      decimal.NewFromInt(10),
		ProfitLoss:    decimal.RequireFromString("90.91"),
		ProfitLossPct: decimal.RequireFromString("9.091"),
	}
}

func newSnapshot(accountID uuid.UUID) *models.StatisticsSnapshot {
	return &models.StatisticsSnapshot{
		AccountID:       accountID,
		TotalBets:       3,
		Wins:            2,
		Losses:          1,
		WinRate:         2.0 / 3.0,
		TotalStaked:     decimal.NewFromInt(300),
		TotalProfitLoss: decimal.RequireFromString("81.82"),
		CurrentStreak:   models.Streak{Type: models.OutcomeWon, Length: 2},
		ComputedAt:      time.Now().UTC().Truncate(time.Second),
	}
}

// TestNewRedisCache tests cache creation
func TestNewRedisCache(t *testing.T) {
	setup := setupTestRedisCache(t)
	defer setup.cleanup()

	assert.NotNil(t, setup.cache)
	assert.NotNil(t, setup.cache.Client())
	assert.Equal(t, 5*time.Minute, setup.cache.ttl)
}

// TestBankroll_SetGet tests bankroll caching round trip
func TestBankroll_SetGet(t *testing.T) {
	setup := setupTestRedisCache(t)
	defer setup.cleanup()

	accountID := uuid.New()
	status := newBankroll(accountID)

	require.NoError(t, setup.cache.SetBankroll(setup.ctx, status, 0))
	assert.True(t, setup.miniRedis.Exists("ledger:"+accountID.String()+":bankroll"))

	got, err := setup.cache.GetBankroll(setup.ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, accountID, got.AccountID)
	assert.True(t, status.Balance.Equal(got.Balance))
	assert.True(t, status.Available.Equal(got.Available))
	assert.Equal(t, 1, got.PendingBets)
}

// TestBankroll_Miss tests retrieval when nothing is cached
func TestBankroll_Miss(t *testing.T) {
	setup := setupTestRedisCache(t)
	defer setup.cleanup()

	got, err := setup.cache.GetBankroll(setup.ctx, uuid.New())
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, got)
}

// TestSet_ContextCanceled tests set operation with canceled context
func TestSet_ContextCanceled(t *testing.T) {
	setup := setupTestRedisCache(t)
	defer setup.cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	err := setup.cache.SetBankroll(ctx, newBankroll(uuid.New()), 0)

	assert.Error(t, err)
}

// TestStatistics_ExpiredKey tests that entries expire with the TTL
func TestStatistics_ExpiredKey(t *testing.T) {
	setup := setupTestRedisCache(t)
	defer setup.cleanup()

	accountID := uuid.New()
	require.NoError(t, setup.cache.SetStatistics(setup.ctx, accountID, "all", newSnapshot(accountID), 0))

	// Fast forward time to expire the key
	setup.miniRedis.FastForward(10 * time.Minute)

	got, err := setup.cache.GetStatistics(setup.ctx, accountID, "all")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, got)
}

// TestStatistics_PerFilter tests that filters are cached independently
func TestStatistics_PerFilter(t *testing.T) {
	setup := setupTestRedisCache(t)
	defer setup.cleanup()

	accountID := uuid.New()
	all := newSnapshot(accountID)
	nba := newSnapshot(accountID)
	nba.TotalBets = 1

	nbaKey := models.StatisticsFilter{League: "NBA"}.Key()
	require.NoError(t, setup.cache.SetStatistics(setup.ctx, accountID, "all", all, 0))
	require.NoError(t, setup.cache.SetStatistics(setup.ctx, accountID, nbaKey, nba, 0))

	got, err := setup.cache.GetStatistics(setup.ctx, accountID, "all")
	require.NoError(t, err)
	assert.Equal(t, 3, got.TotalBets)
	assert.Equal(t, models.Streak{Type: models.OutcomeWon, Length: 2}, got.CurrentStreak)

	got, err = setup.cache.GetStatistics(setup.ctx, accountID, nbaKey)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalBets)
}

// TestInvalidateAccount tests that only the target account's entries are dropped
func TestInvalidateAccount(t *testing.T) {
	setup := setupTestRedisCache(t)
	defer setup.cleanup()

	target := uuid.New()
	other := uuid.New()

	require.NoError(t, setup.cache.SetBankroll(setup.ctx, newBankroll(target), 0))
	require.NoError(t, setup.cache.SetStatistics(setup.ctx, target, "all", newSnapshot(target), 0))
	require.NoError(t, setup.cache.SetStatistics(setup.ctx, target, "NBA|-|-|-", newSnapshot(target), 0))
	require.NoError(t, setup.cache.SetBankroll(setup.ctx, newBankroll(other), 0))

	require.NoError(t, setup.cache.InvalidateAccount(setup.ctx, target))

	_, err := setup.cache.GetBankroll(setup.ctx, target)
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = setup.cache.GetStatistics(setup.ctx, target, "all")
	assert.ErrorIs(t, err, ErrCacheMiss)

	_, err = setup.cache.GetBankroll(setup.ctx, other)
	assert.NoError(t, err)

	// nothing cached is not an error
	assert.NoError(t, setup.cache.InvalidateAccount(setup.ctx, uuid.New()))
}

// TestSet_DroppedAfterInvalidation tests that a read model loaded before an
// invalidation is not cached after it
func TestSet_DroppedAfterInvalidation(t *testing.T) {
	setup := setupTestRedisCache(t)
	defer setup.cleanup()

	accountID := uuid.New()
	gen, err := setup.cache.Generation(setup.ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)

	// a settlement commits and invalidates while the reader is loading
	require.NoError(t, setup.cache.InvalidateAccount(setup.ctx, accountID))

	require.NoError(t, setup.cache.SetBankroll(setup.ctx, newBankroll(accountID), gen))
	require.NoError(t, setup.cache.SetStatistics(setup.ctx, accountID, "all", newSnapshot(accountID), gen))

	_, err = setup.cache.GetBankroll(setup.ctx, accountID)
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = setup.cache.GetStatistics(setup.ctx, accountID, "all")
	assert.ErrorIs(t, err, ErrCacheMiss)

	// a reader that started after the invalidation caches normally
	gen, err = setup.cache.Generation(setup.ctx, accountID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
	require.NoError(t, setup.cache.SetBankroll(setup.ctx, newBankroll(accountID), gen))
	_, err = setup.cache.GetBankroll(setup.ctx, accountID)
	assert.NoError(t, err)
}

// TestPing tests Redis connectivity check
func TestPing(t *testing.T) {
	setup := setupTestRedisCache(t)
	defer setup.cleanup()

	assert.NoError(t, setup.cache.Ping(setup.ctx))
}
