package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/cache"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/locks"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/metrics"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/store"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/store/sqlstore"
)

// testServiceSetup is a helper struct to hold test dependencies
type testServiceSetup struct {
	store      *sqlstore.SQLStore
	locker     *locks.MemoryLocker
	cache      *cache.RedisCache
	miniRedis  *miniredis.Miniredis
	metrics    *metrics.Metrics
	statistics *StatisticsService
	settlement *SettlementService
	accounts   *AccountService
	feed       *FeedService
	ctx        context.Context
}

// setupTestServices wires every service on an in-memory SQLite store and miniredis
func setupTestServices(t *testing.T) *testServiceSetup {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	st, err := sqlstore.Open(ctx, sqlstore.Config{Driver: sqlstore.DriverSQLite, DSN: ":memory:"}, logger)
	require.NoError(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)

	redisCache := cache.NewRedisCache(cache.RedisCacheConfig{Addr: mr.Addr(), TTL: time.Minute}, logger)
	locker := locks.NewMemoryLocker(2 * time.Second)
	m := metrics.New(prometheus.NewRegistry())
	params := DefaultSettlementParams()

	statistics := NewStatisticsService(st, redisCache, params.Tilt, logger)

	return &testServiceSetup{
		store:      st,
		locker:     locker,
		cache:      redisCache,
		miniRedis:  mr,
		metrics:    m,
		statistics: statistics,
		settlement: NewSettlementService(st, locker, statistics, redisCache, m, params, logger),
		accounts:   NewAccountService(st, locker, redisCache, m, params, logger),
		feed:       NewFeedService(st, logger),
		ctx:        ctx,
	}
}

// cleanup cleans up test resources
func (s *testServiceSetup) cleanup() {
	s.cache.Close()
	s.miniRedis.Close()
	s.store.Close()
}

func (s *testServiceSetup) createAccount(t *testing.T, balance string) *models.Account {
	t.Helper()
	a, err := s.accounts.CreateAccount(s.ctx, models.CreateAccountRequest{
		Name:           "tester",
		InitialBalance: decimal.RequireFromString(balance),
	})
	require.NoError(t, err)
	return a
}

func (s *testServiceSetup) placeBet(t *testing.T, accountID uuid.UUID, stake string, price int) *models.Bet {
	t.Helper()
	b, err := s.accounts.PlaceBet(s.ctx, models.PlaceBetRequest{
		AccountID: accountID,
		League:    "NBA",
		BetType:   "h2h",
		Selection: "Boston Celtics",
		Stake:     decimal.RequireFromString(stake),
		Price:     price,
	})
	require.NoError(t, err)
	return b
}

func (s *testServiceSetup) balance(t *testing.T, accountID uuid.UUID) decimal.Decimal {
	t.Helper()
	a, err := s.store.GetAccount(s.ctx, accountID)
	require.NoError(t, err)
	return a.Balance
}

func won(betID uuid.UUID, ret string) models.SettlementRequest {
	return models.SettlementRequest{BetID: betID, Outcome: models.OutcomeWon, ActualReturn: decimal.RequireFromString(ret), Source: models.SourceUser}
}

func lost(betID uuid.UUID) models.SettlementRequest {
	return models.SettlementRequest{BetID: betID, Outcome: models.OutcomeLost, ActualReturn: decimal.Zero, Source: models.SourceUser}
}

func pushed(betID uuid.UUID, stake string) models.SettlementRequest {
	return models.SettlementRequest{BetID: betID, Outcome: models.OutcomePushed, ActualReturn: decimal.RequireFromString(stake), Source: models.SourceUser}
}

// faultyStore fails SaveSnapshot inside transactions so rollback can be observed
type faultyStore struct {
	store.Store
	err error
}

func (f *faultyStore) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return f.Store.WithinTx(ctx, func(tx store.Tx) error {
		return fn(&faultyTx{Tx: tx, err: f.err})
	})
}

type faultyTx struct {
	store.Tx
	err error
}

func (f *faultyTx) SaveSnapshot(ctx context.Context, snap *models.StatisticsSnapshot) error {
	return f.err
}
