package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/cache"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/locks"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/scheduler"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/service"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/store/sqlstore"
	"github.com/cypherlabdev/bankroll-ledger-service/pkg/oddsmath"
)

// testHandlerSetup is a helper struct to hold test dependencies
type testHandlerSetup struct {
	store     *sqlstore.SQLStore
	miniRedis *miniredis.Miniredis
	cache     *cache.RedisCache
	scheduler *scheduler.Scheduler
	router    chi.Router
}

// setupTestHandler wires the handler over real services
func setupTestHandler(t *testing.T) *testHandlerSetup {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	st, err := sqlstore.Open(ctx, sqlstore.Config{Driver: sqlstore.DriverSQLite, DSN: ":memory:"}, logger)
	require.NoError(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)

	redisCache := cache.NewRedisCache(cache.RedisCacheConfig{Addr: mr.Addr(), TTL: time.Minute}, logger)
	locker := locks.NewMemoryLocker(time.Second)
	params := service.DefaultSettlementParams()

	statistics := service.NewStatisticsService(st, redisCache, params.Tilt, logger)
	settlement := service.NewSettlementService(st, locker, statistics, redisCache, nil, params, logger)
	accounts := service.NewAccountService(st, locker, redisCache, nil, params, logger)
	sched := scheduler.New(st, settlement, scheduler.Config{Backoff: scheduler.DefaultBackoff()}, nil, logger)

	router := chi.NewRouter()
	NewLedgerHandler(accounts, statistics, sched, params.KellyMultiplier, logger).RegisterRoutes(router)

	return &testHandlerSetup{
		store:     st,
		miniRedis: mr,
		cache:     redisCache,
		scheduler: sched,
		router:    router,
	}
}

// cleanup cleans up test resources
func (s *testHandlerSetup) cleanup() {
	s.cache.Close()
	s.miniRedis.Close()
	s.store.Close()
}

func (s *testHandlerSetup) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (s *testHandlerSetup) account(t *testing.T) models.Account {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/accounts", map[string]interface{}{"name": "tester", "initial_balance": "1000"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[models.Account](t, rec)
}

func (s *testHandlerSetup) bet(t *testing.T, accountID uuid.UUID, body map[string]interface{}) models.Bet {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/accounts/"+accountID.String()+"/bets", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[models.Bet](t, rec)
}

// TestLedgerFlow tests account creation, placement, settlement and reads end to end
func TestLedgerFlow(t *testing.T) {
	setup := setupTestHandler(t)
	defer setup.cleanup()

	account := setup.account(t)
	assert.True(t, decimal.NewFromInt(10).Equal(account.UnitSize))

	bet := setup.bet(t, account.ID, map[string]interface{}{
		"league": "NBA", "bet_type": "h2h", "selection": "Boston Celtics",
		"stake": "100", "price": -110, "win_probability": 0.58,
	})
	assert.Equal(t, models.BetStatePending, bet.State)
	require.NotNil(t, bet.Edge)

	rec := setup.do(t, http.MethodGet, "/api/v1/accounts/"+account.ID.String()+"/bankroll", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody[models.BankrollStatus](t, rec)
	assert.True(t, decimal.NewFromInt(900).Equal(status.Available))

	rec = setup.do(t, http.MethodPost, "/api/v1/bets/"+bet.ID.String()+"/settle", map[string]interface{}{
		"outcome": "won", "actual_return": "190.91", "closing_price": -125,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeBody[models.SettlementResult](t, rec)
	assert.True(t, decimal.RequireFromString("90.91").Equal(result.ProfitLoss))
	assert.True(t, decimal.RequireFromString("1090.91").Equal(result.Balance))

	rec = setup.do(t, http.MethodGet, "/api/v1/bets/"+bet.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeBody[models.Bet](t, rec)
	assert.Equal(t, models.BetStateWon, got.State)
	require.NotNil(t, got.CLV)

	rec = setup.do(t, http.MethodGet, "/api/v1/accounts/"+account.ID.String()+"/statistics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeBody[models.StatisticsSnapshot](t, rec)
	assert.Equal(t, 1, snap.Wins)

	rec = setup.do(t, http.MethodGet, "/api/v1/accounts/"+account.ID.String()+"/statistics?league=NFL", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decodeBody[models.StatisticsSnapshot](t, rec).TotalBets)

	rec = setup.do(t, http.MethodGet, "/api/v1/accounts/"+account.ID.String()+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[models.ReconciliationReport](t, rec).Balanced)

	rec = setup.do(t, http.MethodGet, "/api/v1/accounts/"+account.ID.String()+"/statistics/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[models.StatisticsAudit](t, rec).Drifted)
}

// TestErrorMapping tests the HTTP status of each error kind
func TestErrorMapping(t *testing.T) {
	setup := setupTestHandler(t)
	defer setup.cleanup()

	account := setup.account(t)
	bet := setup.bet(t, account.ID, map[string]interface{}{"stake": "50", "price": 120})
	settle := "/api/v1/bets/" + bet.ID.String() + "/settle"

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{name: "Bad id", method: http.MethodGet, path: "/api/v1/bets/not-a-uuid", status: http.StatusBadRequest},
		{name: "Unknown bet", method: http.MethodGet, path: "/api/v1/bets/" + uuid.NewString(), status: http.StatusNotFound},
		{name: "Unknown account", method: http.MethodGet, path: "/api/v1/accounts/" + uuid.NewString() + "/bankroll", status: http.StatusNotFound},
		{name: "Bad body", method: http.MethodPost, path: "/api/v1/accounts", body: "nope", status: http.StatusBadRequest},
		{name: "Invalid price", method: http.MethodPost, path: "/api/v1/accounts/" + account.ID.String() + "/bets", body: map[string]interface{}{"stake": "10", "price": 50}, status: http.StatusUnprocessableEntity},
		{name: "Inconsistent outcome", method: http.MethodPost, path: settle, body: map[string]interface{}{"outcome": "lost", "actual_return": "50"}, status: http.StatusBadRequest},
		{name: "Unknown outcome", method: http.MethodPost, path: settle, body: map[string]interface{}{"outcome": "void", "actual_return": "50"}, status: http.StatusBadRequest},
		{name: "Bad date filter", method: http.MethodGet, path: "/api/v1/accounts/" + account.ID.String() + "/statistics?from=yesterday", status: http.StatusBadRequest},
		{name: "Settle", method: http.MethodPost, path: settle, body: map[string]interface{}{"outcome": "pushed", "actual_return": "50"}, status: http.StatusOK},
		{name: "Already settled", method: http.MethodPost, path: settle, body: map[string]interface{}{"outcome": "pushed", "actual_return": "50"}, status: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := setup.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

// TestAuditMismatch tests that a reconciliation mismatch returns the report with 409
func TestAuditMismatch(t *testing.T) {
	setup := setupTestHandler(t)
	defer setup.cleanup()

	account := setup.account(t)
	_, err := setup.store.DB().Exec("UPDATE accounts SET balance = ? WHERE id = ?", "999.00", account.ID)
	require.NoError(t, err)

	rec := setup.do(t, http.MethodGet, "/api/v1/accounts/"+account.ID.String()+"/audit", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	report := decodeBody[models.ReconciliationReport](t, rec)
	assert.False(t, report.Balanced)
	assert.True(t, decimal.NewFromInt(-1).Equal(report.Discrepancy))
}

// TestEstimateEdge tests the stateless calculator endpoint
func TestEstimateEdge(t *testing.T) {
	setup := setupTestHandler(t)
	defer setup.cleanup()

	rec := setup.do(t, http.MethodPost, "/api/v1/edge", map[string]interface{}{"probability": 0.58, "price": -110})
	require.Equal(t, http.StatusOK, rec.Code)
	est := decodeBody[oddsmath.EdgeEstimate](t, rec)
	assert.InDelta(t, 0.0562, est.Edge, 0.0001)
	assert.Equal(t, 0.25, est.KellyMultiplier)

	rec = setup.do(t, http.MethodPost, "/api/v1/edge", map[string]interface{}{"probability": 0.58, "price": -110, "kelly_multiplier": 1.0})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, est.FullKelly, decodeBody[oddsmath.EdgeEstimate](t, rec).KellyFraction, 1e-9)

	rec = setup.do(t, http.MethodPost, "/api/v1/edge", map[string]interface{}{"probability": 1.5, "price": -110})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestQuarantineEndpoints tests listing and releasing quarantined bets
func TestQuarantineEndpoints(t *testing.T) {
	setup := setupTestHandler(t)
	defer setup.cleanup()

	account := setup.account(t)
	bet := setup.bet(t, account.ID, map[string]interface{}{
		"event_id": "evt-1", "bet_type": "player_points", "selection": "over", "stake": "10", "price": -110,
	})
	require.NoError(t, setup.store.UpsertEventResult(context.Background(), &models.EventResult{
		EventID: "evt-1", HomeTeam: "A", AwayTeam: "B", HomeScore: 1, AwayScore: 0, Completed: true, RecordedAt: time.Now(),
	}))

	_, err := setup.scheduler.Sweep(context.Background())
	require.NoError(t, err)

	rec := setup.do(t, http.MethodGet, "/api/v1/scheduler/quarantine", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listing := decodeBody[struct {
		Count   int                         `json:"count"`
		Entries []scheduler.QuarantineEntry `json:"entries"`
	}](t, rec)
	require.Equal(t, 1, listing.Count)
	assert.Equal(t, bet.ID, listing.Entries[0].BetID)

	rec = setup.do(t, http.MethodDelete, "/api/v1/scheduler/quarantine/"+bet.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = setup.do(t, http.MethodDelete, "/api/v1/scheduler/quarantine/"+bet.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestParseTime tests accepted filter formats
func TestParseTime(t *testing.T) {
	got, err := parseTime("")
	assert.NoError(t, err)
	assert.Nil(t, got)

	got, err = parseTime("2025-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), *got)

	got, err = parseTime("2025-03-01T12:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, 10, got.Hour())

	_, err = parseTime("03/01/2025")
	assert.Error(t, err)
}
