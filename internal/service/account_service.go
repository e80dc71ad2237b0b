package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/locks"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/metrics"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/store"
	"github.com/cypherlabdev/bankroll-ledger-service/pkg/oddsmath"
)

var (
	hundred        = decimal.NewFromInt(100)
	defaultUnitPct = decimal.RequireFromString("0.01")
)

// AccountService handles onboarding, bet placement, bankroll reads and the
// balance reconciliation audit. It never changes a balance.
type AccountService struct {
	store   store.Store
	locker  Locker
	cache   Cache
	metrics *metrics.Metrics
	params  SettlementParams
	logger  zerolog.Logger
	now     func() time.Time
}

// NewAccountService creates a new account service. cache and m may be nil.
func NewAccountService(
	st store.Store,
	locker Locker,
	cache Cache,
	m *metrics.Metrics,
	params SettlementParams,
	logger zerolog.Logger,
) *AccountService {
	return &AccountService{
		store:   st,
		locker:  locker,
		cache:   cache,
		metrics: m,
		params:  params,
		logger:  logger.With().Str("component", "account_service").Logger(),
		now:     time.Now,
	}
}

// CreateAccount opens a bankroll. Balance and baseline both start at the
// declared amount; the unit size defaults to 1% of it.
func (s *AccountService) CreateAccount(ctx context.Context, req models.CreateAccountRequest) (*models.Account, error) {
	if !req.InitialBalance.IsPositive() {
		return nil, fmt.Errorf("%w: initial balance must be positive", models.ErrInvalidRequest)
	}
	if !oddsmath.IsCents(req.InitialBalance) {
		return nil, fmt.Errorf("%w: initial balance %s has sub-cent precision", models.ErrInvalidRequest, req.InitialBalance)
	}

	unit := req.InitialBalance.Mul(defaultUnitPct).Round(2)
	if req.UnitSize != nil {
		if !req.UnitSize.IsPositive() {
			return nil, fmt.Errorf("%w: unit size must be positive", models.ErrInvalidRequest)
		}
		if !oddsmath.IsCents(*req.UnitSize) {
			return nil, fmt.Errorf("%w: unit size %s has sub-cent precision", models.ErrInvalidRequest, *req.UnitSize)
		}
		unit = *req.UnitSize
	}

	now := s.now().UTC()
	account := &models.Account{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(req.Name),
		Balance:   req.InitialBalance,
		Baseline:  req.InitialBalance,
		UnitSize:  unit,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("account_id", account.ID.String()).
		Str("baseline", account.Baseline.String()).
		Msg("account created")

	return account, nil
}

// PlaceBet records a pending bet. When a win probability is supplied the
// implied probability, edge, expected value and recommended Kelly fraction are
// attached for later audit.
func (s *AccountService) PlaceBet(ctx context.Context, req models.PlaceBetRequest) (*models.Bet, error) {
	if !req.Stake.IsPositive() {
		return nil, fmt.Errorf("%w: stake must be positive", models.ErrInvalidBet)
	}
	if !oddsmath.IsCents(req.Stake) {
		return nil, fmt.Errorf("%w: stake %s has sub-cent precision", models.ErrInvalidBet, req.Stake)
	}
	if err := oddsmath.ValidatePrice(req.Price); err != nil {
		return nil, err
	}
	if req.EventID != nil && strings.TrimSpace(*req.EventID) == "" {
		req.EventID = nil
	}

	if _, err := s.store.GetAccount(ctx, req.AccountID); err != nil {
		return nil, err
	}

	placedAt := req.PlacedAt
	if placedAt.IsZero() {
		placedAt = s.now()
	}

	bet := &models.Bet{
		ID:          uuid.New(),
		AccountID:   req.AccountID,
		EventID:     req.EventID,
		League:      req.League,
		BetType:     strings.ToLower(req.BetType),
		Selection:   req.Selection,
		Line:        req.Line,
		Stake:       req.Stake,
		Price:       req.Price,
		Description: req.Description,
		PlacedAt:    placedAt.UTC(),
		State:       models.BetStatePending,
	}

	implied, err := oddsmath.ImpliedProbability(req.Price)
	if err != nil {
		return nil, err
	}
	bet.ImpliedProbability = &implied

	if req.WinProbability != nil {
		est, err := oddsmath.EstimateEdge(*req.WinProbability, req.Price, s.params.KellyMultiplier)
		if err != nil {
			return nil, err
		}
		p := *req.WinProbability
		bet.WinProbability = &p
		bet.Edge = &est.Edge
		bet.ExpectedValue = &est.ExpectedValue
		bet.KellyFraction = &est.KellyFraction
	}

	if err := s.store.CreateBet(ctx, bet); err != nil {
		return nil, err
	}
	s.invalidate(ctx, bet.AccountID)

	s.logger.Info().
		Str("bet_id", bet.ID.String()).
		Str("account_id", bet.AccountID.String()).
		Str("stake", bet.Stake.String()).
		Int("price", bet.Price).
		Msg("bet placed")

	return bet, nil
}

// GetBet returns a single bet
func (s *AccountService) GetBet(ctx context.Context, id uuid.UUID) (*models.Bet, error) {
	return s.store.GetBet(ctx, id)
}

// GetBankrollStatus returns balance, exposure and profit/loss against baseline
func (s *AccountService) GetBankrollStatus(ctx context.Context, accountID uuid.UUID) (*models.BankrollStatus, error) {
	if s.cache != nil {
		cached, err := s.cache.GetBankroll(ctx, accountID)
		if err == nil && cached != nil {
			return cached, nil
		}
	}

	gen, cacheable := cacheGeneration(ctx, s.cache, s.logger, accountID)

	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	pending, count, err := s.store.PendingStake(ctx, accountID)
	if err != nil {
		return nil, err
	}

	profitLoss := account.Balance.Sub(account.Baseline)
	pct := decimal.Zero
	if account.Baseline.IsPositive() {
		pct = profitLoss.Div(account.Baseline).Mul(hundred).Round(2)
	}

	status := &models.BankrollStatus{
		AccountID:     account.ID,
		Balance:       account.Balance,
		Baseline:      account.Baseline,
		Available:     account.Balance.Sub(pending),
		PendingStake:  pending,
		PendingBets:   count,
		UnitSize:      account.UnitSize,
		ProfitLoss:    profitLoss,
		ProfitLossPct: pct,
	}

	if cacheable {
		if err := s.cache.SetBankroll(ctx, status, gen); err != nil {
			s.logger.Warn().Err(err).Str("account_id", accountID.String()).Msg("failed to cache bankroll status")
		}
	}
	return status, nil
}

// AuditReconcile replays the settled ledger and checks that
// balance == baseline + Σ profitLoss. A discrepancy returns the report together
// with models.ErrReconciliationMismatch; nothing is corrected.
func (s *AccountService) AuditReconcile(ctx context.Context, accountID uuid.UUID) (*models.ReconciliationReport, error) {
	release, err := s.locker.Acquire(ctx, locks.AccountKey(accountID))
	if err != nil {
		return nil, err
	}
	defer release()

	var report *models.ReconciliationReport
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		account, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		bets, err := tx.ListBets(ctx, accountID, models.BetFilter{})
		if err != nil {
			return err
		}

		expected := account.Baseline
		settled := 0
		for _, b := range bets {
			if !b.IsSettled() {
				continue
			}
			settled++
			expected = expected.Add(b.ProfitLoss.Decimal)
		}

		discrepancy := account.Balance.Sub(expected)
		report = &models.ReconciliationReport{
			AccountID:       accountID,
			ExpectedBalance: expected,
			ActualBalance:   account.Balance,
			Discrepancy:     discrepancy,
			SettledBets:     settled,
			Balanced:        discrepancy.IsZero(),
			CheckedAt:       s.now().UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !report.Balanced {
		s.metrics.ReconciliationMismatch()
		s.logger.Error().
			Str("account_id", accountID.String()).
			Str("expected_balance", report.ExpectedBalance.String()).
			Str("actual_balance", report.ActualBalance.String()).
			Str("discrepancy", report.Discrepancy.String()).
			Msg("ledger reconciliation mismatch")
		return report, fmt.Errorf("account %s off by %s: %w", accountID, report.Discrepancy, models.ErrReconciliationMismatch)
	}

	return report, nil
}

func (s *AccountService) invalidate(ctx context.Context, accountID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAccount(ctx, accountID); err != nil {
		s.logger.Warn().Err(err).Str("account_id", accountID.String()).Msg("failed to invalidate cached read models")
	}
}
