package service

import (
	"context"
	"errors"
	"fmt"
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

// SettlementService is the only code path that moves a bet out of pending or
// changes an account balance.
type SettlementService struct {
	store      store.Store
	locker     Locker
	statistics *StatisticsService
	cache      Cache
	metrics    *metrics.Metrics
	params     SettlementParams
	logger     zerolog.Logger
	now        func() time.Time
}

var _ Settler = (*SettlementService)(nil)

// NewSettlementService creates a new settlement engine. cache and m may be nil.
func NewSettlementService(
	st store.Store,
	locker Locker,
	statistics *StatisticsService,
	cache Cache,
	m *metrics.Metrics,
	params SettlementParams,
	logger zerolog.Logger,
) *SettlementService {
	return &SettlementService{
		store:      st,
		locker:     locker,
		statistics: statistics,
		cache:      cache,
		metrics:    m,
		params:     params,
		logger:     logger.With().Str("component", "settlement_service").Logger(),
		now:        time.Now,
	}
}

// Settle moves a pending bet to its terminal state, applies its profit/loss to
// the owning account and recomputes the account statistics, all in one
// transaction. Locks are taken bet first, then account.
func (s *SettlementService) Settle(ctx context.Context, req models.SettlementRequest) (*models.SettlementResult, error) {
	start := s.now()

	result, err := s.settle(ctx, req)
	if err != nil {
		s.recordFailure(req, err)
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.InvalidateAccount(ctx, result.Bet.AccountID); err != nil {
			s.logger.Warn().Err(err).Str("account_id", result.Bet.AccountID.String()).Msg("failed to invalidate cached read models")
		}
	}

	s.metrics.Settled(string(req.Outcome), req.Source, s.now().Sub(start))
	s.logger.Info().
		Str("bet_id", req.BetID.String()).
		Str("account_id", result.Bet.AccountID.String()).
		Str("outcome", string(req.Outcome)).
		Str("profit_loss", result.ProfitLoss.String()).
		Str("balance", result.Balance.String()).
		Str("source", req.Source).
		Msg("bet settled")

	return result, nil
}

func (s *SettlementService) settle(ctx context.Context, req models.SettlementRequest) (*models.SettlementResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	releaseBet, err := s.locker.Acquire(ctx, locks.BetKey(req.BetID))
	if err != nil {
		return nil, err
	}
	defer releaseBet()

	bet, err := s.store.GetBet(ctx, req.BetID)
	if err != nil {
		return nil, err
	}
	if bet.IsSettled() {
		return nil, fmt.Errorf("bet %s is %s: %w", bet.ID, bet.State, models.ErrAlreadySettled)
	}

	releaseAccount, err := s.locker.Acquire(ctx, locks.AccountKey(bet.AccountID))
	if err != nil {
		return nil, err
	}
	defer releaseAccount()

	var result *models.SettlementResult
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockBet(ctx, req.BetID)
		if err != nil {
			return err
		}
		if locked.IsSettled() {
			return fmt.Errorf("bet %s is %s: %w", locked.ID, locked.State, models.ErrAlreadySettled)
		}
		if err := validateBet(locked); err != nil {
			return err
		}
		if err := s.validateOutcome(locked, req); err != nil {
			return err
		}

		account, err := tx.LockAccount(ctx, locked.AccountID)
		if err != nil {
			return err
		}

		settledAt := s.now().UTC()
		profitLoss := oddsmath.ProfitLoss(req.Outcome, locked.Stake, req.ActualReturn)

		locked.State = req.Outcome.State()
		locked.ActualReturn = decimal.NewNullDecimal(req.ActualReturn)
		locked.ProfitLoss = decimal.NewNullDecimal(profitLoss)
		locked.SettledAt = &settledAt
		if err := s.annotate(locked, req); err != nil {
			return err
		}

		if err := tx.SettleBet(ctx, locked); err != nil {
			return err
		}

		balance := account.Balance.Add(profitLoss)
		if err := tx.UpdateBalance(ctx, account.ID, balance, settledAt); err != nil {
			return err
		}

		snap, err := s.statistics.Recompute(ctx, tx, account.ID)
		if err != nil {
			return err
		}

		result = &models.SettlementResult{
			Bet:        locked,
			ProfitLoss: profitLoss,
			Balance:    balance,
			Statistics: snap,
			SettledAt:  settledAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// annotate records closing line value and pricing analytics on the bet
func (s *SettlementService) annotate(bet *models.Bet, req models.SettlementRequest) error {
	if req.ClosingPrice != nil {
		closing := *req.ClosingPrice
		bet.ClosingPrice = &closing
	}

	switch {
	case req.CLV != nil:
		clv := *req.CLV
		bet.CLV = &clv
	case req.ClosingPrice != nil:
		clv, err := oddsmath.CLV(bet.Price, *req.ClosingPrice)
		if err != nil {
			return err
		}
		bet.CLV = &clv
	}

	implied, err := oddsmath.ImpliedProbability(bet.Price)
	if err != nil {
		return err
	}
	bet.ImpliedProbability = &implied

	if bet.WinProbability != nil {
		est, err := oddsmath.EstimateEdge(*bet.WinProbability, bet.Price, s.params.KellyMultiplier)
		if err != nil {
			// probability was validated at placement; a bad stored value is a record defect
			return fmt.Errorf("%w: stored win probability: %v", models.ErrInvalidBet, err)
		}
		bet.Edge = &est.Edge
		bet.ExpectedValue = &est.ExpectedValue
		bet.KellyFraction = &est.KellyFraction
	}
	return nil
}

// validateRequest checks caller input that does not depend on the stored bet
func validateRequest(req models.SettlementRequest) error {
	if req.BetID == uuid.Nil {
		return fmt.Errorf("%w: bet id is required", models.ErrInvalidRequest)
	}
	if !req.Outcome.Valid() {
		return fmt.Errorf("%w: unknown outcome %q", models.ErrInvalidRequest, req.Outcome)
	}
	if req.ActualReturn.IsNegative() {
		return fmt.Errorf("%w: negative actual return %s", models.ErrInconsistentOutcome, req.ActualReturn)
	}
	if !oddsmath.IsCents(req.ActualReturn) {
		return fmt.Errorf("%w: actual return %s has sub-cent precision", models.ErrInvalidRequest, req.ActualReturn)
	}
	if req.ClosingPrice != nil {
		if err := oddsmath.ValidatePrice(*req.ClosingPrice); err != nil {
			return fmt.Errorf("%w: closing price %d", models.ErrInvalidRequest, *req.ClosingPrice)
		}
	}
	return nil
}

// validateBet rejects records that could only exist through a placement bug.
// They are never auto-corrected.
func validateBet(bet *models.Bet) error {
	if !bet.Stake.IsPositive() {
		return fmt.Errorf("bet %s: %w: stake %s", bet.ID, models.ErrInvalidBet, bet.Stake)
	}
	if err := oddsmath.ValidatePrice(bet.Price); err != nil {
		return fmt.Errorf("bet %s: %w", bet.ID, err)
	}
	return nil
}

// validateOutcome checks that the actual return matches the declared outcome
func (s *SettlementService) validateOutcome(bet *models.Bet, req models.SettlementRequest) error {
	ret := req.ActualReturn

	switch req.Outcome {
	case models.OutcomeLost:
		if !ret.IsZero() {
			return fmt.Errorf("bet %s: %w: lost with return %s", bet.ID, models.ErrInconsistentOutcome, ret)
		}
	case models.OutcomePushed:
		if !ret.Equal(bet.Stake) {
			return fmt.Errorf("bet %s: %w: pushed with return %s, stake %s", bet.ID, models.ErrInconsistentOutcome, ret, bet.Stake)
		}
	case models.OutcomeWon:
		if !ret.GreaterThan(bet.Stake) {
			return fmt.Errorf("bet %s: %w: won with return %s, stake %s", bet.ID, models.ErrInconsistentOutcome, ret, bet.Stake)
		}
		if s.params.PayoutTolerance.IsPositive() {
			expected, err := oddsmath.Payout(bet.Stake, bet.Price)
			if err != nil {
				return err
			}
			if ret.Sub(expected).Abs().GreaterThan(s.params.PayoutTolerance) {
				return fmt.Errorf("bet %s: %w: won with return %s, price %d pays %s",
					bet.ID, models.ErrInconsistentOutcome, ret, bet.Price, expected)
			}
		}
	}
	return nil
}

// recordFailure logs and counts a rejected settlement by error kind
func (s *SettlementService) recordFailure(req models.SettlementRequest, err error) {
	level := zerolog.WarnLevel
	kind := "internal"

	switch {
	case errors.Is(err, models.ErrContention):
		kind = "contention"
		s.metrics.Contention()
	case errors.Is(err, models.ErrAlreadySettled):
		kind = "already_settled"
	case errors.Is(err, models.ErrInvalidBet):
		kind = "invalid_bet"
		level = zerolog.ErrorLevel
	case errors.Is(err, models.ErrInconsistentOutcome):
		kind = "inconsistent_outcome"
	case errors.Is(err, models.ErrNotFound):
		kind = "not_found"
	case errors.Is(err, models.ErrInvalidRequest):
		kind = "invalid_request"
	default:
		level = zerolog.ErrorLevel
	}

	s.metrics.SettlementFailed(kind)

	event := s.logger.WithLevel(level).
		Err(err).
		Str("bet_id", req.BetID.String()).
		Str("outcome", string(req.Outcome)).
		Str("source", req.Source).
		Str("kind", kind)

	switch kind {
	case "already_settled":
		event.Msg("settlement rejected, potential caller bug")
	case "invalid_bet":
		event.Msg("settlement rejected, bet flagged for manual review")
	default:
		event.Msg("settlement rejected")
	}
}
