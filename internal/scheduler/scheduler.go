// Package scheduler settles pending bets whose events have concluded, and
// offers the direct single-bet entry point used for user-reported results.
// Both paths go through the same service.Settler.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/metrics"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/service"
	"github.com/cypherlabdev/bankroll-ledger-service/pkg/grading"
)

// Store is the read side the scheduler needs
type Store interface {
	ListSettleable(ctx context.Context, after *models.BetCursor, limit int) ([]*models.Bet, error)
	GetEventResult(ctx context.Context, eventID string) (*models.EventResult, error)
	GetClosingLine(ctx context.Context, eventID, market, selection string) (*models.ClosingLine, error)
}

// Config controls sweep cadence and throughput
type Config struct {
	Interval      time.Duration
	BatchSize     int
	Concurrency   int     // accounts settled in parallel
	RatePerSecond float64 // settle calls per second across a sweep, 0 = unlimited
	Backoff       Backoff
}

// Sweep results, used as metric labels
const (
	ResultSettled         = "settled"
	ResultAlreadySettled  = "already_settled"
	ResultQuarantined     = "quarantined"
	ResultSkipped         = "skipped"
	ResultRetryExhausted  = "retry_exhausted"
	ResultFailed          = "failed"
	ResultContentionRetry = "contention_retry"
)

// SweepReport summarises one sweep
type SweepReport struct {
	Scanned        int           `json:"scanned"`
	Settled        int           `json:"settled"`
	AlreadySettled int           `json:"already_settled"`
	Skipped        int           `json:"skipped"`
	Held           int           `json:"held"` // already quarantined, passed over
	Quarantined    int           `json:"quarantined"`
	RetryExhausted int           `json:"retry_exhausted"`
	Failed         int           `json:"failed"`
	Retries        int           `json:"retries"`
	Duration       time.Duration `json:"duration"`
}

// QuarantineEntry is a bet the sweep stopped retrying
type QuarantineEntry struct {
	BetID     uuid.UUID `json:"bet_id"`
	AccountID uuid.UUID `json:"account_id"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// Scheduler runs periodic settlement sweeps
type Scheduler struct {
	store   Store
	settler service.Settler
	cfg     Config
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu         sync.Mutex
	quarantine map[uuid.UUID]QuarantineEntry
}

// New creates a new scheduler. m may be nil.
func New(st Store, settler service.Settler, cfg Config, m *metrics.Metrics, logger zerolog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	return &Scheduler{
		store:      st,
		settler:    settler,
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, 1),
		metrics:    m,
		logger:     logger.With().Str("component", "settlement_scheduler").Logger(),
		quarantine: make(map[uuid.UUID]QuarantineEntry),
	}
}

// Start sweeps once immediately and then on every interval until ctx is done
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.cfg.Interval).
		Int("batch_size", s.cfg.BatchSize).
		Int("concurrency", s.cfg.Concurrency).
		Msg("starting settlement scheduler")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("settlement sweep failed")
		}

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("settlement scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep settles one batch of bets whose events have concluded. Accounts are
// processed in parallel; bets of one account are processed in placement order.
func (s *Scheduler) Sweep(ctx context.Context) (*SweepReport, error) {
	start := time.Now()

	bets, held, err := s.nextBatch(ctx)
	if err != nil {
		return nil, err
	}

	report := &SweepReport{Scanned: len(bets), Held: held}
	var mu sync.Mutex
	count := func(result string, retries int) {
		mu.Lock()
		defer mu.Unlock()
		report.Retries += retries
		switch result {
		case ResultSettled:
			report.Settled++
		case ResultAlreadySettled:
			report.AlreadySettled++
		case ResultSkipped:
			report.Skipped++
		case ResultQuarantined:
			report.Quarantined++
		case ResultRetryExhausted:
			report.RetryExhausted++
		case ResultFailed:
			report.Failed++
		}
		s.metrics.SweepResult(result)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, accountBets := range groupByAccount(bets) {
		accountBets := accountBets
		g.Go(func() error {
			for _, bet := range accountBets {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				result, retries := s.settleOne(gctx, bet)
				count(result, retries)
			}
			return nil
		})
	}

	err = g.Wait()
	report.Duration = time.Since(start)

	if report.Scanned > 0 || report.Held > 0 {
		s.logger.Info().
			Int("scanned", report.Scanned).
			Int("held", report.Held).
			Int("settled", report.Settled).
			Int("skipped", report.Skipped).
			Int("quarantined", report.Quarantined).
			Int("retry_exhausted", report.RetryExhausted).
			Int("failed", report.Failed).
			Dur("duration", report.Duration).
			Msg("settlement sweep finished")
	}
	return report, err
}

// nextBatch pages through settleable bets in placement order until BatchSize
// bets that are not quarantined have been collected or the ledger is exhausted.
// It also returns how many quarantined bets were passed over.
func (s *Scheduler) nextBatch(ctx context.Context) ([]*models.Bet, int, error) {
	var (
		batch []*models.Bet
		held  int
		after *models.BetCursor
	)
	for len(batch) < s.cfg.BatchSize {
		page, err := s.store.ListSettleable(ctx, after, s.cfg.BatchSize)
		if err != nil {
			return nil, 0, err
		}
		for _, bet := range page {
			if s.isQuarantined(bet.ID) {
				held++
				continue
			}
			batch = append(batch, bet)
			if len(batch) == s.cfg.BatchSize {
				break
			}
		}
		if len(page) < s.cfg.BatchSize {
			break
		}
		after = page[len(page)-1].Cursor()
	}
	return batch, held, nil
}

// settleOne grades and settles a single bet. External lookups happen before
// Settle is called so no lock is held across them.
func (s *Scheduler) settleOne(ctx context.Context, bet *models.Bet) (string, int) {
	if s.isQuarantined(bet.ID) {
		return ResultSkipped, 0
	}
	if bet.EventID == nil {
		s.quarantineBet(bet, "bet has no event")
		return ResultQuarantined, 0
	}

	logger := s.logger.With().Str("bet_id", bet.ID.String()).Str("account_id", bet.AccountID.String()).Logger()

	eventResult, err := s.store.GetEventResult(ctx, *bet.EventID)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load event result")
		return ResultFailed, 0
	}

	resolution, err := grading.Grade(bet, eventResult)
	switch {
	case errors.Is(err, grading.ErrEventNotConcluded):
		return ResultSkipped, 0
	case err != nil:
		// left pending for manual settlement
		s.quarantineBet(bet, err.Error())
		return ResultQuarantined, 0
	}

	req := models.SettlementRequest{
		BetID:        bet.ID,
		Outcome:      resolution.Outcome,
		ActualReturn: resolution.ActualReturn,
		Source:       models.SourceScheduler,
	}

	line, err := s.store.GetClosingLine(ctx, *bet.EventID, bet.BetType, bet.Selection)
	switch {
	case err == nil:
		price := line.Price
		req.ClosingPrice = &price
	case !errors.Is(err, models.ErrNotFound):
		logger.Warn().Err(err).Msg("closing line lookup failed, settling without CLV")
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return ResultFailed, 0
	}

	retries, err := s.cfg.Backoff.retry(ctx, func() error {
		_, err := s.settler.Settle(ctx, req)
		if models.IsRetryable(err) {
			s.metrics.SweepResult(ResultContentionRetry)
		}
		return err
	})

	switch {
	case err == nil:
		return ResultSettled, retries
	case errors.Is(err, models.ErrAlreadySettled):
		// settled by another caller since the batch was read
		return ResultAlreadySettled, retries
	case models.IsRetryable(err):
		logger.Warn().Err(err).Int("retries", retries).Msg("settlement still contended, will retry next sweep")
		return ResultRetryExhausted, retries
	case ctx.Err() != nil:
		return ResultFailed, retries
	default:
		s.quarantineBet(bet, err.Error())
		return ResultQuarantined, retries
	}
}

// SettleNow is the user-triggered entry point. Contention is retried once
// immediately before being reported to the caller.
func (s *Scheduler) SettleNow(ctx context.Context, req models.SettlementRequest) (*models.SettlementResult, error) {
	if req.Source == "" {
		req.Source = models.SourceUser
	}

	result, err := s.settler.Settle(ctx, req)
	if models.IsRetryable(err) {
		s.logger.Debug().Str("bet_id", req.BetID.String()).Msg("settlement contended, retrying once")
		result, err = s.settler.Settle(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	s.Release(req.BetID)
	return result, nil
}

// Quarantined lists bets the sweep no longer retries
func (s *Scheduler) Quarantined() []QuarantineEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]QuarantineEntry, 0, len(s.quarantine))
	for _, e := range s.quarantine {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].At.Before(entries[j].At) })
	return entries
}

// Release lets the sweep pick a quarantined bet up again. It reports whether
// the bet was quarantined.
func (s *Scheduler) Release(betID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.quarantine[betID]
	delete(s.quarantine, betID)
	return ok
}

func (s *Scheduler) isQuarantined(betID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.quarantine[betID]
	return ok
}

func (s *Scheduler) quarantineBet(bet *models.Bet, reason string) {
	s.mu.Lock()
	s.quarantine[bet.ID] = QuarantineEntry{
		BetID:     bet.ID,
		AccountID: bet.AccountID,
		Reason:    reason,
		At:        time.Now().UTC(),
	}
	s.mu.Unlock()

	s.logger.Warn().
		Str("bet_id", bet.ID.String()).
		Str("account_id", bet.AccountID.String()).
		Str("reason", reason).
		Msg("bet quarantined from automatic settlement")
}

// groupByAccount keeps the input order within each account
func groupByAccount(bets []*models.Bet) [][]*models.Bet {
	index := make(map[uuid.UUID]int)
	var groups [][]*models.Bet
	for _, b := range bets {
		i, ok := index[b.AccountID]
		if !ok {
			i = len(groups)
			index[b.AccountID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], b)
	}
	return groups
}
