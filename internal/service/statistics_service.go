package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/store"
	"github.com/cypherlabdev/bankroll-ledger-service/pkg/stats"
)

// StatisticsService maintains and serves per-account statistics snapshots.
// Snapshots are always rebuilt by full replay of the settled ledger.
type StatisticsService struct {
	store  store.Store
	cache  Cache
	tilt   stats.TiltParams
	logger zerolog.Logger
	now    func() time.Time
}

// NewStatisticsService creates a new statistics service. cache may be nil.
func NewStatisticsService(st store.Store, cache Cache, tilt stats.TiltParams, logger zerolog.Logger) *StatisticsService {
	return &StatisticsService{
		store:  st,
		cache:  cache,
		tilt:   tilt,
		logger: logger.With().Str("component", "statistics_service").Logger(),
		now:    time.Now,
	}
}

// Recompute replays the account ledger inside tx and stores the snapshot in place
func (s *StatisticsService) Recompute(ctx context.Context, tx store.Tx, accountID uuid.UUID) (*models.StatisticsSnapshot, error) {
	bets, err := tx.ListBets(ctx, accountID, models.BetFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	snap := stats.Replay(accountID, bets, s.tilt, s.now())
	if err := tx.SaveSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to save snapshot: %w", err)
	}
	return snap, nil
}

// GetStatistics returns statistics for the whole ledger or a filtered subset.
// Filtered views are replayed on demand and cached; they are never stored.
func (s *StatisticsService) GetStatistics(ctx context.Context, accountID uuid.UUID, filter models.StatisticsFilter) (*models.StatisticsSnapshot, error) {
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, fmt.Errorf("%w: from is after to", models.ErrInvalidRequest)
	}

	key := filter.Key()
	if s.cache != nil {
		cached, err := s.cache.GetStatistics(ctx, accountID, key)
		if err == nil && cached != nil {
			s.logger.Debug().Str("account_id", accountID.String()).Str("filter", key).Msg("cache hit for statistics")
			return cached, nil
		}
	}

	gen, cacheable := cacheGeneration(ctx, s.cache, s.logger, accountID)

	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	var snap *models.StatisticsSnapshot
	if filter.IsZero() {
		stored, err := s.store.GetSnapshot(ctx, accountID)
		switch {
		case err == nil:
			snap = stored
		case errors.Is(err, models.ErrNotFound):
			// nothing settled yet
			snap = stats.Replay(accountID, nil, s.tilt, s.now())
		default:
			return nil, err
		}
	} else {
		bets, err := s.store.ListBets(ctx, accountID, filter.BetFilter())
		if err != nil {
			return nil, err
		}
		snap = stats.Replay(accountID, bets, s.tilt, s.now())
	}

	if cacheable {
		if err := s.cache.SetStatistics(ctx, accountID, key, snap, gen); err != nil {
			s.logger.Warn().Err(err).Str("account_id", accountID.String()).Msg("failed to cache statistics")
		}
	}
	return snap, nil
}

// AuditStatistics replays the full ledger and compares it with the stored snapshot
func (s *StatisticsService) AuditStatistics(ctx context.Context, accountID uuid.UUID) (*models.StatisticsAudit, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	stored, err := s.store.GetSnapshot(ctx, accountID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	bets, err := s.store.ListBets(ctx, accountID, models.BetFilter{})
	if err != nil {
		return nil, err
	}
	replayed := stats.Replay(accountID, bets, s.tilt, s.now())

	audit := &models.StatisticsAudit{
		AccountID: accountID,
		Stored:    stored,
		Replayed:  replayed,
		Drifted:   !sameStatistics(stored, replayed),
	}

	if audit.Drifted {
		s.logger.Error().
			Str("account_id", accountID.String()).
			Int("replayed_bets", replayed.TotalBets).
			Msg("statistics snapshot drifted from ledger replay")
	}
	return audit, nil
}

const floatTolerance = 1e-9

// sameStatistics compares every derived figure, ignoring ComputedAt
func sameStatistics(stored, replayed *models.StatisticsSnapshot) bool {
	if stored == nil {
		return replayed.TotalBets == 0
	}
	if stored.TotalBets != replayed.TotalBets ||
		stored.Wins != replayed.Wins ||
		stored.Losses != replayed.Losses ||
		stored.Pushes != replayed.Pushes ||
		stored.CurrentStreak != replayed.CurrentStreak ||
		stored.LongestWinStreak != replayed.LongestWinStreak ||
		stored.LongestLossStreak != replayed.LongestLossStreak ||
		stored.CLVBets != replayed.CLVBets {
		return false
	}
	if !stored.TotalStaked.Equal(replayed.TotalStaked) || !stored.TotalProfitLoss.Equal(replayed.TotalProfitLoss) {
		return false
	}
	if !closeTo(stored.WinRate, replayed.WinRate) || !closeTo(stored.ROI, replayed.ROI) || !closeTo(stored.TiltScore, replayed.TiltScore) {
		return false
	}
	if (stored.AverageCLV == nil) != (replayed.AverageCLV == nil) {
		return false
	}
	return stored.AverageCLV == nil || closeTo(*stored.AverageCLV, *replayed.AverageCLV)
}

func closeTo(a, b float64) bool {
	return math.Abs(a-b) <= floatTolerance
}
