package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
	"github.com/cypherlabdev/bankroll-ledger-service/internal/store"
	"github.com/cypherlabdev/bankroll-ledger-service/pkg/oddsmath"
)

// FeedService stores event results and closing lines delivered by the outcome feed.
// It never settles anything itself.
type FeedService struct {
	store  store.Store
	logger zerolog.Logger
	now    func() time.Time
}

var _ ResultRecorder = (*FeedService)(nil)

// NewFeedService creates a new feed service
func NewFeedService(st store.Store, logger zerolog.Logger) *FeedService {
	return &FeedService{
		store:  st,
		logger: logger.With().Str("component", "feed_service").Logger(),
		now:    time.Now,
	}
}

// RecordEventResult upserts the latest state of an event
func (s *FeedService) RecordEventResult(ctx context.Context, result *models.EventResult) error {
	if result == nil || strings.TrimSpace(result.EventID) == "" {
		return fmt.Errorf("%w: event id is required", models.ErrInvalidRequest)
	}
	if result.HomeScore < 0 || result.AwayScore < 0 {
		return fmt.Errorf("%w: negative score for event %s", models.ErrInvalidRequest, result.EventID)
	}

	now := s.now().UTC()
	if result.RecordedAt.IsZero() {
		result.RecordedAt = now
	}
	if result.Completed && result.CompletedAt == nil {
		result.CompletedAt = &now
	}

	if err := s.store.UpsertEventResult(ctx, result); err != nil {
		return err
	}

	s.logger.Debug().
		Str("event_id", result.EventID).
		Int("home_score", result.HomeScore).
		Int("away_score", result.AwayScore).
		Bool("completed", result.Completed).
		Msg("recorded event result")
	return nil
}

// RecordClosingLine upserts the final market price of one selection
func (s *FeedService) RecordClosingLine(ctx context.Context, line *models.ClosingLine) error {
	if line == nil || line.EventID == "" || line.Market == "" || line.Selection == "" {
		return fmt.Errorf("%w: event id, market and selection are required", models.ErrInvalidRequest)
	}
	if err := oddsmath.ValidatePrice(line.Price); err != nil {
		return fmt.Errorf("%w: closing price %d", models.ErrInvalidRequest, line.Price)
	}

	line.Market = strings.ToLower(line.Market)
	if line.ClosedAt.IsZero() {
		line.ClosedAt = s.now().UTC()
	}

	if err := s.store.UpsertClosingLine(ctx, line); err != nil {
		return err
	}

	s.logger.Debug().
		Str("event_id", line.EventID).
		Str("market", line.Market).
		Str("selection", line.Selection).
		Int("price", line.Price).
		Msg("recorded closing line")
	return nil
}
