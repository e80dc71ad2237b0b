package sqlstore

import (
	"context"
	"fmt"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
)

// GetEventResult reads the last recorded result of an event
func (q *queries) GetEventResult(ctx context.Context, eventID string) (*models.EventResult, error) {
	var r models.EventResult
	err := q.queryRow(ctx,
		`SELECT event_id, league, home_team, away_team, home_score, away_score, completed, completed_at, recorded_at
		FROM event_results WHERE event_id = ?`, eventID,
	).Scan(&r.EventID, &r.League, &r.HomeTeam, &r.AwayTeam, &r.HomeScore, &r.AwayScore, &r.Completed, &r.CompletedAt, &r.RecordedAt)
	if err != nil {
		return nil, fmt.Errorf("get event result %s: %w", eventID, translate(err))
	}
	r.RecordedAt = r.RecordedAt.UTC()
	r.CompletedAt = utcPtr(r.CompletedAt)
	return &r, nil
}

// UpsertEventResult records the latest state of an event
func (s *SQLStore) UpsertEventResult(ctx context.Context, r *models.EventResult) error {
	_, err := s.exec(ctx,
		`INSERT INTO event_results (event_id, league, home_team, away_team, home_score, away_score, completed, completed_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO UPDATE SET
			league = excluded.league,
			home_team = excluded.home_team,
			away_team = excluded.away_team,
			home_score = excluded.home_score,
			away_score = excluded.away_score,
			completed = excluded.completed,
			completed_at = excluded.completed_at,
			recorded_at = excluded.recorded_at`,
		r.EventID, r.League, r.HomeTeam, r.AwayTeam, r.HomeScore, r.AwayScore, r.Completed, utcPtr(r.CompletedAt), utc(r.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert event result %s: %w", r.EventID, translate(err))
	}
	return nil
}

// GetClosingLine reads the closing price of one selection
func (q *queries) GetClosingLine(ctx context.Context, eventID, market, selection string) (*models.ClosingLine, error) {
	var l models.ClosingLine
	err := q.queryRow(ctx,
		`SELECT event_id, market, selection, line, price, closed_at
		FROM closing_lines WHERE event_id = ? AND market = ? AND selection = ?`, eventID, market, selection,
	).Scan(&l.EventID, &l.Market, &l.Selection, &l.Line, &l.Price, &l.ClosedAt)
	if err != nil {
		return nil, fmt.Errorf("get closing line %s/%s/%s: %w", eventID, market, selection, translate(err))
	}
	l.ClosedAt = l.ClosedAt.UTC()
	return &l, nil
}

// UpsertClosingLine records the final price of one selection
func (s *SQLStore) UpsertClosingLine(ctx context.Context, l *models.ClosingLine) error {
	_, err := s.exec(ctx,
		`INSERT INTO closing_lines (event_id, market, selection, line, price, closed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id, market, selection) DO UPDATE SET
			line = excluded.line,
			price = excluded.price,
			closed_at = excluded.closed_at`,
		l.EventID, l.Market, l.Selection, l.Line, l.Price, utc(l.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert closing line %s/%s/%s: %w", l.EventID, l.Market, l.Selection, translate(err))
	}
	return nil
}
