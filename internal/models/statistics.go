package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Streak is a run of identical win/loss outcomes, most recent first
type Streak struct {
	Type   Outcome `json:"type,omitempty"`
	Length int     `json:"length"`
}

// StatisticsSnapshot is derived from the settled ledger and never authoritative
type StatisticsSnapshot struct {
	AccountID         uuid.UUID       `json:"account_id"`
	TotalBets         int             `json:"total_bets"`
	Wins              int             `json:"wins"`
	Losses            int             `json:"losses"`
	Pushes            int             `json:"pushes"`
	WinRate           float64         `json:"win_rate"`
	ROI               float64         `json:"roi"`
	TotalStaked       decimal.Decimal `json:"total_staked"`
	TotalProfitLoss   decimal.Decimal `json:"total_profit_loss"`
	CurrentStreak     Streak          `json:"current_streak"`
	LongestWinStreak  int             `json:"longest_win_streak"`
	LongestLossStreak int             `json:"longest_loss_streak"`
	TiltScore         float64         `json:"tilt_score"`
	AverageCLV        *float64        `json:"average_clv,omitempty"`
	CLVBets           int             `json:"clv_bets"`
	ComputedAt        time.Time       `json:"computed_at"`
}

// StatisticsFilter restricts a statistics query to a subset of the ledger
type StatisticsFilter struct {
	League  string     `json:"league,omitempty"`
	BetType string     `json:"bet_type,omitempty"`
	From    *time.Time `json:"from,omitempty"`
	To      *time.Time `json:"to,omitempty"`
}

// IsZero reports whether the filter selects the whole ledger
func (f StatisticsFilter) IsZero() bool {
	return f.League == "" && f.BetType == "" && f.From == nil && f.To == nil
}

// Key is a stable cache key fragment for the filter
func (f StatisticsFilter) Key() string {
	if f.IsZero() {
		return "all"
	}
	from, to := "-", "-"
	if f.From != nil {
		from = f.From.UTC().Format(time.RFC3339)
	}
	if f.To != nil {
		to = f.To.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("%s|%s|%s|%s", f.League, f.BetType, from, to)
}

// BetFilter converts the statistics filter to a ledger filter
func (f StatisticsFilter) BetFilter() BetFilter {
	return BetFilter{
		League:  f.League,
		BetType: f.BetType,
		From:    f.From,
		To:      f.To,
	}
}

// StatisticsAudit compares the stored snapshot with a full replay
type StatisticsAudit struct {
	AccountID uuid.UUID           `json:"account_id"`
	Stored    *StatisticsSnapshot `json:"stored"`
	Replayed  *StatisticsSnapshot `json:"replayed"`
	Drifted   bool                `json:"drifted"`
}
