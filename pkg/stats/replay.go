// Package stats derives account statistics by replaying the settled ledger.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
)

// MaxTiltScore is the saturation point of the tilt score
const MaxTiltScore = 100.0

// TiltParams weights the two tilt inputs
type TiltParams struct {
	Window      int     // number of most recent settled bets treated as "recent"
	StakeWeight float64 // points per unit of recent/historical stake ratio above 1
	LossWeight  float64 // points per bet in the current loss streak
}

// DefaultTiltParams returns the weights used when none are configured
func DefaultTiltParams() TiltParams {
	return TiltParams{
		Window:      10,
		StakeWeight: 40,
		LossWeight:  10,
	}
}

// Replay rebuilds a snapshot from the given bets. Pending bets are ignored, so
// callers may pass the full ledger. The result depends only on the settled bets.
func Replay(accountID uuid.UUID, bets []*models.Bet, params TiltParams, now time.Time) *models.StatisticsSnapshot {
	settled := SortedSettled(bets)

	snap := &models.StatisticsSnapshot{
		AccountID:       accountID,
		TotalStaked:     decimal.Zero,
		TotalProfitLoss: decimal.Zero,
		ComputedAt:      now.UTC(),
	}

	var clvSum float64
	for _, b := range settled {
		snap.TotalBets++
		snap.TotalStaked = snap.TotalStaked.Add(b.Stake)
		snap.TotalProfitLoss = snap.TotalProfitLoss.Add(b.ProfitLoss.Decimal)

		switch b.State {
		case models.BetStateWon:
			snap.Wins++
		case models.BetStateLost:
			snap.Losses++
		case models.BetStatePushed:
			snap.Pushes++
		}

		if b.CLV != nil {
			snap.CLVBets++
			clvSum += *b.CLV
		}
	}

	if decided := snap.Wins + snap.Losses; decided > 0 {
		snap.WinRate = float64(snap.Wins) / float64(decided)
	}
	if snap.TotalStaked.IsPositive() {
		snap.ROI = snap.TotalProfitLoss.Div(snap.TotalStaked).InexactFloat64()
	}
	if snap.CLVBets > 0 {
		avg := clvSum / float64(snap.CLVBets)
		snap.AverageCLV = &avg
	}

	snap.CurrentStreak, snap.LongestWinStreak, snap.LongestLossStreak = Streaks(settled)

	lossStreak := 0
	if snap.CurrentStreak.Type == models.OutcomeLost {
		lossStreak = snap.CurrentStreak.Length
	}
	snap.TiltScore = TiltScore(StakeRatio(settled, params.Window), lossStreak, params)

	return snap
}

// SortedSettled returns the settled bets in chronological settlement order
func SortedSettled(bets []*models.Bet) []*models.Bet {
	settled := make([]*models.Bet, 0, len(bets))
	for _, b := range bets {
		if b != nil && b.IsSettled() && b.SettledAt != nil {
			settled = append(settled, b)
		}
	}

	sort.SliceStable(settled, func(i, j int) bool {
		a, b := settled[i], settled[j]
		if !a.SettledAt.Equal(*b.SettledAt) {
			return a.SettledAt.Before(*b.SettledAt)
		}
		if !a.PlacedAt.Equal(b.PlacedAt) {
			return a.PlacedAt.Before(b.PlacedAt)
		}
		return a.ID.String() < b.ID.String()
	})
	return settled
}

// Streaks scans chronologically ordered settled bets. Pushes are skipped: they
// neither extend nor break a run.
func Streaks(settled []*models.Bet) (current models.Streak, longestWin, longestLoss int) {
	for _, b := range settled {
		outcome, ok := b.State.Outcome()
		if !ok || outcome == models.OutcomePushed {
			continue
		}

		if current.Type == outcome {
			current.Length++
		} else {
			current = models.Streak{Type: outcome, Length: 1}
		}

		switch outcome {
		case models.OutcomeWon:
			longestWin = max(longestWin, current.Length)
		case models.OutcomeLost:
			longestLoss = max(longestLoss, current.Length)
		}
	}
	return current, longestWin, longestLoss
}

// StakeRatio is the average stake of the most recent window divided by the
// average stake over all settled bets. It is 1 when there is no history.
func StakeRatio(settled []*models.Bet, window int) float64 {
	if len(settled) == 0 {
		return 1
	}
	if window <= 0 || window > len(settled) {
		window = len(settled)
	}

	total := decimal.Zero
	for _, b := range settled {
		total = total.Add(b.Stake)
	}
	recent := decimal.Zero
	for _, b := range settled[len(settled)-window:] {
		recent = recent.Add(b.Stake)
	}

	historicalAvg := total.Div(decimal.NewFromInt(int64(len(settled))))
	if !historicalAvg.IsPositive() {
		return 1
	}
	recentAvg := recent.Div(decimal.NewFromInt(int64(window)))
	return recentAvg.Div(historicalAvg).InexactFloat64()
}

// TiltScore combines stake escalation and loss streak into [0, 100].
// Non-decreasing in both stakeRatio and lossStreak; saturates at MaxTiltScore.
func TiltScore(stakeRatio float64, lossStreak int, params TiltParams) float64 {
	escalation := math.Max(0, stakeRatio-1)
	if math.IsNaN(escalation) {
		escalation = 0
	}
	score := params.StakeWeight*escalation + params.LossWeight*float64(max(lossStreak, 0))
	if math.IsInf(score, 1) || score > MaxTiltScore {
		return MaxTiltScore
	}
	if score < 0 {
		return 0
	}
	return math.Round(score*100) / 100
}
