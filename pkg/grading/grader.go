// Package grading derives a settlement outcome and actual return for a bet from
// a concluded event result. Supported markets: h2h (moneyline), spreads, totals.
package grading

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
	"github.com/cypherlabdev/bankroll-ledger-service/pkg/oddsmath"
)

// Market keys
const (
	MarketMoneyline = "h2h"
	MarketSpread    = "spreads"
	MarketTotal     = "totals"
)

var (
	// ErrNotGradable means the bet needs manual settlement
	ErrNotGradable = errors.New("bet cannot be graded automatically")
	// ErrEventNotConcluded means the event result is not final yet
	ErrEventNotConcluded = errors.New("event not concluded")
)

// Resolution is what the settlement engine needs from the grader
type Resolution struct {
	Outcome      models.Outcome
	ActualReturn decimal.Decimal
}

// Grade resolves bet against result
func Grade(bet *models.Bet, result *models.EventResult) (*Resolution, error) {
	if result == nil || !result.Completed {
		return nil, ErrEventNotConcluded
	}
	if bet.EventID == nil || *bet.EventID != result.EventID {
		return nil, fmt.Errorf("%w: bet event does not match result %s", ErrNotGradable, result.EventID)
	}

	var outcome models.Outcome
	var err error
	switch strings.ToLower(bet.BetType) {
	case MarketMoneyline:
		outcome, err = gradeMoneyline(bet, result)
	case MarketSpread:
		outcome, err = gradeSpread(bet, result)
	case MarketTotal:
		outcome, err = gradeTotal(bet, result)
	default:
		return nil, fmt.Errorf("%w: unsupported market %q", ErrNotGradable, bet.BetType)
	}
	if err != nil {
		return nil, err
	}

	return resolve(bet, outcome)
}

func resolve(bet *models.Bet, outcome models.Outcome) (*Resolution, error) {
	switch outcome {
	case models.OutcomeWon:
		payout, err := oddsmath.Payout(bet.Stake, bet.Price)
		if err != nil {
			return nil, err
		}
		return &Resolution{Outcome: outcome, ActualReturn: payout}, nil
	case models.OutcomePushed:
		return &Resolution{Outcome: outcome, ActualReturn: bet.Stake}, nil
	default:
		return &Resolution{Outcome: models.OutcomeLost, ActualReturn: decimal.Zero}, nil
	}
}

func gradeMoneyline(bet *models.Bet, r *models.EventResult) (models.Outcome, error) {
	side, err := teamSide(bet.Selection, r)
	if err != nil {
		return "", err
	}
	if r.HomeScore == r.AwayScore {
		return models.OutcomePushed, nil
	}
	homeWon := r.HomeScore > r.AwayScore
	if (side == home) == homeWon {
		return models.OutcomeWon, nil
	}
	return models.OutcomeLost, nil
}

func gradeSpread(bet *models.Bet, r *models.EventResult) (models.Outcome, error) {
	if bet.Line == nil {
		return "", fmt.Errorf("%w: spread bet without line", ErrNotGradable)
	}
	side, err := teamSide(bet.Selection, r)
	if err != nil {
		return "", err
	}

	own, opp := float64(r.HomeScore), float64(r.AwayScore)
	if side == away {
		own, opp = opp, own
	}
	return compare(own+*bet.Line, opp), nil
}

func gradeTotal(bet *models.Bet, r *models.EventResult) (models.Outcome, error) {
	if bet.Line == nil {
		return "", fmt.Errorf("%w: total bet without line", ErrNotGradable)
	}
	total := float64(r.HomeScore + r.AwayScore)

	switch strings.ToLower(bet.Selection) {
	case "over":
		return compare(total, *bet.Line), nil
	case "under":
		return compare(*bet.Line, total), nil
	default:
		return "", fmt.Errorf("%w: total selection %q", ErrNotGradable, bet.Selection)
	}
}

// compare returns won when a > b, pushed when equal, lost otherwise
func compare(a, b float64) models.Outcome {
	switch {
	case a > b:
		return models.OutcomeWon
	case a == b:
		return models.OutcomePushed
	default:
		return models.OutcomeLost
	}
}

type sideOf int

const (
	home sideOf = iota
	away
)

func teamSide(selection string, r *models.EventResult) (sideOf, error) {
	switch {
	case strings.EqualFold(selection, r.HomeTeam):
		return home, nil
	case strings.EqualFold(selection, r.AwayTeam):
		return away, nil
	default:
		return 0, fmt.Errorf("%w: selection %q is neither %q nor %q", ErrNotGradable, selection, r.HomeTeam, r.AwayTeam)
	}
}
