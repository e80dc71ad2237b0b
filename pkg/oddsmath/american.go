// Package oddsmath holds the pure pricing math used by the ledger: American odds
// conversion, edge / expected value / Kelly sizing, closing line value and payouts.
// Nothing here touches storage.
package oddsmath

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
)

// ErrInvalidPrice is returned for American odds strictly between -100 and +100
var ErrInvalidPrice = fmt.Errorf("%w: invalid American odds", models.ErrInvalidBet)

// ValidatePrice checks that o is a usable American price (o <= -100 or o >= 100)
func ValidatePrice(o int) error {
	if o > -100 && o < 100 {
		return fmt.Errorf("%w: %d", ErrInvalidPrice, o)
	}
	return nil
}

// AmericanToDecimal converts American odds to decimal odds
// -110 → 1.9091, +150 → 2.50
func AmericanToDecimal(o int) (float64, error) {
	if err := ValidatePrice(o); err != nil {
		return 0, err
	}
	if o > 0 {
		return float64(o)/100.0 + 1.0, nil
	}
	return 100.0/float64(-o) + 1.0, nil
}

// ImpliedProbability converts American odds to the break-even win probability
// o<0 → |o|/(|o|+100), o>0 → 100/(o+100)
func ImpliedProbability(o int) (float64, error) {
	if err := ValidatePrice(o); err != nil {
		return 0, err
	}
	if o < 0 {
		abs := float64(-o)
		return abs / (abs + 100.0), nil
	}
	return 100.0 / (float64(o) + 100.0), nil
}

// ProfitPerUnit is the profit on a one-unit stake if the bet wins
func ProfitPerUnit(o int) (float64, error) {
	if err := ValidatePrice(o); err != nil {
		return 0, err
	}
	if o < 0 {
		return 100.0 / float64(-o), nil
	}
	return float64(o) / 100.0, nil
}

// IsCents reports whether d carries no more than two decimal places.
// Ledger amounts are stored at cent precision on every backend.
func IsCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// Payout returns the total return (stake included) of a winning bet, rounded to cents
func Payout(stake decimal.Decimal, o int) (decimal.Decimal, error) {
	if err := ValidatePrice(o); err != nil {
		return decimal.Zero, err
	}
	hundred := decimal.NewFromInt(100)
	price := decimal.NewFromInt(int64(o))

	var profit decimal.Decimal
	if o < 0 {
		profit = stake.Mul(hundred).Div(price.Neg())
	} else {
		profit = stake.Mul(price).Div(hundred)
	}
	return stake.Add(profit).Round(2), nil
}

// ProfitLoss derives profit/loss from stake, actual return and outcome.
// It is the only way a bet's profit/loss is produced.
func ProfitLoss(outcome models.Outcome, stake, actualReturn decimal.Decimal) decimal.Decimal {
	switch outcome {
	case models.OutcomeWon:
		return actualReturn.Sub(stake)
	case models.OutcomeLost:
		return stake.Neg()
	default:
		return decimal.Zero
	}
}
