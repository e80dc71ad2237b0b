package oddsmath

import (
	"fmt"
	"math"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
)

// EdgeEstimate is the advisory view of a price given an estimated win probability
type EdgeEstimate struct {
	Probability        float64 `json:"probability"`
	Price              int     `json:"price"`
	DecimalOdds        float64 `json:"decimal_odds"`
	ImpliedProbability float64 `json:"implied_probability"`
	Edge               float64 `json:"edge"`           // probability points
	ExpectedValue      float64 `json:"expected_value"` // per unit staked
	FullKelly          float64 `json:"full_kelly"`
	KellyMultiplier    float64 `json:"kelly_multiplier"`
	KellyFraction      float64 `json:"kelly_fraction"` // recommended bankroll fraction
}

// EstimateEdge computes edge, EV and Kelly sizing for probability p at American price o.
// kellyMultiplier scales full Kelly (0.25 = quarter Kelly) and is clamped to [0, 1].
func EstimateEdge(p float64, o int, kellyMultiplier float64) (*EdgeEstimate, error) {
	if math.IsNaN(p) || p <= 0 || p >= 1 {
		return nil, fmt.Errorf("%w: probability must be in (0,1), got %v", models.ErrInvalidRequest, p)
	}

	implied, err := ImpliedProbability(o)
	if err != nil {
		return nil, err
	}
	dec, err := AmericanToDecimal(o)
	if err != nil {
		return nil, err
	}
	profit, err := ProfitPerUnit(o)
	if err != nil {
		return nil, err
	}

	edge := p - implied
	ev := p*profit - (1-p)*1

	multiplier := clamp(kellyMultiplier, 0, 1)
	full := FullKelly(edge, dec)

	return &EdgeEstimate{
		Probability:        p,
		Price:              o,
		DecimalOdds:        dec,
		ImpliedProbability: implied,
		Edge:               edge,
		ExpectedValue:      ev,
		FullKelly:          full,
		KellyMultiplier:    multiplier,
		KellyFraction:      full * multiplier,
	}, nil
}

// FullKelly is edge × d / (d − 1), clamped to [0, 1]. Negative edge never bets.
func FullKelly(edge, decimalOdds float64) float64 {
	if decimalOdds <= 1 {
		return 0
	}
	return clamp(edge*decimalOdds/(decimalOdds-1), 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
