package service

import (
	"github.com/shopspring/decimal"

	"github.com/cypherlabdev/bankroll-ledger-service/pkg/stats"
)

// SettlementParams tunes settlement validation and analytics
type SettlementParams struct {
	// PayoutTolerance bounds |actualReturn - pricePayout| for won bets; zero disables the check
	PayoutTolerance decimal.Decimal
	KellyMultiplier float64
	Tilt            stats.TiltParams
}

// DefaultSettlementParams returns quarter Kelly, a one cent payout tolerance and default tilt weights
func DefaultSettlementParams() SettlementParams {
	return SettlementParams{
		PayoutTolerance: decimal.RequireFromString("0.01"),
		KellyMultiplier: 0.25,
		Tilt:            stats.DefaultTiltParams(),
	}
}
