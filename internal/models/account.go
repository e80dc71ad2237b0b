package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is a user's bankroll. Balance is the single source of truth for money.
type Account struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	Baseline  decimal.Decimal `json:"baseline"`
	UnitSize  decimal.Decimal `json:"unit_size"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CreateAccountRequest is the onboarding input
type CreateAccountRequest struct {
	Name           string           `json:"name"`
	InitialBalance decimal.Decimal  `json:"initial_balance"`
	UnitSize       *decimal.Decimal `json:"unit_size,omitempty"`
}

// BankrollStatus is the read model served to presentation layers
type BankrollStatus struct {
	AccountID     uuid.UUID       `json:"account_id"`
	Balance       decimal.Decimal `json:"balance"`
	Baseline      decimal.Decimal `json:"baseline"`
	Available     decimal.Decimal `json:"available"`
	PendingStake  decimal.Decimal `json:"pending_stake"`
	PendingBets   int             `json:"pending_bets"`
	UnitSize      decimal.Decimal `json:"unit_size"`
	ProfitLoss    decimal.Decimal `json:"profit_loss"`
	ProfitLossPct decimal.Decimal `json:"profit_loss_pct"`
}

// ReconciliationReport compares the stored balance with the ledger replay
type ReconciliationReport struct {
	AccountID       uuid.UUID       `json:"account_id"`
	ExpectedBalance decimal.Decimal `json:"expected_balance"`
	ActualBalance   decimal.Decimal `json:"actual_balance"`
	Discrepancy     decimal.Decimal `json:"discrepancy"`
	SettledBets     int             `json:"settled_bets"`
	Balanced        bool            `json:"balanced"`
	CheckedAt       time.Time       `json:"checked_at"`
}
