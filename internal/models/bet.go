package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Outcome is the terminal result declared for a bet
type Outcome string

const (
	OutcomeWon    Outcome = "won"
	OutcomeLost   Outcome = "lost"
	OutcomePushed Outcome = "pushed"
)

// ParseOutcome converts a wire value into an Outcome
func ParseOutcome(s string) (Outcome, error) {
	o := Outcome(s)
	if !o.Valid() {
		return "", fmt.Errorf("%w: unknown outcome %q", ErrInvalidRequest, s)
	}
	return o, nil
}

// Valid reports whether o is one of the three terminal outcomes
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeWon, OutcomeLost, OutcomePushed:
		return true
	}
	return false
}

// State returns the bet state an outcome settles into
func (o Outcome) State() BetState {
	return BetState(o)
}

// BetState is the lifecycle state of a bet: pending, then exactly one terminal state
type BetState string

const (
	BetStatePending BetState = "pending"
	BetStateWon     BetState = "won"
	BetStateLost    BetState = "lost"
	BetStatePushed  BetState = "pushed"
)

// IsTerminal reports whether no further transition is allowed
func (s BetState) IsTerminal() bool {
	return s == BetStateWon || s == BetStateLost || s == BetStatePushed
}

// Outcome returns the terminal outcome for a settled state
func (s BetState) Outcome() (Outcome, bool) {
	if !s.IsTerminal() {
		return "", false
	}
	return Outcome(s), true
}

// Bet is a single wager owned by one account
type Bet struct {
	ID          uuid.UUID       `json:"id"`
	AccountID   uuid.UUID       `json:"account_id"`
	EventID     *string         `json:"event_id,omitempty"`
	League      string          `json:"league,omitempty"`
	BetType     string          `json:"bet_type,omitempty"` // market key: h2h, spreads, totals, ...
	Selection   string          `json:"selection,omitempty"`
	Line        *float64        `json:"line,omitempty"`
	Stake       decimal.Decimal `json:"stake"`
	Price       int             `json:"price"` // American odds
	Description string          `json:"description,omitempty"`
	PlacedAt    time.Time       `json:"placed_at"`
	State       BetState        `json:"state"`

	// Set at settlement
	ActualReturn decimal.NullDecimal `json:"actual_return"`
	ProfitLoss   decimal.NullDecimal `json:"profit_loss"`
	SettledAt    *time.Time          `json:"settled_at,omitempty"`
	ClosingPrice *int                `json:"closing_price,omitempty"`
	CLV          *float64            `json:"clv,omitempty"`

	// Optional pre-settlement analytics
	WinProbability     *float64 `json:"win_probability,omitempty"`
	ImpliedProbability *float64 `json:"implied_probability,omitempty"`
	Edge               *float64 `json:"edge,omitempty"`
	ExpectedValue      *float64 `json:"expected_value,omitempty"`
	KellyFraction      *float64 `json:"kelly_fraction,omitempty"`
}

// IsSettled reports whether the bet reached a terminal state
func (b *Bet) IsSettled() bool {
	return b.State.IsTerminal()
}

// PlaceBetRequest carries the fields recorded when a bet is placed
type PlaceBetRequest struct {
	AccountID      uuid.UUID       `json:"-"`
	EventID        *string         `json:"event_id,omitempty"`
	League         string          `json:"league"`
	BetType        string          `json:"bet_type"`
	Selection      string          `json:"selection"`
	Line           *float64        `json:"line,omitempty"`
	Stake          decimal.Decimal `json:"stake"`
	Price          int             `json:"price"`
	Description    string          `json:"description"`
	WinProbability *float64        `json:"win_probability,omitempty"`
	PlacedAt       time.Time       `json:"placed_at"`
}

// BetCursor is a position in placement order. Listings that take a cursor
// return only bets strictly after it.
type BetCursor struct {
	PlacedAt time.Time
	ID       uuid.UUID
}

// Cursor returns the position of b in placement order
func (b *Bet) Cursor() *BetCursor {
	return &BetCursor{PlacedAt: b.PlacedAt, ID: b.ID}
}

// BetFilter narrows ledger queries
type BetFilter struct {
	League  string
	BetType string
	From    *time.Time
	To      *time.Time
	State   BetState
}
