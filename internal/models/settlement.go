package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementRequest is the single settlement contract used by every caller
type SettlementRequest struct {
	BetID        uuid.UUID       `json:"bet_id"`
	Outcome      Outcome         `json:"outcome"`
	ActualReturn decimal.Decimal `json:"actual_return"`
	ClosingPrice *int            `json:"closing_price,omitempty"`
	CLV          *float64        `json:"clv,omitempty"`
	Source       string          `json:"source,omitempty"` // scheduler, user, feed
}

// SettlementResult describes a committed settlement
type SettlementResult struct {
	Bet        *Bet                `json:"bet"`
	ProfitLoss decimal.Decimal     `json:"profit_loss"`
	Balance    decimal.Decimal     `json:"balance"`
	Statistics *StatisticsSnapshot `json:"statistics"`
	SettledAt  time.Time           `json:"settled_at"`
}

// Settlement sources
const (
	SourceScheduler = "scheduler"
	SourceUser      = "user"
	SourceFeed      = "feed"
)
