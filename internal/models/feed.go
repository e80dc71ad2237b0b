package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventResult is the final (or in-progress) state of an event as reported by the outcome feed
type EventResult struct {
	EventID     string     `json:"event_id"`
	League      string     `json:"league"`
	HomeTeam    string     `json:"home_team"`
	AwayTeam    string     `json:"away_team"`
	HomeScore   int        `json:"home_score"`
	AwayScore   int        `json:"away_score"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	RecordedAt  time.Time  `json:"recorded_at"`
}

// ClosingLine is the final market price for one selection
type ClosingLine struct {
	EventID   string    `json:"event_id"`
	Market    string    `json:"market"`
	Selection string    `json:"selection"`
	Line      *float64  `json:"line,omitempty"`
	Price     int       `json:"price"`
	ClosedAt  time.Time `json:"closed_at"`
}

// SettleCommand is a settlement instruction delivered on the feed
type SettleCommand struct {
	BetID        uuid.UUID       `json:"bet_id"`
	Outcome      Outcome         `json:"outcome"`
	ActualReturn decimal.Decimal `json:"actual_return"`
	ClosingPrice *int            `json:"closing_price,omitempty"`
}

// Feed message types
const (
	FeedTypeEventResult = "event_result"
	FeedTypeClosingLine = "closing_line"
	FeedTypeSettle      = "settle"
)

// KafkaFeedMessage is the envelope consumed from the feed topic
type KafkaFeedMessage struct {
	Type        string         `json:"type"`
	MessageID   string         `json:"message_id"`
	Timestamp   time.Time      `json:"timestamp"`
	EventResult *EventResult   `json:"event_result,omitempty"`
	ClosingLine *ClosingLine   `json:"closing_line,omitempty"`
	Settle      *SettleCommand `json:"settle,omitempty"`
}
