// Package store defines the persistence contract of the ledger.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
)

// Reader holds the queries available both inside and outside a transaction
type Reader interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetBet(ctx context.Context, id uuid.UUID) (*models.Bet, error)
	ListBets(ctx context.Context, accountID uuid.UUID, filter models.BetFilter) ([]*models.Bet, error)
	GetSnapshot(ctx context.Context, accountID uuid.UUID) (*models.StatisticsSnapshot, error)
	GetEventResult(ctx context.Context, eventID string) (*models.EventResult, error)
	GetClosingLine(ctx context.Context, eventID, market, selection string) (*models.ClosingLine, error)
}

// Tx is a single logical transaction opened by Store.WithinTx. Lock* calls take
// row locks held until the transaction ends.
type Tx interface {
	Reader

	LockBet(ctx context.Context, id uuid.UUID) (*models.Bet, error)
	LockAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)

	// SettleBet writes the terminal fields. It fails with models.ErrAlreadySettled
	// when the bet is no longer pending.
	SettleBet(ctx context.Context, bet *models.Bet) error
	UpdateBalance(ctx context.Context, accountID uuid.UUID, balance decimal.Decimal, at time.Time) error
	SaveSnapshot(ctx context.Context, snap *models.StatisticsSnapshot) error
}

// Store is the ledger persistence layer
type Store interface {
	Reader

	CreateAccount(ctx context.Context, account *models.Account) error
	CreateBet(ctx context.Context, bet *models.Bet) error
	// PendingStake returns the summed stake and count of pending bets
	PendingStake(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, int, error)
	// ListSettleable returns pending bets whose event has a completed result,
	// in placement order starting after the cursor (nil for the beginning)
	ListSettleable(ctx context.Context, after *models.BetCursor, limit int) ([]*models.Bet, error)

	UpsertEventResult(ctx context.Context, result *models.EventResult) error
	UpsertClosingLine(ctx context.Context, line *models.ClosingLine) error

	// WithinTx runs fn in a transaction, committing when fn returns nil
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}
