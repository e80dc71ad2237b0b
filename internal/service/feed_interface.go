package service

//go:generate mockgen -source=feed_interface.go -destination=../mocks/mock_feed.go -package=mocks

import (
	"context"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
)

// Settler is the single settlement entry point shared by every caller
type Settler interface {
	Settle(ctx context.Context, req models.SettlementRequest) (*models.SettlementResult, error)
}

// ResultRecorder stores outcome feed data consumed by the scheduler
type ResultRecorder interface {
	RecordEventResult(ctx context.Context, result *models.EventResult) error
	RecordClosingLine(ctx context.Context, line *models.ClosingLine) error
}
