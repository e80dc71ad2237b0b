package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
)

// GetSnapshot reads the stored statistics snapshot of an account
func (q *queries) GetSnapshot(ctx context.Context, accountID uuid.UUID) (*models.StatisticsSnapshot, error) {
	var payload string
	if err := q.queryRow(ctx,
		`SELECT payload FROM statistics_snapshots WHERE account_id = ?`, accountID,
	).Scan(&payload); err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", accountID, translate(err))
	}

	var snap models.StatisticsSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot %s: %w", accountID, err)
	}
	return &snap, nil
}

// SaveSnapshot replaces the account's snapshot in place
func (t *sqlTx) SaveSnapshot(ctx context.Context, snap *models.StatisticsSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", snap.AccountID, err)
	}

	_, err = t.exec(ctx,
		`INSERT INTO statistics_snapshots (account_id, payload, computed_at) VALUES (?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET payload = excluded.payload, computed_at = excluded.computed_at`,
		snap.AccountID, string(payload), utc(snap.ComputedAt),
	)
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", snap.AccountID, translate(err))
	}
	return nil
}
