package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
)

const accountColumns = `id, name, balance, baseline, unit_size, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (*models.Account, error) {
	var a models.Account
	if err := row.Scan(&a.ID, &a.Name, &a.Balance, &a.Baseline, &a.UnitSize, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, translate(err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

// GetAccount reads an account without locking it
func (q *queries) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	a, err := scanAccount(q.queryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}

// CreateAccount inserts a new account
func (s *SQLStore) CreateAccount(ctx context.Context, a *models.Account) error {
	_, err := s.exec(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, a.Balance, a.Baseline, a.UnitSize, utc(a.CreatedAt), utc(a.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("create account %s: %w", a.ID, translate(err))
	}
	return nil
}

// LockAccount reads the account row and holds it for the rest of the transaction
func (t *sqlTx) LockAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	a, err := scanAccount(t.queryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`+t.dialect.forUpdate, id))
	if err != nil {
		return nil, fmt.Errorf("lock account %s: %w", id, err)
	}
	return a, nil
}

// UpdateBalance overwrites the account balance
func (t *sqlTx) UpdateBalance(ctx context.Context, accountID uuid.UUID, balance decimal.Decimal, at time.Time) error {
	res, err := t.exec(ctx,
		`UPDATE accounts SET balance = ?, updated_at = ? WHERE id = ?`,
		balance, utc(at), accountID,
	)
	if err != nil {
		return fmt.Errorf("update balance %s: %w", accountID, translate(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update balance %s: %w", accountID, models.ErrNotFound)
	}
	return nil
}
