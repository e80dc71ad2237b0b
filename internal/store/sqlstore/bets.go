package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cypherlabdev/bankroll-ledger-service/internal/models"
)

const betColumns = `id, account_id, event_id, league, bet_type, selection, line, stake, price,
	description, placed_at, state, actual_return, profit_loss, settled_at, closing_price, clv,
	win_probability, implied_probability, edge, expected_value, kelly_fraction`

func scanBet(row interface{ Scan(...any) error }) (*models.Bet, error) {
	var b models.Bet
	var state string
	err := row.Scan(
		&b.ID, &b.AccountID, &b.EventID, &b.League, &b.BetType, &b.Selection, &b.Line, &b.Stake, &b.Price,
		&b.Description, &b.PlacedAt, &state, &b.ActualReturn, &b.ProfitLoss, &b.SettledAt, &b.ClosingPrice, &b.CLV,
		&b.WinProbability, &b.ImpliedProbability, &b.Edge, &b.ExpectedValue, &b.KellyFraction,
	)
	if err != nil {
		return nil, translate(err)
	}
	b.State = models.BetState(state)
	b.PlacedAt = b.PlacedAt.UTC()
	if b.SettledAt != nil {
		t := b.SettledAt.UTC()
		b.SettledAt = &t
	}
	return &b, nil
}

// GetBet reads a bet without locking it
func (q *queries) GetBet(ctx context.Context, id uuid.UUID) (*models.Bet, error) {
	b, err := scanBet(q.queryRow(ctx, `SELECT `+betColumns+` FROM bets WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("get bet %s: %w", id, err)
	}
	return b, nil
}

// ListBets returns an account's bets matching filter, ordered by placement.
// The time range applies to placed_at.
func (q *queries) ListBets(ctx context.Context, accountID uuid.UUID, filter models.BetFilter) ([]*models.Bet, error) {
	where := []string{"account_id = ?"}
	args := []any{accountID}

	if filter.League != "" {
		where = append(where, "league = ?")
		args = append(args, filter.League)
	}
	if filter.BetType != "" {
		where = append(where, "bet_type = ?")
		args = append(args, filter.BetType)
	}
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.From != nil {
		where = append(where, "placed_at >= ?")
		args = append(args, utc(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "placed_at < ?")
		args = append(args, utc(*filter.To))
	}

	query := `SELECT ` + betColumns + ` FROM bets WHERE ` + strings.Join(where, " AND ") + ` ORDER BY placed_at, id`
	return q.listBets(ctx, query, args...)
}

func (q *queries) listBets(ctx context.Context, query string, args ...any) ([]*models.Bet, error) {
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bets: %w", translate(err))
	}
	defer rows.Close()

	var bets []*models.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bets: %w", translate(err))
	}
	return bets, nil
}

// CreateBet inserts a pending bet
func (s *SQLStore) CreateBet(ctx context.Context, b *models.Bet) error {
	_, err := s.exec(ctx,
		`INSERT INTO bets (`+betColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.AccountID, b.EventID, b.League, b.BetType, b.Selection, b.Line, b.Stake, b.Price,
		b.Description, utc(b.PlacedAt), string(b.State), b.ActualReturn, b.ProfitLoss, utcPtr(b.SettledAt), b.ClosingPrice, b.CLV,
		b.WinProbability, b.ImpliedProbability, b.Edge, b.ExpectedValue, b.KellyFraction,
	)
	if err != nil {
		return fmt.Errorf("create bet %s: %w", b.ID, translate(err))
	}
	return nil
}

// PendingStake sums the stake of every pending bet of an account
func (s *SQLStore) PendingStake(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, int, error) {
	rows, err := s.query(ctx,
		`SELECT stake FROM bets WHERE account_id = ? AND state = ?`, accountID, string(models.BetStatePending))
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("pending stake %s: %w", accountID, translate(err))
	}
	defer rows.Close()

	total := decimal.Zero
	count := 0
	for rows.Next() {
		var stake decimal.Decimal
		if err := rows.Scan(&stake); err != nil {
			return decimal.Zero, 0, fmt.Errorf("scan stake: %w", err)
		}
		total = total.Add(stake)
		count++
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, 0, fmt.Errorf("pending stake %s: %w", accountID, translate(err))
	}
	return total, count, nil
}

// ListSettleable returns pending bets whose event has a completed result,
// ordered by placement and starting strictly after the cursor
func (s *SQLStore) ListSettleable(ctx context.Context, after *models.BetCursor, limit int) ([]*models.Bet, error) {
	if limit <= 0 {
		limit = 100
	}
	where := "b.state = ? AND e.completed = ?"
	args := []any{string(models.BetStatePending), true}
	if after != nil {
		placedAt := utc(after.PlacedAt)
		where += " AND (b.placed_at > ? OR (b.placed_at = ? AND b.id > ?))"
		args = append(args, placedAt, placedAt, after.ID)
	}
	args = append(args, limit)

	query := `SELECT ` + qualify("b", betColumns) + ` FROM bets b
		JOIN event_results e ON e.event_id = b.event_id
		WHERE ` + where + `
		ORDER BY b.placed_at, b.id
		LIMIT ?`
	return s.listBets(ctx, query, args...)
}

// LockBet reads the bet row and holds it for the rest of the transaction
func (t *sqlTx) LockBet(ctx context.Context, id uuid.UUID) (*models.Bet, error) {
	b, err := scanBet(t.queryRow(ctx, `SELECT `+betColumns+` FROM bets WHERE id = ?`+t.dialect.forUpdate, id))
	if err != nil {
		return nil, fmt.Errorf("lock bet %s: %w", id, err)
	}
	return b, nil
}

// SettleBet writes the terminal fields of a pending bet. The state guard makes
// the write once-only even without row locks.
func (t *sqlTx) SettleBet(ctx context.Context, b *models.Bet) error {
	if !b.State.IsTerminal() {
		return fmt.Errorf("settle bet %s: %w: state %q is not terminal", b.ID, models.ErrInvalidRequest, b.State)
	}
	res, err := t.exec(ctx,
		`UPDATE bets SET state = ?, actual_return = ?, profit_loss = ?, settled_at = ?, closing_price = ?, clv = ?,
			implied_probability = ?, edge = ?, expected_value = ?, kelly_fraction = ?
		WHERE id = ? AND state = ?`,
		string(b.State), b.ActualReturn, b.ProfitLoss, utcPtr(b.SettledAt), b.ClosingPrice, b.CLV,
		b.ImpliedProbability, b.Edge, b.ExpectedValue, b.KellyFraction,
		b.ID, string(models.BetStatePending),
	)
	if err != nil {
		return fmt.Errorf("settle bet %s: %w", b.ID, translate(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("settle bet %s: %w", b.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("settle bet %s: %w", b.ID, models.ErrAlreadySettled)
	}
	return nil
}

// qualify prefixes every column in a comma separated list with alias
func qualify(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
