package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const positionColumns = `id, symbol, mode, qty, avg_entry_price, unrealized_pl, stop_loss, take_profit, trailing_stop, updated_at`

func scanPosition(row rowScanner) (*Position, error) {
	var (
		p             Position
		sl, tp, trail sql.NullFloat64
		updated       sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Symbol, &p.Mode, &p.Qty, &p.AvgEntryPrice, &p.UnrealizedPL, &sl, &tp, &trail, &updated); err != nil {
		return nil, err
	}
	p.StopLoss = floatPtr(sl)
	p.TakeProfit = floatPtr(tp)
	p.TrailingStop = floatPtr(trail)
	if updated.Valid {
		p.UpdatedAt = updated.Time
	}
	return &p, nil
}

// GetPosition loads the position for (symbol, mode).
func (d *Database) GetPosition(ctx context.Context, symbol, mode string) (*Position, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE symbol = ? AND mode = ?`, symbol, mode)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	return p, nil
}

// ListPositions returns positions for mode. openOnly keeps rows with qty > 0.
func (d *Database) ListPositions(ctx context.Context, mode string, openOnly bool) ([]Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE mode = ?`
	if openOnly {
		query += ` AND qty > 0`
	}
	query += ` ORDER BY symbol`

	rows, err := d.DB.QueryContext(ctx, query, mode)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpdatePosition runs fn against the current position (zero value when absent)
// and writes the result back in one transaction.
func (d *Database) UpdatePosition(ctx context.Context, symbol, mode string, fn func(p *Position) error) (*Position, error) {
	var out *Position
	err := d.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE symbol = ? AND mode = ?`, symbol, mode)
		p, err := scanPosition(row)
		if errors.Is(err, sql.ErrNoRows) {
			p = &Position{Symbol: symbol, Mode: mode}
		} else if err != nil {
			return fmt.Errorf("load position: %w", err)
		}

		if err := fn(p); err != nil {
			return err
		}
		p.UpdatedAt = now()
		if err := upsertPosition(ctx, tx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	return out, err
}

func upsertPosition(ctx context.Context, tx *sql.Tx, p *Position) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO positions (symbol, mode, qty, avg_entry_price, unrealized_pl, stop_loss, take_profit, trailing_stop, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, mode) DO UPDATE SET
			qty = excluded.qty,
			avg_entry_price = excluded.avg_entry_price,
			unrealized_pl = excluded.unrealized_pl,
			stop_loss = excluded.stop_loss,
			take_profit = excluded.take_profit,
			trailing_stop = excluded.trailing_stop,
			updated_at = excluded.updated_at
	`, p.Symbol, p.Mode, p.Qty, p.AvgEntryPrice, p.UnrealizedPL,
		nullFloat(p.StopLoss), nullFloat(p.TakeProfit), nullFloat(p.TrailingStop), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert position: %w", err)
	}
	return nil
}
