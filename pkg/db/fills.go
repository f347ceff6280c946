package db

import (
	"context"
	"fmt"
	"time"
)

// CreateFill records one execution and sets its ID.
func (d *Database) CreateFill(ctx context.Context, f *Fill) error {
	if f.FillAt.IsZero() {
		f.FillAt = now()
	}
	res, err := d.DB.ExecContext(ctx, `
		INSERT INTO fills (order_id, symbol, side, qty, price, fill_at, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, f.OrderID, f.Symbol, f.Side, f.Qty, f.Price, f.FillAt.UTC(), f.Raw)
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}
	f.ID, _ = res.LastInsertId()
	return nil
}

// ListFills returns the latest fills, newest first.
func (d *Database) ListFills(ctx context.Context, limit int) ([]Fill, error) {
	if limit <= 0 {
		limit = 100
	}
	return d.queryFills(ctx, `
		SELECT id, order_id, symbol, side, qty, price, fill_at, COALESCE(raw, '')
		FROM fills ORDER BY fill_at DESC, id DESC LIMIT ?
	`, limit)
}

// ListFillsSince returns fills at or after since, oldest first.
func (d *Database) ListFillsSince(ctx context.Context, since time.Time) ([]Fill, error) {
	return d.queryFills(ctx, `
		SELECT id, order_id, symbol, side, qty, price, fill_at, COALESCE(raw, '')
		FROM fills WHERE fill_at >= ? ORDER BY fill_at, id
	`, since.UTC())
}

func (d *Database) queryFills(ctx context.Context, query string, args ...any) ([]Fill, error) {
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var out []Fill
	for rows.Next() {
		var f Fill
		if err := rows.Scan(&f.ID, &f.OrderID, &f.Symbol, &f.Side, &f.Qty, &f.Price, &f.FillAt, &f.Raw); err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
