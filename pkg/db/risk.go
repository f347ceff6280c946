package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetRiskLimit loads the limits for mode; ErrNotFound when none are configured.
func (d *Database) GetRiskLimit(ctx context.Context, mode string) (*RiskLimit, error) {
	var (
		r       RiskLimit
		updated sql.NullTime
	)
	err := d.DB.QueryRowContext(ctx, `
		SELECT mode, daily_max_loss, max_position_qty, max_orders_per_min, updated_at
		FROM risk_limits WHERE mode = ?
	`, mode).Scan(&r.Mode, &r.DailyMaxLoss, &r.MaxPositionQty, &r.MaxOrdersPerMin, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get risk limit: %w", err)
	}
	if updated.Valid {
		r.UpdatedAt = updated.Time
	}
	return &r, nil
}

// UpsertRiskLimit creates or replaces the limits for r.Mode.
func (d *Database) UpsertRiskLimit(ctx context.Context, r *RiskLimit) error {
	return upsertRiskLimit(ctx, d.DB, r)
}

// UpsertRiskLimitTx is UpsertRiskLimit inside tx.
func (d *Database) UpsertRiskLimitTx(ctx context.Context, tx *sql.Tx, r *RiskLimit) error {
	return upsertRiskLimit(ctx, tx, r)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertRiskLimit(ctx context.Context, ex execer, r *RiskLimit) error {
	r.UpdatedAt = now()
	_, err := ex.ExecContext(ctx, `
		INSERT INTO risk_limits (mode, daily_max_loss, max_position_qty, max_orders_per_min, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(mode) DO UPDATE SET
			daily_max_loss = excluded.daily_max_loss,
			max_position_qty = excluded.max_position_qty,
			max_orders_per_min = excluded.max_orders_per_min,
			updated_at = excluded.updated_at
	`, r.Mode, r.DailyMaxLoss, r.MaxPositionQty, r.MaxOrdersPerMin, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert risk limit: %w", err)
	}
	return nil
}
