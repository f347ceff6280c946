package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const strategyColumns = `id, name, kind, symbol, config, is_enabled, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStrategy(row rowScanner) (*Strategy, error) {
	var (
		s       Strategy
		cfg     string
		enabled int
	)
	if err := row.Scan(&s.ID, &s.Name, &s.Kind, &s.Symbol, &cfg, &enabled, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Config = json.RawMessage(cfg)
	s.IsEnabled = enabled == 1
	return &s, nil
}

func normalizeConfig(cfg json.RawMessage) string {
	if len(cfg) == 0 {
		return "{}"
	}
	return string(cfg)
}

// CreateStrategy inserts a strategy and sets its ID.
func (d *Database) CreateStrategy(ctx context.Context, s *Strategy) error {
	ts := now()
	res, err := d.DB.ExecContext(ctx, `
		INSERT INTO strategies (name, kind, symbol, config, is_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.Name, s.Kind, s.Symbol, normalizeConfig(s.Config), boolToInt(s.IsEnabled), ts, ts)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert strategy: %w", err)
	}
	s.ID, _ = res.LastInsertId()
	s.CreatedAt, s.UpdatedAt = ts, ts
	return nil
}

// UpsertStrategyByName creates or refreshes a strategy keyed by name inside tx.
func (d *Database) UpsertStrategyByName(ctx context.Context, tx *sql.Tx, s *Strategy) error {
	ts := now()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO strategies (name, kind, symbol, config, is_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			kind = excluded.kind,
			symbol = excluded.symbol,
			config = excluded.config,
			is_enabled = excluded.is_enabled,
			updated_at = excluded.updated_at
	`, s.Name, s.Kind, s.Symbol, normalizeConfig(s.Config), boolToInt(s.IsEnabled), ts, ts)
	if err != nil {
		return fmt.Errorf("upsert strategy %s: %w", s.Name, err)
	}
	return nil
}

// GetStrategy loads a strategy by ID.
func (d *Database) GetStrategy(ctx context.Context, id int64) (*Strategy, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+strategyColumns+` FROM strategies WHERE id = ?`, id)
	s, err := scanStrategy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get strategy: %w", err)
	}
	return s, nil
}

// ListStrategies returns every strategy ordered by ID.
func (d *Database) ListStrategies(ctx context.Context) ([]Strategy, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT `+strategyColumns+` FROM strategies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query strategies: %w", err)
	}
	defer rows.Close()

	var out []Strategy
	for rows.Next() {
		s, err := scanStrategy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan strategy: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// UpdateStrategyConfig replaces the config and keeps the symbol column in step.
func (d *Database) UpdateStrategyConfig(ctx context.Context, id int64, symbol string, cfg json.RawMessage) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE strategies SET config = ?, symbol = ?, updated_at = ? WHERE id = ?
	`, normalizeConfig(cfg), symbol, now(), id)
	if err != nil {
		return fmt.Errorf("update strategy config: %w", err)
	}
	return expectOne(res)
}

// SetStrategyEnabled toggles is_enabled.
func (d *Database) SetStrategyEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE strategies SET is_enabled = ?, updated_at = ? WHERE id = ?
	`, boolToInt(enabled), now(), id)
	if err != nil {
		return fmt.Errorf("update strategy enabled: %w", err)
	}
	return expectOne(res)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
