package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const runColumns = `id, strategy_id, status, mode, started_at, stopped_at, notes`

func scanRun(row rowScanner) (*StrategyRun, error) {
	var (
		r       StrategyRun
		started sql.NullTime
		stopped sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.StrategyID, &r.Status, &r.Mode, &started, &stopped, &r.Notes); err != nil {
		return nil, err
	}
	r.StartedAt = timePtr(started)
	r.StoppedAt = timePtr(stopped)
	return &r, nil
}

// StartRun stops any running run of the strategy and opens a new one, atomically.
func (d *Database) StartRun(ctx context.Context, strategyID int64, mode, notes string) (*StrategyRun, error) {
	var run *StrategyRun
	err := d.WithTx(ctx, func(tx *sql.Tx) error {
		ts := now()
		if _, err := tx.ExecContext(ctx, `
			UPDATE strategy_runs SET status = ?, stopped_at = ?, notes = ?
			WHERE strategy_id = ? AND status = ?
		`, RunStopped, ts, "Superseded by new run", strategyID, RunRunning); err != nil {
			return fmt.Errorf("stop previous runs: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO strategy_runs (strategy_id, status, mode, started_at, notes)
			VALUES (?, ?, ?, ?, ?)
		`, strategyID, RunRunning, mode, ts, notes)
		if err != nil {
			return fmt.Errorf("insert run: %w", err)
		}
		id, _ := res.LastInsertId()
		run = &StrategyRun{ID: id, StrategyID: strategyID, Status: RunRunning, Mode: mode, StartedAt: &ts, Notes: notes}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// StopRun stops a run if it is running. Stopping a stopped run is a no-op.
func (d *Database) StopRun(ctx context.Context, runID int64, notes string) error {
	if _, err := d.GetRun(ctx, runID); err != nil {
		return err
	}
	_, err := d.DB.ExecContext(ctx, `
		UPDATE strategy_runs SET status = ?, stopped_at = ?, notes = ?
		WHERE id = ? AND status = ?
	`, RunStopped, now(), notes, runID, RunRunning)
	if err != nil {
		return fmt.Errorf("stop run: %w", err)
	}
	return nil
}

// StopRunsForStrategy stops every running run of the strategy and returns their IDs.
func (d *Database) StopRunsForStrategy(ctx context.Context, strategyID int64, notes string) ([]int64, error) {
	return d.stopRunsWhere(ctx, notes, `strategy_id = ? AND status = ?`, strategyID, RunRunning)
}

// StopAllRunning stops every running run and returns their IDs.
func (d *Database) StopAllRunning(ctx context.Context, notes string) ([]int64, error) {
	return d.stopRunsWhere(ctx, notes, `status = ?`, RunRunning)
}

func (d *Database) stopRunsWhere(ctx context.Context, notes, where string, args ...any) ([]int64, error) {
	var ids []int64
	err := d.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM strategy_runs WHERE `+where, args...)
		if err != nil {
			return fmt.Errorf("select runs: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		params := append([]any{RunStopped, now(), notes}, args...)
		if _, err := tx.ExecContext(ctx, `
			UPDATE strategy_runs SET status = ?, stopped_at = ?, notes = ? WHERE `+where, params...); err != nil {
			return fmt.Errorf("stop runs: %w", err)
		}
		return nil
	})
	return ids, err
}

// GetRun loads a run by ID.
func (d *Database) GetRun(ctx context.Context, runID int64) (*StrategyRun, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM strategy_runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// RunningRunForStrategy returns the running run of a strategy, if any.
func (d *Database) RunningRunForStrategy(ctx context.Context, strategyID int64) (*StrategyRun, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM strategy_runs WHERE strategy_id = ? AND status = ?
	`, strategyID, RunRunning)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get running run: %w", err)
	}
	return r, nil
}

// ListActiveRunsForSymbol returns running runs whose strategy is enabled and trades symbol.
func (d *Database) ListActiveRunsForSymbol(ctx context.Context, symbol string) ([]ActiveRun, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT r.id, r.strategy_id, r.status, r.mode, r.started_at, r.stopped_at, r.notes,
		       s.id, s.name, s.kind, s.symbol, s.config, s.is_enabled, s.created_at, s.updated_at
		FROM strategy_runs r
		JOIN strategies s ON s.id = r.strategy_id
		WHERE r.status = ? AND s.is_enabled = 1 AND s.symbol = ?
		ORDER BY r.id
	`, RunRunning, symbol)
	if err != nil {
		return nil, fmt.Errorf("query active runs: %w", err)
	}
	defer rows.Close()

	var out []ActiveRun
	for rows.Next() {
		var (
			a                ActiveRun
			started, stopped sql.NullTime
			cfg              string
			enabled          int
		)
		if err := rows.Scan(
			&a.Run.ID, &a.Run.StrategyID, &a.Run.Status, &a.Run.Mode, &started, &stopped, &a.Run.Notes,
			&a.Strategy.ID, &a.Strategy.Name, &a.Strategy.Kind, &a.Strategy.Symbol, &cfg, &enabled,
			&a.Strategy.CreatedAt, &a.Strategy.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan active run: %w", err)
		}
		a.Run.StartedAt = timePtr(started)
		a.Run.StoppedAt = timePtr(stopped)
		a.Strategy.Config = []byte(cfg)
		a.Strategy.IsEnabled = enabled == 1
		out = append(out, a)
	}
	return out, rows.Err()
}
