package db

import (
	"context"
	"database/sql"
	"fmt"

	"daytrading-core/pkg/id"
)

// AppendDecisionLog inserts an audit entry. ID and CreatedAt are filled when empty.
func (d *Database) AppendDecisionLog(ctx context.Context, l *DecisionLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now()
	}
	if l.ID == "" {
		l.ID = id.At(l.CreatedAt)
	}
	var payload any
	if len(l.Payload) > 0 {
		payload = string(l.Payload)
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO decision_logs (id, strategy_run_id, level, context, message, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, l.ID, nullInt(l.StrategyRunID), l.Level, l.Context, l.Message, payload, l.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert decision log: %w", err)
	}
	return nil
}

// ListDecisionLogs returns the latest entries, newest first. A nil runID lists all runs.
func (d *Database) ListDecisionLogs(ctx context.Context, runID *int64, limit int) ([]DecisionLog, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, strategy_run_id, level, context, message, COALESCE(payload, ''), created_at FROM decision_logs`
	args := []any{}
	if runID != nil {
		query += ` WHERE strategy_run_id = ?`
		args = append(args, *runID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query decision logs: %w", err)
	}
	defer rows.Close()

	var out []DecisionLog
	for rows.Next() {
		var (
			l       DecisionLog
			run     sql.NullInt64
			payload string
		)
		if err := rows.Scan(&l.ID, &run, &l.Level, &l.Context, &l.Message, &payload, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision log: %w", err)
		}
		l.StrategyRunID = intPtr(run)
		if payload != "" {
			l.Payload = []byte(payload)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
