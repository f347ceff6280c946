package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS strategies (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL UNIQUE,
    kind TEXT NOT NULL,
    symbol TEXT NOT NULL,
    config TEXT NOT NULL DEFAULT '{}',
    is_enabled INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME,
    updated_at DATETIME
);

CREATE TABLE IF NOT EXISTS strategy_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    strategy_id INTEGER NOT NULL,
    status TEXT NOT NULL CHECK (status IN ('running', 'stopped')),
    mode TEXT NOT NULL CHECK (mode IN ('paper', 'live')),
    started_at DATETIME,
    stopped_at DATETIME,
    notes TEXT NOT NULL DEFAULT '',
    FOREIGN KEY(strategy_id) REFERENCES strategies(id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_strategy_runs_one_running
    ON strategy_runs(strategy_id) WHERE status = 'running';

CREATE TABLE IF NOT EXISTS orders (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    strategy_run_id INTEGER,
    client_order_id TEXT NOT NULL UNIQUE,
    broker_order_id TEXT,
    broker TEXT NOT NULL DEFAULT 'alpaca',
    symbol TEXT NOT NULL,
    side TEXT NOT NULL CHECK (side IN ('buy', 'sell')),
    type TEXT NOT NULL,
    qty REAL NOT NULL,
    limit_price REAL,
    stop_price REAL,
    time_in_force TEXT NOT NULL DEFAULT 'day',
    status TEXT NOT NULL DEFAULT 'new',
    placed_at DATETIME,
    filled_qty REAL NOT NULL DEFAULT 0,
    avg_fill_price REAL,
    raw TEXT,
    created_at DATETIME,
    updated_at DATETIME,
    FOREIGN KEY(strategy_run_id) REFERENCES strategy_runs(id)
);

CREATE INDEX IF NOT EXISTS idx_orders_broker_order_id ON orders(broker_order_id);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS fills (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id INTEGER NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    qty REAL NOT NULL,
    price REAL NOT NULL,
    fill_at DATETIME NOT NULL,
    raw TEXT,
    FOREIGN KEY(order_id) REFERENCES orders(id)
);

CREATE TABLE IF NOT EXISTS positions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    symbol TEXT NOT NULL,
    mode TEXT NOT NULL DEFAULT 'paper',
    qty REAL NOT NULL DEFAULT 0,
    avg_entry_price REAL NOT NULL DEFAULT 0,
    unrealized_pl REAL NOT NULL DEFAULT 0,
    updated_at DATETIME,
    UNIQUE(symbol, mode)
);

CREATE TABLE IF NOT EXISTS decision_logs (
    id TEXT PRIMARY KEY,
    strategy_run_id INTEGER,
    level TEXT NOT NULL CHECK (level IN ('info', 'warn', 'error')),
    context TEXT NOT NULL,
    message TEXT NOT NULL,
    payload TEXT,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decision_logs_run ON decision_logs(strategy_run_id);

CREATE TABLE IF NOT EXISTS risk_limits (
    mode TEXT PRIMARY KEY CHECK (mode IN ('paper', 'live')),
    daily_max_loss REAL NOT NULL,
    max_position_qty REAL NOT NULL,
    max_orders_per_min INTEGER NOT NULL,
    updated_at DATETIME
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Protective levels were added after the first positions table shipped.
	if err := ensureColumn(d.DB, "positions", "stop_loss", "REAL"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "positions", "take_profit", "REAL"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "positions", "trailing_stop", "REAL"); err != nil {
		return err
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
