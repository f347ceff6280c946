package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const orderColumns = `id, strategy_run_id, client_order_id, COALESCE(broker_order_id, ''), broker, symbol, side, type,
	qty, limit_price, stop_price, time_in_force, status, placed_at, filled_qty, avg_fill_price,
	COALESCE(raw, ''), created_at, updated_at`

func scanOrder(row rowScanner) (*Order, error) {
	var (
		o                Order
		runID            sql.NullInt64
		limit, stop, avg sql.NullFloat64
		placed           sql.NullTime
	)
	if err := row.Scan(&o.ID, &runID, &o.ClientOrderID, &o.BrokerOrderID, &o.Broker, &o.Symbol, &o.Side, &o.Type,
		&o.Qty, &limit, &stop, &o.TimeInForce, &o.Status, &placed, &o.FilledQty, &avg,
		&o.Raw, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.StrategyRunID = intPtr(runID)
	o.LimitPrice = floatPtr(limit)
	o.StopPrice = floatPtr(stop)
	o.AvgFillPrice = floatPtr(avg)
	o.PlacedAt = timePtr(placed)
	return &o, nil
}

// CreateOrder persists a placed order and sets its ID.
// A repeated client_order_id yields ErrDuplicate.
func (d *Database) CreateOrder(ctx context.Context, o *Order) error {
	ts := now()
	if o.Broker == "" {
		o.Broker = "alpaca"
	}
	if o.Status == "" {
		o.Status = StatusNew
	}
	if o.TimeInForce == "" {
		o.TimeInForce = "day"
	}
	var brokerID any
	if o.BrokerOrderID != "" {
		brokerID = o.BrokerOrderID
	}
	res, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (strategy_run_id, client_order_id, broker_order_id, broker, symbol, side, type,
			qty, limit_price, stop_price, time_in_force, status, placed_at, filled_qty, avg_fill_price, raw,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, nullInt(o.StrategyRunID), o.ClientOrderID, brokerID, o.Broker, o.Symbol, o.Side, o.Type,
		o.Qty, nullFloat(o.LimitPrice), nullFloat(o.StopPrice), o.TimeInForce, o.Status, nullTime(o.PlacedAt),
		o.FilledQty, nullFloat(o.AvgFillPrice), o.Raw, ts, ts)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert order: %w", err)
	}
	o.ID, _ = res.LastInsertId()
	o.CreatedAt, o.UpdatedAt = ts, ts
	return nil
}

// FindOrder looks an order up by broker id first, then by client id.
func (d *Database) FindOrder(ctx context.Context, brokerOrderID, clientOrderID string) (*Order, error) {
	if brokerOrderID != "" {
		o, err := d.findOrderBy(ctx, "broker_order_id", brokerOrderID)
		if err == nil || !errors.Is(err, ErrNotFound) {
			return o, err
		}
	}
	if clientOrderID != "" {
		return d.findOrderBy(ctx, "client_order_id", clientOrderID)
	}
	return nil, ErrNotFound
}

func (d *Database) findOrderBy(ctx context.Context, column, value string) (*Order, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+column+` = ? LIMIT 1`, value)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order by %s: %w", column, err)
	}
	return o, nil
}

// GetOrder loads an order by ID.
func (d *Database) GetOrder(ctx context.Context, id int64) (*Order, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return o, nil
}

// UpdateOrderState writes the lifecycle fields of an order.
func (d *Database) UpdateOrderState(ctx context.Context, o *Order) error {
	var brokerID any
	if o.BrokerOrderID != "" {
		brokerID = o.BrokerOrderID
	}
	o.UpdatedAt = now()
	res, err := d.DB.ExecContext(ctx, `
		UPDATE orders SET status = ?, filled_qty = ?, avg_fill_price = ?, broker_order_id = COALESCE(?, broker_order_id),
			raw = ?, updated_at = ?
		WHERE id = ?
	`, o.Status, o.FilledQty, nullFloat(o.AvgFillPrice), brokerID, o.Raw, o.UpdatedAt, o.ID)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return expectOne(res)
}

// MarkOrderCanceled sets an order's status to canceled.
func (d *Database) MarkOrderCanceled(ctx context.Context, id int64) error {
	res, err := d.DB.ExecContext(ctx, `UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
		StatusCanceled, now(), id)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return expectOne(res)
}

// ListOpenOrders returns new or partially filled orders known to the broker.
func (d *Database) ListOpenOrders(ctx context.Context) ([]Order, error) {
	return d.queryOrders(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status IN (?, ?) AND broker_order_id IS NOT NULL AND broker_order_id != ''
		ORDER BY id
	`, StatusNew, StatusPartiallyFilled)
}

// ListOrders returns the latest orders, newest first.
func (d *Database) ListOrders(ctx context.Context, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	return d.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY id DESC LIMIT ?`, limit)
}

func (d *Database) queryOrders(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}
