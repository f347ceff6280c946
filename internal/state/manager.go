// Package state owns read-modify-write access to positions. Every mutation
// of a (symbol, mode) position runs under that key's lock.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"daytrading-core/internal/strategy"
	"daytrading-core/pkg/db"
	"daytrading-core/pkg/logger"
)

// Prices is the last-price lookup used for unrealized P&L.
type Prices interface {
	Get(symbol string) (float64, bool)
}

// Manager serializes position updates per (symbol, mode) and persists them.
type Manager struct {
	db     *db.Database
	prices Prices

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	log   *zap.Logger
}

func NewManager(database *db.Database, prices Prices) *Manager {
	return &Manager{
		db:     database,
		prices: prices,
		locks:  make(map[string]*sync.Mutex),
		log:    logger.Named("state"),
	}
}

func (m *Manager) lock(symbol, mode string) func() {
	key := mode + "|" + symbol
	m.mu.Lock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (m *Manager) update(ctx context.Context, symbol, mode string, fn func(p *db.Position) error) (*db.Position, error) {
	unlock := m.lock(symbol, mode)
	defer unlock()
	p, err := m.db.UpdatePosition(ctx, symbol, mode, fn)
	if err != nil {
		return nil, err
	}
	m.markToMarket(p)
	return p, nil
}

// ApplyFill books an execution. A buy moves the weighted average entry and
// raises qty; a sell lowers qty. Qty never goes below zero, and a flat
// position drops its average and protective levels.
func (m *Manager) ApplyFill(ctx context.Context, symbol, mode, side string, qty, price float64) (*db.Position, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("apply fill: qty must be > 0, got %v", qty)
	}
	p, err := m.update(ctx, symbol, mode, func(p *db.Position) error {
		switch side {
		case "buy":
			total := p.Qty + qty
			p.AvgEntryPrice = (p.AvgEntryPrice*p.Qty + price*qty) / total
			p.Qty = total
		case "sell":
			p.Qty -= qty
			if p.Qty < 0 {
				m.log.Warn("sell fill exceeds position; clamping to flat",
					zap.String("symbol", symbol), zap.String("mode", mode), zap.Float64("short_by", -p.Qty))
				p.Qty = 0
			}
		default:
			return fmt.Errorf("apply fill: unknown side %q", side)
		}
		if p.Qty == 0 {
			p.AvgEntryPrice = 0
			p.StopLoss, p.TakeProfit, p.TrailingStop = nil, nil, nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("position updated",
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.Float64("fill_qty", qty),
		zap.Float64("fill_price", price),
		zap.Float64("qty", p.Qty),
		zap.Float64("avg_entry_price", p.AvgEntryPrice),
	)
	return p, nil
}

// SetEntryStops records the stop loss and take profit of a new entry and
// resets any trailing stop. The row is created when absent.
func (m *Manager) SetEntryStops(ctx context.Context, symbol, mode string, stopLoss, takeProfit *float64) (*db.Position, error) {
	return m.update(ctx, symbol, mode, func(p *db.Position) error {
		if stopLoss != nil {
			p.StopLoss = stopLoss
		}
		if takeProfit != nil {
			p.TakeProfit = takeProfit
		}
		p.TrailingStop = nil
		return nil
	})
}

// RaiseStops persists a ratcheted stop. Levels only move up, and a flat
// position is left untouched.
func (m *Manager) RaiseStops(ctx context.Context, symbol, mode string, stopLoss, trailing *float64) (*db.Position, error) {
	return m.update(ctx, symbol, mode, func(p *db.Position) error {
		if p.Qty <= 0 {
			return nil
		}
		if stopLoss != nil && (p.StopLoss == nil || *stopLoss > *p.StopLoss) {
			p.StopLoss = stopLoss
		}
		if trailing != nil && (p.TrailingStop == nil || *trailing > *p.TrailingStop) {
			p.TrailingStop = trailing
		}
		return nil
	})
}

// SetPosition overwrites qty and average, used when syncing from the broker.
func (m *Manager) SetPosition(ctx context.Context, symbol, mode string, qty, avg float64) (*db.Position, error) {
	return m.update(ctx, symbol, mode, func(p *db.Position) error {
		p.Qty = qty
		p.AvgEntryPrice = avg
		if qty <= 0 {
			p.Qty = 0
			p.AvgEntryPrice = 0
			p.StopLoss, p.TakeProfit, p.TrailingStop = nil, nil, nil
		}
		return nil
	})
}

// Position loads one position. A missing row is a flat zero position.
func (m *Manager) Position(ctx context.Context, symbol, mode string) (*db.Position, error) {
	p, err := m.db.GetPosition(ctx, symbol, mode)
	if errors.Is(err, db.ErrNotFound) {
		return &db.Position{Symbol: symbol, Mode: mode}, nil
	}
	if err != nil {
		return nil, err
	}
	m.markToMarket(p)
	return p, nil
}

// Positions lists positions for mode with unrealized P&L from the price cache.
func (m *Manager) Positions(ctx context.Context, mode string, openOnly bool) ([]db.Position, error) {
	list, err := m.db.ListPositions(ctx, mode, openOnly)
	if err != nil {
		return nil, err
	}
	for i := range list {
		m.markToMarket(&list[i])
	}
	return list, nil
}

// TradingState builds the strategy view of the (symbol, mode) position.
func (m *Manager) TradingState(ctx context.Context, symbol, mode string, balance *float64) (strategy.TradingState, error) {
	p, err := m.Position(ctx, symbol, mode)
	if err != nil {
		return strategy.TradingState{}, err
	}
	st := strategy.TradingState{
		Qty:            p.Qty,
		AvgEntryPrice:  p.AvgEntryPrice,
		StopLoss:       p.StopLoss,
		TakeProfit:     p.TakeProfit,
		TrailingStop:   p.TrailingStop,
		AccountBalance: balance,
	}
	if p.Qty > 0 {
		st.Position = strategy.PositionLong
	}
	return st, nil
}

func (m *Manager) markToMarket(p *db.Position) {
	if m.prices == nil || p.Qty == 0 {
		return
	}
	if last, ok := m.prices.Get(p.Symbol); ok {
		p.UnrealizedPL = (last - p.AvgEntryPrice) * p.Qty
	}
}
