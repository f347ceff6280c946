package db

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// DailyPnL sums cash flow over filled orders placed at or after since:
// sells add avg_fill_price*filled_qty, buys subtract it.
func (d *Database) DailyPnL(ctx context.Context, since time.Time) (float64, error) {
	var pnl float64
	err := d.DB.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(
			CASE WHEN side = 'sell' THEN COALESCE(avg_fill_price, 0) * filled_qty
			     ELSE -COALESCE(avg_fill_price, 0) * filled_qty END
		), 0)
		FROM orders
		WHERE status = ? AND placed_at >= ?
	`, StatusFilled, since.UTC()).Scan(&pnl)
	if err != nil {
		return 0, fmt.Errorf("daily pnl: %w", err)
	}
	return pnl, nil
}

// DailyPnLSeries groups fills since the given time by UTC day and symbol.
// Per symbol and day, pnl is sell value minus buy value, every sell fill is a
// trade, and a sell priced above the day's average buy price is a win.
func (d *Database) DailyPnLSeries(ctx context.Context, since time.Time) ([]DailyPnL, error) {
	fills, err := d.ListFillsSince(ctx, since)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		buyQty, buyValue, sellValue float64
		sellPrices                  []float64
	}
	days := make(map[string]map[string]*bucket)
	for _, f := range fills {
		day := f.FillAt.UTC().Format("2006-01-02")
		bySymbol, ok := days[day]
		if !ok {
			bySymbol = make(map[string]*bucket)
			days[day] = bySymbol
		}
		b, ok := bySymbol[f.Symbol]
		if !ok {
			b = &bucket{}
			bySymbol[f.Symbol] = b
		}
		if f.Side == "sell" {
			b.sellValue += f.Qty * f.Price
			b.sellPrices = append(b.sellPrices, f.Price)
		} else {
			b.buyQty += f.Qty
			b.buyValue += f.Qty * f.Price
		}
	}

	out := make([]DailyPnL, 0, len(days))
	for day, bySymbol := range days {
		point := DailyPnL{Date: day}
		for _, b := range bySymbol {
			point.PnL += b.sellValue - b.buyValue
			point.Trades += len(b.sellPrices)
			if b.buyQty == 0 {
				continue
			}
			avgBuy := b.buyValue / b.buyQty
			for _, p := range b.sellPrices {
				if p > avgBuy {
					point.Wins++
				}
			}
		}
		out = append(out, point)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}
