// Package risk gates orders against per-mode limits and flattens the book on demand.
package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"daytrading-core/pkg/broker"
	"daytrading-core/pkg/db"
	"daytrading-core/pkg/errs"
	"daytrading-core/pkg/logger"
)

// Check names carried by RiskDenied.
const (
	CheckDailyLoss   = "daily_loss"
	CheckMaxPosition = "max_position_qty"
	CheckOrderRate   = "order_rate"
)

// rateTTL outlives the minute bucket so a late increment still sees the count.
const rateTTL = 2 * time.Minute

// LimitStore loads the limits row for a trading mode.
type LimitStore interface {
	GetRiskLimit(ctx context.Context, mode string) (*db.RiskLimit, error)
}

// Counter is the shared per-minute order counter. IncrementIfBelow must be atomic.
type Counter interface {
	IncrementIfBelow(key string, max int, ttl time.Duration) (int, bool)
}

// Guard evaluates an order against the mode's RiskLimit.
type Guard struct {
	limits  LimitStore
	counter Counter
	now     func() time.Time
	log     *zap.Logger
}

func NewGuard(limits LimitStore, counter Counter) *Guard {
	return &Guard{
		limits:  limits,
		counter: counter,
		now:     time.Now,
		log:     logger.Named("risk.guard"),
	}
}

// rateClaimKey marks a client order id that already holds a rate slot.
func rateClaimKey(clientOrderID string) string {
	return "risk:order_rate:claimed:" + clientOrderID
}

// RateKey is the counter key for the given mode and wall-clock minute.
func RateKey(mode string, t time.Time) string {
	return fmt.Sprintf("risk:order_rate:%s:%s", mode, t.Format("2006-01-02-15-04"))
}

// Check returns nil when the order may proceed, a *errs.RiskDenied when a
// limit refuses it, and any other error when the limits could not be read.
// Checks run in order: daily loss, position size, order rate. A retry of an
// order that already took a rate slot, recognised by its client order id,
// is not counted again.
func (g *Guard) Check(ctx context.Context, mode string, req broker.OrderRequest, dayPL float64) error {
	limit, err := g.limits.GetRiskLimit(ctx, mode)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load risk limit %s: %w", mode, err)
	}

	if dayPL < -limit.DailyMaxLoss {
		g.log.Warn("daily loss limit exceeded",
			zap.Float64("day_pl", dayPL), zap.Float64("limit", limit.DailyMaxLoss))
		return &errs.RiskDenied{
			Check:  CheckDailyLoss,
			Reason: fmt.Sprintf("day P&L %.2f below -%.2f", dayPL, limit.DailyMaxLoss),
		}
	}

	if req.Qty > limit.MaxPositionQty {
		g.log.Warn("order quantity exceeds max position size",
			zap.Float64("qty", req.Qty), zap.Float64("limit", limit.MaxPositionQty))
		return &errs.RiskDenied{
			Check:  CheckMaxPosition,
			Reason: fmt.Sprintf("qty %g exceeds %g", req.Qty, limit.MaxPositionQty),
		}
	}

	if req.ClientOrderID != "" {
		if _, first := g.counter.IncrementIfBelow(rateClaimKey(req.ClientOrderID), 1, rateTTL); !first {
			g.log.Debug("order already counted against rate", zap.String("client_order_id", req.ClientOrderID))
			return nil
		}
	}
	key := RateKey(mode, g.now())
	count, ok := g.counter.IncrementIfBelow(key, limit.MaxOrdersPerMin, rateTTL)
	if !ok {
		g.log.Warn("order rate limit exceeded",
			zap.Int("count", count), zap.Int("limit", limit.MaxOrdersPerMin))
		return &errs.RiskDenied{
			Check:  CheckOrderRate,
			Reason: fmt.Sprintf("%d orders this minute, limit %d", count, limit.MaxOrdersPerMin),
		}
	}
	return nil
}
