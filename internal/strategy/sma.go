package strategy

import (
	"fmt"

	"go.uber.org/zap"

	"daytrading-core/internal/market"
	"daytrading-core/pkg/logger"
)

// SMA is a fast/slow simple moving average crossover.
// A cross up while flat buys; a cross down while long sells.
type SMA struct {
	cfg    SMAConfig
	closes []float64
	log    *zap.Logger
}

func NewSMA(cfg SMAConfig) *SMA {
	return &SMA{
		cfg:    cfg,
		closes: make([]float64, 0, cfg.Slow+10),
		log:    logger.Named("strategy.sma"),
	}
}

func (s *SMA) Name() string {
	return fmt.Sprintf("SMA(%d/%d)", s.cfg.Fast, s.cfg.Slow)
}

func (s *SMA) OnBar(bar market.Bar, state TradingState) Signal {
	s.closes = append(s.closes, bar.Close)
	if limit := s.cfg.Slow + 10; len(s.closes) > limit {
		s.closes = s.closes[len(s.closes)-limit:]
	}

	if len(s.closes) < s.cfg.Slow {
		return warmingUp(fmt.Sprintf("Warming up: %d/%d", len(s.closes), s.cfg.Slow))
	}

	fast := offsetSMA(s.closes, s.cfg.Fast, 0)
	slow := offsetSMA(s.closes, s.cfg.Slow, 0)
	prevFast := offsetSMA(s.closes, s.cfg.Fast, 1)
	prevSlow := offsetSMA(s.closes, s.cfg.Slow, 1)

	crossUp := prevFast <= prevSlow && fast > slow
	crossDown := prevFast >= prevSlow && fast < slow

	s.log.Debug("bar processed",
		zap.String("symbol", bar.Symbol),
		zap.Float64("close", bar.Close),
		zap.Float64("fast_sma", fast),
		zap.Float64("slow_sma", slow),
		zap.Bool("long", state.IsLong()),
		zap.Bool("cross_up", crossUp),
		zap.Bool("cross_down", crossDown),
	)

	if crossUp && !state.IsLong() {
		return Buy(s.cfg.Symbol, s.cfg.Qty)
	}
	if crossDown && state.IsLong() {
		return Sell(s.cfg.Symbol, exitQty(state, s.cfg.Qty), "sma_cross_down")
	}
	return NoAction(fmt.Sprintf("No signal (Fast: %.4f, Slow: %.4f)", fast, slow))
}

// offsetSMA averages period values ending offset bars before the last one.
// When the window is too short the slice is clamped to the oldest value.
func offsetSMA(values []float64, period, offset int) float64 {
	start := len(values) - period - offset
	if start < 0 {
		start = 0
	}
	end := start + period
	if end > len(values) {
		end = len(values)
	}
	if end <= start {
		return 0
	}
	sum := 0.0
	for _, v := range values[start:end] {
		sum += v
	}
	return sum / float64(end-start)
}

// exitQty sells the configured size, capped at the held quantity. Positions
// are shared by every run on a symbol, so one run never liquidates more than
// it would have bought.
func exitQty(state TradingState, configured float64) float64 {
	if state.Qty > 0 && state.Qty < configured {
		return state.Qty
	}
	return configured
}
