package strategy

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"daytrading-core/internal/indicators"
	"daytrading-core/internal/market"
	"daytrading-core/pkg/logger"
)

// Market regimes derived from ADX and normalized Bollinger width.
const (
	RegimeTrending  = "TRENDING"
	RegimeRanging   = "RANGING"
	RegimeUncertain = "UNCERTAIN"
	RegimeUnknown   = "UNKNOWN"
)

// EnhancedSMA is the SMA crossover behind a chain of entry filters, with
// ATR-based stop, target and trailing stop while long.
type EnhancedSMA struct {
	cfg    EnhancedSMAConfig
	series *indicators.Series
	loc    *time.Location
	log    *zap.Logger

	entryPrice   *float64
	stopLoss     *float64
	takeProfit   *float64
	trailingStop *float64
}

// NewEnhancedSMA builds the strategy. loc is the timezone trading hours are
// expressed in; nil means UTC.
func NewEnhancedSMA(cfg EnhancedSMAConfig, loc *time.Location) *EnhancedSMA {
	if loc == nil {
		loc = time.UTC
	}
	window := cfg.Slow + 50
	if window < 200 {
		window = 200
	}
	return &EnhancedSMA{
		cfg:    cfg,
		series: indicators.NewSeries(window),
		loc:    loc,
		log:    logger.Named("strategy.enhanced_sma"),
	}
}

func (s *EnhancedSMA) Name() string {
	return fmt.Sprintf("Enhanced SMA(%d/%d) with Regime Detection & Risk Management", s.cfg.Fast, s.cfg.Slow)
}

func (s *EnhancedSMA) OnBar(bar market.Bar, state TradingState) Signal {
	s.series.Push(bar)

	if state.AccountBalance != nil {
		s.cfg.AccountBalance = *state.AccountBalance
	}
	if state.IsLong() {
		s.entryPrice = ptr(state.AvgEntryPrice)
		s.stopLoss = state.StopLoss
		s.takeProfit = state.TakeProfit
		s.trailingStop = state.TrailingStop
	}

	if s.series.Len() < s.cfg.Slow+s.cfg.ATRPeriod {
		return warmingUp(fmt.Sprintf("Warming up: %d bars collected", s.series.Len()))
	}

	if state.IsLong() {
		return s.manageOpenPosition(bar, state)
	}
	return s.lookForEntry(bar)
}

func (s *EnhancedSMA) lookForEntry(bar market.Bar) Signal {
	if s.cfg.UseTimeFilter && !s.withinTradingHours(bar) {
		return NoAction("Outside trading hours")
	}

	regime := s.detectRegime()
	if s.cfg.UseRegimeFilter && regime == RegimeRanging {
		return NoAction(fmt.Sprintf("Market regime: %s (skipping SMA strategy)", regime))
	}

	closes := s.series.Closes()
	fast, slow, prevFast, prevSlow, ok := crossInputs(closes, s.cfg.Fast, s.cfg.Slow)
	if !ok {
		return NoAction("Insufficient data for SMA calculation")
	}
	if !(prevFast <= prevSlow && fast > slow) {
		return NoAction(fmt.Sprintf("No crossover (Fast: %.2f, Slow: %.2f)", fast, slow))
	}

	if s.cfg.UseRSIFilter {
		rsi, ok := indicators.RSI(closes, s.cfg.RSIPeriod)
		if !ok {
			return NoAction("Insufficient data for RSI")
		}
		if rsi > s.cfg.RSIOverbought {
			return NoAction(fmt.Sprintf("RSI overbought: %.2f > %.0f", rsi, s.cfg.RSIOverbought))
		}
	}

	if s.cfg.UseMACDConfirmation {
		macd, ok := indicators.MACD(closes, s.cfg.MACDFast, s.cfg.MACDSlow, s.cfg.MACDSignal)
		if !ok {
			return NoAction("Insufficient data for MACD")
		}
		if macd.Histogram < 0 {
			return NoAction(fmt.Sprintf("MACD histogram negative: %.4f", macd.Histogram))
		}
	}

	if s.cfg.UseVolumeFilter {
		avg, ok := indicators.AverageVolume(s.series.Bars(), s.cfg.VolumePeriod)
		if !ok {
			s.log.Warn("cannot calculate average volume", zap.String("symbol", bar.Symbol))
		} else if required := avg * s.cfg.VolumeMultiplier; bar.Volume < required {
			return NoAction(fmt.Sprintf("Low volume: %.0f < %.0f", bar.Volume, required))
		}
	}

	atr, ok := indicators.ATR(s.series.Bars(), s.cfg.ATRPeriod)
	if !ok {
		return NoAction("Insufficient data for ATR")
	}

	entry := bar.Close
	stopLoss := entry - atr*s.cfg.StopLossATRMultiplier
	takeProfit := entry + atr*s.cfg.TakeProfitATRMultiplier

	qty := s.positionSize(entry, stopLoss, regime)
	if qty <= 0 {
		return NoAction("Calculated position size is zero")
	}

	s.log.Info("buy signal generated",
		zap.String("symbol", s.cfg.Symbol),
		zap.Float64("entry_price", entry),
		zap.Float64("stop_loss", stopLoss),
		zap.Float64("take_profit", takeProfit),
		zap.Float64("atr", atr),
		zap.Float64("qty", qty),
		zap.String("regime", regime),
	)

	sig := Buy(s.cfg.Symbol, qty)
	sig.StopLoss = ptr(stopLoss)
	sig.TakeProfit = ptr(takeProfit)
	sig.Note = fmt.Sprintf("Buy %.0f %s (regime %s, SL %.2f, TP %.2f)", qty, s.cfg.Symbol, regime, stopLoss, takeProfit)
	return sig
}

func (s *EnhancedSMA) manageOpenPosition(bar market.Bar, state TradingState) Signal {
	price := bar.Close
	qty := exitQty(state, s.cfg.Qty)

	if s.stopLoss != nil && price <= *s.stopLoss {
		s.log.Warn("stop loss hit", zap.Float64("price", price), zap.Float64("stop_loss", *s.stopLoss))
		sig := Sell(s.cfg.Symbol, qty, "stop_loss")
		sig.Note = fmt.Sprintf("Stop loss hit at %.2f (stop %.2f)", price, *s.stopLoss)
		return sig
	}

	if s.takeProfit != nil && price >= *s.takeProfit {
		s.log.Info("take profit hit", zap.Float64("price", price), zap.Float64("take_profit", *s.takeProfit))
		sig := Sell(s.cfg.Symbol, qty, "take_profit")
		sig.Note = fmt.Sprintf("Take profit hit at %.2f (target %.2f)", price, *s.takeProfit)
		return sig
	}

	var stops *StopUpdate
	if s.cfg.UseTrailingStop && s.entryPrice != nil {
		if atr, ok := indicators.ATR(s.series.Bars(), s.cfg.ATRPeriod); ok {
			candidate := price - atr*s.cfg.TrailingStopATRMultiplier
			if s.trailingStop == nil || candidate > *s.trailingStop {
				s.trailingStop = ptr(candidate)
				if s.stopLoss == nil || candidate > *s.stopLoss {
					s.stopLoss = ptr(candidate)
				}
				stops = &StopUpdate{StopLoss: s.stopLoss, TrailingStop: s.trailingStop}
			}
		}
	}

	closes := s.series.Closes()
	if fast, slow, prevFast, prevSlow, ok := crossInputs(closes, s.cfg.Fast, s.cfg.Slow); ok {
		if prevFast >= prevSlow && fast < slow {
			sig := Sell(s.cfg.Symbol, qty, "sma_cross_down")
			sig.Note = fmt.Sprintf("SMA cross down (Fast: %.2f, Slow: %.2f)", fast, slow)
			sig.Stops = stops
			return sig
		}
	}

	sig := NoAction(fmt.Sprintf("Holding position (Price: %.2f, Stop: %.2f, Target: %.2f)",
		price, deref(s.stopLoss), deref(s.takeProfit)))
	sig.Stops = stops
	return sig
}

// detectRegime compares the current normalized band width with its average
// over the last 50 closes.
func (s *EnhancedSMA) detectRegime() string {
	if !s.cfg.UseRegimeFilter {
		return RegimeUnknown
	}
	closes := s.series.Closes()
	adx, ok := indicators.ADX(s.series.Bars(), s.cfg.ADXPeriod)
	if !ok {
		return RegimeUnknown
	}
	width, ok := indicators.BBWidth(closes, s.cfg.BBPeriod, s.cfg.BBStdDev)
	if !ok {
		return RegimeUnknown
	}

	recent := closes
	if len(recent) > 50 {
		recent = recent[len(recent)-50:]
	}
	sum, count := 0.0, 0
	for i := s.cfg.BBPeriod; i < len(recent); i++ {
		if w, ok := indicators.BBWidth(recent[i-s.cfg.BBPeriod:i], s.cfg.BBPeriod, s.cfg.BBStdDev); ok {
			sum += w
			count++
		}
	}
	avg := width
	if count > 0 {
		avg = sum / float64(count)
	}

	regime := RegimeUncertain
	switch {
	case adx > s.cfg.ADXTrendingThreshold && width > avg*1.2:
		regime = RegimeTrending
	case adx < s.cfg.ADXRangingThreshold && width < avg*0.8:
		regime = RegimeRanging
	}
	s.log.Debug("regime", zap.String("regime", regime), zap.Float64("adx", adx),
		zap.Float64("bb_width", width), zap.Float64("avg_bb_width", avg))
	return regime
}

func (s *EnhancedSMA) positionSize(entry, stopLoss float64, regime string) float64 {
	if !s.cfg.UseDynamicSizing {
		if regime == RegimeUncertain {
			return math.Floor(s.cfg.Qty * 0.5)
		}
		return s.cfg.Qty
	}

	riskPerShare := math.Abs(entry - stopLoss)
	if riskPerShare <= 0 {
		s.log.Warn("risk per share is zero; using configured qty")
		return s.cfg.Qty
	}
	shares := math.Floor(s.cfg.AccountBalance * s.cfg.RiskPerTrade / riskPerShare)
	if regime == RegimeUncertain {
		shares = math.Floor(shares * 0.5)
	}
	shares = math.Min(shares, s.cfg.MaxPositionSize)
	return math.Max(1, shares)
}

func (s *EnhancedSMA) withinTradingHours(bar market.Bar) bool {
	if bar.Timestamp.IsZero() {
		return true
	}
	clock := bar.Timestamp.In(s.loc).Format("15:04")
	for _, w := range s.cfg.TradingHours {
		if clock >= w.Start && clock <= w.End {
			return true
		}
	}
	return false
}

// crossInputs returns the current and previous-bar fast/slow SMAs.
func crossInputs(closes []float64, fastPeriod, slowPeriod int) (fast, slow, prevFast, prevSlow float64, ok bool) {
	if len(closes) == 0 {
		return 0, 0, 0, 0, false
	}
	prev := closes[:len(closes)-1]
	var ok1, ok2, ok3, ok4 bool
	fast, ok1 = indicators.SMA(closes, fastPeriod)
	slow, ok2 = indicators.SMA(closes, slowPeriod)
	prevFast, ok3 = indicators.SMA(prev, fastPeriod)
	prevSlow, ok4 = indicators.SMA(prev, slowPeriod)
	return fast, slow, prevFast, prevSlow, ok1 && ok2 && ok3 && ok4
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
