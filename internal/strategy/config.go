package strategy

import (
	"encoding/json"
	"fmt"
	"strings"

	"daytrading-core/pkg/errs"
)

// Supported strategy kinds.
const (
	KindSMA         = "sma"
	KindEnhancedSMA = "enhanced_sma"
)

// SMAConfig configures the SMA crossover strategy.
type SMAConfig struct {
	Symbol      string  `json:"symbol" yaml:"symbol"`
	Qty         float64 `json:"qty" yaml:"qty"`
	Fast        int     `json:"fast" yaml:"fast"`
	Slow        int     `json:"slow" yaml:"slow"`
	BarInterval string  `json:"bar_interval" yaml:"bar_interval"`
}

func DefaultSMAConfig() SMAConfig {
	return SMAConfig{Symbol: "AAPL", Qty: 10, Fast: 9, Slow: 21, BarInterval: "1Min"}
}

func (c *SMAConfig) validate() error {
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	if c.Symbol == "" {
		return errs.Invalid("symbol", "is required")
	}
	if c.Qty <= 0 {
		return errs.Invalid("qty", "must be > 0")
	}
	if c.Fast <= 0 || c.Slow <= 0 {
		return errs.Invalid("fast/slow", "periods must be > 0")
	}
	if c.Fast >= c.Slow {
		return errs.Invalid("fast", "must be less than slow (%d >= %d)", c.Fast, c.Slow)
	}
	return nil
}

// TradingWindow is an inclusive "HH:MM" window in the market timezone.
type TradingWindow struct {
	Start string `json:"start" yaml:"start"`
	End   string `json:"end" yaml:"end"`
}

// EnhancedSMAConfig configures the filtered SMA strategy with ATR stops.
type EnhancedSMAConfig struct {
	SMAConfig `yaml:",inline"`

	ATRPeriod                 int     `json:"atr_period" yaml:"atr_period"`
	StopLossATRMultiplier     float64 `json:"stop_loss_atr_multiplier" yaml:"stop_loss_atr_multiplier"`
	TakeProfitATRMultiplier   float64 `json:"take_profit_atr_multiplier" yaml:"take_profit_atr_multiplier"`
	UseTrailingStop           bool    `json:"use_trailing_stop" yaml:"use_trailing_stop"`
	TrailingStopATRMultiplier float64 `json:"trailing_stop_atr_multiplier" yaml:"trailing_stop_atr_multiplier"`

	UseRegimeFilter      bool    `json:"use_regime_filter" yaml:"use_regime_filter"`
	ADXPeriod            int     `json:"adx_period" yaml:"adx_period"`
	ADXTrendingThreshold float64 `json:"adx_trending_threshold" yaml:"adx_trending_threshold"`
	ADXRangingThreshold  float64 `json:"adx_ranging_threshold" yaml:"adx_ranging_threshold"`
	BBPeriod             int     `json:"bb_period" yaml:"bb_period"`
	BBStdDev             float64 `json:"bb_std_dev" yaml:"bb_std_dev"`

	UseRSIFilter  bool    `json:"use_rsi_filter" yaml:"use_rsi_filter"`
	RSIPeriod     int     `json:"rsi_period" yaml:"rsi_period"`
	RSIOverbought float64 `json:"rsi_overbought" yaml:"rsi_overbought"`
	RSIOversold   float64 `json:"rsi_oversold" yaml:"rsi_oversold"`

	UseMACDConfirmation bool `json:"use_macd_confirmation" yaml:"use_macd_confirmation"`
	MACDFast            int  `json:"macd_fast" yaml:"macd_fast"`
	MACDSlow            int  `json:"macd_slow" yaml:"macd_slow"`
	MACDSignal          int  `json:"macd_signal" yaml:"macd_signal"`

	UseVolumeFilter  bool    `json:"use_volume_filter" yaml:"use_volume_filter"`
	VolumePeriod     int     `json:"volume_period" yaml:"volume_period"`
	VolumeMultiplier float64 `json:"volume_multiplier" yaml:"volume_multiplier"`

	UseTimeFilter bool            `json:"use_time_filter" yaml:"use_time_filter"`
	TradingHours  []TradingWindow `json:"trading_hours" yaml:"trading_hours"`

	UseDynamicSizing bool    `json:"use_dynamic_sizing" yaml:"use_dynamic_sizing"`
	RiskPerTrade     float64 `json:"risk_per_trade" yaml:"risk_per_trade"`
	MaxPositionSize  float64 `json:"max_position_size" yaml:"max_position_size"`
	AccountBalance   float64 `json:"account_balance" yaml:"account_balance"`
}

func DefaultEnhancedSMAConfig() EnhancedSMAConfig {
	return EnhancedSMAConfig{
		SMAConfig: DefaultSMAConfig(),

		ATRPeriod:                 14,
		StopLossATRMultiplier:     2.0,
		TakeProfitATRMultiplier:   3.0,
		UseTrailingStop:           true,
		TrailingStopATRMultiplier: 2.0,

		UseRegimeFilter:      true,
		ADXPeriod:            14,
		ADXTrendingThreshold: 25,
		ADXRangingThreshold:  20,
		BBPeriod:             20,
		BBStdDev:             2.0,

		UseRSIFilter:  true,
		RSIPeriod:     14,
		RSIOverbought: 70,
		RSIOversold:   30,

		UseMACDConfirmation: true,
		MACDFast:            12,
		MACDSlow:            26,
		MACDSignal:          9,

		UseVolumeFilter:  true,
		VolumePeriod:     20,
		VolumeMultiplier: 1.5,

		UseTimeFilter: true,
		TradingHours: []TradingWindow{
			{Start: "09:30", End: "10:30"},
			{Start: "15:00", End: "16:00"},
		},

		UseDynamicSizing: true,
		RiskPerTrade:     0.01,
		MaxPositionSize:  100,
		AccountBalance:   100000,
	}
}

func (c *EnhancedSMAConfig) validate() error {
	if err := c.SMAConfig.validate(); err != nil {
		return err
	}
	for name, v := range map[string]int{
		"atr_period":    c.ATRPeriod,
		"adx_period":    c.ADXPeriod,
		"bb_period":     c.BBPeriod,
		"rsi_period":    c.RSIPeriod,
		"volume_period": c.VolumePeriod,
		"macd_fast":     c.MACDFast,
		"macd_slow":     c.MACDSlow,
		"macd_signal":   c.MACDSignal,
	} {
		if v <= 0 {
			return errs.Invalid(name, "must be > 0")
		}
	}
	if c.RiskPerTrade < 0 || c.RiskPerTrade > 1 {
		return errs.Invalid("risk_per_trade", "must be within [0, 1]")
	}
	for i, w := range c.TradingHours {
		if !validClock(w.Start) || !validClock(w.End) {
			return errs.Invalid(fmt.Sprintf("trading_hours[%d]", i), "expects HH:MM, got %q-%q", w.Start, w.End)
		}
	}
	return nil
}

func validClock(s string) bool {
	if len(s) != 5 || s[2] != ':' {
		return false
	}
	h := (int(s[0])-'0')*10 + int(s[1]) - '0'
	m := (int(s[3])-'0')*10 + int(s[4]) - '0'
	for _, ch := range []byte{s[0], s[1], s[3], s[4]} {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return h >= 0 && h <= 23 && m >= 0 && m <= 59
}

// DecodeConfig merges raw JSON over the defaults for kind, validates it and
// returns the symbol plus the normalized config.
func DecodeConfig(kind string, raw json.RawMessage) (string, json.RawMessage, error) {
	var (
		target any
		symbol func() string
	)
	switch kind {
	case KindSMA:
		cfg := DefaultSMAConfig()
		target = &cfg
		symbol = func() string { return cfg.Symbol }
	case KindEnhancedSMA:
		cfg := DefaultEnhancedSMAConfig()
		target = &cfg
		symbol = func() string { return cfg.Symbol }
	default:
		return "", nil, errs.Invalid("kind", "unknown strategy kind %q", kind)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, target); err != nil {
			return "", nil, errs.Invalid("config", "decode: %v", err)
		}
	}
	if v, ok := target.(interface{ validate() error }); ok {
		if err := v.validate(); err != nil {
			return "", nil, err
		}
	}
	normalized, err := json.Marshal(target)
	if err != nil {
		return "", nil, fmt.Errorf("encode config: %w", err)
	}
	return symbol(), normalized, nil
}
