// Package data fetches historical market data used to warm up strategies.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"daytrading-core/internal/market"
	"daytrading-core/pkg/errs"
	"daytrading-core/pkg/logger"
)

const (
	lookback  = 7 * 24 * time.Hour
	maxBars   = 1000
	timeframe = "1Min"
)

// Config holds the market data endpoint and credentials.
type Config struct {
	BaseURL string
	KeyID   string
	Secret  string
	Timeout time.Duration
	RPS     float64
	Burst   int
}

// HistoricalDataService fetches recent minute bars from the Alpaca data API.
type HistoricalDataService struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
	log        *zap.Logger
}

// NewHistoricalDataService creates a new service instance.
func NewHistoricalDataService(cfg Config) *HistoricalDataService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 3
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HistoricalDataService{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		now:        time.Now,
		log:        logger.Named("data.historical"),
	}
}

type barResponse struct {
	Timestamp time.Time `json:"t"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
}

type barsResponse struct {
	Symbol string        `json:"symbol"`
	Bars   []barResponse `json:"bars"`
}

// RecentBars returns up to limit of the latest minute bars for symbol,
// oldest first.
func (s *HistoricalDataService) RecentBars(ctx context.Context, symbol string, limit int) ([]market.Bar, error) {
	if limit <= 0 {
		return nil, nil
	}
	if limit > maxBars {
		limit = maxBars
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, errs.Invalid("symbol", "is required")
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, &errs.BrokerError{Op: "get_bars", Err: err}
	}

	q := url.Values{}
	q.Set("timeframe", timeframe)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort", "desc")
	q.Set("start", s.now().Add(-lookback).UTC().Format(time.RFC3339))
	endpoint := fmt.Sprintf("%s/v2/stocks/%s/bars?%s", s.cfg.BaseURL, url.PathEscape(symbol), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &errs.BrokerError{Op: "get_bars", Err: err}
	}
	req.Header.Set("APCA-API-KEY-ID", s.cfg.KeyID)
	req.Header.Set("APCA-API-SECRET-KEY", s.cfg.Secret)
	req.Header.Set("Accept", "application/json")

	res, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &errs.BrokerError{Op: "get_bars", Err: err}
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &errs.BrokerError{Op: "get_bars", StatusCode: res.StatusCode, Err: err}
	}
	if res.StatusCode >= http.StatusMultipleChoices {
		return nil, &errs.BrokerError{Op: "get_bars", StatusCode: res.StatusCode, Body: string(raw)}
	}

	var resp barsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &errs.BrokerError{Op: "get_bars", StatusCode: res.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	bars := make([]market.Bar, 0, len(resp.Bars))
	for i := len(resp.Bars) - 1; i >= 0; i-- {
		b := resp.Bars[i]
		bar := market.Bar{
			Symbol:    symbol,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			Timestamp: b.Timestamp.UTC(),
		}
		if err := bar.Validate(); err != nil {
			s.log.Debug("skipping invalid historical bar", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		bars = append(bars, bar)
	}
	s.log.Debug("historical bars fetched", zap.String("symbol", symbol), zap.Int("bars", len(bars)))
	return bars, nil
}
