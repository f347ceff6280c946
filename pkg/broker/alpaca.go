package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"daytrading-core/pkg/errs"
	"daytrading-core/pkg/logger"
)

// Config holds Alpaca credentials and client limits.
type Config struct {
	KeyID   string
	Secret  string
	BaseURL string
	Timeout time.Duration
	RPS     float64
	Burst   int
}

// Client is the Alpaca trading API adapter.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *zap.Logger
}

var _ Adapter = (*Client)(nil)

func NewAlpaca(cfg Config) *Client {
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
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		log:        logger.Named("broker.alpaca"),
	}
}

type accountResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Currency       string `json:"currency"`
	Cash           string `json:"cash"`
	Equity         string `json:"equity"`
	BuyingPower    string `json:"buying_power"`
	PortfolioValue string `json:"portfolio_value"`
}

type positionResponse struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
	MarketValue   string `json:"market_value"`
	UnrealizedPL  string `json:"unrealized_pl"`
	Side          string `json:"side"`
}

type orderPayload struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Qty           string `json:"qty"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	StopPrice     string `json:"stop_price,omitempty"`
	ClientOrderID string `json:"client_order_id"`
}

type orderResponse struct {
	ID             string    `json:"id"`
	ClientOrderID  string    `json:"client_order_id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Type           string    `json:"type"`
	Qty            string    `json:"qty"`
	Status         string    `json:"status"`
	FilledQty      string    `json:"filled_qty"`
	FilledAvgPrice *string   `json:"filled_avg_price"`
	SubmittedAt    time.Time `json:"submitted_at"`
	CreatedAt      time.Time `json:"created_at"`
}

func (r orderResponse) result(raw []byte) *OrderResult {
	out := &OrderResult{
		BrokerOrderID: r.ID,
		ClientOrderID: r.ClientOrderID,
		Symbol:        r.Symbol,
		Side:          Side(r.Side),
		Type:          OrderType(r.Type),
		Qty:           parseFloat(r.Qty),
		Status:        NormalizeStatus(r.Status),
		FilledQty:     parseFloat(r.FilledQty),
		SubmittedAt:   r.SubmittedAt,
		Raw:           string(raw),
	}
	if r.FilledAvgPrice != nil && *r.FilledAvgPrice != "" {
		v := parseFloat(*r.FilledAvgPrice)
		out.FilledAvgPrice = &v
	}
	if out.SubmittedAt.IsZero() {
		out.SubmittedAt = r.CreatedAt
	}
	if out.SubmittedAt.IsZero() {
		out.SubmittedAt = time.Now().UTC()
	}
	return out
}

func (c *Client) GetAccount(ctx context.Context) (*Account, error) {
	var resp accountResponse
	if _, err := c.do(ctx, "get_account", http.MethodGet, "/v2/account", nil, &resp); err != nil {
		return nil, err
	}
	return &Account{
		ID:             resp.ID,
		Status:         resp.Status,
		Currency:       resp.Currency,
		Cash:           parseFloat(resp.Cash),
		Equity:         parseFloat(resp.Equity),
		BuyingPower:    parseFloat(resp.BuyingPower),
		PortfolioValue: parseFloat(resp.PortfolioValue),
	}, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	var resp []positionResponse
	if _, err := c.do(ctx, "get_positions", http.MethodGet, "/v2/positions", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(resp))
	for _, p := range resp {
		out = append(out, Position{
			Symbol:        p.Symbol,
			Qty:           parseFloat(p.Qty),
			AvgEntryPrice: parseFloat(p.AvgEntryPrice),
			MarketValue:   parseFloat(p.MarketValue),
			UnrealizedPL:  parseFloat(p.UnrealizedPL),
			Side:          p.Side,
		})
	}
	return out, nil
}

// PlaceOrder submits req. A client order id is generated when req has none,
// and the one sent is always echoed back in the result.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}
	tif := req.TimeInForce
	if tif == "" {
		tif = "day"
	}
	payload := orderPayload{
		Symbol:        req.Symbol,
		Side:          string(req.Side),
		Type:          string(req.Type),
		Qty:           formatFloat(req.Qty),
		TimeInForce:   tif,
		ClientOrderID: req.ClientOrderID,
	}
	if req.LimitPrice != nil {
		payload.LimitPrice = formatFloat(*req.LimitPrice)
	}
	if req.StopPrice != nil {
		payload.StopPrice = formatFloat(*req.StopPrice)
	}

	var resp orderResponse
	raw, err := c.do(ctx, "place_order", http.MethodPost, "/v2/orders", payload, &resp)
	if err != nil {
		return nil, err
	}

	result := resp.result(raw)
	result.Symbol, result.Side, result.Type, result.Qty = req.Symbol, req.Side, req.Type, req.Qty
	if result.ClientOrderID == "" {
		result.ClientOrderID = req.ClientOrderID
	}

	c.log.Info("order placed",
		zap.String("symbol", result.Symbol),
		zap.String("side", string(result.Side)),
		zap.Float64("qty", result.Qty),
		zap.String("broker_order_id", result.BrokerOrderID),
		zap.String("client_order_id", result.ClientOrderID),
		zap.String("status", result.Status),
	)
	return result, nil
}

// GetOrderByClientID fetches the order submitted under clientOrderID.
func (c *Client) GetOrderByClientID(ctx context.Context, clientOrderID string) (*OrderResult, error) {
	if clientOrderID == "" {
		return nil, errs.Invalid("client_order_id", "is required")
	}
	var resp orderResponse
	path := "/v2/orders:by_client_order_id?client_order_id=" + url.QueryEscape(clientOrderID)
	raw, err := c.do(ctx, "get_order", http.MethodGet, path, nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.result(raw), nil
}

func (c *Client) CancelOrder(ctx context.Context, brokerOrderID string) error {
	if brokerOrderID == "" {
		return errs.Invalid("broker_order_id", "is required")
	}
	_, err := c.do(ctx, "cancel_order", http.MethodDelete, "/v2/orders/"+brokerOrderID, nil, nil)
	return err
}

func (c *Client) CloseAllPositions(ctx context.Context) (int, error) {
	var resp []json.RawMessage
	if _, err := c.do(ctx, "close_all_positions", http.MethodDelete, "/v2/positions?cancel_orders=true", nil, &resp); err != nil {
		return 0, err
	}
	return len(resp), nil
}

// do performs one authenticated request and decodes the body into out when
// out is non-nil. The raw body is returned for auditing.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &errs.BrokerError{Op: op, Err: err}
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return nil, &errs.BrokerError{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, &errs.BrokerError{Op: op, Err: err}
	}
	req.Header.Set("APCA-API-KEY-ID", c.cfg.KeyID)
	req.Header.Set("APCA-API-SECRET-KEY", c.cfg.Secret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	res, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("broker request failed", zap.String("op", op), zap.Error(err))
		return nil, &errs.BrokerError{Op: op, Err: err}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &errs.BrokerError{Op: op, StatusCode: res.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	c.log.Debug("broker request",
		zap.String("op", op),
		zap.Int("status", res.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if res.StatusCode >= http.StatusMultipleChoices {
		return raw, &errs.BrokerError{Op: op, StatusCode: res.StatusCode, Body: truncate(string(raw), 512)}
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, &errs.BrokerError{Op: op, StatusCode: res.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return raw, nil
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
