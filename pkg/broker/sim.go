package broker

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"daytrading-core/pkg/errs"
	"daytrading-core/pkg/logger"
)

// PriceSource reports the last known price for a symbol.
type PriceSource func(symbol string) (float64, bool)

// Sim is an in-process broker for dry runs and tests. Market orders fill at
// the PriceSource price when one is known; everything else rests as new.
type Sim struct {
	mu        sync.Mutex
	cash      float64
	prices    PriceSource
	orders    map[string]*OrderResult
	positions map[string]*Position
	failures  map[string]error
	calls     []string
	log       *zap.Logger
}

func NewSim(initialCash float64, prices PriceSource) *Sim {
	return &Sim{
		cash:      initialCash,
		prices:    prices,
		orders:    make(map[string]*OrderResult),
		positions: make(map[string]*Position),
		failures:  make(map[string]error),
		log:       logger.Named("broker.sim"),
	}
}

// Fail makes every later call of op return err. A nil err clears it.
// Ops match the BrokerError op names: get_account, get_positions,
// place_order, get_order, cancel_order, close_all_positions.
func (s *Sim) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Calls returns the ops invoked so far, in order.
func (s *Sim) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// Orders returns every order the sim has accepted.
func (s *Sim) Orders() []OrderResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]OrderResult, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *o)
	}
	return out
}

// SetPosition seeds a holding.
func (s *Sim) SetPosition(p Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.Symbol] = &p
}

func (s *Sim) enter(op string) error {
	s.calls = append(s.calls, op)
	if err, ok := s.failures[op]; ok {
		return &errs.BrokerError{Op: op, Err: err}
	}
	return nil
}

func (s *Sim) GetAccount(ctx context.Context) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("get_account"); err != nil {
		return nil, err
	}
	equity := s.cash
	for _, p := range s.positions {
		equity += s.markValue(p)
	}
	return &Account{
		ID:             "sim",
		Status:         "ACTIVE",
		Currency:       "USD",
		Cash:           s.cash,
		Equity:         equity,
		BuyingPower:    s.cash,
		PortfolioValue: equity,
	}, nil
}

func (s *Sim) GetPositions(ctx context.Context) ([]Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("get_positions"); err != nil {
		return nil, err
	}
	out := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		cp := *p
		cp.MarketValue = s.markValue(p)
		cp.UnrealizedPL = cp.MarketValue - p.AvgEntryPrice*p.Qty
		out = append(out, cp)
	}
	return out, nil
}

func (s *Sim) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("place_order"); err != nil {
		return nil, err
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}
	for _, o := range s.orders {
		if o.ClientOrderID == req.ClientOrderID {
			return nil, &errs.BrokerError{
				Op:         "place_order",
				StatusCode: http.StatusUnprocessableEntity,
				Body:       "client_order_id must be unique",
			}
		}
	}

	result := &OrderResult{
		BrokerOrderID: "sim-" + uuid.NewString(),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Qty:           req.Qty,
		Status:        "new",
		SubmittedAt:   time.Now().UTC(),
	}
	if px, ok := s.price(req.Symbol); ok && req.Type == OrderTypeMarket {
		s.fill(req, px)
		result.Status = "filled"
		result.FilledQty = req.Qty
		result.FilledAvgPrice = &px
	}
	s.orders[result.BrokerOrderID] = result
	s.log.Debug("sim order accepted",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Float64("qty", req.Qty),
		zap.String("status", result.Status),
	)
	cp := *result
	return &cp, nil
}

func (s *Sim) GetOrderByClientID(ctx context.Context, clientOrderID string) (*OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("get_order"); err != nil {
		return nil, err
	}
	for _, o := range s.orders {
		if o.ClientOrderID == clientOrderID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, &errs.BrokerError{Op: "get_order", StatusCode: http.StatusNotFound, Body: "order not found"}
}

func (s *Sim) CancelOrder(ctx context.Context, brokerOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("cancel_order"); err != nil {
		return err
	}
	o, ok := s.orders[brokerOrderID]
	if !ok {
		return &errs.BrokerError{Op: "cancel_order", StatusCode: http.StatusNotFound, Body: "order not found"}
	}
	if o.Status == "new" || o.Status == "partially_filled" {
		o.Status = "canceled"
	}
	return nil
}

func (s *Sim) CloseAllPositions(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("close_all_positions"); err != nil {
		return 0, err
	}
	n := len(s.positions)
	for sym, p := range s.positions {
		s.cash += s.markValue(p)
		delete(s.positions, sym)
	}
	for _, o := range s.orders {
		if o.Status == "new" || o.Status == "partially_filled" {
			o.Status = "canceled"
		}
	}
	return n, nil
}

func (s *Sim) price(symbol string) (float64, bool) {
	if s.prices == nil {
		return 0, false
	}
	px, ok := s.prices(symbol)
	return px, ok && px > 0
}

func (s *Sim) markValue(p *Position) float64 {
	if px, ok := s.price(p.Symbol); ok {
		return px * p.Qty
	}
	return p.AvgEntryPrice * p.Qty
}

// fill books an execution at px; caller holds mu.
func (s *Sim) fill(req OrderRequest, px float64) {
	p, ok := s.positions[req.Symbol]
	if !ok {
		p = &Position{Symbol: req.Symbol, Side: "long"}
		s.positions[req.Symbol] = p
	}
	if req.Side == SideBuy {
		total := p.Qty + req.Qty
		p.AvgEntryPrice = (p.AvgEntryPrice*p.Qty + px*req.Qty) / total
		p.Qty = total
		s.cash -= px * req.Qty
		return
	}
	p.Qty -= req.Qty
	s.cash += px * req.Qty
	if p.Qty <= 0 {
		delete(s.positions, req.Symbol)
	}
}
