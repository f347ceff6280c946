// Package feed bridges the broker's websocket streams to the engine's
// signed webhook.
package feed

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"daytrading-core/internal/market"
)

// dataMessage is one element of a market data stream frame.
type dataMessage struct {
	T     string    `json:"T"`
	Msg   string    `json:"msg"`
	Code  int       `json:"code"`
	S     string    `json:"S"`
	Open  float64   `json:"o"`
	High  float64   `json:"h"`
	Low   float64   `json:"l"`
	Close float64   `json:"c"`
	Vol   float64   `json:"v"`
	Bid   float64   `json:"bp"`
	Ask   float64   `json:"ap"`
	BidSz float64   `json:"bs"`
	AskSz float64   `json:"as"`
	Price float64   `json:"p"`
	Size  float64   `json:"s"`
	Time  time.Time `json:"t"`
}

// Control is a non-data frame that changes the session state.
type Control int

const (
	ControlNone Control = iota
	ControlAuthenticated
	ControlSubscribed
	ControlError
)

// DataFrame is the result of translating one market data frame.
type DataFrame struct {
	Envelopes []market.Envelope
	Control   Control
	Err       string
}

// TranslateData converts a market data frame (a JSON array of messages)
// into webhook envelopes. Unknown message types are skipped.
func TranslateData(frame []byte) (DataFrame, error) {
	var msgs []dataMessage
	if err := json.Unmarshal(frame, &msgs); err != nil {
		return DataFrame{}, fmt.Errorf("decode data frame: %w", err)
	}
	var out DataFrame
	for _, m := range msgs {
		switch m.T {
		case "success":
			if m.Msg == "authenticated" {
				out.Control = ControlAuthenticated
			}
		case "subscription":
			out.Control = ControlSubscribed
		case "error":
			out.Control = ControlError
			out.Err = fmt.Sprintf("%d %s", m.Code, m.Msg)
		case "b", "u", "d":
			out.Envelopes = append(out.Envelopes, envelope(market.TypeBar, market.Bar{
				Symbol: m.S, Open: m.Open, High: m.High, Low: m.Low, Close: m.Close, Volume: m.Vol, Timestamp: m.Time,
			}))
		case "q":
			out.Envelopes = append(out.Envelopes, envelope(market.TypeQuote, market.Quote{
				Symbol: m.S, Bid: m.Bid, Ask: m.Ask, BidSize: m.BidSz, AskSize: m.AskSz, Timestamp: m.Time,
			}))
		case "t":
			out.Envelopes = append(out.Envelopes, envelope(market.TypeTrade, market.Trade{
				Symbol: m.S, Price: m.Price, Size: m.Size, Timestamp: m.Time,
			}))
		}
	}
	return out, nil
}

type tradingFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// TranslateTrading converts one trading stream frame. Authorization and
// listening acknowledgements come back as a Control with no envelope.
func TranslateTrading(frame []byte) (*market.Envelope, Control, error) {
	var f tradingFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return nil, ControlNone, fmt.Errorf("decode trading frame: %w", err)
	}
	switch f.Stream {
	case "authorization":
		var auth struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(f.Data, &auth); err != nil {
			return nil, ControlNone, fmt.Errorf("decode authorization: %w", err)
		}
		if strings.EqualFold(auth.Status, "authorized") {
			return nil, ControlAuthenticated, nil
		}
		return nil, ControlError, nil
	case "listening":
		return nil, ControlSubscribed, nil
	case "trade_updates":
		var upd struct {
			Event string          `json:"event"`
			Order json.RawMessage `json:"order"`
		}
		if err := json.Unmarshal(f.Data, &upd); err != nil {
			return nil, ControlNone, fmt.Errorf("decode trade update: %w", err)
		}
		env := envelope(market.TypeOrderUpdate, map[string]any{"event": upd.Event, "order": upd.Order})
		return &env, ControlNone, nil
	}
	return nil, ControlNone, nil
}

func envelope(kind string, data any) market.Envelope {
	raw, _ := json.Marshal(data)
	return market.Envelope{Type: kind, Data: raw}
}
