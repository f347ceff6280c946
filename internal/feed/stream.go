package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"daytrading-core/internal/market"
	"daytrading-core/pkg/logger"
)

const (
	ReconnectDelay = 5 * time.Second
	readTimeout    = 90 * time.Second
)

// Sink receives translated envelopes; *Poster implements it.
type Sink interface {
	Post(ctx context.Context, env market.Envelope) error
}

// Credentials authenticate a stream session.
type Credentials struct {
	KeyID  string
	Secret string
}

type authMessage struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

// DataStream relays bars, quotes and trades for Symbols.
type DataStream struct {
	URL     string
	Creds   Credentials
	Symbols []string
	Sink    Sink
	Delay   time.Duration
}

// TradingStream relays trade_updates as order_update envelopes.
type TradingStream struct {
	URL   string
	Creds Credentials
	Sink  Sink
	Delay time.Duration
}

// Run keeps a data session open, reconnecting after Delay, until ctx is done.
func (d *DataStream) Run(ctx context.Context) {
	runLoop(ctx, "data", d.Delay, d.session)
}

func (t *TradingStream) Run(ctx context.Context) {
	runLoop(ctx, "trading", t.Delay, t.session)
}

func runLoop(ctx context.Context, name string, delay time.Duration, session func(context.Context) error) {
	log := logger.Named("feed." + name)
	if delay <= 0 {
		delay = ReconnectDelay
	}
	for {
		err := session(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Warn("stream disconnected; reconnecting", zap.Error(err), zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// dial connects and closes the socket when ctx ends so blocked reads return.
func dial(ctx context.Context, url string) (*websocket.Conn, func(), error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", url, err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	return conn, func() { close(done); _ = conn.Close() }, nil
}

func (d *DataStream) session(ctx context.Context) error {
	log := logger.Named("feed.data")
	conn, closeFn, err := dial(ctx, d.URL)
	if err != nil {
		return err
	}
	defer closeFn()
	log.Info("data stream connected", zap.String("url", d.URL))

	if err := conn.WriteJSON(authMessage{Action: "auth", Key: d.Creds.KeyID, Secret: d.Creds.Secret}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		out, err := TranslateData(frame)
		if err != nil {
			log.Warn("unreadable data frame", zap.Error(err))
			continue
		}
		switch out.Control {
		case ControlAuthenticated:
			log.Info("data stream authenticated; subscribing", zap.Strings("symbols", d.Symbols))
			sub := map[string]any{"action": "subscribe", "bars": d.Symbols, "quotes": d.Symbols, "trades": d.Symbols}
			if err := conn.WriteJSON(sub); err != nil {
				return fmt.Errorf("send subscribe: %w", err)
			}
		case ControlSubscribed:
			log.Info("data stream subscriptions confirmed")
		case ControlError:
			log.Error("data stream error", zap.String("error", out.Err))
		}
		for _, env := range out.Envelopes {
			if err := d.Sink.Post(ctx, env); err != nil {
				log.Error("webhook delivery failed", zap.String("type", env.Kind()), zap.Error(err))
			}
		}
	}
}

func (t *TradingStream) session(ctx context.Context) error {
	log := logger.Named("feed.trading")
	conn, closeFn, err := dial(ctx, t.URL)
	if err != nil {
		return err
	}
	defer closeFn()
	log.Info("trading stream connected", zap.String("url", t.URL))

	if err := conn.WriteJSON(authMessage{Action: "auth", Key: t.Creds.KeyID, Secret: t.Creds.Secret}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		env, ctl, err := TranslateTrading(frame)
		if err != nil {
			log.Warn("unreadable trading frame", zap.Error(err))
			continue
		}
		switch ctl {
		case ControlAuthenticated:
			listen := map[string]any{"action": "listen", "data": map[string]any{"streams": []string{"trade_updates"}}}
			if err := conn.WriteJSON(listen); err != nil {
				return fmt.Errorf("send listen: %w", err)
			}
		case ControlSubscribed:
			log.Info("listening to trade_updates")
		case ControlError:
			return errors.New("trading stream authorization failed")
		}
		if env != nil {
			if err := t.Sink.Post(ctx, *env); err != nil {
				log.Error("webhook delivery failed", zap.String("type", env.Kind()), zap.Error(err))
			}
		}
	}
}

// RunMock posts random-walk bars from feed until ctx is done.
func RunMock(ctx context.Context, feed *market.MockFeed, sink Sink) {
	log := logger.Named("feed.mock")
	log.Info("mock feed started", zap.Strings("symbols", feed.Symbols))
	feed.Run(ctx, func(b market.Bar) {
		if err := sink.Post(ctx, envelope(market.TypeBar, b)); err != nil {
			log.Error("webhook delivery failed", zap.Error(err))
		}
	})
}
