package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"daytrading-core/internal/market"
	"daytrading-core/pkg/logger"
	"daytrading-core/pkg/signing"
)

// Poster delivers envelopes to the webhook, signing the exact bytes sent.
type Poster struct {
	url    string
	secret string
	client *http.Client
	log    *zap.Logger
}

func NewPoster(url, secret string, timeout time.Duration) *Poster {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Poster{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
		log:    logger.Named("feed.poster"),
	}
}

// Post sends env and fails on any non-2xx response.
func (p *Poster) Post(ctx context.Context, env market.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signing.Header, signing.Sign(body, p.secret))

	res, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", env.Kind(), err)
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("post %s: status %d: %s", env.Kind(), res.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, res.Body)
	p.log.Debug("envelope posted", zap.String("type", env.Kind()))
	return nil
}
