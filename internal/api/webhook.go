package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"daytrading-core/internal/events"
	"daytrading-core/internal/market"
	"daytrading-core/internal/order"
	"daytrading-core/pkg/errs"
	"daytrading-core/pkg/logger"
	"daytrading-core/pkg/signing"
)

const maxWebhookBody = 1 << 20

// streamWebhook verifies the HMAC over the raw body and dispatches the
// envelope. Unknown types and unknown orders are acknowledged with 200.
func (s *Server) streamWebhook(c *gin.Context) {
	ctx, span := logger.StartSpan(c.Request.Context(), "api.stream_webhook")
	defer span.End()
	log := logger.Ctx(ctx, s.log)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "could not read body")
		return
	}
	if err := signing.Verify(body, c.GetHeader(signing.Header), s.webhookSecret); err != nil {
		log.Warn("webhook rejected", zap.Error(err), zap.String("client_ip", c.ClientIP()))
		s.bus.Publish(events.EventWebhookRejected, err.Error())
		respondError(c, http.StatusForbidden, "INVALID_SIGNATURE", "Invalid signature")
		return
	}

	var env market.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "body is not a stream envelope")
		return
	}
	kind := env.Kind()
	span.SetAttributes(attribute.String("type", kind))

	if err := s.dispatch(ctx, kind, env.Data); err != nil {
		switch {
		case errs.IsNotFound(err):
			log.Warn("order update for unknown order dropped", zap.Error(err))
		case errs.IsValidation(err):
			log.Warn("invalid stream payload", zap.String("type", kind), zap.Error(err))
			respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
			return
		default:
			logger.RecordError(ctx, err)
			log.Error("stream processing failed", zap.String("type", kind), zap.Error(err))
			respondError(c, http.StatusInternalServerError, "PROCESSING_FAILED", "Processing failed")
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "type": kind})
}

func (s *Server) dispatch(ctx context.Context, kind string, data json.RawMessage) error {
	switch kind {
	case market.TypeBar:
		var bar market.Bar
		if err := decodeData(data, &bar); err != nil {
			return err
		}
		if err := bar.Validate(); err != nil {
			return err
		}
		s.prices.Set(bar.Symbol, bar.Close)
		_, err := s.bars.ProcessBar(ctx, bar)
		return err
	case market.TypeQuote:
		var q market.Quote
		if err := decodeData(data, &q); err != nil {
			return err
		}
		if err := q.Validate(); err != nil {
			return err
		}
		s.prices.SetQuote(q.Symbol, q.Bid, q.Ask)
		return nil
	case market.TypeTrade:
		var t market.Trade
		if err := decodeData(data, &t); err != nil {
			return err
		}
		if err := t.Validate(); err != nil {
			return err
		}
		if t.Price > 0 {
			s.prices.Set(t.Symbol, t.Price)
		}
		return nil
	case market.TypeOrderUpdate:
		u, err := order.ParseUpdate(data)
		if err != nil {
			return err
		}
		_, err = s.updates.Apply(ctx, u)
		return err
	default:
		s.log.Info("unhandled stream event type", zap.String("type", kind))
		return nil
	}
}

func decodeData(data json.RawMessage, target any) error {
	if len(data) == 0 {
		return errs.Invalid("data", "is required")
	}
	if err := json.Unmarshal(data, target); err != nil {
		return errs.Invalid("data", "decode: %v", err)
	}
	return nil
}
