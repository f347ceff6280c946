package market

import "encoding/json"

// Stream event types carried in an Envelope.
const (
	TypeBar         = "bar"
	TypeQuote       = "quote"
	TypeTrade       = "trade"
	TypeOrderUpdate = "order_update"
)

// Envelope is the webhook delivery format shared by the streamer and the
// ingress: {"type": ..., "data": {...}}.
type Envelope struct {
	Type      string          `json:"type,omitempty"`
	EventType string          `json:"event_type,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Kind returns the discriminator, preferring type over event_type.
func (e Envelope) Kind() string {
	if e.Type != "" {
		return e.Type
	}
	return e.EventType
}
