package strategy

import (
	"encoding/json"
	"sort"
	"time"

	"daytrading-core/pkg/errs"
)

type factory func(raw json.RawMessage, loc *time.Location) (Strategy, error)

var factories = map[string]factory{
	KindSMA: func(raw json.RawMessage, _ *time.Location) (Strategy, error) {
		cfg := DefaultSMAConfig()
		if err := decodeInto(raw, &cfg); err != nil {
			return nil, err
		}
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		return NewSMA(cfg), nil
	},
	KindEnhancedSMA: func(raw json.RawMessage, loc *time.Location) (Strategy, error) {
		cfg := DefaultEnhancedSMAConfig()
		if err := decodeInto(raw, &cfg); err != nil {
			return nil, err
		}
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		return NewEnhancedSMA(cfg, loc), nil
	},
}

func decodeInto(raw json.RawMessage, target any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return errs.Invalid("config", "decode: %v", err)
	}
	return nil
}

// Registry builds strategies from the closed set of known kinds.
type Registry struct {
	loc *time.Location
}

// NewRegistry returns a registry whose time filters evaluate in loc.
func NewRegistry(loc *time.Location) *Registry {
	if loc == nil {
		loc = time.UTC
	}
	return &Registry{loc: loc}
}

// Build instantiates kind with raw merged over its defaults.
func (r *Registry) Build(kind string, raw json.RawMessage) (Strategy, error) {
	f, ok := factories[kind]
	if !ok {
		return nil, errs.Invalid("kind", "unknown strategy kind %q", kind)
	}
	return f(raw, r.loc)
}

// Kinds lists the registered strategy kinds.
func Kinds() []string {
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
