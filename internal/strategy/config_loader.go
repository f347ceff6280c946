package strategy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"daytrading-core/pkg/db"
	"daytrading-core/pkg/errs"
)

// Config represents a strategy configuration entry in YAML.
type Config struct {
	Name    string         `yaml:"name"`
	Kind    string         `yaml:"kind"`
	Enabled bool           `yaml:"enabled"`
	Params  map[string]any `yaml:"config"`
}

// RiskLimitConfig seeds the risk_limits row for one mode.
type RiskLimitConfig struct {
	Mode            string  `yaml:"mode"`
	DailyMaxLoss    float64 `yaml:"daily_max_loss"`
	MaxPositionQty  float64 `yaml:"max_position_qty"`
	MaxOrdersPerMin int     `yaml:"max_orders_per_min"`
}

// ConfigFile represents the top-level YAML structure.
type ConfigFile struct {
	Strategies []Config          `yaml:"strategies"`
	RiskLimits []RiskLimitConfig `yaml:"risk_limits"`
}

// LoadConfig reads strategies and risk limits from a YAML file.
func LoadConfig(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes and validates a seed document.
func ParseConfig(data []byte) (*ConfigFile, error) {
	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse strategies yaml: %w", err)
	}
	for i, s := range file.Strategies {
		if s.Name == "" {
			return nil, errs.Invalid(fmt.Sprintf("strategies[%d].name", i), "is required")
		}
	}
	for i, r := range file.RiskLimits {
		if r.Mode != "paper" && r.Mode != "live" {
			return nil, errs.Invalid(fmt.Sprintf("risk_limits[%d].mode", i), "must be paper or live, got %q", r.Mode)
		}
		if r.DailyMaxLoss < 0 || r.MaxPositionQty < 0 || r.MaxOrdersPerMin < 0 {
			return nil, errs.Invalid(fmt.Sprintf("risk_limits[%d]", i), "limits must be >= 0")
		}
	}
	return &file, nil
}

// SyncConfigToDB upserts strategies and risk limits in one transaction.
// Each strategy config is merged over its kind's defaults before it is stored.
func SyncConfigToDB(ctx context.Context, database *db.Database, file *ConfigFile) error {
	rows := make([]db.Strategy, 0, len(file.Strategies))
	for _, cfg := range file.Strategies {
		raw, err := json.Marshal(cfg.Params)
		if err != nil {
			return fmt.Errorf("failed to marshal config for strategy %s: %w", cfg.Name, err)
		}
		if cfg.Params == nil {
			raw = nil
		}
		symbol, normalized, err := DecodeConfig(cfg.Kind, raw)
		if err != nil {
			return fmt.Errorf("strategy %s: %w", cfg.Name, err)
		}
		rows = append(rows, db.Strategy{
			Name:      cfg.Name,
			Kind:      cfg.Kind,
			Symbol:    symbol,
			Config:    normalized,
			IsEnabled: cfg.Enabled,
		})
	}

	return database.WithTx(ctx, func(tx *sql.Tx) error {
		for i := range rows {
			if err := database.UpsertStrategyByName(ctx, tx, &rows[i]); err != nil {
				return err
			}
		}
		for _, r := range file.RiskLimits {
			limit := db.RiskLimit{
				Mode:            r.Mode,
				DailyMaxLoss:    r.DailyMaxLoss,
				MaxPositionQty:  r.MaxPositionQty,
				MaxOrdersPerMin: r.MaxOrdersPerMin,
			}
			if err := database.UpsertRiskLimitTx(ctx, tx, &limit); err != nil {
				return err
			}
		}
		return nil
	})
}
