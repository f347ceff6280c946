package config

import (
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"daytrading-core/pkg/errs"
)

// Config holds environment-driven settings for the trading core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Trading mode: "paper" or "live". Selects risk limits and position rows.
	Mode string

	// Exchange time zone for trading-hours windows and the P&L day boundary.
	MarketTZ string

	// Webhook ingress
	WebhookSecret string

	// Broker (Alpaca)
	AlpacaKeyID   string
	AlpacaSecret  string
	AlpacaBaseURL string
	BrokerTimeout time.Duration
	BrokerRPS     float64
	BrokerBurst   int

	// Historical bars used to warm up freshly built strategies; 0 disables.
	AlpacaDataURL string
	WarmupBars    int

	// Streamer
	AlpacaDataWS     string
	AlpacaTradingWS  string
	StreamWebhookURL string
	Symbols          []string

	// Execution
	ExecutorWorkers   int
	OrderQueueSize    int
	OrderMaxAttempts  int
	OrderRetryBackoff time.Duration

	// Strategies seed file
	StrategiesFile string

	// Background sync
	AccountSyncInterval time.Duration
	ReconcileInterval   time.Duration
	ReconcileAutoSync   bool

	// Control API auth; empty disables it.
	JWTSecret string

	// Profiling
	PyroscopeAddr string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	mode := strings.ToLower(getEnv("TRADING_MODE", "paper"))
	defaultBase := "https://paper-api.alpaca.markets"
	if mode == "live" {
		defaultBase = "https://api.alpaca.markets"
	}

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		DBPath:              getEnv("DB_PATH", "./data/trading.db"),
		Mode:                mode,
		MarketTZ:            getEnv("MARKET_TZ", "America/New_York"),
		WebhookSecret:       os.Getenv("STREAM_WEBHOOK_SECRET"),
		AlpacaKeyID:         os.Getenv("ALPACA_KEY_ID"),
		AlpacaSecret:        os.Getenv("ALPACA_SECRET"),
		AlpacaBaseURL:       strings.TrimRight(getEnv("ALPACA_BASE_URL", defaultBase), "/"),
		BrokerTimeout:       getEnvDuration("BROKER_TIMEOUT", 15*time.Second),
		BrokerRPS:           getEnvFloat("BROKER_RPS", 3),
		BrokerBurst:         getEnvInt("BROKER_BURST", 5),
		AlpacaDataURL:       strings.TrimRight(getEnv("ALPACA_DATA_URL", "https://data.alpaca.markets"), "/"),
		WarmupBars:          getEnvInt("WARMUP_BARS", 50),
		AlpacaDataWS:        getEnv("ALPACA_DATA_WS", "wss://stream.data.alpaca.markets/v2/iex"),
		AlpacaTradingWS:     getEnv("ALPACA_TRADING_WS", "wss://paper-api.alpaca.markets/stream"),
		StreamWebhookURL:    getEnv("STREAM_WEBHOOK_URL", "http://localhost:8080/api/stream/alpaca"),
		Symbols:             splitAndTrim(getEnv("SYMBOLS", "AAPL,MSFT,SPY")),
		ExecutorWorkers:     getEnvInt("EXECUTOR_WORKERS", 4),
		OrderQueueSize:      getEnvInt("ORDER_QUEUE_SIZE", 256),
		OrderMaxAttempts:    getEnvInt("ORDER_MAX_ATTEMPTS", 3),
		OrderRetryBackoff:   getEnvDuration("ORDER_RETRY_BACKOFF", 2*time.Second),
		StrategiesFile:      getEnv("STRATEGIES_FILE", "./strategies.yaml"),
		AccountSyncInterval: getEnvDuration("ACCOUNT_SYNC_INTERVAL", time.Minute),
		ReconcileInterval:   getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute),
		ReconcileAutoSync:   getEnv("RECONCILE_AUTO_SYNC", "false") == "true",
		JWTSecret:           os.Getenv("JWT_SECRET"),
		PyroscopeAddr:       os.Getenv("PYROSCOPE_SERVER_ADDRESS"),
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Mode != "paper" && c.Mode != "live" {
		return errs.Invalid("TRADING_MODE", "must be paper or live, got %q", c.Mode)
	}
	if _, err := time.LoadLocation(c.MarketTZ); err != nil {
		return errs.Invalid("MARKET_TZ", "unknown time zone %q", c.MarketTZ)
	}
	if c.WebhookSecret == "" {
		return errs.Invalid("STREAM_WEBHOOK_SECRET", "is required")
	}
	if c.BrokerTimeout <= 0 {
		return errs.Invalid("BROKER_TIMEOUT", "must be > 0")
	}
	if c.ExecutorWorkers <= 0 {
		return errs.Invalid("EXECUTOR_WORKERS", "must be > 0")
	}
	if c.WarmupBars < 0 {
		return errs.Invalid("WARMUP_BARS", "must be >= 0")
	}
	if c.OrderMaxAttempts <= 0 {
		return errs.Invalid("ORDER_MAX_ATTEMPTS", "must be > 0")
	}
	return nil
}

// Location is the parsed MarketTZ. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.MarketTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, strings.ToUpper(t))
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
