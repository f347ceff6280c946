package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"go.uber.org/zap"

	"daytrading-core/internal/api"
	"daytrading-core/internal/balance"
	"daytrading-core/internal/data"
	"daytrading-core/internal/engine"
	"daytrading-core/internal/events"
	"daytrading-core/internal/monitor"
	"daytrading-core/internal/order"
	"daytrading-core/internal/reconciliation"
	"daytrading-core/internal/risk"
	"daytrading-core/internal/state"
	"daytrading-core/internal/strategy"
	"daytrading-core/pkg/broker"
	"daytrading-core/pkg/cache"
	"daytrading-core/pkg/config"
	"daytrading-core/pkg/db"
	"daytrading-core/pkg/logger"
)

// simCash seeds the in-process broker used when no credentials are set.
const simCash = 100000

func main() {
	if err := logger.Init(logger.LoadConfigFromEnv()); err != nil {
		panic(err)
	}
	log := logger.Named("main")
	defer func() { _ = logger.Shutdown(context.Background()) }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}
	loc := cfg.Location()
	log.Info("starting trading core",
		zap.String("mode", cfg.Mode),
		zap.String("port", cfg.Port),
		zap.String("db", cfg.DBPath),
		zap.String("market_tz", loc.String()),
	)

	if cfg.PyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "daytrading-core",
			ServerAddress:   cfg.PyroscopeAddr,
			Tags:            map[string]string{"mode": cfg.Mode, "node": logger.NodeID()},
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Warn("profiling disabled", zap.Error(err))
		} else {
			defer func() { _ = profiler.Stop() }()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatal("database open failed", zap.Error(err))
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatal("migrations failed", zap.Error(err))
	}

	if seed, err := strategy.LoadConfig(cfg.StrategiesFile); err != nil {
		log.Warn("strategy seed file not loaded", zap.String("path", cfg.StrategiesFile), zap.Error(err))
	} else if err := strategy.SyncConfigToDB(ctx, database, seed); err != nil {
		log.Fatal("strategy seed sync failed", zap.Error(err))
	} else {
		log.Info("strategy seed synced", zap.Int("strategies", len(seed.Strategies)), zap.Int("risk_limits", len(seed.RiskLimits)))
	}

	bus := events.NewBus()
	prices := cache.NewShardedPriceCache()
	positions := state.NewManager(database, prices)

	var adapter broker.Adapter
	if cfg.AlpacaKeyID == "" || cfg.AlpacaSecret == "" {
		log.Warn("no broker credentials; using the simulated broker")
		adapter = broker.NewSim(simCash, prices.Get)
	} else {
		adapter = broker.NewAlpaca(broker.Config{
			KeyID:   cfg.AlpacaKeyID,
			Secret:  cfg.AlpacaSecret,
			BaseURL: cfg.AlpacaBaseURL,
			Timeout: cfg.BrokerTimeout,
			RPS:     cfg.BrokerRPS,
			Burst:   cfg.BrokerBurst,
		})
	}

	// Order path: guard -> executor -> async pool; fills go through the update handler.
	guard := risk.NewGuard(database, cache.NewShardedCounter())
	updates := order.NewUpdateHandler(database, positions, bus, cfg.Mode)
	executor := order.NewExecutor(database, adapter, guard, positions, updates, bus, loc)
	async := order.NewAsyncExecutor(order.NewQueue(cfg.OrderQueueSize), executor, order.AsyncConfig{
		Workers:     cfg.ExecutorWorkers,
		MaxAttempts: cfg.OrderMaxAttempts,
		Backoff:     cfg.OrderRetryBackoff,
	})
	async.Start(ctx)

	balances := balance.NewManager(adapter, cfg.AccountSyncInterval)
	balances.Start(ctx)

	var warmer engine.Warmer
	if cfg.WarmupBars > 0 && cfg.AlpacaKeyID != "" {
		warmer = data.NewHistoricalDataService(data.Config{
			BaseURL: cfg.AlpacaDataURL,
			KeyID:   cfg.AlpacaKeyID,
			Secret:  cfg.AlpacaSecret,
			Timeout: cfg.BrokerTimeout,
			RPS:     cfg.BrokerRPS,
			Burst:   cfg.BrokerBurst,
		})
	}

	runner := engine.NewRunner(engine.RunnerConfig{
		DB:        database,
		Registry:  strategy.NewRegistry(loc),
		Positions: positions,
		Orders:    async,
		Balance:   balances,
		Warmer:    warmer,
		WarmBars:  cfg.WarmupBars,
		Bus:       bus,
	})
	service := engine.NewService(engine.ServiceConfig{
		DB:        database,
		Adapter:   adapter,
		Positions: positions,
		Runner:    runner,
		Panic:     risk.NewPanicService(adapter, database),
		Bus:       bus,
		Mode:      cfg.Mode,
		Location:  loc,
	})

	metrics := monitor.NewSystemMetrics()
	monitorDone := monitor.New(bus, metrics, monitor.LogSink{Log: logger.Named("alert")}).Start(ctx)

	reconciliation.NewService(reconciliation.Config{
		Broker:    adapter,
		Positions: positions,
		DB:        database,
		Bus:       bus,
		Mode:      cfg.Mode,
		Interval:  cfg.ReconcileInterval,
		AutoSync:  cfg.ReconcileAutoSync,
	}).Start(ctx)

	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET not set; control API is unauthenticated")
	}
	server := api.NewServer(api.Config{
		Service:       service,
		Bars:          runner,
		Updates:       updates,
		Prices:        prices,
		Metrics:       metrics,
		Bus:           bus,
		WebhookSecret: cfg.WebhookSecret,
		JWTSecret:     cfg.JWTSecret,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("api listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("api shutdown", zap.Error(err))
	}
	async.Close()
	monitorDone.Wait()
	log.Info("stopped")
}
