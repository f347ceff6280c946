// Command streamer relays the broker's market data and trade update
// streams to the trading core's signed webhook.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"daytrading-core/internal/feed"
	"daytrading-core/internal/market"
	"daytrading-core/pkg/config"
	"daytrading-core/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var mock bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:           "streamer",
		Short:         "Relay market data and order updates to the trading core webhook",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(mock, interval)
		},
	}
	cmd.Flags().BoolVar(&mock, "mock", os.Getenv("STREAM_MOCK") == "true", "Post random-walk bars instead of connecting to the broker")
	cmd.Flags().DurationVar(&interval, "mock-interval", 5*time.Second, "Bar interval in mock mode")
	return cmd
}

func run(mock bool, interval time.Duration) error {
	if err := logger.Init(logger.LoadConfigFromEnv()); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Shutdown(context.Background()) }()
	log := logger.Named("streamer")

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poster := feed.NewPoster(cfg.StreamWebhookURL, cfg.WebhookSecret, 10*time.Second)
	log.Info("streamer starting",
		zap.String("webhook", cfg.StreamWebhookURL),
		zap.Strings("symbols", cfg.Symbols),
		zap.Bool("mock", mock),
	)

	if mock || cfg.AlpacaKeyID == "" || cfg.AlpacaSecret == "" {
		if !mock {
			log.Warn("no broker credentials; falling back to mock bars")
		}
		feed.RunMock(ctx, &market.MockFeed{Symbols: cfg.Symbols, Step: 0.5, Interval: interval}, poster)
		return nil
	}

	creds := feed.Credentials{KeyID: cfg.AlpacaKeyID, Secret: cfg.AlpacaSecret}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		(&feed.DataStream{URL: cfg.AlpacaDataWS, Creds: creds, Symbols: cfg.Symbols, Sink: poster}).Run(ctx)
	}()
	go func() {
		defer wg.Done()
		(&feed.TradingStream{URL: cfg.AlpacaTradingWS, Creds: creds, Sink: poster}).Run(ctx)
	}()
	wg.Wait()
	log.Info("streamer stopped")
	return nil
}
