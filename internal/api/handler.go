// Package api serves the stream webhook ingress and the operator control API.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"daytrading-core/internal/engine"
	"daytrading-core/internal/events"
	"daytrading-core/internal/market"
	"daytrading-core/internal/monitor"
	"daytrading-core/internal/order"
	"daytrading-core/pkg/db"
	"daytrading-core/pkg/logger"
)

const requestTimeout = 30 * time.Second

// BarProcessor evaluates an ingested bar against the active runs.
type BarProcessor interface {
	ProcessBar(ctx context.Context, bar market.Bar) (int, error)
}

// UpdateApplier applies broker order updates to the local books.
type UpdateApplier interface {
	Apply(ctx context.Context, u order.Update) (*db.Order, error)
}

// PriceSink records the latest quote and trade prices.
type PriceSink interface {
	Set(symbol string, price float64)
	SetQuote(symbol string, bid, ask float64)
}

// Config collects the Server's collaborators.
type Config struct {
	Service       *engine.Service
	Bars          BarProcessor
	Updates       UpdateApplier
	Prices        PriceSink
	Metrics       *monitor.SystemMetrics
	Bus           *events.Bus
	WebhookSecret string
	JWTSecret     string
}

// Server wires HTTP endpoints around the engine.
type Server struct {
	Router *gin.Engine

	service       *engine.Service
	bars          BarProcessor
	updates       UpdateApplier
	prices        PriceSink
	metrics       *monitor.SystemMetrics
	bus           *events.Bus
	webhookSecret string
	jwtSecret     string
	log           *zap.Logger
}

func NewServer(cfg Config) *Server {
	r := gin.New()

	// Middleware order matters: recovery first, logging after the ID is set.
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware(newIPLimiters(20, 50)))
	r.Use(TimeoutMiddleware(requestTimeout))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:        r,
		service:       cfg.Service,
		bars:          cfg.Bars,
		updates:       cfg.Updates,
		prices:        cfg.Prices,
		metrics:       cfg.Metrics,
		bus:           cfg.Bus,
		webhookSecret: cfg.WebhookSecret,
		jwtSecret:     cfg.JWTSecret,
		log:           logger.Named("api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api")
	{
		api.POST("/stream/alpaca", s.streamWebhook)
		api.GET("/metrics", s.getMetrics)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.jwtSecret))
		{
			protected.GET("/account", s.getAccount)
			protected.GET("/positions", s.getPositions)
			protected.GET("/orders", s.getOrders)
			protected.GET("/fills", s.getFills)
			protected.GET("/analytics/daily-pnl", s.getDailyPnL)
			protected.GET("/pnl/today", s.getTodayPnL)
			protected.GET("/decisions", s.getDecisions)

			protected.GET("/strategies", s.getStrategies)
			protected.GET("/strategies/:id", s.getStrategy)
			protected.PUT("/strategies/:id/config", s.updateStrategyConfig)
			protected.POST("/strategies/:id/start", s.startStrategy)
			protected.POST("/strategies/:id/stop", s.stopStrategy)
			protected.POST("/panic", s.panicButton)

			protected.GET("/risk-limits/:mode", s.getRiskLimit)
			protected.PUT("/risk-limits/:mode", s.putRiskLimit)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": s.service.Mode()})
}

// Handler exposes the router for http.Server.
func (s *Server) Handler() http.Handler {
	return s.Router
}
