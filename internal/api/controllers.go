package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"daytrading-core/internal/engine"
	"daytrading-core/pkg/db"
	"daytrading-core/pkg/errs"
	"daytrading-core/pkg/logger"
)

type limitQuery struct {
	Limit int `form:"limit"`
}

type daysQuery struct {
	Days int `form:"days"`
}

type decisionsQuery struct {
	RunID *int64 `form:"run_id"`
	Limit int    `form:"limit"`
}

type panicRequest struct {
	RunID *int64 `json:"run_id"`
}

type riskLimitRequest struct {
	DailyMaxLoss    float64 `json:"daily_max_loss"`
	MaxPositionQty  float64 `json:"max_position_qty"`
	MaxOrdersPerMin int     `json:"max_orders_per_min"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondErr maps the error taxonomy onto HTTP statuses.
func (s *Server) respondErr(c *gin.Context, err error) {
	var status int
	var code string
	switch {
	case errs.IsValidation(err):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	case errs.IsNotFound(err):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errs.IsSignature(err):
		status, code = http.StatusForbidden, "INVALID_SIGNATURE"
	case errs.IsBroker(err):
		status, code = http.StatusBadGateway, "BROKER_ERROR"
	default:
		status, code = http.StatusInternalServerError, "INTERNAL_ERROR"
	}
	if status >= http.StatusInternalServerError {
		logger.Ctx(c.Request.Context(), s.log).Error("request failed",
			zap.String("path", c.FullPath()), zap.Error(err))
	}
	respondError(c, status, code, err.Error())
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(c, http.StatusBadRequest, "INVALID_ID", "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func bindQuery(c *gin.Context, target any) bool {
	if err := c.ShouldBindQuery(target); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return false
	}
	return true
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_DISABLED", "metrics not configured")
		return
	}
	c.JSON(http.StatusOK, s.metrics.GetSnapshot())
}

func (s *Server) getAccount(c *gin.Context) {
	acct, err := s.service.Account(c.Request.Context())
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, acct)
}

func (s *Server) getPositions(c *gin.Context) {
	positions, err := s.service.Positions(c.Request.Context())
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(positions))
}

func (s *Server) getOrders(c *gin.Context) {
	var q limitQuery
	if !bindQuery(c, &q) {
		return
	}
	orders, err := s.service.Orders(c.Request.Context(), q.Limit)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(orders))
}

func (s *Server) getFills(c *gin.Context) {
	var q limitQuery
	if !bindQuery(c, &q) {
		return
	}
	fills, err := s.service.Fills(c.Request.Context(), q.Limit)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(fills))
}

func (s *Server) getDailyPnL(c *gin.Context) {
	var q daysQuery
	if !bindQuery(c, &q) {
		return
	}
	series, err := s.service.DailyPnL(c.Request.Context(), q.Days)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, series)
}

func (s *Server) getTodayPnL(c *gin.Context) {
	pnl, err := s.service.TodayPnL(c.Request.Context())
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pnl": pnl, "mode": s.service.Mode()})
}

func (s *Server) getDecisions(c *gin.Context) {
	var q decisionsQuery
	if !bindQuery(c, &q) {
		return
	}
	logs, err := s.service.Decisions(c.Request.Context(), q.RunID, q.Limit)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(logs))
}

func (s *Server) getStrategies(c *gin.Context) {
	list, err := s.service.ListStrategies(c.Request.Context())
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getStrategy(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	view, err := s.service.GetStrategy(c.Request.Context(), id)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) updateStrategyConfig(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req engine.ConfigUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	st, err := s.service.UpdateConfig(c.Request.Context(), id, req)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) startStrategy(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	run, err := s.service.StartRun(c.Request.Context(), id)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	s.log.Info("strategy started via api", zap.Int64("strategy_id", id), zap.String("operator", operatorFrom(c)))
	c.JSON(http.StatusOK, gin.H{"message": "Strategy started", "run": run})
}

func (s *Server) stopStrategy(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	ids, err := s.service.StopRun(c.Request.Context(), id)
	if err != nil {
		s.respondErr(c, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	s.log.Info("strategy stopped via api", zap.Int64("strategy_id", id), zap.String("operator", operatorFrom(c)))
	c.JSON(http.StatusOK, gin.H{"message": "Strategy stopped", "count": len(ids), "run_ids": ids})
}

// panicButton never fails: partial failures are reported inside the results.
func (s *Server) panicButton(c *gin.Context) {
	var req panicRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	s.log.Warn("panic requested", zap.String("operator", operatorFrom(c)))
	report := s.service.Panic(c.Request.Context(), req.RunID)
	c.JSON(http.StatusOK, gin.H{"message": "Panic executed", "results": report})
}

func (s *Server) getRiskLimit(c *gin.Context) {
	limit, err := s.service.RiskLimit(c.Request.Context(), c.Param("mode"))
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, limit)
}

func (s *Server) putRiskLimit(c *gin.Context) {
	var req riskLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", err.Error())
		return
	}
	limit, err := s.service.PutRiskLimit(c.Request.Context(), db.RiskLimit{
		Mode:            c.Param("mode"),
		DailyMaxLoss:    req.DailyMaxLoss,
		MaxPositionQty:  req.MaxPositionQty,
		MaxOrdersPerMin: req.MaxOrdersPerMin,
	})
	if err != nil {
		s.respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, limit)
}

// nonNil keeps empty lists serialized as [] rather than null.
func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
