// Package api is the HTTP surface for status and manual control.
package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"funding-arb/internal/strategy"
)

// Engine is the part of the strategy engine exposed over HTTP.
type Engine interface {
	Snapshot() strategy.Snapshot
	ClosedPositions() []strategy.Position
	Rebalances() []strategy.RebalanceEvent
	TriggerRebalance(ctx context.Context) (*strategy.RebalanceEvent, error)
	ClosePosition(ctx context.Context, id string) (*strategy.Position, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type Server struct {
	R      *gin.Engine
	engine Engine
	log    zerolog.Logger
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewServer wires the router and request logging.
func NewServer(engine Engine) *Server {
	g := gin.New()
	s := &Server{
		R:      g,
		engine: engine,
		log:    log.With().Str("component", "api").Logger(),
	}

	g.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Str("ip", c.ClientIP()).
			Dur("latency", time.Since(start)).
			Msg("http_request")
	})
	g.Use(gin.Recovery())

	g.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	api := g.Group("/api")
	api.GET("/status", s.getStatus)
	api.GET("/positions/closed", s.getClosed)
	api.GET("/rebalances", s.getRebalances)
	api.POST("/rebalance", s.postRebalance)
	api.POST("/positions/:id/close", s.postClose)
	api.POST("/strategy/start", s.postStart)
	api.POST("/strategy/stop", s.postStop)

	return s
}

func (s *Server) internalError(c *gin.Context, where string, err error) {
	s.log.Error().Str("where", where).Err(err).Msg("internal_error")
	c.JSON(http.StatusInternalServerError, apiError{Code: "internal_server_error", Message: err.Error()})
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Snapshot())
}

func (s *Server) getClosed(c *gin.Context) {
	rows := s.engine.ClosedPositions()
	if rows == nil {
		rows = []strategy.Position{}
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) getRebalances(c *gin.Context) {
	rows := s.engine.Rebalances()
	if rows == nil {
		rows = []strategy.RebalanceEvent{}
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) postRebalance(c *gin.Context) {
	ev, err := s.engine.TriggerRebalance(c.Request.Context())
	if err == nil {
		c.JSON(http.StatusOK, ev)
		return
	}

	var cooldown *strategy.CooldownError
	var readiness *strategy.ReadinessError
	switch {
	case errors.As(err, &cooldown):
		secs := int(math.Ceil(cooldown.Remaining.Seconds()))
		c.Header("Retry-After", fmt.Sprint(secs))
		c.JSON(http.StatusTooManyRequests, apiError{Code: "cooldown", Message: err.Error(), Details: gin.H{"remaining_seconds": secs}})
	case errors.Is(err, strategy.ErrRebalanceInProgress):
		c.JSON(http.StatusConflict, apiError{Code: "in_progress", Message: err.Error()})
	case errors.Is(err, strategy.ErrStopped):
		c.JSON(http.StatusConflict, apiError{Code: "stopped", Message: err.Error()})
	case errors.As(err, &readiness):
		c.JSON(http.StatusPreconditionFailed, apiError{Code: "not_ready", Message: err.Error(), Details: readiness.Issues})
	default:
		s.internalError(c, "TriggerRebalance", err)
	}
}

func (s *Server) postClose(c *gin.Context) {
	p, err := s.engine.ClosePosition(c.Request.Context(), c.Param("id"))
	if errors.Is(err, strategy.ErrPositionNotFound) {
		c.JSON(http.StatusNotFound, apiError{Code: "not_found", Message: err.Error()})
		return
	}
	if err != nil {
		s.internalError(c, "ClosePosition", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) postStart(c *gin.Context) {
	if err := s.engine.Start(c.Request.Context()); err != nil {
		s.internalError(c, "Start", err)
		return
	}
	c.JSON(http.StatusOK, s.engine.Snapshot())
}

func (s *Server) postStop(c *gin.Context) {
	if err := s.engine.Stop(c.Request.Context()); err != nil {
		s.internalError(c, "Stop", err)
		return
	}
	c.JSON(http.StatusOK, s.engine.Snapshot())
}
