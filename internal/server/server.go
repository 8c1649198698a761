// Package server exposes the operational HTTP surface: health, Prometheus
// metrics, the safety report, reward weight tuning and a feedback intake
// endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cmejo/AI-Scholar-sub007/internal/conversation"
	"github.com/cmejo/AI-Scholar-sub007/internal/core"
	"github.com/cmejo/AI-Scholar-sub007/internal/feedback"
	"github.com/cmejo/AI-Scholar-sub007/internal/reward"
	"github.com/cmejo/AI-Scholar-sub007/internal/safety"
	"github.com/cmejo/AI-Scholar-sub007/internal/telemetry"
)

// HealthReporter summarizes the assistant. *core.Core satisfies it.
type HealthReporter interface {
	Health() core.Health
}

// SafetyReporter produces the safety report. *safety.Monitor satisfies it.
type SafetyReporter interface {
	Report() safety.Report
}

// RewardTuner exposes reward weighting. *reward.Calculator satisfies it.
type RewardTuner interface {
	Weights() reward.Weights
	AdaptWeights(preferences reward.Weights, rate float64) error
	Statistics() reward.Statistics
}

// TelemetryHealth reports exporter state. *telemetry.Telemetry satisfies it.
type TelemetryHealth interface {
	Health() telemetry.HealthStatus
}

// Deps are the backends behind the routes. Health is required.
type Deps struct {
	Health    HealthReporter
	Safety    SafetyReporter
	Feedback  feedback.Submitter
	Rewards   RewardTuner
	Telemetry TelemetryHealth
}

// Config holds server settings.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string      `json:"status"`
	Components core.Health `json:"components"`
}

// WeightsRequest is the body of POST /v1/reward/weights. A zero rate uses
// the configured adaptation rate.
type WeightsRequest struct {
	Preferences reward.Weights `json:"preferences"`
	Rate        float64        `json:"rate,omitempty"`
}

// RewardResponse is the body of the reward routes.
type RewardResponse struct {
	Weights    reward.Weights    `json:"weights"`
	Statistics reward.Statistics `json:"statistics"`
}

// Server is the ops HTTP server.
type Server struct {
	echo    *echo.Echo
	cfg     Config
	deps    Deps
	logger  *zap.Logger
	metrics *HTTPMetrics
}

// New creates a Server and registers its routes.
func New(cfg Config, deps Deps, logger *zap.Logger, metrics *HTTPMetrics) (*Server, error) {
	if deps.Health == nil {
		return nil, errors.New("server: health reporter is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if metrics != nil {
		e.Use(metrics.Middleware())
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{echo: e, cfg: cfg, deps: deps, logger: logger, metrics: metrics}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/v1")
	if s.deps.Safety != nil {
		v1.GET("/safety/report", s.handleSafetyReport)
	}
	if s.deps.Feedback != nil {
		v1.POST("/feedback", s.handleFeedback)
	}
	if s.deps.Rewards != nil {
		v1.GET("/reward", s.handleReward)
		v1.POST("/reward/weights", s.handleAdaptWeights)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Components: s.deps.Health.Health()}
	if !resp.Components.Running {
		resp.Status = "starting"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	if s.deps.Telemetry != nil && s.deps.Telemetry.Health().Degraded {
		resp.Status = "degraded"
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSafetyReport(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Safety.Report())
}

func (s *Server) rewardResponse() RewardResponse {
	return RewardResponse{Weights: s.deps.Rewards.Weights(), Statistics: s.deps.Rewards.Statistics()}
}

func (s *Server) handleReward(c echo.Context) error {
	return c.JSON(http.StatusOK, s.rewardResponse())
}

// handleAdaptWeights blends operator preferences into the reward weights.
func (s *Server) handleAdaptWeights(c echo.Context) error {
	var req WeightsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Preferences) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "preferences are required")
	}
	if err := s.deps.Rewards.AdaptWeights(req.Preferences, req.Rate); err != nil {
		if errors.Is(err, reward.ErrInvalidPreferences) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return err
	}
	resp := s.rewardResponse()
	s.logger.Info("reward weights adapted", zap.Any("weights", resp.Weights))
	return c.JSON(http.StatusOK, resp)
}

// handleFeedback accepts one feedback event.
func (s *Server) handleFeedback(c echo.Context) error {
	var ev conversation.FeedbackEvent
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err := s.deps.Feedback.Submit(ev)
	switch {
	case err == nil:
		return c.NoContent(http.StatusAccepted)
	case errors.Is(err, conversation.ErrInvalidFeedback):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, feedback.ErrQueueFull), errors.Is(err, feedback.ErrStopped):
		s.logger.Warn("feedback rejected", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}

// Start serves until ctx is cancelled, then shuts down within the
// configured timeout. It returns http.ErrServerClosed after a clean
// shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("starting http server", zap.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}
