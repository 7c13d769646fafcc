// Package httpapi implements the thin HTTP layer of spec.md §6: request
// parsing, response shaping, and error envelope only — every decision
// about clustering lives in internal/cluster, internal/ingest, and
// internal/recheck. Grounded on the teacher's httpapi.Server (echo setup,
// Recover/RequestID/RequestLogger middleware, graceful shutdown), stripped
// of the teacher's CORS/auth/SPA-asset-serving concerns since spec.md's
// Non-goals exclude request authentication and this service has no UI.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"horse.fit/simcluster/internal/clustererr"
	"horse.fit/simcluster/internal/config"
	"horse.fit/simcluster/internal/globaltime"
	"horse.fit/simcluster/internal/recheck"
	"horse.fit/simcluster/internal/store"
)

const apiPrefix = "/api/v1"

// Options mirrors the teacher's httpapi.Options, narrowed to the fields
// this service's timeouts actually need.
type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the Index Gateway's HTTP front door.
type Server struct {
	pool    *store.Pool
	recheck *recheck.Controller
	logger  zerolog.Logger
	opts    Options
}

func NewServer(pool *store.Pool, cfg *config.Config, logger zerolog.Logger) *Server {
	return &Server{
		pool:    pool,
		recheck: recheck.New(pool, cfg),
		logger:  logger,
		opts: Options{
			Host:            cfg.HTTPHost,
			Port:            cfg.HTTPPort,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
	}
}

// Start runs the server until ctx is cancelled, then drains in-flight
// requests within ShutdownTimeout, following the teacher's Start shape.
func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.logger.Info()
			if v.Error != nil {
				ev = s.logger.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	api := e.Group(apiPrefix)
	api.POST("/articles", s.handleSubmitArticle)
	api.GET("/articles/:id", s.handleGetArticle)
	api.GET("/articles/:id/similar", s.handleGetSimilar)
	api.GET("/clusters/:id", s.handleGetCluster)
	api.GET("/clusters", s.handleSearchArticles)
	api.POST("/articles/recheck", s.handleRecheck)
	api.GET("/system/health", s.handleHealth)

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("simcluster web server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("simcluster web server stopped")
	return nil
}

// httpErrorHandler renders every uncaught error as the {"error":{...},
// "trace_id":...} envelope spec.md §6 defines, whether it originated as a
// *clustererr.Error or an echo framework error (routing, body-too-large).
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	traceID := requestTraceID(c)

	if ce, ok := clustererr.As(err); ok {
		_ = writeError(c, clustererr.HTTPStatus(ce.Code), ce.Code, ce.Message, traceID)
		return
	}

	if he, ok := err.(*echo.HTTPError); ok {
		message := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok && strings.TrimSpace(s) != "" {
			message = s
		}
		code := clustererr.CodeInvalidArgument
		if he.Code >= 500 {
			code = clustererr.CodeInternal
		}
		_ = writeError(c, he.Code, code, message, traceID)
		return
	}

	s.logger.Error().Err(err).Str("trace_id", traceID).Msg("unhandled internal error")
	_ = writeError(c, http.StatusInternalServerError, clustererr.CodeInternal, "internal server error", traceID)
}

func requestTraceID(c echo.Context) string {
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()
	pending, claimed, deadLettered, err := s.pool.QueueDepth(ctx)
	status := "ok"
	if err != nil {
		status = "degraded"
	}
	// SPEC_FULL.md §2's queue-depth/warn health reporting: a large pending
	// backlog means the ingestion pool cannot keep up with intake.
	if pending > 1000 {
		status = "warn"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status": status,
		"time":   globaltime.UTC(),
		"queue": map[string]any{
			"pending":       pending,
			"claimed":       claimed,
			"dead_lettered": deadLettered,
		},
	})
}
