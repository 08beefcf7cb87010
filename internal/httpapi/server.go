package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"intelhub/internal/hub"
	"intelhub/internal/observability"
)

// Config controls how the transport is exposed and which token pools
// guard which endpoint groups (spec §6's auth model: separate bearer
// pools for the RPC, collector, and processor roles).
type Config struct {
	Addr   string
	Tokens TokenSet
}

// Server is the echo transport over a *hub.Hub, mirroring the
// teacher's registerRoutes-style grouping without its JWT/session
// machinery.
type Server struct {
	echo *echo.Echo
	hub  *hub.Hub
	cfg  Config
}

// New builds the echo instance and registers every route named in
// spec §6's External Interfaces section.
func New(h *hub.Hub, cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{echo: e, hub: h, cfg: cfg}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	collector := s.echo.Group("", requireToken(s.cfg.Tokens.Collector), s.accessLog("collector"))
	collector.POST("/submit/collected", s.submitCollected)

	processor := s.echo.Group("", requireToken(s.cfg.Tokens.Processor), s.accessLog("processor"))
	processor.POST("/submit/archived", s.submitArchived)
	processor.POST("/rating/:id", s.submitRating)

	rpc := s.echo.Group("", requireToken(s.cfg.Tokens.RPC), s.accessLog("rpc"))
	rpc.GET("/intelligence/:id", s.getIntelligence)
	rpc.POST("/query", s.query)
	rpc.POST("/vector-search", s.vectorSearch)
	rpc.GET("/recommendations", s.recommendations)
	rpc.GET("/statistics", s.statistics)

	s.echo.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"ok": true})
	})
}

// accessLog logs one line per request through observability's
// trace-enriched logger, tagging it with the bearer-token role that
// authenticated it. Query-string values under sensitive keys are
// redacted before logging, since requireToken accepts a bearer token as
// a "?token=" query parameter as well as in the Authorization header.
func (s *Server) accessLog(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			query := ""
			if raw := req.URL.RawQuery; raw != "" {
				if qj, jerr := json.Marshal(req.URL.Query()); jerr == nil {
					query = string(observability.RedactJSON(qj))
				}
			}

			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			logger := observability.RequestLogger(req.Context(), requestID, role)
			logger.Info().
				Str("method", req.Method).
				Str("path", c.Path()).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("query", query).
				Msg("intelhub: http request")
			return err
		}
	}
}

// Start runs the HTTP server until the context is canceled, then
// shuts it down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.echo.Start(s.cfg.Addr) }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	}
}
