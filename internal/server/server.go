// Package server exposes the answer pipeline over HTTP: one-shot search,
// an SSE progress stream, answer history, research sessions and optional
// JWT auth.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nkamali/faro/config"
	"github.com/nkamali/faro/internal/pipeline"
	"github.com/nkamali/faro/internal/research"
	"github.com/nkamali/faro/internal/store"
)

// Runner executes one answer request. The pipeline orchestrator is the
// production implementation.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, sink pipeline.EventSink) (*pipeline.Answer, error)
}

// Server wires the orchestrator and its stores behind echo. history and
// sessions may be nil; their routes answer 503 in that case.
type Server struct {
	cfg      config.ServerConfig
	orch     Runner
	history  *store.Store
	sessions *research.Store
	logger   *log.Logger
	echo     *echo.Echo
}

func New(cfg config.ServerConfig, orch Runner, history *store.Store, sessions *research.Store) *Server {
	s := &Server{
		cfg:      cfg,
		orch:     orch,
		history:  history,
		sessions: sessions,
		logger:   log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
	}
	s.echo = s.buildEcho()
	return s
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	if s.cfg.AuthEnabled {
		auth := &AuthHandler{Store: s.history, Secret: []byte(s.cfg.JWTSecret)}
		auth.Register(api.Group("/auth"))
		// Applies only to the routes registered below.
		api.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, auth.Secret) })
	}

	api.POST("/search", s.handleSearch)
	api.GET("/search/stream", s.handleStream)

	api.GET("/history", s.listHistory)
	api.GET("/history/:id", s.getHistory)
	api.DELETE("/history/:id", s.deleteHistory)

	api.POST("/sessions", s.createSession)
	api.GET("/sessions/:id", s.getSession)
	api.DELETE("/sessions/:id", s.deleteSession)
	api.POST("/sessions/:id/search", s.searchSession)

	return e
}

// Start blocks serving HTTP on addr until the listener fails or the server
// is shut down.
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = s.cfg.Address
	}
	if addr == "" {
		addr = ":10020"
	}
	if addr[0] != ':' && !hasHost(addr) {
		addr = ":" + addr
	}
	s.logger.Printf("listening on %s", addr)
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.echo.Shutdown(ctx)
}

func hasHost(addr string) bool {
	for i := 0; i < len(addr); i++ {
		if addr[i] == ':' {
			return i > 0
		}
	}
	return false
}
