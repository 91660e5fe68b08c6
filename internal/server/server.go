// Package server exposes the gateway webhook, health and metrics endpoints and
// the operator API over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgard/zapbot/internal/cache"
	"github.com/edgard/zapbot/internal/config"
	"github.com/edgard/zapbot/internal/ingest"
	"github.com/edgard/zapbot/internal/jobs"
	"github.com/edgard/zapbot/internal/logger"
	"github.com/edgard/zapbot/internal/metrics"
	"github.com/edgard/zapbot/internal/queue"
)

const shutdownTimeout = 10 * time.Second

// Ingester persists and routes raw webhook events.
type Ingester interface {
	Ingest(ctx context.Context, raw []byte) (ingest.Outcome, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Queues looks up queues for the operator API.
type Queues interface {
	jobs.Enqueuer
	Queue(name string) (*queue.Queue, bool)
}

type Invalidator interface {
	Invalidate(category string)
}

// Deps provides dependencies for the HTTP server.
type Deps struct {
	Logger    *slog.Logger
	Config    *config.Config
	Ingest    Ingester
	Store     Pinger
	Cache     cache.Cache
	Queues    Queues
	Knowledge Invalidator
	Metrics   *metrics.Metrics
}

// Server wraps the gin engine and its http.Server.
type Server struct {
	deps   Deps
	logger *slog.Logger
	engine *gin.Engine
	http   *http.Server
}

// New builds the server and registers every route.
func New(deps Deps) *Server {
	s := &Server{
		deps:   deps,
		logger: deps.Logger.With("component", "server"),
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery(), logger.Middleware(s.logger))
	s.routes()

	cfg := deps.Config.Server
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: cfg.ReadTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.engine.POST("/webhook", s.handleWebhook)
	s.engine.GET("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	if s.deps.Config.Server.APIKey == "" {
		s.logger.Warn("server.api_key is empty, operator API disabled")
		return
	}
	api := s.engine.Group("/api", APIKeyAuth(s.deps.Config.Server.APIKey))
	{
		api.POST("/summaries", s.handleForceSummary)
		api.GET("/chats/:chatId/recent", s.handleRecent)
		api.POST("/chats/:chatId/messages", s.handleSend)
		api.GET("/queues/:queue/failed", s.handleFailedJobs)
		api.POST("/queues/:queue/jobs/:id/retry", s.handleRetryJob)
		api.DELETE("/knowledge/:category/cache", s.handleInvalidateKnowledge)
	}
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("Shutting down HTTP server")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
