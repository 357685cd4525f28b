// Package api provides the HTTP server for DreamPipe.
//
// It exposes service info, health and dispatcher statistics as JSON, and
// mounts the transport webhooks (Telegram, Twilio) when they are configured.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/BTreeMap/DreamPipe/internal/models"
)

// Constants for server configuration
const (
	// DefaultAddr is the default listen address.
	DefaultAddr = ":3000"
	// ServiceName is reported by the root endpoint.
	ServiceName = "DreamPipe"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// StatsProvider reports dispatcher counters.
type StatsProvider interface {
	Stats(ctx context.Context) models.DispatchStats
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr            string
	Version         string
	Transport       string
	Stats           StatsProvider
	Store           HealthChecker
	Webhooks        map[string]http.Handler
	ShutdownTimeout time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithVersion sets the version reported by the root endpoint.
func WithVersion(v string) Option {
	return func(o *Opts) { o.Version = v }
}

// WithTransport names the active chat transport.
func WithTransport(name string) Option {
	return func(o *Opts) { o.Transport = name }
}

// WithStats exposes dispatcher counters on /stats.
func WithStats(p StatsProvider) Option {
	return func(o *Opts) { o.Stats = p }
}

// WithStoreHealth includes the session store in /health.
func WithStoreHealth(h HealthChecker) Option {
	return func(o *Opts) { o.Store = h }
}

// WithWebhook mounts a transport webhook handler at path (POST only).
func WithWebhook(path string, h http.Handler) Option {
	return func(o *Opts) {
		if o.Webhooks == nil {
			o.Webhooks = make(map[string]http.Handler)
		}
		o.Webhooks[path] = h
	}
}

// Server serves the DreamPipe HTTP endpoints.
type Server struct {
	opts   Opts
	router chi.Router
	srv    *http.Server
}

// NewServer builds the router.
func NewServer(opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, Version: "dev", ShutdownTimeout: DefaultShutdownTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{opts: cfg}
	s.router = s.routes()
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	slog.Debug("API server configured", "addr", cfg.Addr, "webhooks", len(cfg.Webhooks))
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/", s.rootHandler)
	r.Get("/health", s.healthHandler)
	r.Get("/stats", s.statsHandler)
	for path, h := range s.opts.Webhooks {
		r.Method(http.MethodPost, path, h)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusNotFound, models.Error("Not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	})
	return r
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	slog.Info("API server stopped")
	return nil
}

// requestLogger logs one line per request with slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chiMiddleware.GetReqID(r.Context()))
	})
}
