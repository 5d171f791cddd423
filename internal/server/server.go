// Package server implements the HTTP surface of the question-answering
// backend: the public chat endpoints (blocking and SSE streaming), the
// admin knowledge-base endpoints behind the X-Admin-Key gate, health, and
// Prometheus metrics. It is the only component that knows how the engine's
// token streams are framed on the wire.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/askdocs-go/internal/logging"
)

// New constructs a Server from the provided engine and config.
// If cfg.Logger is nil, [logging.New] is used.
func New(engine orchestrator, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("server: engine must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = prometheus.NewRegistry()
	}

	s := &Server{engine: engine, cfg: cfg, log: cfg.Logger}
	s.metrics = newServerMetrics(cfg.Metrics)

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.Logger)
	s.stopRL = stopRL

	mux := http.NewServeMux()
	mux.Handle("GET /health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("POST /chat", s.instrument("chat", rl.middleware(http.HandlerFunc(s.handleChat))))
	mux.Handle("POST /chat/stream", s.instrument("chat_stream", rl.middleware(http.HandlerFunc(s.handleChatStream))))
	mux.Handle("POST /ingest", s.instrument("ingest", s.adminOnly(http.HandlerFunc(s.handleIngest))))
	mux.Handle("GET /admin/documents", s.instrument("admin_documents", s.adminOnly(http.HandlerFunc(s.handleListDocuments))))
	mux.Handle("DELETE /admin/documents/{document_id}", s.instrument("admin_delete", s.adminOnly(http.HandlerFunc(s.handleDeleteDocument))))
	mux.Handle("GET /admin/stats", s.instrument("admin_stats", s.adminOnly(http.HandlerFunc(s.handleStats))))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{}))

	handler := requestLogger(s.log, corsMiddleware(cfg.CORSOrigins, mux))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the server's root handler, wired with all middleware.
// Exposed for tests driving the mux without a listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}
