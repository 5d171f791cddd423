package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/54b3r/askdocs-go/internal/logging"
	"github.com/54b3r/askdocs-go/internal/server"
	"github.com/54b3r/askdocs-go/internal/version"
)

// NewServeCmd constructs the `askdocs serve` command, which starts the HTTP
// API server.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the askdocs HTTP API server",
		Long: `Start the askdocs HTTP API server.

The server exposes the public chat endpoints (blocking and SSE streaming),
the admin knowledge-base endpoints behind X-Admin-Key, a health probe, and
Prometheus metrics.

Required environment variables:
  ADMIN_API_KEY        Admin secret, at least 16 characters

Common options (see the configuration reference for the full list):
  LLM_BASE_URL         Model daemon endpoint (default: http://localhost:11434)
  LLM_MODEL            Generation model name (default: llama3.2)
  EMBEDDING_MODEL      Embedding model name (default: nomic-embed-text)
  VECTOR_STORE_DIR     Persistent collection directory (default: ./data/vectors)

Examples:
  ADMIN_API_KEY=$(openssl rand -hex 16) askdocs serve
  askdocs serve --port 9090`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()

			a, err := buildApp(log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.close()

			// Pay the embedding model load cost now rather than in the first
			// request. A daemon that cannot embed cannot serve.
			if err := a.embedder.WarmUp(ctx); err != nil {
				return fmt.Errorf("serve: embedding warm-up failed: %w", err)
			}
			log.Info("embedding service ready",
				slog.String("model", a.embedder.Model()),
				slog.Int("dimension", a.embedder.Dimension()),
			)

			if host == "" {
				host = a.settings.ServerHost
			}
			if port == 0 {
				port = a.settings.ServerPort
			}

			srv, err := server.New(a.engine, &server.Config{
				Host:           host,
				Port:           port,
				Logger:         log,
				AdminKey:       a.settings.AdminAPIKey,
				CORSOrigins:    a.settings.CORSOrigins,
				MaxUploadBytes: a.settings.MaxFileSizeBytes(),
				RateLimit:      a.settings.RateLimitRPS,
				RateBurst:      a.settings.RateLimitBurst,
				Metrics:        a.metrics,
				Version:        version.Version,
				Pingers: []server.Pinger{
					server.NewLLMPinger(a.llmClient),
					server.NewStorePinger(a.store),
				},
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (overrides SERVER_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (overrides SERVER_PORT)")

	return cmd
}
