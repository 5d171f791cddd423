package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/askdocs-go/internal/llm"
	"github.com/54b3r/askdocs-go/internal/rag"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// Must be long enough for streaming responses.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// AdminKey is the shared secret required on admin endpoints via the
	// X-Admin-Key header. Keys shorter than the minimum length reject all
	// admin requests.
	AdminKey string
	// CORSOrigins is the origin allow-list for browser callers. Empty
	// disables cross-origin access.
	CORSOrigins []string
	// MaxUploadBytes bounds the file part of POST /ingest.
	MaxUploadBytes int64
	// RateLimit is the sustained request rate allowed per IP on the chat
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// Metrics is the registry backing GET /metrics and all server
	// instruments. If nil a private registry is created.
	Metrics *prometheus.Registry
	// Version is reported by GET /health.
	Version string
	// Pingers are the dependency probes reported by GET /health, keyed by
	// their Name (e.g. "llm", "vector_store").
	Pingers []Pinger
}

// orchestrator is the interface the handlers call. *rag.Engine satisfies it;
// tests inject a fake.
type orchestrator interface {
	// Ingest indexes one uploaded document.
	Ingest(ctx context.Context, filename string, data []byte) (rag.DocumentSummary, error)
	// Answer performs a blocking retrieval-augmented completion.
	Answer(ctx context.Context, query string, history []llm.Message) (string, []string, error)
	// AnswerStream performs a streaming retrieval-augmented completion.
	AnswerStream(ctx context.Context, query string, history []llm.Message) ([]string, <-chan llm.Token, error)
	// ListDocuments returns the admin view of all indexed documents.
	ListDocuments() []rag.DocumentSummary
	// DeleteDocument removes a document and returns its chunk count.
	DeleteDocument(ctx context.Context, documentID string) (int, error)
	// Stats returns the aggregate knowledge-base view.
	Stats() rag.Stats
}

// Server is the HTTP server exposing the question-answering engine.
type Server struct {
	// engine is the orchestrator handling all requests.
	engine orchestrator
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// metrics holds the server's Prometheus instruments.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatMessage is one history turn in a chat request body.
type chatMessage struct {
	// Role is "user" or "assistant".
	Role string `json:"role"`
	// Content is the text of the turn.
	Content string `json:"content"`
}

// chatRequest is the JSON body for POST /chat and POST /chat/stream.
type chatRequest struct {
	// Message is the user's natural language query (1..4000 chars).
	Message string `json:"message"`
	// History is the prior conversation, oldest first. The server keeps no
	// chat state; callers supply history on every request.
	History []chatMessage `json:"history"`
}

// chatResponse is the JSON response for POST /chat.
type chatResponse struct {
	// Response is the generated answer.
	Response string `json:"response"`
	// Sources is the ordered deduplication of the retrieved chunks'
	// filenames.
	Sources []string `json:"sources"`
}

// streamEvent is one SSE data frame on POST /chat/stream.
type streamEvent struct {
	// Chunk is the text fragment; empty on the terminal event.
	Chunk string `json:"chunk"`
	// Done marks the terminal event.
	Done bool `json:"done"`
	// Sources is null on intermediate events and carries the aggregated
	// source list on the terminal event.
	Sources []string `json:"sources"`
}

// ingestResponse is the JSON response for POST /ingest.
type ingestResponse struct {
	// Success is true when the document was indexed.
	Success bool `json:"success"`
	// Document summarizes the indexed document.
	Document rag.DocumentSummary `json:"document"`
}

// documentsResponse is the JSON response for GET /admin/documents.
type documentsResponse struct {
	// Documents is sorted by upload time, newest first.
	Documents []rag.DocumentSummary `json:"documents"`
	// TotalCount is len(Documents).
	TotalCount int `json:"total_count"`
}

// deleteResponse is the JSON response for DELETE /admin/documents/{document_id}.
type deleteResponse struct {
	// Success is true whether or not the document existed.
	Success bool `json:"success"`
	// DeletedChunks is the number of chunks removed (0 for unknown IDs).
	DeletedChunks int `json:"deleted_chunks"`
	// Message is a human-readable outcome.
	Message string `json:"message"`
}

// healthResponse is the JSON body returned by GET /health.
type healthResponse struct {
	// Status is "healthy" when every service probe succeeded, else "degraded".
	Status string `json:"status"`
	// Version is the running binary version.
	Version string `json:"version"`
	// Timestamp is the probe time (RFC3339 UTC).
	Timestamp string `json:"timestamp"`
	// Services maps each dependency to "connected" or "disconnected".
	Services map[string]string `json:"services"`
}

// errorResponse is the JSON body for all error statuses.
type errorResponse struct {
	// Error is a sanitized human-readable message.
	Error string `json:"error"`
}
