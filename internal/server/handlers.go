package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/54b3r/askdocs-go/internal/embedder"
	"github.com/54b3r/askdocs-go/internal/llm"
	"github.com/54b3r/askdocs-go/internal/loader"
	"github.com/54b3r/askdocs-go/internal/logging"
	"github.com/54b3r/askdocs-go/internal/rag"
)

// maxChatBodyBytes is the maximum allowed size for a chat request body.
// Prevents unbounded memory allocation from oversized requests.
const maxChatBodyBytes = 1 << 20 // 1 MiB

// maxChatMessageChars bounds the query length accepted on the chat endpoints.
const maxChatMessageChars = 4000

// probeTimeout is the maximum time allowed for each dependency probe during
// a health check. Kept short so /health responds quickly even when a
// dependency is slow rather than unreachable.
const probeTimeout = 5 * time.Second

// apologyChunk is the synthesized chunk emitted when a stream fails
// mid-response, so clients observe a graceful end instead of a broken
// connection.
const apologyChunk = "\n\nI'm sorry, something went wrong while generating this answer. Please try again."

// handleHealth handles GET /health. It probes each registered dependency
// with a short timeout and reports per-service connectivity. The endpoint
// always answers 200 — degraded state is carried in the body.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	services := make(map[string]string, len(s.cfg.Pingers))
	healthy := true
	for _, p := range s.cfg.Pingers {
		probeCtx, cancel := context.WithTimeout(r.Context(), probeTimeout)
		err := p.Ping(probeCtx)
		cancel()

		if err != nil {
			services[p.Name()] = "disconnected"
			healthy = false
			log.Warn("health probe failed",
				slog.String("service", p.Name()),
				slog.Any("error", err),
			)
		} else {
			services[p.Name()] = "connected"
		}
	}

	status := "healthy"
	if !healthy {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, healthResponse{
		Status:    status,
		Version:   s.cfg.Version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
	})
}

// handleChat handles POST /chat: a blocking retrieval-augmented completion.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, history, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	answer, sources, err := s.engine.Answer(r.Context(), req.Message, history)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if sources == nil {
		sources = []string{}
	}

	writeJSON(w, http.StatusOK, chatResponse{Response: answer, Sources: sources})
}

// handleChatStream handles POST /chat/stream: the SSE variant of /chat.
// Intermediate events carry one token fragment each; the terminal event
// carries done=true and the aggregated source list, followed by a literal
// [DONE] sentinel frame.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, history, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	log := logging.FromContext(r.Context())

	sources, tokens, err := s.engine.AnswerStream(r.Context(), req.Message, history)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if sources == nil {
		sources = []string{}
	}

	sw, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()

	for tok := range tokens {
		if tok.Err != nil {
			// Fail gracefully: apologize, close the stream cleanly, and let
			// the terminal event carry the sources gathered so far.
			log.Error("chat stream failed mid-response", slog.Any("error", tok.Err))
			_ = sw.writeEvent(streamEvent{Chunk: apologyChunk})
			break
		}
		if err := sw.writeEvent(streamEvent{Chunk: tok.Content}); err != nil {
			// The client went away; r.Context() cancellation aborts the
			// upstream generation.
			log.Debug("chat stream client disconnected", slog.Any("error", err))
			return
		}
	}

	_ = sw.writeEvent(streamEvent{Done: true, Sources: sources})
	sw.writeDone()
}

// decodeChatRequest parses and validates the shared chat request body.
// On failure it writes the error response and returns ok=false.
func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (chatRequest, []llm.Message, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return req, nil, false
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return req, nil, false
	}
	if utf8.RuneCountInString(req.Message) > maxChatMessageChars {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("message exceeds %d characters", maxChatMessageChars))
		return req, nil, false
	}

	history := make([]llm.Message, 0, len(req.History))
	for _, m := range req.History {
		switch m.Role {
		case "user":
			history = append(history, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case "assistant":
			history = append(history, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		default:
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid history role %q", m.Role))
			return req, nil, false
		}
	}

	return req, history, true
}

// handleIngest handles POST /ingest: a multipart upload with one file part
// named "file".
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	// Allow 1 MiB of multipart envelope on top of the file bound; the
	// per-file size check below gives the precise 413.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+(1<<20))

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds the configured size limit")
			return
		}
		writeError(w, http.StatusBadRequest, `multipart form with a "file" part is required`)
		return
	}
	defer file.Close()

	if header.Size > s.cfg.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds the configured size limit")
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read upload")
		return
	}

	summary, err := s.engine.Ingest(r.Context(), header.Filename, data)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	s.metrics.ingestBytesTotal.Add(float64(len(data)))
	writeJSON(w, http.StatusOK, ingestResponse{Success: true, Document: summary})
}

// handleListDocuments handles GET /admin/documents.
func (s *Server) handleListDocuments(w http.ResponseWriter, _ *http.Request) {
	docs := s.engine.ListDocuments()
	if docs == nil {
		docs = []rag.DocumentSummary{}
	}
	writeJSON(w, http.StatusOK, documentsResponse{Documents: docs, TotalCount: len(docs)})
}

// handleDeleteDocument handles DELETE /admin/documents/{document_id}.
// Deleting an unknown ID succeeds with deleted_chunks = 0.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("document_id")

	deleted, err := s.engine.DeleteDocument(r.Context(), id)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	msg := fmt.Sprintf("deleted %d chunks", deleted)
	if deleted == 0 {
		msg = "document not found, nothing deleted"
	}
	writeJSON(w, http.StatusOK, deleteResponse{Success: true, DeletedChunks: deleted, Message: msg})
}

// handleStats handles GET /admin/stats.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

// writeEngineError maps an engine failure to its status code and a
// sanitized message, logging the full cause server-side.
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		logging.FromContext(r.Context()).Error("request failed", slog.Any("error", err))
	}
	writeError(w, status, publicMessage(err, status))
}

// statusFor maps failure kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, rag.ErrQueryEmpty),
		errors.Is(err, loader.ErrUnsupportedFormat),
		errors.Is(err, loader.ErrParseFailed):
		return http.StatusBadRequest
	case errors.Is(err, loader.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, llm.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, llm.ErrUnreachable),
		errors.Is(err, embedder.ErrEmbeddingFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage sanitizes an error for the client. Input errors carry their
// own text; dependency failures map to fixed phrases so internals never leak.
func publicMessage(err error, status int) string {
	if status < 500 && status != http.StatusGatewayTimeout {
		return err.Error()
	}
	switch {
	case errors.Is(err, llm.ErrTimeout):
		return "language model timed out"
	case errors.Is(err, llm.ErrUnreachable):
		return "language model unavailable"
	case errors.Is(err, embedder.ErrEmbeddingFailed):
		return "embedding service failed"
	case errors.Is(err, rag.ErrStoreFailed):
		return "vector store failed"
	default:
		return "internal error"
	}
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("response encode error", slog.Any("error", err))
	}
}

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
