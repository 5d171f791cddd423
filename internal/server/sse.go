package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// doneSentinel is the literal terminal line some SSE clients expect.
const doneSentinel = "[DONE]"

// sseWriter frames JSON events as Server-Sent Events data frames and
// flushes after every write so tokens reach the client as they arrive.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter
	// flusher pushes buffered data to the client after each event.
	flusher http.Flusher
}

// newSSEWriter prepares w for an SSE response and returns the writer, or
// false when the connection cannot stream.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, flusher: flusher}, true
}

// writeEvent marshals v into one "data: <json>" frame.
func (s *sseWriter) writeEvent(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// writeDone emits the literal [DONE] sentinel frame.
func (s *sseWriter) writeDone() {
	fmt.Fprintf(s.w, "data: %s\n\n", doneSentinel)
	s.flusher.Flush()
}
