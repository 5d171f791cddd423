package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fakeDaemon serves a minimal Ollama-compatible /api/chat, /api/tags and
// /api/version surface for client tests.
type fakeDaemon struct {
	// fragments are streamed one NDJSON line each for stream=true requests,
	// and concatenated into a single response for stream=false.
	fragments []string
	// perChunkDelay is slept before each streamed fragment.
	perChunkDelay time.Duration
	// lastRequest captures the most recent decoded /api/chat body.
	lastRequest chatRequest
}

func (f *fakeDaemon) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&f.lastRequest)

		if !f.lastRequest.Stream {
			resp := chatResponse{Done: true}
			resp.Message.Content = strings.Join(f.fragments, "")
			_ = json.NewEncoder(w).Encode(resp)
			return
		}

		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, frag := range f.fragments {
			if f.perChunkDelay > 0 {
				select {
				case <-time.After(f.perChunkDelay):
				case <-r.Context().Done():
					return
				}
			}
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", frag)
			flusher.Flush()
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
		flusher.Flush()
	})
	mux.HandleFunc("GET /api/tags", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"models":[{"name":"llama3.2"},{"name":"nomic-embed-text"}]}`)
	})
	mux.HandleFunc("GET /api/version", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"version":"0.5.0"}`)
	})
	return mux
}

func newTestClient(t *testing.T, daemon *fakeDaemon, idle time.Duration) *Client {
	t.Helper()
	srv := httptest.NewServer(daemon.handler())
	t.Cleanup(srv.Close)
	return NewClient(&Config{
		BaseURL:           srv.URL,
		Timeout:           5 * time.Second,
		StreamIdleTimeout: idle,
		Registerer:        prometheus.NewRegistry(),
	})
}

func testOptions() Options {
	return Options{Model: "llama3.2", Temperature: 0.3, MaxTokens: 512, RepeatPenalty: 1.2}
}

func TestComplete(t *testing.T) {
	t.Parallel()

	daemon := &fakeDaemon{fragments: []string{"Hello", ", ", "world."}}
	c := newTestClient(t, daemon, time.Second)

	got, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if got != "Hello, world." {
		t.Errorf("Complete = %q", got)
	}
	if daemon.lastRequest.Options.NumPredict != 512 {
		t.Errorf("num_predict = %d, want 512", daemon.lastRequest.Options.NumPredict)
	}
	if daemon.lastRequest.Options.RepeatPenalty != 1.2 {
		t.Errorf("repeat_penalty = %v, want 1.2", daemon.lastRequest.Options.RepeatPenalty)
	}
}

func TestComplete_MissingModel(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, &fakeDaemon{}, time.Second)
	if _, err := c.Complete(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestStream_OrderMatchesComplete(t *testing.T) {
	t.Parallel()

	daemon := &fakeDaemon{fragments: []string{"The ", "answer ", "is ", "42."}}
	c := newTestClient(t, daemon, time.Second)

	ch, err := c.Stream(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, testOptions())
	if err != nil {
		t.Fatal(err)
	}

	var b strings.Builder
	for tok := range ch {
		if tok.Err != nil {
			t.Fatalf("unexpected stream error: %v", tok.Err)
		}
		b.WriteString(tok.Content)
	}

	full, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if b.String() != full {
		t.Errorf("streamed %q != complete %q", b.String(), full)
	}
}

func TestStream_IdleTimeout(t *testing.T) {
	t.Parallel()

	daemon := &fakeDaemon{
		fragments:     []string{"slow", "slower"},
		perChunkDelay: 500 * time.Millisecond,
	}
	c := newTestClient(t, daemon, 50*time.Millisecond)

	ch, err := c.Stream(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, testOptions())
	if err != nil {
		t.Fatal(err)
	}

	var last Token
	for tok := range ch {
		last = tok
	}
	if !errors.Is(last.Err, ErrTimeout) {
		t.Fatalf("final token error = %v, want ErrTimeout", last.Err)
	}

	if got := testutil.ToFloat64(c.metrics.streamsTotal.WithLabelValues(outcomeTimeout)); got != 1 {
		t.Errorf("timeout outcome counter = %v, want 1", got)
	}
}

func TestStream_CancellationReleasesUpstream(t *testing.T) {
	t.Parallel()

	daemon := &fakeDaemon{
		fragments:     []string{"a", "b", "c", "d", "e", "f"},
		perChunkDelay: 20 * time.Millisecond,
	}
	c := newTestClient(t, daemon, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Stream(ctx, []Message{{Role: RoleUser, Content: "q"}}, testOptions())
	if err != nil {
		t.Fatal(err)
	}

	<-ch // first token arrived, stream is live
	cancel()

	// The channel must close promptly after cancellation.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				goto closed
			}
		case <-deadline:
			t.Fatal("stream channel did not close after cancellation")
		}
	}
closed:

	cancelled := testutil.ToFloat64(c.metrics.streamsTotal.WithLabelValues(outcomeCancelled))
	if cancelled != 1 {
		t.Errorf("cancelled outcome counter = %v, want 1", cancelled)
	}
	if got := testutil.ToFloat64(c.metrics.activeStreams); got != 0 {
		t.Errorf("active streams gauge = %v, want 0", got)
	}
}

func TestListModels(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, &fakeDaemon{}, time.Second)
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 2 || models[0] != "llama3.2" {
		t.Errorf("models = %v", models)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, &fakeDaemon{}, time.Second)
	if !c.Ping(context.Background()) {
		t.Error("Ping = false against a live daemon")
	}

	down := NewClient(&Config{BaseURL: "http://127.0.0.1:1", Registerer: prometheus.NewRegistry()})
	if down.Ping(context.Background()) {
		t.Error("Ping = true against a closed port")
	}
}

func TestComplete_Unreachable(t *testing.T) {
	t.Parallel()

	c := NewClient(&Config{BaseURL: "http://127.0.0.1:1", Registerer: prometheus.NewRegistry()})
	_, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, testOptions())
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("error = %v, want ErrUnreachable", err)
	}
}
