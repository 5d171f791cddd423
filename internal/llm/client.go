// Package llm provides a thin HTTP client for a local Ollama-compatible
// model daemon. It supports blocking and streaming chat completions, model
// listing, and a cheap reachability probe. One Client (and its underlying
// connection pool) is shared for the process lifetime.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrUnreachable is returned when the model daemon cannot be contacted.
var ErrUnreachable = errors.New("llm: daemon unreachable")

// ErrTimeout is returned when a call's deadline elapses, or when a stream
// stays idle for longer than the configured inter-chunk timeout.
var ErrTimeout = errors.New("llm: request timed out")

// Role identifies the author of a chat message.
type Role string

const (
	// RoleSystem is the grounding instruction message.
	RoleSystem Role = "system"
	// RoleUser is a message from the human caller.
	RoleUser Role = "user"
	// RoleAssistant is a message previously produced by the model.
	RoleAssistant Role = "assistant"
)

// Message is a single chat turn sent to the daemon.
type Message struct {
	// Role is the author of the message.
	Role Role `json:"role"`
	// Content is the text of the message.
	Content string `json:"content"`
}

// Options holds per-request generation parameters.
type Options struct {
	// Model is the daemon-resident model name. Required.
	Model string
	// Temperature controls sampling randomness.
	Temperature float32
	// MaxTokens caps the number of generated tokens (num_predict).
	MaxTokens int
	// RepeatPenalty discourages verbatim repetition.
	RepeatPenalty float32
}

// Token is one fragment of a streaming completion. A Token with a non-nil
// Err terminates the stream; the channel is closed after the final Token.
type Token struct {
	// Content is the text fragment produced by the model.
	Content string
	// Err is non-nil when the stream failed before completing.
	Err error
}

// Config holds the settings for constructing a Client.
type Config struct {
	// BaseURL is the daemon base URL (e.g. "http://localhost:11434").
	BaseURL string
	// Timeout bounds a non-streaming completion call. Defaults to 120s.
	Timeout time.Duration
	// StreamIdleTimeout bounds the gap between consecutive stream chunks.
	// Defaults to 30s.
	StreamIdleTimeout time.Duration
	// Registerer receives the client's Prometheus metrics. If nil a private
	// registry is used so construction never panics on double registration.
	Registerer prometheus.Registerer
}

// Client is a thin HTTP client for the model daemon. It is safe for
// concurrent use; all calls share one pooled [http.Client].
type Client struct {
	// base is the daemon base URL without a trailing slash.
	base string
	// http is the shared pooled HTTP client. No overall timeout is set here —
	// per-call deadlines come from contexts so streams can outlive slow starts.
	http *http.Client
	// timeout bounds non-streaming completion calls.
	timeout time.Duration
	// idle bounds the gap between consecutive stream chunks.
	idle time.Duration
	// metrics holds the client's Prometheus instruments.
	metrics *clientMetrics
}

// NewClient constructs a Client from the given config.
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	base := cfg.BaseURL
	if base == "" {
		base = "http://localhost:11434"
	}
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	idle := cfg.StreamIdleTimeout
	if idle <= 0 {
		idle = 30 * time.Second
	}
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Client{
		base:    base,
		http:    &http.Client{},
		timeout: timeout,
		idle:    idle,
		metrics: newClientMetrics(reg),
	}
}

// chatRequest is the JSON body sent to the daemon /api/chat endpoint.
type chatRequest struct {
	Model    string       `json:"model"`
	Messages []Message    `json:"messages"`
	Stream   bool         `json:"stream"`
	Options  modelOptions `json:"options"`
}

// modelOptions carries the generation parameters in the daemon's wire names.
type modelOptions struct {
	Temperature   float32 `json:"temperature"`
	NumPredict    int     `json:"num_predict"`
	RepeatPenalty float32 `json:"repeat_penalty"`
}

// chatResponse is one JSON object returned by /api/chat — the whole response
// for blocking calls, one NDJSON line per fragment for streaming calls.
type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// Complete performs a blocking chat completion and returns the full response
// text. The call is bounded by the client's completion timeout unless the
// caller's context carries an earlier deadline.
func (c *Client) Complete(ctx context.Context, msgs []Message, opts Options) (string, error) {
	// WithTimeout keeps the caller's deadline when it is the earlier one.
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.postChat(ctx, msgs, opts, false)
	if err != nil {
		c.metrics.completionsTotal.WithLabelValues(outcomeOf(err)).Inc()
		return "", err
	}
	defer resp.Body.Close()

	var body chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.metrics.completionsTotal.WithLabelValues(outcomeTimeout).Inc()
			return "", fmt.Errorf("%w: reading response: %v", ErrTimeout, err)
		}
		c.metrics.completionsTotal.WithLabelValues(outcomeError).Inc()
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if body.Error != "" {
		c.metrics.completionsTotal.WithLabelValues(outcomeError).Inc()
		return "", fmt.Errorf("llm: daemon error: %s", body.Error)
	}

	c.metrics.completionsTotal.WithLabelValues(outcomeOK).Inc()
	return body.Message.Content, nil
}

// Stream performs a streaming chat completion. Token fragments are delivered
// in production order on the returned channel, which is closed after the
// final fragment or a terminal error Token. The stream is single-consumer
// and not restartable.
//
// Cancelling ctx aborts the underlying request. If the consumer stops
// receiving without cancelling, the idle watchdog aborts the request within
// one inter-chunk timeout.
func (c *Client) Stream(ctx context.Context, msgs []Message, opts Options) (<-chan Token, error) {
	sctx, cancel := context.WithCancel(ctx)

	resp, err := c.postChat(sctx, msgs, opts, true)
	if err != nil {
		cancel()
		c.metrics.streamsTotal.WithLabelValues(outcomeOf(err)).Inc()
		return nil, err
	}

	c.metrics.activeStreams.Inc()
	ch := make(chan Token)

	// timedOut distinguishes a watchdog abort from caller cancellation once
	// the context error surfaces.
	var timedOut atomic.Bool
	watchdog := time.AfterFunc(c.idle, func() {
		timedOut.Store(true)
		cancel()
	})

	go func() {
		defer close(ch)
		defer c.metrics.activeStreams.Dec()
		defer resp.Body.Close()
		defer watchdog.Stop()
		defer cancel()

		outcome := outcomeOK
		defer func() {
			c.metrics.streamsTotal.WithLabelValues(outcome).Inc()
		}()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			watchdog.Reset(c.idle)

			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var frag chatResponse
			if err := json.Unmarshal(line, &frag); err != nil {
				continue // skip malformed keep-alive lines
			}
			if frag.Error != "" {
				outcome = outcomeError
				emit(sctx, ch, Token{Err: fmt.Errorf("llm: daemon error: %s", frag.Error)})
				return
			}

			if frag.Message.Content != "" {
				if !emit(sctx, ch, Token{Content: frag.Message.Content}) {
					outcome = streamAbortOutcome(ctx, timedOut.Load())
					return
				}
			}
			if frag.Done {
				return
			}
		}

		// The scanner stops on EOF, a read error, or an aborted connection.
		err := scanner.Err()
		switch {
		case timedOut.Load():
			outcome = outcomeTimeout
			// Deliver the terminal token to an attentive consumer; give up
			// after one idle period if nobody is receiving anymore.
			select {
			case ch <- Token{Err: ErrTimeout}:
			case <-time.After(c.idle):
			}
		case ctx.Err() != nil:
			outcome = outcomeCancelled
		case err != nil:
			outcome = outcomeError
			emit(sctx, ch, Token{Err: fmt.Errorf("llm: stream read: %w", err)})
		}
	}()

	return ch, nil
}

// emit sends tok unless the stream context is done. The boolean reports
// whether the send happened.
func emit(ctx context.Context, ch chan<- Token, tok Token) bool {
	select {
	case ch <- tok:
		return true
	case <-ctx.Done():
		return false
	}
}

// streamAbortOutcome maps an aborted send to its metric outcome.
func streamAbortOutcome(callerCtx context.Context, timedOut bool) string {
	if timedOut {
		return outcomeTimeout
	}
	if callerCtx.Err() != nil {
		return outcomeCancelled
	}
	return outcomeError
}

// postChat issues the /api/chat request shared by Complete and Stream.
func (c *Client) postChat(ctx context.Context, msgs []Message, opts Options, stream bool) (*http.Response, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("llm: options.Model is required")
	}

	body := chatRequest{
		Model:    opts.Model,
		Messages: msgs,
		Stream:   stream,
		Options: modelOptions{
			Temperature:   opts.Temperature,
			NumPredict:    opts.MaxTokens,
			RepeatPenalty: opts.RepeatPenalty,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("llm: request failed: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error != "" {
			return nil, fmt.Errorf("llm: daemon returned HTTP %d: %s", resp.StatusCode, e.Error)
		}
		return nil, fmt.Errorf("llm: daemon returned HTTP %d", resp.StatusCode)
	}
	return resp, nil
}

// tagsResponse is the JSON body returned by the daemon /api/tags endpoint.
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the names of the models currently resident in the daemon.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("llm: list models: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm: list models returned HTTP %d", resp.StatusCode)
	}

	var body tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("llm: decode model list: %w", err)
	}

	names := make([]string, 0, len(body.Models))
	for _, m := range body.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Ping reports whether the daemon is reachable. It uses the version endpoint,
// which is free of model-loading side effects.
func (c *Client) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle pooled connections. Called once at process shutdown.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// classify wraps transport failures in the package's sentinel kinds so the
// HTTP layer can map them to status codes with errors.Is.
func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
}
