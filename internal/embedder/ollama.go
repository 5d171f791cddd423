// Package embedder converts text into dense vector embeddings using the
// local daemon's /api/embed endpoint. One Service is shared process-wide;
// the model is loaded by the daemon on first use, and WarmUp lets the host
// pay that cost at startup instead of in the first request.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrEmbeddingFailed is returned when the daemon cannot produce embeddings.
var ErrEmbeddingFailed = errors.New("embedder: embedding failed")

const (
	// batchSize is the number of texts sent per /api/embed request. Large
	// documents are split into sub-batches so a single request stays small.
	batchSize = 32

	// batchParallelism bounds concurrent sub-batch requests so bulk
	// ingestion does not monopolize the daemon.
	batchParallelism = 4

	// warmUpProbe is the fixed text embedded once to load the model and
	// learn the vector dimension.
	warmUpProbe = "warm-up probe"
)

// Config holds the settings for constructing a Service.
type Config struct {
	// BaseURL is the daemon base URL (e.g. "http://localhost:11434").
	BaseURL string
	// Model is the embedding model name (e.g. "nomic-embed-text").
	Model string
	// Timeout bounds each embed request. Defaults to 60s.
	Timeout time.Duration
}

// Service is the process-wide embedding service. It is safe for concurrent
// use; the vector dimension is constant once initialized.
type Service struct {
	// base is the daemon base URL without a trailing slash.
	base string
	// model is the embedding model name.
	model string
	// client is the shared HTTP client with a per-request timeout.
	client *http.Client

	// mu guards dim during lazy initialization.
	mu sync.Mutex
	// dim is the vector dimension, 0 until the first successful embed.
	dim int
}

// New constructs a Service from the given config.
func New(cfg *Config) *Service {
	base := cfg.BaseURL
	if base == "" {
		base = "http://localhost:11434"
	}
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Service{
		base:   base,
		model:  cfg.Model,
		client: &http.Client{Timeout: timeout},
	}
}

// Model returns the configured embedding model name.
func (s *Service) Model() string { return s.model }

// Dimension returns the embedding vector dimension. It is 0 until the first
// successful embed (or WarmUp) and constant afterwards.
func (s *Service) Dimension() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dim
}

// WarmUp loads the model by embedding a fixed probe and records the vector
// dimension. Call it at startup so the first request does not pay the model
// load cost; a failure here should be treated as fatal by the host.
func (s *Service) WarmUp(ctx context.Context) error {
	_, err := s.Embed(ctx, warmUpProbe)
	return err
}

// Embed converts a single text into its embedding.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch converts a batch of texts into their embeddings. The returned
// slice is parallel to the input. Large batches are split into sub-batches
// embedded with bounded parallelism.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) <= batchSize {
		return s.embed(ctx, texts)
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchParallelism)

	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		g.Go(func() error {
			vecs, err := s.embed(gctx, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// embedRequest is the JSON body sent to the daemon /api/embed endpoint.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the JSON body returned from the daemon /api/embed endpoint.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// embed performs one /api/embed request for a batch of texts.
func (s *Service) embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(embedRequest{Model: s.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrEmbeddingFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrEmbeddingFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrEmbeddingFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if result.Error != "" {
			msg = result.Error
		}
		return nil, fmt.Errorf("%w: %s", ErrEmbeddingFailed, msg)
	}

	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbeddingFailed, len(texts), len(result.Embeddings))
	}

	return result.Embeddings, s.recordDimension(result.Embeddings)
}

// recordDimension pins the vector dimension on first success and rejects any
// later drift — mixing dimensions would silently corrupt the collection.
func (s *Service) recordDimension(vecs [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("%w: daemon returned an empty vector", ErrEmbeddingFailed)
		}
		if s.dim == 0 {
			s.dim = len(v)
			continue
		}
		if len(v) != s.dim {
			return fmt.Errorf("%w: dimension changed from %d to %d", ErrEmbeddingFailed, s.dim, len(v))
		}
	}
	return nil
}
