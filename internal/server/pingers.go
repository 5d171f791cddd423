package server

import (
	"context"
	"fmt"

	"github.com/54b3r/askdocs-go/internal/llm"
	"github.com/54b3r/askdocs-go/internal/rag"
)

// Pinger is the interface implemented by any dependency that can report its
// own reachability. Each implementation must return nil when the dependency
// is healthy and a descriptive error otherwise.
// Implementations must be safe to call from multiple goroutines.
type Pinger interface {
	// Ping checks whether the dependency is reachable within the given context.
	// Returns nil on success, a descriptive error on failure.
	Ping(ctx context.Context) error

	// Name returns the service label used in health responses
	// (e.g. "llm", "vector_store").
	Name() string
}

// llmPinger probes the model daemon via its zero-cost version endpoint.
type llmPinger struct {
	// client is the shared daemon client.
	client *llm.Client
}

// NewLLMPinger constructs the health probe for the model daemon.
func NewLLMPinger(client *llm.Client) Pinger {
	return &llmPinger{client: client}
}

// Name returns the service label used in health responses.
func (p *llmPinger) Name() string { return "llm" }

// Ping probes the daemon's version endpoint.
func (p *llmPinger) Ping(ctx context.Context) error {
	if !p.client.Ping(ctx) {
		return fmt.Errorf("llm daemon not reachable")
	}
	return nil
}

// storePinger probes the vector store.
type storePinger struct {
	// store is the persistent vector store.
	store rag.VectorStore
}

// NewStorePinger constructs the health probe for the vector store.
func NewStorePinger(store rag.VectorStore) Pinger {
	return &storePinger{store: store}
}

// Name returns the service label used in health responses.
func (p *storePinger) Name() string { return "vector_store" }

// Ping delegates to the store's own reachability check.
func (p *storePinger) Ping(ctx context.Context) error {
	return p.store.Ping(ctx)
}
