// Package rag implements retrieval-augmented generation over a private
// document corpus: the ingestion pipeline (parse → chunk → embed → index),
// the persistent vector store, and the query engine that fuses retrieved
// context with model generation. Interfaces are defined here so the engine
// never depends on a concrete backend and tests can inject fakes.
package rag

import (
	"context"
	"time"

	"github.com/54b3r/askdocs-go/internal/llm"
)

// ChunkMeta is the metadata attached to every indexed chunk.
type ChunkMeta struct {
	// DocumentID is the parent document's stable identity.
	DocumentID string
	// Filename is the parent document's original filename.
	Filename string
	// FileType is the parent document's extension (e.g. ".pdf").
	FileType string
	// FileSize is the parent document's size in bytes.
	FileSize int64
	// ChunkIndex is this chunk's 0-based position within the document.
	ChunkIndex int
	// TotalChunks is the number of chunks the document was split into.
	TotalChunks int
	// UploadedAt is when the parent document was ingested (UTC).
	UploadedAt time.Time
}

// Record is one unit of indexed knowledge: a chunk with its embedding.
type Record struct {
	// ChunkID is the unique chunk identity, "<document_id>:<ordinal>".
	ChunkID string
	// Embedding is the chunk's dense vector.
	Embedding []float32
	// Metadata describes the chunk's provenance.
	Metadata ChunkMeta
	// Text is the chunk's raw text content.
	Text string
}

// Result is one retrieval hit.
type Result struct {
	// ChunkID is the matched chunk's identity.
	ChunkID string
	// Text is the matched chunk's text content.
	Text string
	// Metadata describes the matched chunk's provenance.
	Metadata ChunkMeta
	// Similarity is the cosine similarity to the query (-1.0 to 1.0).
	Similarity float32
}

// DocumentSummary is the aggregated admin view of one indexed document.
type DocumentSummary struct {
	// DocumentID is the document's stable identity.
	DocumentID string `json:"document_id"`
	// Filename is the original filename.
	Filename string `json:"filename"`
	// FileType is the file extension.
	FileType string `json:"file_type"`
	// FileSize is the upload size in bytes.
	FileSize int64 `json:"file_size"`
	// ChunkCount is the number of chunks indexed under this document.
	ChunkCount int `json:"chunk_count"`
	// UploadedAt is the ingestion timestamp (UTC).
	UploadedAt time.Time `json:"uploaded_at"`
}

// Stats is the aggregate view of the knowledge base.
type Stats struct {
	// TotalDocuments is the number of distinct indexed documents.
	TotalDocuments int `json:"total_documents"`
	// TotalChunks is the number of indexed chunks across all documents.
	TotalChunks int `json:"total_chunks"`
	// EmbeddingModel is the model the collection was created with.
	EmbeddingModel string `json:"embedding_model"`
}

// Embedder converts text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a single text into its embedding.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch converts a batch of texts; the result is parallel to the input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the vector dimension, constant after initialization.
	Dimension() int
}

// VectorStore persists and searches chunk records. The engine is the only
// writer; implementations must serialize mutations internally and allow
// concurrent readers.
type VectorStore interface {
	// HasDocument reports whether any chunks are indexed under documentID.
	HasDocument(documentID string) bool
	// Upsert stores a batch of records, replacing records with equal ChunkID.
	Upsert(ctx context.Context, records []Record) error
	// Query returns up to k records by decreasing cosine similarity, ties
	// broken by ascending chunk ID for determinism.
	Query(ctx context.Context, embedding []float32, k int) ([]Result, error)
	// DeleteDocument removes every chunk indexed under documentID and
	// returns the number removed. Unknown IDs return 0 without error.
	DeleteDocument(ctx context.Context, documentID string) (int, error)
	// ListDocuments returns one summary per document, newest upload first.
	ListDocuments() []DocumentSummary
	// Stats returns the aggregate knowledge-base view.
	Stats() Stats
	// Ping reports whether the store is usable.
	Ping(ctx context.Context) error
}

// Generator produces chat completions. *llm.Client satisfies it; tests
// inject a fake.
type Generator interface {
	// Complete performs a blocking completion.
	Complete(ctx context.Context, msgs []llm.Message, opts llm.Options) (string, error)
	// Stream performs a streaming completion delivering tokens in
	// production order on a channel closed after the final token.
	Stream(ctx context.Context, msgs []llm.Message, opts llm.Options) (<-chan llm.Token, error)
}
