package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/askdocs-go/internal/budget"
	"github.com/54b3r/askdocs-go/internal/chunk"
	"github.com/54b3r/askdocs-go/internal/journal"
	"github.com/54b3r/askdocs-go/internal/llm"
	"github.com/54b3r/askdocs-go/internal/loader"
)

// ErrQueryEmpty is returned when a chat query is empty after trimming.
var ErrQueryEmpty = errors.New("rag: query must not be empty")

// EngineConfig holds the engine's resolved configuration.
type EngineConfig struct {
	// ChunkSize is the chunk budget in bytes of UTF-8 text, not characters.
	ChunkSize int
	// ChunkOverlap is the overlap carried between successive chunks.
	ChunkOverlap int
	// TopK is the number of chunks retrieved per query.
	TopK int
	// HistoryBudgetTokens caps supplied chat history; oldest turns are
	// dropped first.
	HistoryBudgetTokens int
	// Model is the generation model name sent with every request.
	Model string
	// Temperature is the generation sampling temperature.
	Temperature float32
	// MaxTokens caps generated tokens per response.
	MaxTokens int
	// RepeatPenalty discourages verbatim repetition.
	RepeatPenalty float32
	// UploadDir retains raw uploads keyed by document ID. Empty disables
	// retention. Retention is best-effort and never fails an ingest.
	UploadDir string
	// Registerer receives the engine's Prometheus metrics. If nil a private
	// registry is used.
	Registerer prometheus.Registerer
}

// Engine is the orchestrator at the center of the system. It owns ingestion
// (parse → chunk → embed → index), query answering (embed → retrieve →
// prompt → generate), and the admin operations. It is the only component
// with write access to the vector store.
type Engine struct {
	// embedder converts text into dense vectors.
	embedder Embedder
	// store persists and searches chunk records.
	store VectorStore
	// generator produces chat completions.
	generator Generator
	// loader validates and parses uploads.
	loader *loader.Loader
	// journal records ingest operations. May be nil (journaling disabled).
	journal *journal.Journal
	// cfg is the resolved configuration, read-only after construction.
	cfg *EngineConfig
	// log is the engine's structured logger.
	log *slog.Logger
	// metrics holds the engine's Prometheus instruments.
	metrics *engineMetrics
	// docLocks serializes ingestion per document ID, so racing re-uploads of
	// the same document settle to one of the two, never a mixture.
	docLocks keyedMutex
}

// NewEngine constructs an Engine from its dependencies.
func NewEngine(embedder Embedder, store VectorStore, generator Generator, ld *loader.Loader, jnl *journal.Journal, cfg *EngineConfig, log *slog.Logger) (*Engine, error) {
	if embedder == nil || store == nil || generator == nil || ld == nil {
		return nil, fmt.Errorf("rag: engine dependencies must not be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("rag: engine config must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Engine{
		embedder:  embedder,
		store:     store,
		generator: generator,
		loader:    ld,
		journal:   jnl,
		cfg:       cfg,
		log:       log,
		metrics:   newEngineMetrics(reg),
	}, nil
}

// Ingest parses an upload, chunks and embeds its text, and indexes the
// result. Re-ingesting a byte-identical upload is idempotent: the document
// keeps its identity and its chunks are replaced, never duplicated. On a
// store failure the in-progress document is deleted so partial indexing
// never persists.
func (e *Engine) Ingest(ctx context.Context, filename string, data []byte) (DocumentSummary, error) {
	start := time.Now()

	if err := e.loader.Validate(filename, int64(len(data))); err != nil {
		return DocumentSummary{}, err
	}

	text, docID, err := e.loader.Parse(filename, data)
	if err != nil {
		return DocumentSummary{}, err
	}

	unlock := e.docLocks.lock(docID)
	defer unlock()

	if e.store.HasDocument(docID) {
		// Same identity as an earlier upload; the store replaces its chunks
		// during upsert.
		e.log.Info("ingest: replacing existing document",
			slog.String("document_id", docID),
			slog.String("filename", filename),
		)
	}

	chunks, err := chunk.Split(text, e.cfg.ChunkSize, e.cfg.ChunkOverlap)
	if err != nil {
		return DocumentSummary{}, fmt.Errorf("rag: chunking %s: %w", filename, err)
	}

	vectors, err := e.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		e.recordIngest(docID, filename, int64(len(data)), 0, start, "embedding_failed")
		return DocumentSummary{}, err
	}

	dim := e.embedder.Dimension()
	for i, v := range vectors {
		if len(v) != dim {
			e.recordIngest(docID, filename, int64(len(data)), 0, start, "embedding_failed")
			return DocumentSummary{}, fmt.Errorf("rag: chunk %d embedding has dimension %d, service reports %d", i, len(v), dim)
		}
	}

	uploadedAt := time.Now().UTC()
	records := make([]Record, len(chunks))
	for i, c := range chunks {
		records[i] = Record{
			ChunkID:   chunkID(docID, i),
			Embedding: vectors[i],
			Text:      c,
			Metadata: ChunkMeta{
				DocumentID:  docID,
				Filename:    filename,
				FileType:    strings.ToLower(filepath.Ext(filename)),
				FileSize:    int64(len(data)),
				ChunkIndex:  i,
				TotalChunks: len(chunks),
				UploadedAt:  uploadedAt,
			},
		}
	}

	if err := e.store.Upsert(ctx, records); err != nil {
		// Compensate so a partially indexed document never persists. The
		// deletion is best-effort; the caller's retry is safe either way
		// because the document ID is deterministic.
		if _, derr := e.store.DeleteDocument(context.WithoutCancel(ctx), docID); derr != nil {
			e.log.Error("ingest: compensating delete failed",
				slog.String("document_id", docID),
				slog.Any("error", derr),
			)
		}
		e.recordIngest(docID, filename, int64(len(data)), 0, start, "store_failed")
		return DocumentSummary{}, err
	}

	e.saveUpload(filename, docID, data)
	e.recordIngest(docID, filename, int64(len(data)), len(chunks), start, "ok")
	e.metrics.documentsIngested.Inc()
	e.metrics.chunksIngested.Add(float64(len(chunks)))

	e.log.Info("ingest: document indexed",
		slog.String("document_id", docID),
		slog.String("filename", filename),
		slog.Int("chunks", len(chunks)),
		slog.Duration("duration", time.Since(start)),
	)

	return DocumentSummary{
		DocumentID: docID,
		Filename:   filename,
		FileType:   strings.ToLower(filepath.Ext(filename)),
		FileSize:   int64(len(data)),
		ChunkCount: len(chunks),
		UploadedAt: uploadedAt,
	}, nil
}

// Answer performs a blocking retrieval-augmented completion. It returns the
// answer text and the ordered, deduplicated source filenames of the
// retrieved context.
func (e *Engine) Answer(ctx context.Context, query string, history []llm.Message) (string, []string, error) {
	msgs, sources, err := e.prepare(ctx, query, history)
	if err != nil {
		return "", nil, err
	}

	answer, err := e.generator.Complete(ctx, msgs, e.options())
	if err != nil {
		return "", nil, err
	}
	e.metrics.queriesTotal.Inc()
	return answer, sources, nil
}

// AnswerStream performs a streaming retrieval-augmented completion. The
// source list is available before the first token; tokens are delivered in
// production order and the channel closes after the final token. Cancelling
// ctx aborts the upstream generation.
func (e *Engine) AnswerStream(ctx context.Context, query string, history []llm.Message) ([]string, <-chan llm.Token, error) {
	msgs, sources, err := e.prepare(ctx, query, history)
	if err != nil {
		return nil, nil, err
	}

	ch, err := e.generator.Stream(ctx, msgs, e.options())
	if err != nil {
		return nil, nil, err
	}
	e.metrics.queriesTotal.Inc()
	return sources, ch, nil
}

// prepare runs the shared retrieval half of a query: embed, retrieve,
// compose the prompt, and extract the source list.
func (e *Engine) prepare(ctx context.Context, query string, history []llm.Message) ([]llm.Message, []string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil, ErrQueryEmpty
	}

	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, nil, err
	}

	hits, err := e.store.Query(ctx, embedding, e.cfg.TopK)
	if err != nil {
		return nil, nil, err
	}
	// Zero hits is not an error: the prompt carries an empty context and the
	// system message shapes a graceful decline.

	trimmed := budget.TrimHistory(nil, history, e.cfg.HistoryBudgetTokens)

	msgs := make([]llm.Message, 0, len(trimmed)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	msgs = append(msgs, trimmed...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: buildUserMessage(hits, query)})

	return msgs, sourceList(hits), nil
}

// ListDocuments returns the admin view of all indexed documents.
func (e *Engine) ListDocuments() []DocumentSummary {
	return e.store.ListDocuments()
}

// DeleteDocument removes a document and all its chunks. Deleting an unknown
// ID is a no-op returning 0.
func (e *Engine) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	unlock := e.docLocks.lock(documentID)
	defer unlock()

	start := time.Now()
	deleted, err := e.store.DeleteDocument(ctx, documentID)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		e.journalRecord(journal.Entry{
			Op:         journal.OpDelete,
			DocumentID: documentID,
			ChunkCount: deleted,
			Duration:   time.Since(start),
			Outcome:    "ok",
		})
		e.removeUpload(documentID)
	}
	return deleted, nil
}

// Stats returns the aggregate knowledge-base view.
func (e *Engine) Stats() Stats {
	return e.store.Stats()
}

// options builds the per-request generation options from configuration.
func (e *Engine) options() llm.Options {
	return llm.Options{
		Model:         e.cfg.Model,
		Temperature:   e.cfg.Temperature,
		MaxTokens:     e.cfg.MaxTokens,
		RepeatPenalty: e.cfg.RepeatPenalty,
	}
}

// saveUpload retains the raw upload under the upload dir keyed by document
// ID. Retention exists for debugging and re-ingestion; the vector store
// stays authoritative, so failures only log.
func (e *Engine) saveUpload(filename, docID string, data []byte) {
	if e.cfg.UploadDir == "" {
		return
	}
	if err := os.MkdirAll(e.cfg.UploadDir, 0o750); err != nil {
		e.log.Warn("ingest: upload dir unavailable", slog.Any("error", err))
		return
	}
	path := filepath.Join(e.cfg.UploadDir, docID+strings.ToLower(filepath.Ext(filename)))
	if err := os.WriteFile(path, data, 0o640); err != nil {
		e.log.Warn("ingest: upload retention failed",
			slog.String("path", path),
			slog.Any("error", err),
		)
	}
}

// removeUpload drops any retained upload files for a deleted document.
func (e *Engine) removeUpload(docID string) {
	if e.cfg.UploadDir == "" {
		return
	}
	matches, err := filepath.Glob(filepath.Join(e.cfg.UploadDir, docID+".*"))
	if err != nil {
		return
	}
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

// recordIngest writes an ingest journal entry.
func (e *Engine) recordIngest(docID, filename string, size int64, chunks int, start time.Time, outcome string) {
	if outcome != "ok" {
		e.metrics.ingestFailures.Inc()
	}
	e.journalRecord(journal.Entry{
		Op:         journal.OpIngest,
		DocumentID: docID,
		Filename:   filename,
		FileSize:   size,
		ChunkCount: chunks,
		Duration:   time.Since(start),
		Outcome:    outcome,
	})
}

// journalRecord persists a journal entry, logging instead of failing when
// the journal is unavailable.
func (e *Engine) journalRecord(entry journal.Entry) {
	if e.journal == nil {
		return
	}
	// The operation already committed; journaling is advisory.
	if err := e.journal.Record(context.Background(), entry); err != nil {
		e.log.Warn("journal write failed", slog.Any("error", err))
	}
}

// engineMetrics holds the engine's Prometheus instruments.
type engineMetrics struct {
	// documentsIngested counts successfully indexed documents.
	documentsIngested prometheus.Counter
	// chunksIngested counts successfully indexed chunks.
	chunksIngested prometheus.Counter
	// ingestFailures counts failed ingest attempts past validation.
	ingestFailures prometheus.Counter
	// queriesTotal counts answered queries (blocking and streaming).
	queriesTotal prometheus.Counter
}

// newEngineMetrics registers the engine metrics against reg.
func newEngineMetrics(reg prometheus.Registerer) *engineMetrics {
	factory := promauto.With(reg)
	return &engineMetrics{
		documentsIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "askdocs", Subsystem: "ingest", Name: "documents_total",
			Help: "Total number of documents successfully indexed.",
		}),
		chunksIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "askdocs", Subsystem: "ingest", Name: "chunks_total",
			Help: "Total number of chunks successfully indexed.",
		}),
		ingestFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "askdocs", Subsystem: "ingest", Name: "failures_total",
			Help: "Total number of ingest attempts that failed past validation.",
		}),
		queriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "askdocs", Subsystem: "query", Name: "answered_total",
			Help: "Total number of retrieval-augmented queries answered.",
		}),
	}
}

// keyedMutex serializes callers per string key. Entries are removed when the
// last holder releases, so the map stays bounded by in-flight keys.
type keyedMutex struct {
	// mu guards locks.
	mu sync.Mutex
	// locks maps key to its entry.
	locks map[string]*keyedLock
}

// keyedLock is one key's lock plus its reference count.
type keyedLock struct {
	// mu is the per-key mutex.
	mu sync.Mutex
	// refs counts holders and waiters.
	refs int
}

// lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
