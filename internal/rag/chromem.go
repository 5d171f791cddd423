package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"
)

// ErrStoreFailed is returned when the vector store cannot complete an
// operation.
var ErrStoreFailed = errors.New("rag: vector store failed")

// ErrModelMismatch is returned when a collection created with one embedding
// model is opened with another. Mixing embedding spaces yields silently
// wrong retrievals, so this is fatal: the operator must reindex.
var ErrModelMismatch = errors.New("rag: collection embedding model mismatch")

const (
	// headerFile records the collection's embedding model at creation time.
	headerFile = "collection.json"
	// manifestFile holds the per-document aggregate view.
	manifestFile = "documents.json"
	// chromemSubdir is where the vector collection itself persists.
	chromemSubdir = "chromem"
)

// ChromemConfig holds the settings for opening a ChromemStore.
type ChromemConfig struct {
	// Dir is the on-disk directory for vectors and metadata.
	Dir string
	// Collection is the logical collection name.
	Collection string
	// EmbeddingModel is the model this collection is bound to.
	EmbeddingModel string
}

// collectionHeader is the persisted collection identity.
type collectionHeader struct {
	// Collection is the logical collection name.
	Collection string `json:"collection"`
	// EmbeddingModel is the model the collection was created with.
	EmbeddingModel string `json:"embedding_model"`
	// CreatedAt is when the collection was first created.
	CreatedAt time.Time `json:"created_at"`
}

// manifestEntry is the per-document aggregate stored in the manifest.
type manifestEntry struct {
	// Filename is the original filename.
	Filename string `json:"filename"`
	// FileType is the file extension.
	FileType string `json:"file_type"`
	// FileSize is the upload size in bytes.
	FileSize int64 `json:"file_size"`
	// ChunkCount is the number of chunks indexed under the document.
	ChunkCount int `json:"chunk_count"`
	// UploadedAt is the ingestion timestamp (UTC).
	UploadedAt time.Time `json:"uploaded_at"`
}

// ChromemStore implements VectorStore backed by an embedded, file-backed
// chromem collection. Mutations are serialized by an internal lock; reads
// proceed concurrently with other reads.
type ChromemStore struct {
	// mu serializes writers against readers and each other.
	mu sync.RWMutex
	// col is the underlying persistent collection.
	col *chromem.Collection
	// dir is the store's root directory.
	dir string
	// model is the embedding model recorded in the collection header.
	model string
	// docs is the in-memory document manifest, persisted to manifestFile.
	docs map[string]manifestEntry
}

// OpenChromem opens (or creates) the persistent collection under cfg.Dir.
// A collection previously created with a different embedding model is
// rejected with [ErrModelMismatch] rather than silently mixing spaces.
func OpenChromem(cfg *ChromemConfig) (*ChromemStore, error) {
	if cfg.Dir == "" || cfg.Collection == "" || cfg.EmbeddingModel == "" {
		return nil, fmt.Errorf("rag: chromem config requires dir, collection, and embedding model")
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrStoreFailed, cfg.Dir, err)
	}

	if err := checkHeader(cfg); err != nil {
		return nil, err
	}

	db, err := chromem.NewPersistentDB(filepath.Join(cfg.Dir, chromemSubdir), false)
	if err != nil {
		return nil, fmt.Errorf("%w: open collection db: %v", ErrStoreFailed, err)
	}
	col, err := db.GetOrCreateCollection(cfg.Collection, map[string]string{
		"embedding_model": cfg.EmbeddingModel,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open collection %q: %v", ErrStoreFailed, cfg.Collection, err)
	}

	s := &ChromemStore{
		col:   col,
		dir:   cfg.Dir,
		model: cfg.EmbeddingModel,
		docs:  make(map[string]manifestEntry),
	}
	if err := s.loadManifest(); err != nil {
		return nil, err
	}
	return s, nil
}

// checkHeader verifies (or writes) the collection header under cfg.Dir.
func checkHeader(cfg *ChromemConfig) error {
	path := filepath.Join(cfg.Dir, headerFile)

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var hdr collectionHeader
		if err := json.Unmarshal(data, &hdr); err != nil {
			return fmt.Errorf("%w: corrupt header %s: %v", ErrStoreFailed, path, err)
		}
		if hdr.EmbeddingModel != cfg.EmbeddingModel {
			return fmt.Errorf("%w: collection was created with %q but EMBEDDING_MODEL is %q — delete %s to reindex",
				ErrModelMismatch, hdr.EmbeddingModel, cfg.EmbeddingModel, cfg.Dir)
		}
		return nil
	case os.IsNotExist(err):
		hdr := collectionHeader{
			Collection:     cfg.Collection,
			EmbeddingModel: cfg.EmbeddingModel,
			CreatedAt:      time.Now().UTC(),
		}
		return writeFileAtomic(path, hdr)
	default:
		return fmt.Errorf("%w: read header %s: %v", ErrStoreFailed, path, err)
	}
}

// HasDocument reports whether any chunks are indexed under documentID.
func (s *ChromemStore) HasDocument(documentID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.docs[documentID]
	return ok
}

// Upsert stores a batch of records. Records with an already-indexed ChunkID
// replace the existing entry, so re-ingesting a document never duplicates.
func (s *ChromemStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Replace, never accumulate: drop any chunks already indexed under the
	// incoming documents so a re-ingest with fewer chunks leaves no strays.
	seen := map[string]bool{}
	for _, rec := range records {
		id := rec.Metadata.DocumentID
		if !seen[id] {
			seen[id] = true
			if _, err := s.deleteDocumentLocked(ctx, id); err != nil {
				return err
			}
		}
	}

	docs := make([]chromem.Document, 0, len(records))
	for _, rec := range records {
		docs = append(docs, chromem.Document{
			ID:        rec.ChunkID,
			Content:   rec.Text,
			Embedding: rec.Embedding,
			Metadata:  encodeMeta(rec.Metadata),
		})
	}
	if err := s.col.AddDocuments(ctx, docs, 1); err != nil {
		// A failed batch may have landed partially; sweep the incoming IDs so
		// no orphaned chunks survive outside the manifest.
		ids := make([]string, 0, len(records))
		for _, rec := range records {
			ids = append(ids, rec.ChunkID)
		}
		_ = s.col.Delete(context.WithoutCancel(ctx), nil, nil, ids...)
		return fmt.Errorf("%w: upsert %d records: %v", ErrStoreFailed, len(records), err)
	}

	for _, rec := range records {
		m := rec.Metadata
		s.docs[m.DocumentID] = manifestEntry{
			Filename:   m.Filename,
			FileType:   m.FileType,
			FileSize:   m.FileSize,
			ChunkCount: m.TotalChunks,
			UploadedAt: m.UploadedAt,
		}
	}
	return s.saveManifestLocked()
}

// Query returns up to k records by decreasing cosine similarity. Ties are
// broken by ascending chunk ID so repeated queries return identical order.
func (s *ChromemStore) Query(ctx context.Context, embedding []float32, k int) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.col.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	hits, err := s.col.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", ErrStoreFailed, err)
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			ChunkID:    h.ID,
			Text:       h.Content,
			Metadata:   decodeMeta(h.Metadata),
			Similarity: h.Similarity,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	return results, nil
}

// DeleteDocument removes every chunk indexed under documentID and returns
// the number removed. Deleting an unknown ID is a no-op returning 0.
func (s *ChromemStore) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteDocumentLocked(ctx, documentID)
}

// deleteDocumentLocked is DeleteDocument with s.mu already held, shared by
// Upsert's replace path and the public method.
func (s *ChromemStore) deleteDocumentLocked(ctx context.Context, documentID string) (int, error) {
	entry, ok := s.docs[documentID]
	if !ok {
		return 0, nil
	}

	if entry.ChunkCount > 0 {
		ids := make([]string, entry.ChunkCount)
		for i := range ids {
			ids[i] = chunkID(documentID, i)
		}
		if err := s.col.Delete(ctx, nil, nil, ids...); err != nil {
			return 0, fmt.Errorf("%w: delete %s: %v", ErrStoreFailed, documentID, err)
		}
	}

	delete(s.docs, documentID)
	if err := s.saveManifestLocked(); err != nil {
		return 0, err
	}
	return entry.ChunkCount, nil
}

// ListDocuments returns one summary per document, newest upload first.
func (s *ChromemStore) ListDocuments() []DocumentSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DocumentSummary, 0, len(s.docs))
	for id, e := range s.docs {
		out = append(out, DocumentSummary{
			DocumentID: id,
			Filename:   e.Filename,
			FileType:   e.FileType,
			FileSize:   e.FileSize,
			ChunkCount: e.ChunkCount,
			UploadedAt: e.UploadedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].UploadedAt.After(out[j].UploadedAt)
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	return out
}

// Stats returns the aggregate knowledge-base view.
func (s *ChromemStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, e := range s.docs {
		total += e.ChunkCount
	}
	return Stats{
		TotalDocuments: len(s.docs),
		TotalChunks:    total,
		EmbeddingModel: s.model,
	}
}

// Ping reports whether the store directory is still accessible.
func (s *ChromemStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailed, err)
	}
	return nil
}

// chunkID builds the deterministic chunk identity "<document_id>:<ordinal>".
func chunkID(documentID string, ordinal int) string {
	return documentID + ":" + strconv.Itoa(ordinal)
}

// encodeMeta flattens chunk metadata into the string map the collection stores.
func encodeMeta(m ChunkMeta) map[string]string {
	return map[string]string{
		"document_id":  m.DocumentID,
		"filename":     m.Filename,
		"file_type":    m.FileType,
		"file_size":    strconv.FormatInt(m.FileSize, 10),
		"chunk_index":  strconv.Itoa(m.ChunkIndex),
		"total_chunks": strconv.Itoa(m.TotalChunks),
		"uploaded_at":  m.UploadedAt.UTC().Format(time.RFC3339),
	}
}

// decodeMeta parses the stored string map back into chunk metadata.
// Individual field parse failures degrade to zero values rather than failing
// a whole query.
func decodeMeta(m map[string]string) ChunkMeta {
	size, _ := strconv.ParseInt(m["file_size"], 10, 64)
	index, _ := strconv.Atoi(m["chunk_index"])
	total, _ := strconv.Atoi(m["total_chunks"])
	uploaded, _ := time.Parse(time.RFC3339, m["uploaded_at"])
	return ChunkMeta{
		DocumentID:  m["document_id"],
		Filename:    m["filename"],
		FileType:    m["file_type"],
		FileSize:    size,
		ChunkIndex:  index,
		TotalChunks: total,
		UploadedAt:  uploaded,
	}
}

// loadManifest reads the document manifest from disk if present.
func (s *ChromemStore) loadManifest() error {
	path := filepath.Join(s.dir, manifestFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read manifest: %v", ErrStoreFailed, err)
	}
	if err := json.Unmarshal(data, &s.docs); err != nil {
		return fmt.Errorf("%w: corrupt manifest %s: %v", ErrStoreFailed, path, err)
	}
	return nil
}

// saveManifestLocked writes the manifest atomically. Callers hold s.mu.
func (s *ChromemStore) saveManifestLocked() error {
	if err := writeFileAtomic(filepath.Join(s.dir, manifestFile), s.docs); err != nil {
		return err
	}
	return nil
}

// writeFileAtomic marshals v and writes it via a temp file plus rename so a
// crash never leaves a half-written file behind.
func writeFileAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", ErrStoreFailed, filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrStoreFailed, tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: rename %s: %v", ErrStoreFailed, tmp, err)
	}
	return nil
}
