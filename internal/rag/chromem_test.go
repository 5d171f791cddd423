package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// testStore opens a ChromemStore in a fresh temp dir.
func testStore(t *testing.T, dir string) *ChromemStore {
	t.Helper()
	s, err := OpenChromem(&ChromemConfig{
		Dir:            dir,
		Collection:     "documents",
		EmbeddingModel: "nomic-embed-text",
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// makeRecords builds n chunk records for one document. dir is the dominant
// vector component so documents occupy distinct directions.
func makeRecords(docID, filename string, n, dir int, uploadedAt time.Time) []Record {
	records := make([]Record, n)
	for i := range records {
		emb := make([]float32, 4)
		emb[dir%4] = 1
		emb[(dir+1)%4] = float32(i) * 0.01
		records[i] = Record{
			ChunkID:   chunkID(docID, i),
			Embedding: emb,
			Text:      fmt.Sprintf("%s chunk %d", filename, i),
			Metadata: ChunkMeta{
				DocumentID:  docID,
				Filename:    filename,
				FileType:    ".txt",
				FileSize:    1024,
				ChunkIndex:  i,
				TotalChunks: n,
				UploadedAt:  uploadedAt,
			},
		}
	}
	return records
}

func TestChromem_UpsertAndQuery(t *testing.T) {
	t.Parallel()

	s := testStore(t, t.TempDir())
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if err := s.Upsert(ctx, makeRecords("doc1", "a.txt", 3, 0, now)); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, makeRecords("doc2", "b.txt", 2, 1, now)); err != nil {
		t.Fatal(err)
	}

	results, err := s.Query(ctx, []float32{1, 0, 0, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Metadata.DocumentID != "doc1" {
		t.Errorf("top hit document = %q, want doc1", results[0].Metadata.DocumentID)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Similarity > results[i-1].Similarity {
			t.Errorf("results not in decreasing similarity at %d", i)
		}
	}
	if results[0].Metadata.Filename != "a.txt" || results[0].Metadata.TotalChunks != 3 {
		t.Errorf("metadata round-trip = %+v", results[0].Metadata)
	}
	if !results[0].Metadata.UploadedAt.Equal(now) {
		t.Errorf("uploaded_at round-trip = %v, want %v", results[0].Metadata.UploadedAt, now)
	}
}

func TestChromem_QueryDeterministicWithTies(t *testing.T) {
	t.Parallel()

	s := testStore(t, t.TempDir())
	ctx := context.Background()
	now := time.Now().UTC()

	// Identical embeddings force ties; ordering must fall back to chunk ID.
	records := makeRecords("doc1", "a.txt", 4, 0, now)
	for i := range records {
		records[i].Embedding = []float32{1, 0, 0, 0}
	}
	if err := s.Upsert(ctx, records); err != nil {
		t.Fatal(err)
	}

	first, err := s.Query(ctx, []float32{1, 0, 0, 0}, 4)
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(first); i++ {
		if first[i-1].Similarity == first[i].Similarity && first[i-1].ChunkID >= first[i].ChunkID {
			t.Errorf("tie not broken by chunk ID at %d: %q >= %q", i, first[i-1].ChunkID, first[i].ChunkID)
		}
	}

	second, err := s.Query(ctx, []float32{1, 0, 0, 0}, 4)
	if err != nil {
		t.Fatal(err)
	}
	for i := range first {
		if first[i].ChunkID != second[i].ChunkID {
			t.Fatalf("query order differs between calls at %d: %q vs %q", i, first[i].ChunkID, second[i].ChunkID)
		}
	}
}

func TestChromem_QueryEmptyCollection(t *testing.T) {
	t.Parallel()

	s := testStore(t, t.TempDir())
	results, err := s.Query(context.Background(), []float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("empty collection returned %d results", len(results))
	}
}

func TestChromem_QueryClampsK(t *testing.T) {
	t.Parallel()

	s := testStore(t, t.TempDir())
	ctx := context.Background()
	if err := s.Upsert(ctx, makeRecords("doc1", "a.txt", 2, 0, time.Now())); err != nil {
		t.Fatal(err)
	}
	results, err := s.Query(ctx, []float32{1, 0, 0, 0}, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want all 2", len(results))
	}
}

func TestChromem_DeleteCompleteness(t *testing.T) {
	t.Parallel()

	s := testStore(t, t.TempDir())
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.Upsert(ctx, makeRecords("doc1", "a.txt", 3, 0, now)); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, makeRecords("doc2", "b.txt", 2, 1, now)); err != nil {
		t.Fatal(err)
	}
	before := s.Stats()

	deleted, err := s.DeleteDocument(ctx, "doc1")
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}

	after := s.Stats()
	if after.TotalChunks != before.TotalChunks-deleted {
		t.Errorf("total chunks %d → %d, want a decrease of %d", before.TotalChunks, after.TotalChunks, deleted)
	}
	if after.TotalDocuments != 1 {
		t.Errorf("total documents = %d, want 1", after.TotalDocuments)
	}

	results, err := s.Query(ctx, []float32{1, 0, 0, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.Metadata.DocumentID == "doc1" {
			t.Errorf("deleted document still retrievable: %q", r.ChunkID)
		}
	}
	if s.HasDocument("doc1") {
		t.Error("HasDocument still true after delete")
	}
}

func TestChromem_DeleteUnknownIsIdempotent(t *testing.T) {
	t.Parallel()

	s := testStore(t, t.TempDir())
	deleted, err := s.DeleteDocument(context.Background(), "no-such-doc")
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 0 {
		t.Errorf("deleted = %d, want 0", deleted)
	}
}

func TestChromem_ReingestReplaces(t *testing.T) {
	t.Parallel()

	s := testStore(t, t.TempDir())
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.Upsert(ctx, makeRecords("doc1", "a.txt", 3, 0, now)); err != nil {
		t.Fatal(err)
	}
	// Second ingest of the same document produces fewer chunks.
	if err := s.Upsert(ctx, makeRecords("doc1", "a.txt", 2, 0, now)); err != nil {
		t.Fatal(err)
	}

	stats := s.Stats()
	if stats.TotalDocuments != 1 || stats.TotalChunks != 2 {
		t.Errorf("stats after re-ingest = %+v, want 1 document with 2 chunks", stats)
	}

	results, err := s.Query(ctx, []float32{1, 0, 0, 0}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Errorf("got %d chunks after re-ingest, want 2", len(results))
	}
	for _, r := range results {
		if r.ChunkID == "doc1:2" {
			t.Error("stale chunk from the first ingest survived")
		}
	}
}

func TestChromem_ListDocumentsNewestFirst(t *testing.T) {
	t.Parallel()

	s := testStore(t, t.TempDir())
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := s.Upsert(ctx, makeRecords("older", "old.txt", 1, 0, base)); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, makeRecords("newer", "new.txt", 1, 1, base.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	docs := s.ListDocuments()
	if len(docs) != 2 {
		t.Fatalf("got %d documents", len(docs))
	}
	if docs[0].DocumentID != "newer" || docs[1].DocumentID != "older" {
		t.Errorf("order = %q, %q; want newest first", docs[0].DocumentID, docs[1].DocumentID)
	}
}

func TestChromem_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	s := testStore(t, dir)
	if err := s.Upsert(ctx, makeRecords("doc1", "a.txt", 3, 0, now)); err != nil {
		t.Fatal(err)
	}

	reopened := testStore(t, dir)
	stats := reopened.Stats()
	if stats.TotalDocuments != 1 || stats.TotalChunks != 3 {
		t.Fatalf("stats after reopen = %+v", stats)
	}

	results, err := reopened.Query(ctx, []float32{1, 0, 0, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Errorf("got %d results after reopen, want 3", len(results))
	}
}

func TestChromem_ModelMismatchFailsLoudly(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_ = testStore(t, dir)

	_, err := OpenChromem(&ChromemConfig{
		Dir:            dir,
		Collection:     "documents",
		EmbeddingModel: "a-different-model",
	})
	if !errors.Is(err, ErrModelMismatch) {
		t.Fatalf("error = %v, want ErrModelMismatch", err)
	}
}

func TestChromem_StatsInvariant(t *testing.T) {
	t.Parallel()

	s := testStore(t, t.TempDir())
	ctx := context.Background()
	now := time.Now().UTC()

	for i, n := range []int{3, 1, 4} {
		docID := fmt.Sprintf("doc%d", i)
		if err := s.Upsert(ctx, makeRecords(docID, docID+".txt", n, i, now)); err != nil {
			t.Fatal(err)
		}
	}

	sum := 0
	for _, d := range s.ListDocuments() {
		sum += d.ChunkCount
	}
	if stats := s.Stats(); stats.TotalChunks != sum {
		t.Errorf("stats.TotalChunks = %d, sum of chunk counts = %d", stats.TotalChunks, sum)
	}
}
