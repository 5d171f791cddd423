package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestRecordAndRecent(t *testing.T) {
	t.Parallel()

	j, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	ctx := context.Background()
	entries := []Entry{
		{Op: OpIngest, DocumentID: "abc123", Filename: "resume.pdf", FileSize: 12288, ChunkCount: 5, Duration: 800 * time.Millisecond, Outcome: "ok"},
		{Op: OpDelete, DocumentID: "abc123", Filename: "resume.pdf", ChunkCount: 5, Outcome: "ok"},
	}
	for _, e := range entries {
		if err := j.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent = %d entries, want 2", len(got))
	}
	// Newest first.
	if got[0].Op != OpDelete || got[1].Op != OpIngest {
		t.Errorf("order = %v, %v; want delete then ingest", got[0].Op, got[1].Op)
	}
	if got[1].ChunkCount != 5 || got[1].FileSize != 12288 {
		t.Errorf("ingest entry round-trip = %+v", got[1])
	}
	if got[1].Duration != 800*time.Millisecond {
		t.Errorf("duration round-trip = %v", got[1].Duration)
	}
}

func TestRecent_Limit(t *testing.T) {
	t.Parallel()

	j, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := j.Record(ctx, Entry{Op: OpIngest, DocumentID: "d", Filename: "f", Outcome: "ok"}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := j.Recent(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("Recent(3) = %d entries", len(got))
	}
}

func TestOpen_CreatesParentDir(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	if err := j.Record(context.Background(), Entry{Op: OpIngest, DocumentID: "d", Filename: "f", Outcome: "ok"}); err != nil {
		t.Fatal(err)
	}
}
