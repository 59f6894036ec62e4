package vector

import (
	"context"
	"path/filepath"
	"testing"
)

func TestIndexAddThenSearchExactMatch(t *testing.T) {
	ctx := context.Background()
	idx := New(3)

	if err := idx.Add(ctx, "a", []float32{1, 0, 0}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := idx.Add(ctx, "b", []float32{0, 1, 0}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("expected exact match on a, got %v", results)
	}
	if results[0].Score < 0.99 {
		t.Errorf("expected near-1.0 score for exact match, got %f", results[0].Score)
	}
}

func TestIndexSearchCapsKToLiveSize(t *testing.T) {
	ctx := context.Background()
	idx := New(2)
	idx.Add(ctx, "a", []float32{1, 0})
	idx.Add(ctx, "b", []float32{0, 1})

	results, err := idx.Search(ctx, []float32{1, 1}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected results capped at live size 2, got %d", len(results))
	}
}

func TestIndexDeleteOrphansAreFiltered(t *testing.T) {
	ctx := context.Background()
	idx := New(2)
	idx.Add(ctx, "a", []float32{1, 0})
	idx.Delete("a")

	results, err := idx.Search(ctx, []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected deleted id filtered from results, got %v", results)
	}
	if idx.Size() != 0 {
		t.Errorf("expected size 0 after delete, got %d", idx.Size())
	}
}

func TestIndexDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	idx := New(3)
	if err := idx.Add(ctx, "a", []float32{1, 0}); err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestIndexSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	idx := New(3)
	idx.Add(ctx, "a", []float32{1, 0, 0})
	idx.Add(ctx, "b", []float32{0, 1, 0})

	path := filepath.Join(t.TempDir(), "vectors.hnsw")
	if err := idx.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Size() != idx.Size() {
		t.Fatalf("expected size %d, got %d", idx.Size(), loaded.Size())
	}

	results, err := loaded.Search(ctx, []float32{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("Search after load: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("expected a after reload, got %v", results)
	}
}
