package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

func stored(id string, vec ...float32) domain.StoredChunk {
	return domain.StoredChunk{Chunk: domain.Chunk{ID: id, Text: "text " + id}, Vector: vec}
}

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	if ok, _ := s.CollectionExists(ctx, "c"); ok {
		t.Fatal("collection should not exist yet")
	}
	if err := s.CreateCollection(ctx, domain.CollectionSpec{Name: "c", Dimensions: 2, Fingerprint: "p/m/2"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateCollection(ctx, domain.CollectionSpec{Name: "c"}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	fp, err := s.Fingerprint(ctx, "c")
	if err != nil || fp != "p/m/2" {
		t.Fatalf("fingerprint = %q, %v", fp, err)
	}

	if err := s.Upsert(ctx, "c", []domain.StoredChunk{stored("a", 1, 0), stored("b", 0, 1)}); err != nil {
		t.Fatal(err)
	}
	// same ID replaces
	if err := s.Upsert(ctx, "c", []domain.StoredChunk{stored("a", 1, 0.1)}); err != nil {
		t.Fatal(err)
	}
	if s.Len("c") != 2 {
		t.Fatalf("len = %d, want 2", s.Len("c"))
	}

	if err := s.DropCollection(ctx, "c"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Fingerprint(ctx, "c"); !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Fatalf("expected ErrCollectionNotFound, got %v", err)
	}
}

func TestStore_QueryOrdersBySimilarity(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.CreateCollection(ctx, domain.CollectionSpec{Name: "c", Dimensions: 2})
	_ = s.Upsert(ctx, "c", []domain.StoredChunk{
		stored("far", 0, 1),
		stored("near", 1, 0.1),
		stored("exact", 1, 0),
		stored("opposite", -1, 0),
	})

	hits, err := s.Query(ctx, "c", []float32{1, 0}, 3, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 {
		t.Fatalf("hits = %d, want 3", len(hits))
	}
	if hits[0].Chunk.ID != "exact" || hits[1].Chunk.ID != "near" {
		t.Errorf("order = %s, %s, %s", hits[0].Chunk.ID, hits[1].Chunk.ID, hits[2].Chunk.ID)
	}
	if hits[0].Vector != nil {
		t.Error("vectors should be omitted unless requested")
	}
	for _, h := range hits {
		if h.Score < 0 || h.Score > 1 {
			t.Errorf("score %v out of [0,1]", h.Score)
		}
	}

	hits, _ = s.Query(ctx, "c", []float32{1, 0}, 1, true)
	if len(hits[0].Vector) != 2 {
		t.Error("expected vector when withVectors is set")
	}
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.Query(ctx, "missing", []float32{1}, 1, false); !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Errorf("query: expected ErrCollectionNotFound, got %v", err)
	}
	if err := s.Upsert(ctx, "missing", nil); !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Errorf("upsert: expected ErrCollectionNotFound, got %v", err)
	}

	_ = s.CreateCollection(ctx, domain.CollectionSpec{Name: "c", Dimensions: 3})
	if err := s.Upsert(ctx, "c", []domain.StoredChunk{stored("a", 1, 0)}); !errors.Is(err, domain.ErrVectorStoreError) {
		t.Errorf("dimension mismatch: expected ErrVectorStoreError, got %v", err)
	}
}
