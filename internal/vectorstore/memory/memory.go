// Package memory is an in-process vector store with brute-force cosine
// search. It backs --dry-run, tests and small local knowledge bases.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

var _ domain.VectorStore = (*Store)(nil)

type collection struct {
	spec  domain.CollectionSpec
	items map[string]domain.StoredChunk
}

// Store keeps collections in memory. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// New creates an empty store.
func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

// Ready always succeeds.
func (s *Store) Ready(context.Context) error { return nil }

// CollectionExists reports whether name was created.
func (s *Store) CollectionExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[name]
	return ok, nil
}

// CreateCollection registers an empty collection.
func (s *Store) CreateCollection(_ context.Context, spec domain.CollectionSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[spec.Name]; ok {
		return fmt.Errorf("collection %q: %w", spec.Name, domain.ErrAlreadyExists)
	}
	s.collections[spec.Name] = &collection{spec: spec, items: make(map[string]domain.StoredChunk)}
	return nil
}

// DropCollection removes a collection. Dropping a missing one is a no-op.
func (s *Store) DropCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

// Fingerprint returns the embedding fingerprint recorded at creation.
func (s *Store) Fingerprint(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	return c.spec.Fingerprint, nil
}

// Upsert stores items keyed by chunk ID.
func (s *Store) Upsert(_ context.Context, name string, items []domain.StoredChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	for _, it := range items {
		if c.spec.Dimensions > 0 && len(it.Vector) != c.spec.Dimensions {
			return fmt.Errorf("%w: chunk %s has %d dimensions, collection expects %d",
				domain.ErrVectorStoreError, it.Chunk.ID, len(it.Vector), c.spec.Dimensions)
		}
	}
	for _, it := range items {
		it.Vector = slices.Clone(it.Vector)
		c.items[it.Chunk.ID] = it
	}
	return nil
}

// Query scores every item against vector and returns the k best.
func (s *Store) Query(
	_ context.Context, name string, vector []float32, k int, withVectors bool,
) ([]domain.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrCollectionNotFound, name)
	}
	if k <= 0 {
		return nil, nil
	}

	hits := make([]domain.ScoredChunk, 0, len(c.items))
	for _, it := range c.items {
		hit := domain.ScoredChunk{
			Chunk: it.Chunk,
			Score: max(0, domain.Cosine(vector, it.Vector)),
		}
		if withVectors {
			hit.Vector = slices.Clone(it.Vector)
		}
		hits = append(hits, hit)
	}

	// ties broken by ID so results are stable across map iteration order
	slices.SortFunc(hits, func(a, b domain.ScoredChunk) int {
		if d := cmp.Compare(b.Score, a.Score); d != 0 {
			return d
		}
		return cmp.Compare(a.Chunk.ID, b.Chunk.ID)
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Len returns the number of items in a collection, 0 when it does not exist.
func (s *Store) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[name]; ok {
		return len(c.items)
	}
	return 0
}
