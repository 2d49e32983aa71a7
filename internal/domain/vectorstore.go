package domain

import "context"

// CollectionSpec describes a vector collection to create.
type CollectionSpec struct {
	Name        string
	Dimensions  int
	Fingerprint string
}

// VectorStore persists chunk vectors and answers nearest-neighbour queries.
// Query returns up to k hits ordered by descending Score; vectors are populated only when withVectors is set.
type VectorStore interface {
	Ready(ctx context.Context) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, spec CollectionSpec) error
	DropCollection(ctx context.Context, name string) error
	Fingerprint(ctx context.Context, name string) (string, error)
	Upsert(ctx context.Context, collection string, items []StoredChunk) error
	Query(ctx context.Context, collection string, vector []float32, k int, withVectors bool) ([]ScoredChunk, error)
}
