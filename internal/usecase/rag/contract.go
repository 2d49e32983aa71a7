package rag

import (
	"context"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

// VectorSearcher answers nearest-neighbour queries (ISP: only Query + Fingerprint from domain.VectorStore).
type VectorSearcher interface {
	Query(ctx context.Context, collection string, vector []float32, k int, withVectors bool) ([]domain.ScoredChunk, error)
	Fingerprint(ctx context.Context, name string) (string, error)
}
