package health

import "context"

// VectorStoreChecker checks vector database readiness (ISP: only Ready from domain.VectorStore).
type VectorStoreChecker interface {
	Ready(ctx context.Context) error
}

// DBPinger checks relational database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}
