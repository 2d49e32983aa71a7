package ingest

import (
	"context"
	"iter"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

// DocumentLoader reads the knowledge directory (ISP: only Load + Dir from knowledge.Loader).
type DocumentLoader interface {
	Load(ctx context.Context) ([]domain.Document, error)
	Dir() string
}

// Chunker splits a document into chunks.
type Chunker interface {
	Chunks(doc domain.Document) iter.Seq[domain.Chunk]
}
