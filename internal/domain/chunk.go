package domain

import (
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

// chunkNamespace scopes deterministic chunk IDs.
var chunkNamespace = uuid.MustParse("6f1c9f0e-52b4-4a58-9d3e-0d2c3c1a7b41")

// Heading is one level of a markdown heading trail.
type Heading struct {
	Level int    `json:"level"`
	Title string `json:"title"`
}

// Chunk is a bounded fragment of a document, the unit of embedding and retrieval.
// Never mutated after creation: re-ingestion replaces chunks.
type Chunk struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Headings  []Heading `json:"headings,omitempty"`
	Index     int       `json:"chunk_index"`
	Text      string    `json:"text"`
	SpanStart int       `json:"span_start"` // rune offset into the source text, -1 if unknown
	SpanEnd   int       `json:"span_end"`
}

// ChunkID returns the deterministic ID of the chunk at index within source.
func ChunkID(source string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(source+"#"+strconv.Itoa(index))).String()
}

// SourceName returns the file name of the chunk source, or "unknown".
func (c Chunk) SourceName() string {
	if c.Source == "" {
		return "unknown"
	}
	return filepath.Base(c.Source)
}

// StoredChunk pairs a chunk with its embedding for upsert.
type StoredChunk struct {
	Chunk  Chunk
	Vector []float32
}

// ScoredChunk is a single retrieval hit. Vector is set only when requested.
type ScoredChunk struct {
	Chunk  Chunk
	Score  float64 // cosine similarity in [0,1] (higher is closer)
	Vector []float32
}
