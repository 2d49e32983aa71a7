// Package chunker splits documents into bounded, overlapping chunks for embedding.
package chunker

import (
	"fmt"
	"iter"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

// DefaultChunkSize is the default maximum chunk length in runes.
const DefaultChunkSize = 800

// DefaultChunkOverlap is the default number of runes carried between adjacent chunks.
const DefaultChunkOverlap = 120

// Method selects how a document is cut before the recursive split.
type Method string

const (
	// MethodAuto splits markdown on headings first; plain text goes straight to the recursive splitter.
	MethodAuto Method = "auto"
	// MethodRecursiveOnly ignores document structure.
	MethodRecursiveOnly Method = "recursive_only"
)

// ParseMethod validates a method name.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodAuto, MethodRecursiveOnly:
		return m, nil
	case "":
		return MethodAuto, nil
	default:
		return "", fmt.Errorf("%w: unknown chunking method %q", domain.ErrConfig, s)
	}
}

// Chunker turns documents into chunks. Safe for concurrent use.
type Chunker struct {
	size    int
	overlap int
	method  Method
}

// Option configures the chunker.
type Option func(*Chunker)

// WithChunkSize sets the chunk size in runes.
func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap sets the overlap between chunks in runes.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithMethod sets the chunking method.
func WithMethod(m Method) Option {
	return func(c *Chunker) {
		if m != "" {
			c.method = m
		}
	}
}

// New creates a chunker with the given options.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		size:    DefaultChunkSize,
		overlap: DefaultChunkOverlap,
		method:  MethodAuto,
	}
	for _, opt := range opts {
		opt(c)
	}

	// Overlap must leave room for new text in every chunk.
	if c.overlap >= c.size {
		c.overlap = c.size / 4
	}
	return c
}

// Size returns the configured chunk size.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Method returns the configured chunking method.
func (c *Chunker) Method() Method { return c.method }

// Chunks returns a lazy sequence over the chunks of doc. The sequence can be
// ranged over any number of times; each pass re-splits the document.
func (c *Chunker) Chunks(doc domain.Document) iter.Seq[domain.Chunk] {
	return func(yield func(domain.Chunk) bool) {
		if doc.IsEmpty() {
			return
		}
		splitter := NewRecursiveSplitter(c.size, c.overlap)
		spans := &spanLocator{text: doc.Text}
		index := 0

		for _, unit := range c.units(doc) {
			for _, text := range splitter.Split(unit.body) {
				start, end := spans.locate(text)
				chunk := domain.Chunk{
					ID:        domain.ChunkID(doc.Path, index),
					Source:    doc.Path,
					Headings:  unit.headings,
					Index:     index,
					Text:      text,
					SpanStart: start,
					SpanEnd:   end,
				}
				if !yield(chunk) {
					return
				}
				index++
			}
		}
	}
}

// Split collects Chunks into a slice.
func (c *Chunker) Split(doc domain.Document) []domain.Chunk {
	var out []domain.Chunk
	for ch := range c.Chunks(doc) {
		out = append(out, ch)
	}
	return out
}

func (c *Chunker) units(doc domain.Document) []section {
	if c.method == MethodAuto && doc.Format == domain.FormatMarkdown {
		return splitMarkdown(doc.Text)
	}
	return []section{{body: doc.Text}}
}
