package domain

import (
	"path/filepath"
	"strings"
)

// Format tags how a document's text is structured.
type Format string

const (
	// FormatMarkdown is markdown text (.md, .mdx); split on headings first.
	FormatMarkdown Format = "markdown"
	// FormatPlain is unstructured text (.txt).
	FormatPlain Format = "plain"
)

// eligibleExtensions maps the file extensions accepted by the loader to their format.
var eligibleExtensions = map[string]Format{
	".md":  FormatMarkdown,
	".mdx": FormatMarkdown,
	".txt": FormatPlain,
}

// FormatFromPath returns the document format for path and whether the extension is eligible.
func FormatFromPath(path string) (Format, bool) {
	f, ok := eligibleExtensions[strings.ToLower(filepath.Ext(path))]
	return f, ok
}

// Document is a source file read from the knowledge base. Immutable once read.
type Document struct {
	Path   string
	Format Format
	Text   string
}

// NewDocument builds a Document, deriving the format from the path extension.
func NewDocument(path, text string) Document {
	f, ok := FormatFromPath(path)
	if !ok {
		f = FormatPlain
	}
	return Document{Path: path, Format: f, Text: text}
}

// IsEmpty reports whether the document has no non-whitespace text.
func (d Document) IsEmpty() bool {
	return strings.TrimSpace(d.Text) == ""
}
