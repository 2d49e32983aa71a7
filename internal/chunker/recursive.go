package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators are tried in order: paragraphs, lines, words, characters.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// RecursiveSplitter splits text on the first separator present, recursing into
// pieces that still exceed Size, then merges neighbours back into chunks of at
// most Size runes, carrying up to Overlap runes into the next chunk.
// Separators stay attached to the start of the piece that follows them.
type RecursiveSplitter struct {
	Size       int
	Overlap    int
	Separators []string
}

// NewRecursiveSplitter returns a splitter with DefaultSeparators.
func NewRecursiveSplitter(size, overlap int) *RecursiveSplitter {
	return &RecursiveSplitter{Size: size, Overlap: overlap, Separators: DefaultSeparators}
}

// Split returns the chunks of text. Whitespace-only chunks are dropped.
func (s *RecursiveSplitter) Split(text string) []string {
	seps := s.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	return s.split(text, seps)
}

func (s *RecursiveSplitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var out, good []string
	for _, piece := range splitKeepSeparator(text, separator) {
		if runeLen(piece) < s.Size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, piece)
		} else {
			out = append(out, s.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		out = append(out, s.merge(good)...)
	}
	return out
}

// merge joins pieces into chunks no longer than Size where possible.
// After each emitted chunk, leading pieces are dropped until the carried
// tail fits within Overlap and leaves room for the next piece.
func (s *RecursiveSplitter) merge(pieces []string) []string {
	var (
		out     []string
		current []string
		total   int
	)
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.Size && len(current) > 0 {
			if chunk := joinTrimmed(current); chunk != "" {
				out = append(out, chunk)
			}
			for total > s.Overlap || (total+n > s.Size && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if chunk := joinTrimmed(current); chunk != "" {
		out = append(out, chunk)
	}
	return out
}

// splitKeepSeparator splits text on sep, prefixing every piece but the first
// with the separator that preceded it. An empty sep splits into runes.
func splitKeepSeparator(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, p := range parts {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func joinTrimmed(pieces []string) string {
	return strings.TrimSpace(strings.Join(pieces, ""))
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
