package chunker

import (
	"strings"
	"unicode/utf8"
)

// spanPrefixRunes bounds the prefix used when a chunk cannot be found verbatim.
const spanPrefixRunes = 200

// spanLocator finds chunk positions in the source text by a forward search.
// Offsets are reported in runes; -1 means the chunk could not be located.
type spanLocator struct {
	text   string
	cursor int // byte offset where the next search starts
}

func (l *spanLocator) locate(chunk string) (int, int) {
	if start, end, ok := l.find(chunk, len(chunk)); ok {
		return l.commit(start, end)
	}
	if trimmed := strings.TrimSpace(chunk); trimmed != "" && trimmed != chunk {
		if start, end, ok := l.find(trimmed, len(trimmed)); ok {
			return l.commit(start, end)
		}
	}
	if prefix := strings.TrimSpace(firstRunes(chunk, spanPrefixRunes)); prefix != "" {
		if start, _, ok := l.find(prefix, len(prefix)); ok {
			return l.commit(start, min(len(l.text), start+len(chunk)))
		}
	}
	return -1, -1
}

func (l *spanLocator) find(needle string, length int) (int, int, bool) {
	idx := strings.Index(l.text[l.cursor:], needle)
	if idx < 0 {
		return 0, 0, false
	}
	start := l.cursor + idx
	return start, start + length, true
}

// commit converts byte offsets to runes and moves the cursor past the chunk start,
// so overlapping neighbours are still found.
func (l *spanLocator) commit(start, end int) (int, int) {
	_, size := utf8.DecodeRuneInString(l.text[start:])
	l.cursor = start + max(size, 1)
	if l.cursor > len(l.text) {
		l.cursor = len(l.text)
	}
	runeStart := utf8.RuneCountInString(l.text[:start])
	return runeStart, runeStart + utf8.RuneCountInString(l.text[start:end])
}

func firstRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
