package chunker

import (
	"strings"
	"testing"
)

func TestSplitKeepSeparator(t *testing.T) {
	got := splitKeepSeparator("a\n\nb\n\nc", "\n\n")
	want := []string{"a", "\n\nb", "\n\nc"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("expected %q, got %q", want, got)
	}

	if runes := splitKeepSeparator("añb", ""); len(runes) != 3 || runes[1] != "ñ" {
		t.Errorf("expected rune split, got %q", runes)
	}
}

func TestRecursiveSplitter_FallsBackToCharacters(t *testing.T) {
	s := NewRecursiveSplitter(10, 0)
	chunks := s.Split(strings.Repeat("x", 25))
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %q", len(chunks), chunks)
	}
	if chunks[0] != strings.Repeat("x", 10) || chunks[2] != "xxxxx" {
		t.Errorf("unexpected chunks %q", chunks)
	}
}

func TestRecursiveSplitter_PrefersParagraphs(t *testing.T) {
	s := NewRecursiveSplitter(30, 0)
	text := "first paragraph here\n\nsecond paragraph here"
	chunks := s.Split(text)
	if len(chunks) != 2 || chunks[0] != "first paragraph here" || chunks[1] != "second paragraph here" {
		t.Errorf("expected paragraph split, got %q", chunks)
	}
}

func TestRecursiveSplitter_DropsBlankChunks(t *testing.T) {
	s := NewRecursiveSplitter(5, 0)
	for _, c := range s.Split("ab\n\n\n\n\n\n\n\ncd") {
		if strings.TrimSpace(c) == "" {
			t.Errorf("unexpected blank chunk in output")
		}
	}
}
