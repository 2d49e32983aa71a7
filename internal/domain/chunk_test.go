package domain

import (
	"math"
	"testing"
)

func TestChunkID_Deterministic(t *testing.T) {
	a := ChunkID("data/guide.md", 3)
	b := ChunkID("data/guide.md", 3)
	if a != b {
		t.Errorf("expected stable IDs, got %q and %q", a, b)
	}
	if a == ChunkID("data/guide.md", 4) {
		t.Error("expected different index to change the ID")
	}
	if a == ChunkID("data/other.md", 3) {
		t.Error("expected different source to change the ID")
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Format
		ok   bool
	}{
		{"a/README.md", FormatMarkdown, true},
		{"page.MDX", FormatMarkdown, true},
		{"notes.txt", FormatPlain, true},
		{"report.pdf", "", false},
		{"Makefile", "", false},
	}
	for _, tt := range tests {
		got, ok := FormatFromPath(tt.path)
		if got != tt.want || ok != tt.ok {
			t.Errorf("FormatFromPath(%q) = %q, %v; want %q, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSourceNames_Distinct(t *testing.T) {
	chunks := []ScoredChunk{
		{Chunk: Chunk{Source: "kb/a.md"}},
		{Chunk: Chunk{Source: "kb/b.txt"}},
		{Chunk: Chunk{Source: "kb/sub/a.md"}},
		{Chunk: Chunk{}},
	}
	got := SourceNames(chunks)
	want := []string{"a.md", "b.txt", "unknown"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 0}, []float32{5, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
		})
	}
}
