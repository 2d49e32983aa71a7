package chunker

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

// paragraph returns exactly n runes of words tagged with tag, without newlines.
func paragraph(tag string, n int) string {
	var b strings.Builder
	b.WriteString(tag)
	for b.Len() < n {
		b.WriteString(" lorem")
	}
	return b.String()[:n]
}

func TestChunker_ThreeSectionScenario(t *testing.T) {
	sec1 := paragraph("alpha", 200)

	parts := []string{paragraph("beta0", 100)}
	for i := 1; i < 10; i++ {
		parts = append(parts, paragraph(fmt.Sprintf("beta%d", i), 98))
	}
	sec2 := strings.Join(parts, "\n\n")
	if utf8.RuneCountInString(sec2) != 1000 {
		t.Fatalf("fixture: expected 1000-rune section, got %d", utf8.RuneCountInString(sec2))
	}

	sec3 := paragraph("gamma", 50)
	text := "# One\n\n" + sec1 + "\n\n# Two\n\n" + sec2 + "\n\n# Three\n\n" + sec3 + "\n"
	doc := domain.NewDocument("kb/guide.md", text)

	chunks := New(WithChunkSize(800), WithOverlap(120)).Split(doc)

	perSection := map[string]int{}
	for _, c := range chunks {
		if len(c.Headings) != 1 {
			t.Fatalf("expected one heading per chunk, got %+v", c.Headings)
		}
		perSection[c.Headings[0].Title]++
		if n := utf8.RuneCountInString(c.Text); n > 800 {
			t.Errorf("chunk %d exceeds size: %d runes", c.Index, n)
		}
	}
	if perSection["One"] != 1 || perSection["Two"] != 2 || perSection["Three"] != 1 {
		t.Errorf("unexpected chunk distribution: %v", perSection)
	}
	if len(chunks) != 4 {
		t.Errorf("expected 4 chunks, got %d", len(chunks))
	}
}

func TestChunker_EverySectionCovered(t *testing.T) {
	text := "# A\n\nfirst section text\n\n## B\n\nsecond section text\n\n### C\n\nthird section text\n\n# D\n\nfourth"
	chunks := New().Split(domain.NewDocument("doc.md", text))

	if len(chunks) < 4 {
		t.Fatalf("expected at least 4 chunks, got %d", len(chunks))
	}
	for _, want := range []string{"first section text", "second section text", "third section text", "fourth"} {
		found := false
		for _, c := range chunks {
			if strings.Contains(c.Text, want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("section text %q not found in any chunk", want)
		}
	}
}

func TestChunker_HeadingTrail(t *testing.T) {
	text := "# A\n\ntext a\n\n## B\n\ntext b\n\n# C\n\ntext c"
	chunks := New().Split(domain.NewDocument("doc.md", text))
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}

	b := chunks[1]
	if len(b.Headings) != 2 || b.Headings[0].Title != "A" || b.Headings[1].Title != "B" || b.Headings[1].Level != 2 {
		t.Errorf("unexpected trail for B: %+v", b.Headings)
	}
	c := chunks[2]
	if len(c.Headings) != 1 || c.Headings[0].Title != "C" {
		t.Errorf("expected trail reset at new h1, got %+v", c.Headings)
	}
	for _, ch := range chunks {
		if strings.Contains(ch.Text, "#") {
			t.Errorf("heading line leaked into body: %q", ch.Text)
		}
	}
}

func TestChunker_HeadingInsideCodeFence(t *testing.T) {
	text := "# Setup\n\n```bash\n# not a heading\necho hi\n```\n\ndone"
	chunks := New().Split(domain.NewDocument("doc.md", text))
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if !strings.Contains(chunks[0].Text, "# not a heading") {
		t.Errorf("expected fenced comment kept in body, got %q", chunks[0].Text)
	}
	if len(chunks[0].Headings) != 1 {
		t.Errorf("expected only the real heading, got %+v", chunks[0].Headings)
	}
}

func TestChunker_DeepHeadingsStayInBody(t *testing.T) {
	text := "# Top\n\n#### Detail\n\nbody"
	chunks := New().Split(domain.NewDocument("doc.md", text))
	if len(chunks) != 1 || !strings.Contains(chunks[0].Text, "#### Detail") {
		t.Errorf("expected h4 kept in body, got %+v", chunks)
	}
}

func TestChunker_SectionWithoutBody(t *testing.T) {
	text := "# Empty\n\n# Full\n\ncontent"
	chunks := New().Split(domain.NewDocument("doc.md", text))
	if len(chunks) != 1 || chunks[0].Headings[0].Title != "Full" {
		t.Errorf("expected only the section with a body, got %+v", chunks)
	}
}

func TestChunker_EmptyDocument(t *testing.T) {
	for _, text := range []string{"", "   \n\t\n"} {
		if chunks := New().Split(domain.NewDocument("a.txt", text)); len(chunks) != 0 {
			t.Errorf("expected no chunks for %q, got %d", text, len(chunks))
		}
	}
}

func TestChunker_ShortDocumentSingleChunk(t *testing.T) {
	text := "a short note\nwith two lines"
	chunks := New().Split(domain.NewDocument("note.txt", text))
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Text != text {
		t.Errorf("expected text unchanged, got %q", chunks[0].Text)
	}
	if chunks[0].Index != 0 || chunks[0].ID != domain.ChunkID("note.txt", 0) {
		t.Errorf("unexpected identity %+v", chunks[0])
	}
}

func TestChunker_OverlapBetweenAdjacentChunks(t *testing.T) {
	words := make([]string, 0, 600)
	for i := range 600 {
		words = append(words, fmt.Sprintf("w%03d", i))
	}
	text := strings.Join(words, " ")
	const size, overlap = 200, 40

	chunks := New(WithChunkSize(size), WithOverlap(overlap)).Split(domain.NewDocument("long.txt", text))
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		prev, next := chunks[i-1].Text, chunks[i].Text
		if len(prev) > size {
			t.Errorf("chunk %d exceeds size: %d", i-1, len(prev))
		}
		shared := 0
		for k := min(len(prev), len(next)); k > 0; k-- {
			if strings.HasSuffix(prev, next[:k]) {
				shared = k
				break
			}
		}
		if shared == 0 {
			t.Errorf("chunks %d and %d share no text", i-1, i)
		}
		if shared > overlap {
			t.Errorf("chunks %d and %d overlap by %d > %d", i-1, i, shared, overlap)
		}
	}
}

func TestChunker_ZeroOverlap(t *testing.T) {
	words := make([]string, 0, 300)
	for i := range 300 {
		words = append(words, fmt.Sprintf("w%03d", i))
	}
	text := strings.Join(words, " ")

	c := New(WithChunkSize(100), WithOverlap(0))
	if c.Overlap() != 0 {
		t.Fatalf("overlap = %d, want 0", c.Overlap())
	}
	chunks := c.Split(domain.NewDocument("long.txt", text))
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].SpanStart < chunks[i-1].SpanEnd {
			t.Errorf("chunks %d and %d overlap: %d < %d", i-1, i, chunks[i].SpanStart, chunks[i-1].SpanEnd)
		}
	}
}

func TestChunker_Spans(t *testing.T) {
	words := make([]string, 0, 300)
	for i := range 300 {
		words = append(words, fmt.Sprintf("wörd%d", i))
	}
	text := strings.Join(words, " ")
	chunks := New(WithChunkSize(100), WithOverlap(20)).Split(domain.NewDocument("u.txt", text))

	runes := []rune(text)
	for _, c := range chunks {
		if c.SpanStart < 0 {
			t.Fatalf("chunk %d not located", c.Index)
		}
		if got := string(runes[c.SpanStart:c.SpanEnd]); got != c.Text {
			t.Errorf("chunk %d span mismatch: %q vs %q", c.Index, got, c.Text)
		}
	}
}

func TestChunker_RestartableSequence(t *testing.T) {
	doc := domain.NewDocument("a.md", "# A\n\none\n\n# B\n\ntwo")
	seq := New().Chunks(doc)

	first, second := 0, 0
	for range seq {
		first++
	}
	for range seq {
		second++
	}
	if first != 2 || second != 2 {
		t.Errorf("expected 2 chunks on both passes, got %d and %d", first, second)
	}

	for c := range seq {
		if c.Index != 0 {
			t.Errorf("expected to stop after first chunk, got index %d", c.Index)
		}
		break
	}
}

func TestChunker_RecursiveOnlyKeepsHeadings(t *testing.T) {
	doc := domain.NewDocument("a.md", "# Title\n\nbody")
	chunks := New(WithMethod(MethodRecursiveOnly)).Split(doc)
	if len(chunks) != 1 || !strings.HasPrefix(chunks[0].Text, "# Title") {
		t.Errorf("expected raw markdown chunk, got %+v", chunks)
	}
	if len(chunks[0].Headings) != 0 {
		t.Errorf("expected no heading trail, got %+v", chunks[0].Headings)
	}
}

func TestChunker_PlainTextIgnoresHeadings(t *testing.T) {
	chunks := New().Split(domain.NewDocument("a.txt", "# not markdown\n\ntext"))
	if len(chunks) != 1 || !strings.Contains(chunks[0].Text, "# not markdown") {
		t.Errorf("expected heading kept for plain text, got %+v", chunks)
	}
}

func TestNew_ClampsOverlap(t *testing.T) {
	c := New(WithChunkSize(100), WithOverlap(150))
	if c.Overlap() != 25 {
		t.Errorf("expected overlap clamped to 25, got %d", c.Overlap())
	}
	if c.Size() != 100 || c.Method() != MethodAuto {
		t.Errorf("unexpected settings %d/%s", c.Size(), c.Method())
	}
}

func TestParseMethod(t *testing.T) {
	if m, err := ParseMethod(""); err != nil || m != MethodAuto {
		t.Errorf("expected auto default, got %q, %v", m, err)
	}
	if m, err := ParseMethod("recursive_only"); err != nil || m != MethodRecursiveOnly {
		t.Errorf("expected recursive_only, got %q, %v", m, err)
	}
	if _, err := ParseMethod("semantic"); !errors.Is(err, domain.ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
}
