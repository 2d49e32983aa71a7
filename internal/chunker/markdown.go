package chunker

import (
	"strings"

	"github.com/kailas-cloud/ragbot/internal/domain"
)

// maxHeadingLevel is the deepest heading that starts a new section.
const maxHeadingLevel = 3

// section is a run of markdown body text under one heading trail.
type section struct {
	headings []domain.Heading
	body     string
}

// splitMarkdown cuts text into sections at ATX headings of levels 1..3.
// Heading lines are not part of any body. Headings inside fenced code blocks
// are treated as body text. Sections whose body is blank are dropped.
func splitMarkdown(text string) []section {
	var (
		out   []section
		trail []domain.Heading
		body  []string
		fence string
	)
	flush := func() {
		b := strings.Trim(strings.Join(body, "\n"), "\n")
		if strings.TrimSpace(b) != "" {
			out = append(out, section{headings: append([]domain.Heading(nil), trail...), body: b})
		}
		body = body[:0]
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		if marker := fenceMarker(trimmed); marker != "" {
			switch {
			case fence == "":
				fence = marker
			case strings.HasPrefix(trimmed, fence):
				fence = ""
			}
			body = append(body, line)
			continue
		}
		if fence != "" {
			body = append(body, line)
			continue
		}

		level, title, ok := parseHeading(trimmed)
		if !ok {
			body = append(body, line)
			continue
		}

		flush()
		for len(trail) > 0 && trail[len(trail)-1].Level >= level {
			trail = trail[:len(trail)-1]
		}
		trail = append(trail, domain.Heading{Level: level, Title: title})
	}
	flush()
	return out
}

// parseHeading recognises "#", "##" and "###" followed by a space or end of line.
func parseHeading(line string) (int, string, bool) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > maxHeadingLevel {
		return 0, "", false
	}
	if level < len(line) && line[level] != ' ' && line[level] != '\t' {
		return 0, "", false
	}
	return level, strings.TrimSpace(line[level:]), true
}

func fenceMarker(line string) string {
	switch {
	case strings.HasPrefix(line, "```"):
		return "```"
	case strings.HasPrefix(line, "~~~"):
		return "~~~"
	default:
		return ""
	}
}
