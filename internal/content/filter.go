// Package content provides prompt-side content processing: stripping of
// private thinking spans and inlining of referenced transport events.
package content

import (
	"regexp"
	"strings"

	"github.com/tenex-chat/tenex/pkg/models"
)

// thinkingRe matches a complete <thinking ...>...</thinking> span.
// Tags are case-insensitive, may carry attributes, and span lines.
// Spans are non-nested by contract, so a lazy match is sufficient.
var thinkingRe = regexp.MustCompile(`(?is)<thinking\b[^>]*>.*?</thinking>`)

// innerSpacesRe matches runs of two or more spaces.
var innerSpacesRe = regexp.MustCompile(` {2,}`)

// Strip removes all thinking spans from text and normalizes the
// remaining whitespace: leading indentation is preserved per line,
// internal runs of spaces collapse to one, runs of two or more blank
// lines collapse to a single newline, and the whole result is trimmed.
//
// Strip is idempotent: Strip(Strip(t)) == Strip(t).
func Strip(text string) string {
	if text == "" {
		return ""
	}
	cleaned := thinkingRe.ReplaceAllString(text, "")

	lines := strings.Split(cleaned, "\n")
	out := make([]string, 0, len(lines))
	blankRun := 0
	for _, line := range lines {
		indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
		rest := line[len(indent):]
		rest = innerSpacesRe.ReplaceAllString(rest, " ")
		line = indent + rest

		if strings.TrimSpace(line) == "" {
			blankRun++
			continue
		}
		switch {
		case blankRun == 1:
			out = append(out, "")
		case blankRun >= 2:
			// Two or more blank lines collapse to a bare newline.
		}
		blankRun = 0
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// IsOnlyThinking reports whether text is non-empty but consists solely
// of thinking spans (and whitespace).
func IsOnlyThinking(text string) bool {
	return strings.TrimSpace(text) != "" && Strip(text) == ""
}

// HasReasoningTag reports whether the event carries the bare reasoning
// marker tag. Reasoning events are suppressed from prompts entirely.
func HasReasoningTag(e *models.Event) bool {
	return e != nil && e.IsReasoning()
}
