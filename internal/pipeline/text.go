package pipeline

import (
	"html"
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// CleanText strips HTML tags, decodes entities and collapses whitespace.
func CleanText(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = tagPattern.ReplaceAllString(text, " ")
	text = html.UnescapeString(text)
	// html.UnescapeString turns &nbsp; into U+00A0, which strings.Fields treats as space.
	return strings.Join(strings.Fields(text), " ")
}
