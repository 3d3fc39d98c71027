package tutor

import (
	"html"
	"regexp"
	"strings"
)

var (
	boldPattern     = regexp.MustCompile(`\*\*(.+?)\*\*`)
	emphasisPattern = regexp.MustCompile(`\*(.+?)\*`)
)

// RenderMarkdown converts tutor text to display HTML. Only bold, emphasis and line breaks
// are supported; everything else is escaped.
func RenderMarkdown(text string) string {
	out := html.EscapeString(text)
	out = boldPattern.ReplaceAllString(out, "<strong>$1</strong>")
	out = emphasisPattern.ReplaceAllString(out, "<em>$1</em>")
	return strings.ReplaceAll(out, "\n", "<br />")
}
