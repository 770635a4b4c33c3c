// ABOUTME: Markdown rendering for agent replies shown in the widget.

package server

import (
	"bytes"

	"github.com/yuin/goldmark"
)

// renderReplyHTML converts an agent reply's markdown to HTML for the
// widget. On render failure the widget falls back to the plain text, so
// an empty string is returned rather than an error.
func renderReplyHTML(reply string) string {
	if reply == "" {
		return ""
	}

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(reply), &buf); err != nil {
		return ""
	}
	return buf.String()
}
