// ABOUTME: Rendering of retrieval answers for CLI output.
// ABOUTME: Converts the service's markdown answers to HTML for document export.

package render

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
)

// AnswerHTML converts a markdown answer to an HTML fragment, for callers
// exporting answers into documents or reports.
func AnswerHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("converting answer markdown: %w", err)
	}
	return buf.String(), nil
}
