// Package converter turns the generation service's lightweight markup
// into the rich-text HTML that note fields store.
package converter

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
)

// MarkdownToHTML converts generated markdown (headings, bold, lists and
// the rest of the common set) to HTML.
func MarkdownToHTML(markdown string) (string, error) {
	var buffer bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buffer); err != nil {
		return "", fmt.Errorf("goldmark.Convert > %w", err)
	}
	return strings.TrimSpace(buffer.String()), nil
}
