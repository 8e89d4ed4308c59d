// Package augment implements the deck-augmentation pipeline: prompt
// templates, the bounded-concurrency generation orchestrator, and the
// file-mode and live-mode runs that tie the stages together.
package augment

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/at-ishikawa/ankigen/internal/collection"
)

var placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)

// MissingFieldError reports a prompt placeholder naming a field the
// note-type does not have. It is raised once per run, before any
// generation call is dispatched.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("prompt references field %q which the note type does not have", e.Field)
}

// Template is a prompt template whose {FieldName} placeholders are
// substituted with a note's current field values.
type Template struct {
	text   string
	fields []string
}

// ParseTemplate parses template text. Placeholder names are recorded
// once each, in order of first appearance.
func ParseTemplate(text string) Template {
	seen := map[string]bool{}
	var fields []string
	for _, match := range placeholderPattern.FindAllStringSubmatch(text, -1) {
		if seen[match[1]] {
			continue
		}
		seen[match[1]] = true
		fields = append(fields, match[1])
	}
	return Template{text: text, fields: fields}
}

// LoadTemplate reads and parses a prompt template file.
func LoadTemplate(path string) (Template, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("failed to read prompt file: %w", err)
	}
	return ParseTemplate(string(text)), nil
}

// RequiredFields returns the distinct source fields the template reads.
func (t Template) RequiredFields() []string {
	return t.fields
}

// Validate fails with a MissingFieldError when a placeholder names a
// field absent from the note-type's field map.
func (t Template) Validate(fieldMap collection.FieldMap) error {
	for _, field := range t.fields {
		if _, ok := fieldMap[field]; !ok {
			return &MissingFieldError{Field: field}
		}
	}
	return nil
}

// Fill substitutes every placeholder with its value in a single pass,
// so substituted values are never re-scanned for placeholders. Validate
// must have accepted the field map the values were built from.
func (t Template) Fill(values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(t.text, func(match string) string {
		value, ok := values[strings.Trim(match, "{}")]
		if !ok {
			return match
		}
		return value
	})
}
