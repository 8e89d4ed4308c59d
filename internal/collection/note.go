package collection

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// FieldSeparator joins a note's field values in storage order.
// Anki guarantees it never appears inside field content.
const FieldSeparator = "\x1f"

// Note is one record of a note-type. Fields holds every field value
// joined with FieldSeparator; trailing empty fields may be omitted, so
// consumers must pad to the schema's arity rather than assume it.
type Note struct {
	ID         int64  `db:"id"`
	NoteTypeID int64  `db:"mid"`
	Fields     string `db:"flds"`
	Mod        int64  `db:"mod"`
}

// SplitFields returns the note's positional field values.
func (n Note) SplitFields() []string {
	return strings.Split(n.Fields, FieldSeparator)
}

// JoinFields joins positional field values back into storage form.
func JoinFields(values []string) string {
	return strings.Join(values, FieldSeparator)
}

// PadFields extends values with empty strings until it holds at least
// size entries. The input slice is not modified.
func PadFields(values []string, size int) []string {
	if len(values) >= size {
		return values
	}
	padded := make([]string, size)
	copy(padded, values)
	return padded
}

// NotesByType returns all notes of the given note-type, in storage order.
func NotesByType(ctx context.Context, db *sqlx.DB, noteTypeID int64) ([]Note, error) {
	var notes []Note
	if err := db.SelectContext(ctx, &notes, "SELECT id, mid, flds, mod FROM notes WHERE mid = ?", noteTypeID); err != nil {
		return nil, fmt.Errorf("db.SelectContext(notes) > %w", err)
	}
	return notes, nil
}
