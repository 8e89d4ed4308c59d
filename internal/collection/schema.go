package collection

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
)

// ErrNoteTypeNotFound indicates no note-type with the requested name
// exists in either schema source.
var ErrNoteTypeNotFound = errors.New("note type not found")

// FieldMap maps a note-type's field names to their positional index.
type FieldMap map[string]int

// SchemaSource resolves note-type names and field layouts from one
// schema generation.
type SchemaSource interface {
	// NoteTypeID returns the identifier of the note-type with the given
	// name, or ErrNoteTypeNotFound wrapped with the name.
	NoteTypeID(ctx context.Context, name string) (int64, error)
	// FieldMap returns the name to index mapping for a note-type. A
	// note-type without field rows yields an empty map, not an error.
	FieldMap(ctx context.Context, noteTypeID int64) (FieldMap, error)
}

// errNoSchemaTable indicates the modern schema tables are absent, so the
// database predates the dedicated notetypes/fields tables.
var errNoSchemaTable = errors.New("modern schema tables are absent")

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}

// TableSource reads the modern dedicated schema tables (notetypes, fields).
type TableSource struct {
	db *sqlx.DB
}

// NewTableSource creates a TableSource over the working database.
func NewTableSource(db *sqlx.DB) *TableSource {
	return &TableSource{db: db}
}

func (s *TableSource) NoteTypeID(ctx context.Context, name string) (int64, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT id, name FROM notetypes")
	if isMissingTable(err) {
		return 0, errNoSchemaTable
	}
	if err != nil {
		return 0, fmt.Errorf("db.QueryxContext(notetypes) > %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var id int64
		var typeName string
		if err := rows.Scan(&id, &typeName); err != nil {
			return 0, fmt.Errorf("rows.Scan(notetypes) > %w", err)
		}
		if typeName == name {
			return id, nil
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("rows.Err(notetypes) > %w", err)
	}
	return 0, fmt.Errorf("%w: %q", ErrNoteTypeNotFound, name)
}

func (s *TableSource) FieldMap(ctx context.Context, noteTypeID int64) (FieldMap, error) {
	var fields []struct {
		Name string `db:"name"`
		Ord  int    `db:"ord"`
	}
	err := s.db.SelectContext(ctx, &fields, "SELECT name, ord FROM fields WHERE ntid = ?", noteTypeID)
	if isMissingTable(err) {
		return nil, errNoSchemaTable
	}
	if err != nil {
		return nil, fmt.Errorf("db.SelectContext(fields) > %w", err)
	}

	fieldMap := make(FieldMap, len(fields))
	for _, field := range fields {
		fieldMap[field.Name] = field.Ord
	}
	return fieldMap, nil
}

// BlobSource reads the legacy schema: a single JSON blob in the col
// table's models column, keyed by note-type id.
type BlobSource struct {
	db *sqlx.DB
}

// NewBlobSource creates a BlobSource over the working database.
func NewBlobSource(db *sqlx.DB) *BlobSource {
	return &BlobSource{db: db}
}

type legacyNoteType struct {
	Name   string `json:"name"`
	Fields []struct {
		Name string `json:"name"`
	} `json:"flds"`
}

func (s *BlobSource) models(ctx context.Context) (map[string]legacyNoteType, error) {
	var blob []byte
	err := s.db.GetContext(ctx, &blob, "SELECT models FROM col")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.New("col table has no rows")
	}
	if err != nil {
		return nil, fmt.Errorf("db.GetContext(col.models) > %w", err)
	}

	var models map[string]legacyNoteType
	if err := json.Unmarshal(blob, &models); err != nil {
		return nil, fmt.Errorf("json.Unmarshal(col.models) > %w", err)
	}
	return models, nil
}

// sortedKeys returns the note-type ids in ascending numeric order, so
// first-match resolution is deterministic across runs.
func sortedKeys(models map[string]legacyNoteType) []string {
	keys := make([]string, 0, len(models))
	for key := range models {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		left, _ := strconv.ParseInt(keys[i], 10, 64)
		right, _ := strconv.ParseInt(keys[j], 10, 64)
		return left < right
	})
	return keys
}

func (s *BlobSource) NoteTypeID(ctx context.Context, name string) (int64, error) {
	models, err := s.models(ctx)
	if err != nil {
		return 0, err
	}

	for _, key := range sortedKeys(models) {
		if models[key].Name != name {
			continue
		}
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid note type id %q in models blob: %w", key, err)
		}
		return id, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrNoteTypeNotFound, name)
}

func (s *BlobSource) FieldMap(ctx context.Context, noteTypeID int64) (FieldMap, error) {
	models, err := s.models(ctx)
	if err != nil {
		return nil, err
	}

	model, ok := models[strconv.FormatInt(noteTypeID, 10)]
	if !ok {
		return FieldMap{}, nil
	}
	fieldMap := make(FieldMap, len(model.Fields))
	for i, field := range model.Fields {
		fieldMap[field.Name] = i
	}
	return fieldMap, nil
}

// Resolver resolves note-type names and field layouts, preferring the
// modern schema tables and falling back to the legacy models blob when
// the tables do not exist.
type Resolver struct {
	table *TableSource
	blob  *BlobSource
}

// NewResolver creates a Resolver over the working database.
func NewResolver(db *sqlx.DB) *Resolver {
	return &Resolver{
		table: NewTableSource(db),
		blob:  NewBlobSource(db),
	}
}

// NoteTypeID resolves a note-type name to its identifier. Matching is
// exact and case-sensitive; when several note-types share a name, the
// first in storage order wins.
func (r *Resolver) NoteTypeID(ctx context.Context, name string) (int64, error) {
	id, err := r.table.NoteTypeID(ctx, name)
	if errors.Is(err, errNoSchemaTable) {
		return r.blob.NoteTypeID(ctx, name)
	}
	return id, err
}

// FieldMap resolves the field layout of a note-type.
func (r *Resolver) FieldMap(ctx context.Context, noteTypeID int64) (FieldMap, error) {
	fieldMap, err := r.table.FieldMap(ctx, noteTypeID)
	if errors.Is(err, errNoSchemaTable) {
		return r.blob.FieldMap(ctx, noteTypeID)
	}
	return fieldMap, err
}
