package collection

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/at-ishikawa/ankigen/internal/testutil"
)

func openModern(t *testing.T, noteTypes []testutil.NoteType, notes []testutil.Note) *Resolver {
	t.Helper()

	path := filepath.Join(t.TempDir(), "collection.db")
	testutil.CreateModernCollection(t, path, noteTypes, notes)
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return NewResolver(db)
}

func openLegacy(t *testing.T, noteTypes []testutil.NoteType, notes []testutil.Note) *Resolver {
	t.Helper()

	path := filepath.Join(t.TempDir(), "collection.db")
	testutil.CreateLegacyCollection(t, path, noteTypes, notes)
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return NewResolver(db)
}

func TestResolver_NoteTypeID(t *testing.T) {
	noteTypes := []testutil.NoteType{
		{ID: 123, Name: "Basic", Fields: []string{"Front", "Back"}},
		{ID: 456, Name: "Cloze", Fields: []string{"Text", "Extra", "Notes"}},
	}

	tests := []struct {
		name     string
		resolver func(t *testing.T) *Resolver
		noteType string
		want     int64
		wantErr  error
	}{
		{
			name:     "modern schema table",
			resolver: func(t *testing.T) *Resolver { return openModern(t, noteTypes, nil) },
			noteType: "Cloze",
			want:     456,
		},
		{
			name:     "legacy models blob fallback",
			resolver: func(t *testing.T) *Resolver { return openLegacy(t, noteTypes, nil) },
			noteType: "Cloze",
			want:     456,
		},
		{
			name:     "not found in modern schema",
			resolver: func(t *testing.T) *Resolver { return openModern(t, noteTypes, nil) },
			noteType: "Missing",
			wantErr:  ErrNoteTypeNotFound,
		},
		{
			name:     "not found in legacy schema",
			resolver: func(t *testing.T) *Resolver { return openLegacy(t, noteTypes, nil) },
			noteType: "Missing",
			wantErr:  ErrNoteTypeNotFound,
		},
		{
			name:     "matching is case sensitive",
			resolver: func(t *testing.T) *Resolver { return openModern(t, noteTypes, nil) },
			noteType: "cloze",
			wantErr:  ErrNoteTypeNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := tt.resolver(t)
			id, err := resolver.NoteTypeID(context.Background(), tt.noteType)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorContains(t, err, tt.noteType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestResolver_NoteTypeID_DuplicateNamesFirstMatchWins(t *testing.T) {
	resolver := openLegacy(t, []testutil.NoteType{
		{ID: 20, Name: "Basic", Fields: []string{"Front", "Back"}},
		{ID: 10, Name: "Basic", Fields: []string{"Front", "Back"}},
	}, nil)

	// Legacy resolution iterates ids numerically, so the lower id wins
	// deterministically.
	id, err := resolver.NoteTypeID(context.Background(), "Basic")
	require.NoError(t, err)
	assert.Equal(t, int64(10), id)
}

func TestResolver_FieldMap(t *testing.T) {
	noteTypes := []testutil.NoteType{
		{ID: 1, Name: "Basic", Fields: []string{"Front", "Back"}},
	}

	tests := []struct {
		name       string
		resolver   func(t *testing.T) *Resolver
		noteTypeID int64
		want       FieldMap
	}{
		{
			name:       "modern fields table",
			resolver:   func(t *testing.T) *Resolver { return openModern(t, noteTypes, nil) },
			noteTypeID: 1,
			want:       FieldMap{"Front": 0, "Back": 1},
		},
		{
			name:       "legacy blob field order",
			resolver:   func(t *testing.T) *Resolver { return openLegacy(t, noteTypes, nil) },
			noteTypeID: 1,
			want:       FieldMap{"Front": 0, "Back": 1},
		},
		{
			name:       "unknown note type yields empty map",
			resolver:   func(t *testing.T) *Resolver { return openModern(t, noteTypes, nil) },
			noteTypeID: 999,
			want:       FieldMap{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := tt.resolver(t)
			fieldMap, err := resolver.FieldMap(context.Background(), tt.noteTypeID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, fieldMap)
		})
	}
}

func TestNotesByType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collection.db")
	testutil.CreateModernCollection(t, path, []testutil.NoteType{
		{ID: 1, Name: "Basic", Fields: []string{"Front", "Back"}},
	}, []testutil.Note{
		{ID: 100, NoteTypeID: 1, Values: []string{"bonjour", "hello"}},
		{ID: 101, NoteTypeID: 2, Values: []string{"other type"}},
		{ID: 102, NoteTypeID: 1, Values: []string{"merci", "thanks"}},
	})
	db, err := Open(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, db.Close())
	}()

	notes, err := NotesByType(context.Background(), db, 1)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, int64(100), notes[0].ID)
	assert.Equal(t, "bonjour\x1fhello", notes[0].Fields)
	assert.Equal(t, int64(102), notes[1].ID)
}
