// Package testutil provides shared test helpers for building collection
// databases and package archives in both schema generations.
package testutil

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// NoteType describes a note-type fixture with its ordered field names.
type NoteType struct {
	ID     int64
	Name   string
	Fields []string
}

// Note describes a note fixture. Values are joined with the U+001F
// separator exactly as given; trailing empty fields may be omitted.
type Note struct {
	ID         int64
	NoteTypeID int64
	Values     []string
}

const fieldSeparator = "\x1f"

// CreateModernCollection writes a collection database using the modern
// schema generation: dedicated notetypes and fields tables.
func CreateModernCollection(t *testing.T, path string, noteTypes []NoteType, notes []Note) {
	t.Helper()

	db := createCollection(t, path, `
		CREATE TABLE col (id integer primary key, crt integer, mod integer, scm integer,
			ver integer, dty integer, usn integer, ls integer,
			conf text, models text, decks text, dconf text, tags text);
		CREATE TABLE notetypes (id integer primary key, name text not null,
			mtime_secs integer, usn integer, config blob);
		CREATE TABLE fields (ntid integer, ord integer, name text not null,
			config blob, primary key (ntid, ord));
		CREATE TABLE notes (id integer primary key, guid text not null, mid integer not null,
			mod integer not null, usn integer not null, tags text not null, flds text not null,
			sfld text not null, csum integer not null, flags integer not null, data text not null);
		INSERT INTO col (id, models) VALUES (1, '{}');
	`)
	defer func() {
		require.NoError(t, db.Close())
	}()

	for _, noteType := range noteTypes {
		_, err := db.Exec("INSERT INTO notetypes (id, name, mtime_secs, usn) VALUES (?, ?, 0, 0)", noteType.ID, noteType.Name)
		require.NoError(t, err)
		for ord, name := range noteType.Fields {
			_, err := db.Exec("INSERT INTO fields (ntid, ord, name) VALUES (?, ?, ?)", noteType.ID, ord, name)
			require.NoError(t, err)
		}
	}
	insertNotes(t, db, notes)
}

// CreateLegacyCollection writes a collection database using the legacy
// schema generation: the col table's models JSON blob and no dedicated
// schema tables.
func CreateLegacyCollection(t *testing.T, path string, noteTypes []NoteType, notes []Note) {
	t.Helper()

	db := createCollection(t, path, `
		CREATE TABLE col (id integer primary key, crt integer, mod integer, scm integer,
			ver integer, dty integer, usn integer, ls integer,
			conf text, models text, decks text, dconf text, tags text);
		CREATE TABLE notes (id integer primary key, guid text not null, mid integer not null,
			mod integer not null, usn integer not null, tags text not null, flds text not null,
			sfld text not null, csum integer not null, flags integer not null, data text not null);
	`)
	defer func() {
		require.NoError(t, db.Close())
	}()

	type legacyField struct {
		Name string `json:"name"`
		Ord  int    `json:"ord"`
	}
	type legacyModel struct {
		Name string        `json:"name"`
		Flds []legacyField `json:"flds"`
	}

	models := make(map[string]legacyModel, len(noteTypes))
	for _, noteType := range noteTypes {
		fields := make([]legacyField, 0, len(noteType.Fields))
		for ord, name := range noteType.Fields {
			fields = append(fields, legacyField{Name: name, Ord: ord})
		}
		models[strconv.FormatInt(noteType.ID, 10)] = legacyModel{Name: noteType.Name, Flds: fields}
	}
	blob, err := json.Marshal(models)
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO col (id, models) VALUES (1, ?)", string(blob))
	require.NoError(t, err)

	insertNotes(t, db, notes)
}

func createCollection(t *testing.T, path, ddl string) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(ddl)
	require.NoError(t, err)
	return db
}

func insertNotes(t *testing.T, db *sqlx.DB, notes []Note) {
	t.Helper()

	for _, note := range notes {
		flds := strings.Join(note.Values, fieldSeparator)
		sfld := ""
		if len(note.Values) > 0 {
			sfld = note.Values[0]
		}
		_, err := db.Exec(
			"INSERT INTO notes (id, guid, mid, mod, usn, tags, flds, sfld, csum, flags, data) VALUES (?, ?, ?, 0, 0, '', ?, ?, 0, 0, '')",
			note.ID, "guid"+strconv.FormatInt(note.ID, 10), note.NoteTypeID, flds, sfld,
		)
		require.NoError(t, err)
	}
}

// CreatePackage writes a zip archive containing the given entries.
func CreatePackage(t *testing.T, path string, entries map[string][]byte) {
	t.Helper()

	var buffer bytes.Buffer
	writer := zip.NewWriter(&buffer)
	for name, data := range entries {
		entry, err := writer.Create(name)
		require.NoError(t, err)
		_, err = entry.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	require.NoError(t, os.WriteFile(path, buffer.Bytes(), 0644))
}

// ReadPackage returns every entry of a zip archive keyed by name.
func ReadPackage(t *testing.T, path string) map[string][]byte {
	t.Helper()

	reader, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, reader.Close())
	}()

	entries := map[string][]byte{}
	for _, file := range reader.File {
		src, err := file.Open()
		require.NoError(t, err)
		var buffer bytes.Buffer
		_, err = buffer.ReadFrom(src)
		require.NoError(t, err)
		require.NoError(t, src.Close())
		entries[file.Name] = buffer.Bytes()
	}
	return entries
}

// CompressZstd compresses data the way the modern collection payload is
// stored inside a package.
func CompressZstd(t *testing.T, data []byte) []byte {
	t.Helper()

	var buffer bytes.Buffer
	encoder, err := zstd.NewWriter(&buffer)
	require.NoError(t, err)
	_, err = encoder.Write(data)
	require.NoError(t, err)
	require.NoError(t, encoder.Close())
	return buffer.Bytes()
}

// DecompressZstd decompresses a modern collection payload.
func DecompressZstd(t *testing.T, data []byte) []byte {
	t.Helper()

	decoder, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer decoder.Close()
	out, err := decoder.DecodeAll(data, nil)
	require.NoError(t, err)
	return out
}
