// Package apkg reads and writes Anki package archives (.apkg files).
//
// A package is a zip archive holding media files plus the collection
// database in one of two generations: the legacy uncompressed
// collection.anki2, or the modern zstd-compressed collection.anki21b.
// Open always materializes a single uncompressed working database
// regardless of which form the archive carries.
package apkg

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const (
	legacyCollectionName = "collection.anki2"
	modernCollectionName = "collection.anki21b"
	workingDBName        = "collection_working.db"
)

// scratchArtifacts are files this tool creates inside the scratch
// directory. They are never re-archived into the output package.
var scratchArtifacts = map[string]bool{
	workingDBName:            true,
	"collection_legacy.anki2": true,
	"collection_new.anki2":    true,
}

var (
	// ErrInvalidPackage indicates the input file is not a readable zip archive.
	ErrInvalidPackage = errors.New("not a valid package archive")
	// ErrMissingCollection indicates the archive holds neither database generation.
	ErrMissingCollection = errors.New("no collection database in package")
)

// Package extracts an .apkg archive into a scratch directory and
// repackages it after the working database has been mutated.
type Package struct {
	scratchDir string
	workingDB  string
}

// New creates a Package bound to the given scratch directory.
// The directory is reset on every Open to avoid state leaking across runs.
func New(scratchDir string) *Package {
	return &Package{scratchDir: scratchDir}
}

// WorkingDB returns the path of the decompressed working database.
// Valid only after Open succeeds.
func (p *Package) WorkingDB() string {
	return p.workingDB
}

// Open extracts the archive and materializes the working database.
func (p *Package) Open(packagePath string) (string, error) {
	if err := os.RemoveAll(p.scratchDir); err != nil {
		return "", fmt.Errorf("failed to reset scratch directory: %w", err)
	}
	if err := os.MkdirAll(p.scratchDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}

	if err := p.extract(packagePath); err != nil {
		return "", err
	}

	workingDB := filepath.Join(p.scratchDir, workingDBName)
	modernDB := filepath.Join(p.scratchDir, modernCollectionName)
	legacyDB := filepath.Join(p.scratchDir, legacyCollectionName)

	switch {
	case fileExists(modernDB):
		slog.Debug("decompressing modern collection", "path", modernDB)
		if err := decompressFile(modernDB, workingDB); err != nil {
			return "", fmt.Errorf("failed to decompress %s: %w", modernCollectionName, err)
		}
	case fileExists(legacyDB):
		slog.Debug("copying legacy collection", "path", legacyDB)
		if err := copyFile(legacyDB, workingDB); err != nil {
			return "", fmt.Errorf("failed to copy %s: %w", legacyCollectionName, err)
		}
	default:
		return "", fmt.Errorf("%w: expected %s or %s", ErrMissingCollection, modernCollectionName, legacyCollectionName)
	}

	p.workingDB = workingDB
	return workingDB, nil
}

func (p *Package) extract(packagePath string) error {
	reader, err := zip.OpenReader(packagePath)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPackage, packagePath, err)
	}
	defer func() {
		_ = reader.Close()
	}()

	for _, file := range reader.File {
		if err := p.extractFile(file); err != nil {
			return fmt.Errorf("failed to extract %s: %w", file.Name, err)
		}
	}
	return nil
}

func (p *Package) extractFile(file *zip.File) error {
	// Reject entries escaping the scratch directory.
	dest := filepath.Join(p.scratchDir, filepath.Clean(file.Name))
	rel, err := filepath.Rel(p.scratchDir, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("entry path %q escapes the scratch directory", file.Name)
	}

	if file.FileInfo().IsDir() {
		return os.MkdirAll(dest, 0755)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("os.MkdirAll > %w", err)
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("file.Open > %w", err)
	}
	defer func() {
		_ = src.Close()
	}()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("os.Create > %w", err)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return fmt.Errorf("io.Copy > %w", err)
	}
	return out.Close()
}

// Close writes the working database back into both payload slots and
// re-archives the scratch directory into a new package at outputPath.
// Both generations are written so any downstream Anki version can open
// the result.
func (p *Package) Close(outputPath string) error {
	if p.workingDB == "" {
		return errors.New("package is not open")
	}

	if err := copyFile(p.workingDB, filepath.Join(p.scratchDir, legacyCollectionName)); err != nil {
		return fmt.Errorf("failed to write %s: %w", legacyCollectionName, err)
	}
	if err := compressFile(p.workingDB, filepath.Join(p.scratchDir, modernCollectionName)); err != nil {
		return fmt.Errorf("failed to write %s: %w", modernCollectionName, err)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output package: %w", err)
	}
	writer := zip.NewWriter(out)

	err = filepath.Walk(p.scratchDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || scratchArtifacts[info.Name()] {
			return nil
		}
		name, err := filepath.Rel(p.scratchDir, path)
		if err != nil {
			return fmt.Errorf("filepath.Rel > %w", err)
		}
		entry, err := writer.Create(filepath.ToSlash(name))
		if err != nil {
			return fmt.Errorf("writer.Create > %w", err)
		}
		src, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("os.Open > %w", err)
		}
		defer func() {
			_ = src.Close()
		}()
		if _, err := io.Copy(entry, src); err != nil {
			return fmt.Errorf("io.Copy > %w", err)
		}
		return nil
	})
	if err != nil {
		_ = writer.Close()
		_ = out.Close()
		return fmt.Errorf("failed to archive scratch files: %w", err)
	}

	if err := writer.Close(); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close output package: %w", err)
	}
	slog.Debug("created output package", "path", outputPath)
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("os.Open > %w", err)
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("os.Create > %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("io.Copy > %w", err)
	}
	return out.Close()
}

func decompressFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("os.Open > %w", err)
	}
	defer func() {
		_ = in.Close()
	}()

	decoder, err := zstd.NewReader(in)
	if err != nil {
		return fmt.Errorf("zstd.NewReader > %w", err)
	}
	defer decoder.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("os.Create > %w", err)
	}
	if _, err := io.Copy(out, decoder.IOReadCloser()); err != nil {
		_ = out.Close()
		return fmt.Errorf("io.Copy > %w", err)
	}
	return out.Close()
}

func compressFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("os.Open > %w", err)
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("os.Create > %w", err)
	}
	encoder, err := zstd.NewWriter(out)
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("zstd.NewWriter > %w", err)
	}
	if _, err := io.Copy(encoder, in); err != nil {
		_ = encoder.Close()
		_ = out.Close()
		return fmt.Errorf("io.Copy > %w", err)
	}
	if err := encoder.Close(); err != nil {
		_ = out.Close()
		return fmt.Errorf("encoder.Close > %w", err)
	}
	return out.Close()
}
