package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/phambaophuc/brushset-converter/internal/services/staging"
)

var (
	ErrCorrupt        = errors.New("archive is corrupt or not a zip container")
	ErrTooManyEntries = errors.New("archive has too many entries")
	ErrUnsafePath     = errors.New("archive entry escapes the archive root")
	ErrEntryTooLarge  = errors.New("archive entry exceeds size limit")
)

var zipSignatures = [][]byte{
	[]byte("PK\x03\x04"),
	[]byte("PK\x05\x06"), // empty archive
}

// Stager receives extracted entry bytes.
type Stager interface {
	Put(name string, r io.Reader, limit int64) (staging.Blob, error)
}

// Entry is one extracted file. Data is owned by the Stager it was put into.
type Entry struct {
	Name string
	Data staging.Blob
}

type Reader struct {
	MaxEntries   int
	MaxEntrySize int64
}

func NewReader(maxEntries int, maxEntrySize int64) *Reader {
	return &Reader{
		MaxEntries:   maxEntries,
		MaxEntrySize: maxEntrySize,
	}
}

// EntryError carries the name of the entry that made extraction fail.
type EntryError struct {
	Entry string
	Err   error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("entry %q: %v", e.Entry, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// HasZipSignature reports whether header starts with a zip local file or
// end-of-central-directory signature.
func HasZipSignature(header []byte) bool {
	for _, sig := range zipSignatures {
		if bytes.HasPrefix(header, sig) {
			return true
		}
	}
	return false
}

// Extract parses the zip container in src and stages every regular file
// entry, sorted by name. The entry count is checked before anything is
// read, so an oversized archive stages nothing.
func (r *Reader) Extract(ctx context.Context, src io.ReaderAt, size int64, stager Stager) ([]Entry, error) {
	// A usable reader comes back alongside an insecure-path error; names are
	// checked below so the offending entry can be reported.
	zr, err := zip.NewReader(src, size)
	if err != nil && zr == nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if len(zr.File) > r.MaxEntries {
		return nil, fmt.Errorf("%w: %d entries, limit is %d", ErrTooManyEntries, len(zr.File), r.MaxEntries)
	}

	files := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if err := CheckEntryName(f.Name); err != nil {
			return nil, &EntryError{Entry: f.Name, Err: err}
		}
		if f.FileInfo().IsDir() || isMetadataFork(f.Name) {
			continue
		}
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})

	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if f.UncompressedSize64 > uint64(r.MaxEntrySize) {
			return nil, &EntryError{Entry: f.Name, Err: ErrEntryTooLarge}
		}

		blob, err := r.extractFile(f, stager)
		if err != nil {
			return nil, &EntryError{Entry: f.Name, Err: err}
		}
		entries = append(entries, Entry{Name: f.Name, Data: blob})
	}

	return entries, nil
}

func (r *Reader) extractFile(f *zip.File, stager Stager) (staging.Blob, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer rc.Close()

	// The declared size can lie; the stager enforces the real limit.
	blob, err := stager.Put(f.Name, rc, r.MaxEntrySize)
	if err != nil {
		switch {
		case errors.Is(err, staging.ErrBlobTooLarge):
			return nil, ErrEntryTooLarge
		case errors.Is(err, zip.ErrChecksum), errors.Is(err, zip.ErrFormat),
			errors.Is(err, zip.ErrAlgorithm), errors.Is(err, io.ErrUnexpectedEOF):
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return nil, err
	}
	return blob, nil
}

// CheckEntryName rejects names that would resolve outside the archive root.
func CheckEntryName(name string) error {
	if name == "" || strings.ContainsRune(name, 0) {
		return ErrUnsafePath
	}

	normalized := strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(normalized, "/") || hasDriveLetter(normalized) {
		return ErrUnsafePath
	}

	for _, part := range strings.Split(normalized, "/") {
		if part == ".." {
			return ErrUnsafePath
		}
	}

	if cleaned := path.Clean(normalized); cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return ErrUnsafePath
	}
	return nil
}

func hasDriveLetter(name string) bool {
	return len(name) >= 2 && name[1] == ':' &&
		((name[0] >= 'a' && name[0] <= 'z') || (name[0] >= 'A' && name[0] <= 'Z'))
}

func isMetadataFork(name string) bool {
	return strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(path.Base(name), "._")
}
