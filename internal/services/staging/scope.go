// Package staging holds the per-request scratch space used while converting
// uploads. A Scope owns every blob written through it and releases all of
// them in one call.
package staging

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/phambaophuc/brushset-converter/internal/config"
	"go.uber.org/zap"
)

var (
	ErrReleased     = errors.New("staging scope already released")
	ErrBlobTooLarge = errors.New("blob exceeds size limit")
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Blob is a staged byte payload. Close releases any descriptor held for
// reading; the bytes stay staged until the scope is released.
type Blob interface {
	io.ReaderAt
	io.Closer
	Size() int64
	Name() string
}

type backend interface {
	create(name string) (sink, error)
	release() error
	dir() string
}

// sink receives a blob's bytes and becomes readable once sealed.
type sink interface {
	io.Writer
	seal(size int64) Blob
}

type Scope struct {
	mu       sync.Mutex
	backend  backend
	logger   *zap.Logger
	released bool
	once     sync.Once
	err      error
}

// NewScope creates an empty scope. Nothing is allocated until the first Put.
func NewScope(cfg config.StagingConfig, logger *zap.Logger) *Scope {
	var b backend
	switch cfg.Backend {
	case config.BackendMemory:
		b = newMemoryBackend()
	default:
		b = newDiskBackend(cfg.Dir, "brushset-"+uuid.New().String())
	}

	return &Scope{
		backend: b,
		logger:  logger,
	}
}

// Put copies r into the scope under a sanitised form of name. Reading stops
// with ErrBlobTooLarge once more than limit bytes have been seen. Put is safe
// for concurrent use; only the bookkeeping is serialised, not the copy.
func (s *Scope) Put(name string, r io.Reader, limit int64) (Blob, error) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil, ErrReleased
	}
	w, err := s.backend.create(SafeName(name))
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to stage %q: %w", name, err)
	}

	n, err := copyLimited(w, r, limit)
	blob := w.seal(n)
	if err != nil {
		return nil, fmt.Errorf("failed to stage %q: %w", name, err)
	}
	return blob, nil
}

// Release frees everything the scope holds. Only the first call does work;
// later calls return the first result.
func (s *Scope) Release() error {
	s.once.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.released = true
		s.err = s.backend.release()
		if s.err != nil {
			s.logger.Error("Failed to release staging scope",
				zap.String("dir", s.backend.dir()),
				zap.Error(s.err))
			return
		}
		s.logger.Debug("Staging scope released", zap.String("dir", s.backend.dir()))
	})
	return s.err
}

// Dir is the backing directory, or "" for the memory backend.
func (s *Scope) Dir() string {
	return s.backend.dir()
}

// SafeName flattens name into a single path element safe to create inside
// a staging directory.
func SafeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = unsafeNameChars.ReplaceAllString(base, "_")
	base = strings.TrimLeft(base, ".")
	if base == "" {
		return "blob"
	}
	return base
}

func copyLimited(w io.Writer, r io.Reader, limit int64) (int64, error) {
	n, err := io.Copy(w, io.LimitReader(r, limit+1))
	if err != nil {
		return n, err
	}
	if n > limit {
		return n, ErrBlobTooLarge
	}
	return n, nil
}
