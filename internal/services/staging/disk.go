package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

type diskBackend struct {
	root    string
	name    string
	path    string
	blobs   []*diskBlob
	counter int
}

func newDiskBackend(root, name string) *diskBackend {
	return &diskBackend{root: root, name: name}
}

// diskBlob holds a descriptor only while it is being written and between
// the first ReadAt and Close, so a scope can hold far more blobs than the
// process may have open files.
type diskBlob struct {
	path string
	name string
	size int64

	mu     sync.Mutex
	writer *os.File
	reader *os.File
	err    error
}

func (b *diskBlob) Size() int64  { return b.size }
func (b *diskBlob) Name() string { return b.name }

func (b *diskBlob) Write(p []byte) (int, error) {
	return b.writer.Write(p)
}

func (b *diskBlob) seal(size int64) Blob {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.size = size
	if b.writer != nil {
		b.err = b.writer.Close()
		b.writer = nil
	}
	return b
}

func (b *diskBlob) ReadAt(p []byte, off int64) (int, error) {
	f, err := b.open()
	if err != nil {
		return 0, err
	}
	return f.ReadAt(p, off)
}

func (b *diskBlob) open() (*os.File, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		return nil, b.err
	}
	if b.reader == nil {
		f, err := os.Open(b.path)
		if err != nil {
			return nil, err
		}
		b.reader = f
	}
	return b.reader, nil
}

// Close drops the read descriptor. The blob can still be read afterwards;
// the next ReadAt opens it again.
func (b *diskBlob) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.writer != nil {
		err = b.writer.Close()
		b.writer = nil
	}
	if b.reader != nil {
		if cerr := b.reader.Close(); err == nil {
			err = cerr
		}
		b.reader = nil
	}
	return err
}

func (d *diskBackend) ensureDir() error {
	if d.path != "" {
		return nil
	}

	path := filepath.Join(d.root, d.name)
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}
	d.path = path
	return nil
}

func (d *diskBackend) create(name string) (sink, error) {
	if err := d.ensureDir(); err != nil {
		return nil, err
	}

	// Prefix a counter so two uploads with the same name never collide.
	d.counter++
	path := filepath.Join(d.path, strconv.Itoa(d.counter)+"_"+name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	blob := &diskBlob{path: path, name: name, writer: f}
	d.blobs = append(d.blobs, blob)
	return blob, nil
}

func (d *diskBackend) release() error {
	for _, b := range d.blobs {
		b.Close()
	}
	d.blobs = nil

	if d.path == "" {
		return nil
	}
	if err := os.RemoveAll(d.path); err != nil {
		return fmt.Errorf("failed to remove staging dir: %w", err)
	}
	return nil
}

func (d *diskBackend) dir() string {
	if d.path != "" {
		return d.path
	}
	return filepath.Join(d.root, d.name)
}
