package staging

import (
	"bytes"
)

type memoryBackend struct {
	blobs []*memoryBlob
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{}
}

type memoryBlob struct {
	bytes.Buffer
	reader *bytes.Reader
	name   string
}

func (b *memoryBlob) ReadAt(p []byte, off int64) (int, error) { return b.reader.ReadAt(p, off) }
func (b *memoryBlob) Size() int64                              { return b.reader.Size() }
func (b *memoryBlob) Name() string                             { return b.name }
func (b *memoryBlob) Close() error                             { return nil }

func (b *memoryBlob) seal(int64) Blob {
	b.reader = bytes.NewReader(b.Bytes())
	return b
}

func (m *memoryBackend) create(name string) (sink, error) {
	blob := &memoryBlob{name: name, reader: bytes.NewReader(nil)}
	m.blobs = append(m.blobs, blob)
	return blob, nil
}

func (m *memoryBackend) release() error {
	for _, b := range m.blobs {
		b.reader.Reset(nil)
		b.Buffer = bytes.Buffer{}
	}
	m.blobs = nil
	return nil
}

func (m *memoryBackend) dir() string { return "" }
