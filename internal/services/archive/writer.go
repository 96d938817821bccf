package archive

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zip"
)

var ErrNoImages = errors.New("no images to write")

// modTime is stamped on every entry so equal inputs give equal archives.
var modTime = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Group is the converted output of one source archive.
type Group struct {
	Label  string
	Images [][]byte
}

type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

// EntryName is the path of the index-th (1-based) image inside a group.
func EntryName(label string, index int) string {
	return fmt.Sprintf("%s/brush_%d.png", label, index)
}

// WriteArchive writes each group as a directory of brush_N.png files in the
// order given. It fails with ErrNoImages when every group is empty.
func (w *Writer) WriteArchive(dst io.Writer, groups []Group) error {
	total := 0
	for _, g := range groups {
		total += len(g.Images)
	}
	if total == 0 {
		return ErrNoImages
	}

	zw := zip.NewWriter(dst)
	for _, g := range groups {
		for i, data := range g.Images {
			header := &zip.FileHeader{
				Name:     EntryName(g.Label, i+1),
				Method:   zip.Store, // PNG is already deflated
				Modified: modTime,
			}

			fw, err := zw.CreateHeader(header)
			if err != nil {
				zw.Close()
				return fmt.Errorf("failed to create entry %s: %w", header.Name, err)
			}
			if _, err := fw.Write(data); err != nil {
				zw.Close()
				return fmt.Errorf("failed to write entry %s: %w", header.Name, err)
			}
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}
