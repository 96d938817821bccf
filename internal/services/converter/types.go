package converter

import (
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/phambaophuc/brushset-converter/internal/services/processor"
)

// Input is one uploaded archive. Open is called at most once, by the worker
// that converts it, and the returned reader is closed by that worker.
type Input struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

type Options struct {
	OrderID      string
	Transparency bool
}

// SkipCounts tallies entries that did not make it into the output.
type SkipCounts struct {
	NotImage int `json:"not_image"`
	TooSmall int `json:"too_small"`
	TooLarge int `json:"too_large"`
}

func (s *SkipCounts) record(outcome processor.Outcome) {
	switch outcome {
	case processor.NotImage:
		s.NotImage++
	case processor.TooSmall:
		s.TooSmall++
	case processor.TooLarge:
		s.TooLarge++
	}
}

// ArchiveResult is the outcome for one Input. Exactly one of Images > 0 and
// Err != nil holds once the batch has run.
type ArchiveResult struct {
	Name    string
	Label   string
	Entries int
	Images  int
	Skipped SkipCounts
	Err     *ConversionError

	pngs [][]byte
}

type BatchResult struct {
	Archives []ArchiveResult
	Archive  []byte
	Filename string
}

// dropImages releases the converted PNGs once they are packaged or no
// longer needed.
func (r *BatchResult) dropImages() {
	for i := range r.Archives {
		r.Archives[i].pngs = nil
	}
}

// Succeeded reports whether a download was produced.
func (r *BatchResult) Succeeded() bool {
	return len(r.Archive) > 0
}

// Failed returns the archives that recorded an error, in upload order.
func (r *BatchResult) Failed() []ArchiveResult {
	var failed []ArchiveResult
	for _, a := range r.Archives {
		if a.Err != nil {
			failed = append(failed, a)
		}
	}
	return failed
}

// Err joins every per-archive error, or returns nil if there were none.
func (r *BatchResult) Err() error {
	var errs *multierror.Error
	for _, a := range r.Archives {
		if a.Err != nil {
			errs = multierror.Append(errs, a.Err)
		}
	}
	return errs.ErrorOrNil()
}

// BrushCount is the number of images in the download.
func (r *BatchResult) BrushCount() int {
	if !r.Succeeded() {
		return 0
	}
	total := 0
	for _, a := range r.Archives {
		if a.Err == nil {
			total += a.Images
		}
	}
	return total
}
