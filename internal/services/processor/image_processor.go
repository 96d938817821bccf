package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"

	// Decoders for the formats brush sets are known to carry.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
)

// Outcome says what happened to one archive entry.
type Outcome int

const (
	Accepted Outcome = iota
	NotImage
	TooSmall
	TooLarge
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case NotImage:
		return "not_image"
	case TooSmall:
		return "too_small"
	case TooLarge:
		return "too_large"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Converted is an accepted entry re-encoded as PNG.
type Converted struct {
	Data        []byte
	Width       int
	Height      int
	Format      string
	Grayscale   bool
	Transparent bool
}

type ImageProcessor struct {
	MinDimension int
	MaxPixels    int
}

func NewImageProcessor(minDimension, maxPixels int) *ImageProcessor {
	return &ImageProcessor{
		MinDimension: minDimension,
		MaxPixels:    maxPixels,
	}
}

// FilterAndConvert decodes the entry held in src and, if it is an image at
// least MinDimension on both sides, re-encodes it as PNG. Entries that are
// not images or are out of bounds are reported through Outcome with a nil
// error; only context and encode failures are returned as errors.
func (p *ImageProcessor) FilterAndConvert(ctx context.Context, src io.ReaderAt, size int64, transparency bool) (*Converted, Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, NotImage, err
	}

	format, outcome := p.checkDimensions(io.NewSectionReader(src, 0, size))
	if outcome != Accepted {
		return nil, outcome, nil
	}

	img, err := imaging.Decode(io.NewSectionReader(src, 0, size))
	if err != nil {
		// The header parsed but the body did not.
		return nil, NotImage, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, NotImage, err
	}

	gray := IsGrayscale(img)
	out := img
	if transparency && gray {
		out = ApplyTransparency(img)
	}

	buffer := &bytes.Buffer{}
	if err := p.encodePNG(buffer, out); err != nil {
		return nil, Accepted, fmt.Errorf("failed to encode image: %w", err)
	}

	bounds := out.Bounds()
	return &Converted{
		Data:        buffer.Bytes(),
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
		Format:      format,
		Grayscale:   gray,
		Transparent: transparency && gray,
	}, Accepted, nil
}

// GetImageInfo returns the dimensions and format of an encoded image without
// decoding its pixels.
func (p *ImageProcessor) GetImageInfo(r io.Reader) (int, int, string, error) {
	cfg, format, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0, "", err
	}
	return cfg.Width, cfg.Height, format, nil
}
