package processor

import (
	"image"
	"image/png"
	"io"

	"github.com/disintegration/imaging"
)

func (p *ImageProcessor) encodePNG(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression))
}
