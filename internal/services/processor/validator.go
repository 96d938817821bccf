package processor

import "io"

// checkDimensions reads only the image header so undersized thumbnails and
// oversized bitmaps are dropped before any pixel data is allocated.
func (p *ImageProcessor) checkDimensions(r io.Reader) (string, Outcome) {
	width, height, format, err := p.GetImageInfo(r)
	if err != nil {
		return "", NotImage
	}

	if width <= 0 || height <= 0 {
		return format, NotImage
	}

	if int64(width)*int64(height) > int64(p.MaxPixels) {
		return format, TooLarge
	}

	if width < p.MinDimension || height < p.MinDimension {
		return format, TooSmall
	}

	return format, Accepted
}
