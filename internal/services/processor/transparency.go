package processor

import (
	"image"
	"image/color"
)

// IsGrayscale reports whether img carries a single intensity channel.
func IsGrayscale(img image.Image) bool {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return true
	}
	model := img.ColorModel()
	return model == color.GrayModel || model == color.Gray16Model
}

// ApplyTransparency turns a grayscale image into a black image whose alpha
// channel is the source intensity. Any other image is returned unchanged.
func ApplyTransparency(img image.Image) image.Image {
	bounds := img.Bounds()

	switch src := img.(type) {
	case *image.Gray:
		dst := image.NewNRGBA(bounds)
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				dst.SetNRGBA(x, y, color.NRGBA{A: src.GrayAt(x, y).Y})
			}
		}
		return dst

	case *image.Gray16:
		dst := image.NewNRGBA64(bounds)
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				dst.SetNRGBA64(x, y, color.NRGBA64{A: src.Gray16At(x, y).Y})
			}
		}
		return dst
	}

	switch img.ColorModel() {
	case color.GrayModel:
		dst := image.NewNRGBA(bounds)
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				v := color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y
				dst.SetNRGBA(x, y, color.NRGBA{A: v})
			}
		}
		return dst

	case color.Gray16Model:
		dst := image.NewNRGBA64(bounds)
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				v := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y
				dst.SetNRGBA64(x, y, color.NRGBA64{A: v})
			}
		}
		return dst
	}

	return img
}
