package pipeline

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// cropRect returns the centered sub-rectangle of a width x height image that
// matches ratio, and false when the image is already within tolerance.
func cropRect(width, height int, ratio Ratio, tolerance float64) (image.Rectangle, bool) {
	full := image.Rect(0, 0, width, height)
	if width <= 0 || height <= 0 || !ratio.valid() {
		return full, false
	}

	current := float64(width) / float64(height)
	target := ratio.Float()
	if math.Abs(current-target) <= tolerance {
		return full, false
	}

	if current > target {
		newWidth := clamp(height*ratio.W/ratio.H, 1, width)
		left := (width - newWidth) / 2
		return image.Rect(left, 0, left+newWidth, height), true
	}

	newHeight := clamp(width*ratio.H/ratio.W, 1, height)
	top := (height - newHeight) / 2
	return image.Rect(0, top, width, top+newHeight), true
}

func CropToAspect(img image.Image, ratio Ratio, tolerance float64) image.Image {
	bounds := img.Bounds()
	rect, ok := cropRect(bounds.Dx(), bounds.Dy(), ratio, tolerance)
	if !ok {
		return img
	}
	return imaging.Crop(img, rect.Add(bounds.Min))
}
