package pipeline

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
)

// Orientation is the EXIF orientation tag when one was found.
type Orientation struct {
	Value   int
	Present bool
}

func OrientationTag(v int) Orientation {
	return Orientation{Value: v, Present: true}
}

// ReadOrientation never fails: missing or malformed EXIF yields an absent tag.
func ReadOrientation(data []byte) (o Orientation) {
	defer func() {
		if recover() != nil {
			o = Orientation{}
		}
	}()

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return Orientation{}
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return Orientation{}
	}
	v, err := tag.Int(0)
	if err != nil {
		return Orientation{}
	}
	return OrientationTag(v)
}

// CorrectOrientation rotates for tags 3, 6 and 8. Rotations are
// counter-clockwise and expand the canvas.
func CorrectOrientation(img image.Image, o Orientation) image.Image {
	if !o.Present {
		return img
	}
	switch o.Value {
	case 3:
		return imaging.Rotate180(img)
	case 6:
		return imaging.Rotate270(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
