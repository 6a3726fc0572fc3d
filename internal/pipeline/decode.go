package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
)

var ErrTooManyPixels = errors.New("image exceeds pixel limit")

// Image is a decoded upload plus the orientation found in its metadata.
type Image struct {
	Bitmap      image.Image
	Format      string
	Orientation Orientation
}

type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "cannot identify image file: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode reads the header first and refuses images whose declared size is
// above maxPixels. A maxPixels of zero or less disables the check.
func Decode(data []byte, maxPixels int64) (Image, error) {
	if err := checkDimensions(data, maxPixels); err != nil {
		return Image{}, &DecodeError{Err: err}
	}

	bitmap, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Image{}, &DecodeError{Err: err}
	}

	return Image{
		Bitmap:      bitmap,
		Format:      format,
		Orientation: ReadOrientation(data),
	}, nil
}

func checkDimensions(data []byte, maxPixels int64) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return err
	}
	return checkPixels(cfg.Width, cfg.Height, maxPixels)
}

func checkPixels(width, height int, maxPixels int64) error {
	if maxPixels <= 0 {
		return nil
	}
	if pixels := int64(width) * int64(height); pixels > maxPixels {
		return fmt.Errorf("%w: %dx%d is %d pixels, limit %d", ErrTooManyPixels, width, height, pixels, maxPixels)
	}
	return nil
}
