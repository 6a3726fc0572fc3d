package pipeline

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

func DecodeLogo(data []byte, maxPixels int64) (image.Image, error) {
	if err := checkDimensions(data, maxPixels); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLogoUnavailable, err)
	}
	logo, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLogoUnavailable, err)
	}
	return logo, nil
}

// logoPlacement sizes the logo to scale of each host dimension independently
// and anchors it to the bottom-right corner, padding pixels in from each edge.
func logoPlacement(hostWidth, hostHeight int, scale float64, padding int) image.Rectangle {
	w := max(1, int(float64(hostWidth)*scale))
	h := max(1, int(float64(hostHeight)*scale))
	x := hostWidth - w - padding
	y := hostHeight - h - padding
	return image.Rect(x, y, x+w, y+h)
}

// ApplyWatermark stretches logo over the bottom-right placement, blends it
// using the logo's own alpha and returns an opaque image.
func ApplyWatermark(img, logo image.Image, opts Options) *image.NRGBA {
	opts = opts.withDefaults()

	canvas := imaging.Clone(img)
	bounds := canvas.Bounds()
	target := logoPlacement(bounds.Dx(), bounds.Dy(), opts.LogoScale, opts.LogoPadding)

	scaled := image.NewNRGBA(image.Rect(0, 0, target.Dx(), target.Dy()))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), logo, logo.Bounds(), draw.Src, nil)
	draw.Draw(canvas, target, scaled, image.Point{}, draw.Over)

	flatten(canvas)
	return canvas
}

// flatten drops the alpha channel by making every pixel opaque while keeping
// its color values.
func flatten(img *image.NRGBA) {
	bounds := img.Bounds()
	for y := 0; y < bounds.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+bounds.Dx()*4]
		for i := 3; i < len(row); i += 4 {
			row[i] = 0xff
		}
	}
}
