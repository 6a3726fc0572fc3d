//go:build govips && cgo

package pipeline

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
)

type govipsTransformer struct{}

func (t govipsTransformer) Transform(ctx context.Context, input []byte, logo LogoSource, opts Options) (Output, error) {
	opts = opts.withDefaults()

	var (
		img *vips.ImageRef
		out Output
		err error
	)

	if err := runStage(ctx, "decode", func(context.Context) error {
		if err := checkDimensions(input, opts.MaxPixels); err != nil {
			return &DecodeError{Err: err}
		}
		img, err = vips.NewImageFromBuffer(input)
		if err != nil {
			return &DecodeError{Err: err}
		}
		return nil
	}); err != nil {
		return Output{}, err
	}
	defer img.Close()

	if err := runStage(ctx, "orientation", func(context.Context) error {
		out.Orientation = OrientationTag(img.Orientation())
		if out.Orientation.Value == 0 {
			out.Orientation = Orientation{}
		}
		// A failed rotation leaves the image as decoded.
		_ = applyGovipsOrientation(img, out.Orientation)
		return nil
	}); err != nil {
		return Output{}, err
	}

	if err := runStage(ctx, "crop", func(context.Context) error {
		rect, ok := cropRect(img.Width(), img.Height(), opts.AspectRatio, opts.Tolerance)
		if !ok {
			return nil
		}
		out.Cropped = true
		if err := img.ExtractArea(rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy()); err != nil {
			return fmt.Errorf("crop image: %w", err)
		}
		return nil
	}); err != nil {
		return Output{}, err
	}

	if err := runStage(ctx, "watermark", func(ctx context.Context) error {
		data, err := logo.Load(ctx)
		if err != nil {
			return err
		}
		return applyGovipsWatermark(img, data, opts)
	}); err != nil {
		return Output{}, err
	}

	var compressedRef *vips.ImageRef
	if err := runStage(ctx, "compress", func(context.Context) error {
		params := vips.NewJpegExportParams()
		params.Quality = opts.Quality
		params.StripMetadata = true
		compressed, _, err := img.ExportJpeg(params)
		if err != nil {
			return fmt.Errorf("encode jpeg: %w", err)
		}
		out.CompressedBytes = len(compressed)

		compressedRef, err = vips.NewImageFromBuffer(compressed)
		if err != nil {
			return fmt.Errorf("decode compressed jpeg: %w", err)
		}
		return nil
	}); err != nil {
		return Output{}, err
	}
	defer compressedRef.Close()

	if err := runStage(ctx, "encode", func(context.Context) error {
		params := vips.NewJpegExportParams()
		params.StripMetadata = true
		out.Data, _, err = compressedRef.ExportJpeg(params)
		if err != nil {
			return fmt.Errorf("encode upload jpeg: %w", err)
		}
		return nil
	}); err != nil {
		return Output{}, err
	}

	out.Width, out.Height = compressedRef.Width(), compressedRef.Height()
	return out, nil
}

// vips rotates clockwise, so the counter-clockwise policy maps 6 to 90 and 8 to 270.
func applyGovipsOrientation(img *vips.ImageRef, o Orientation) error {
	if !o.Present {
		return nil
	}
	switch o.Value {
	case 3:
		return img.Rotate(vips.Angle180)
	case 6:
		return img.Rotate(vips.Angle90)
	case 8:
		return img.Rotate(vips.Angle270)
	default:
		return nil
	}
}

func applyGovipsWatermark(img *vips.ImageRef, data []byte, opts Options) error {
	if err := checkDimensions(data, opts.MaxPixels); err != nil {
		return fmt.Errorf("%w: %w", ErrLogoUnavailable, err)
	}
	logo, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLogoUnavailable, err)
	}
	defer logo.Close()

	target := logoPlacement(img.Width(), img.Height(), opts.LogoScale, opts.LogoPadding)
	hScale := float64(target.Dx()) / float64(logo.Width())
	vScale := float64(target.Dy()) / float64(logo.Height())
	if err := logo.ResizeWithVScale(hScale, vScale, vips.KernelCubic); err != nil {
		return fmt.Errorf("resize logo: %w", err)
	}
	if !logo.HasAlpha() {
		if err := logo.AddAlpha(); err != nil {
			return fmt.Errorf("add logo alpha: %w", err)
		}
	}

	if !img.HasAlpha() {
		if err := img.AddAlpha(); err != nil {
			return fmt.Errorf("add image alpha: %w", err)
		}
	}
	if err := img.Composite(logo, vips.BlendModeOver, target.Min.X, target.Min.Y); err != nil {
		return fmt.Errorf("composite logo: %w", err)
	}
	if err := img.Flatten(&vips.Color{}); err != nil {
		return fmt.Errorf("flatten image: %w", err)
	}
	return nil
}
