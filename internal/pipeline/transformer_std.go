package pipeline

import (
	"context"
	"image"
)

type stdlibTransformer struct{}

func (t stdlibTransformer) Transform(ctx context.Context, input []byte, logo LogoSource, opts Options) (Output, error) {
	opts = opts.withDefaults()

	var (
		img Image
		out Output
		err error
	)

	if err := runStage(ctx, "decode", func(context.Context) error {
		img, err = Decode(input, opts.MaxPixels)
		return err
	}); err != nil {
		return Output{}, err
	}

	bitmap := img.Bitmap
	out.Orientation = img.Orientation

	if err := runStage(ctx, "orientation", func(context.Context) error {
		bitmap = CorrectOrientation(bitmap, img.Orientation)
		return nil
	}); err != nil {
		return Output{}, err
	}

	if err := runStage(ctx, "crop", func(context.Context) error {
		before := bitmap.Bounds()
		bitmap = CropToAspect(bitmap, opts.AspectRatio, opts.Tolerance)
		out.Cropped = bitmap.Bounds().Size() != before.Size()
		return nil
	}); err != nil {
		return Output{}, err
	}

	if err := runStage(ctx, "watermark", func(ctx context.Context) error {
		data, err := logo.Load(ctx)
		if err != nil {
			return err
		}
		logoImg, err := DecodeLogo(data, opts.MaxPixels)
		if err != nil {
			return err
		}
		bitmap = ApplyWatermark(bitmap, logoImg, opts)
		return nil
	}); err != nil {
		return Output{}, err
	}

	if err := runStage(ctx, "compress", func(context.Context) error {
		var compressed []byte
		var decoded image.Image
		compressed, decoded, err = Compress(bitmap, opts.Quality)
		if err != nil {
			return err
		}
		bitmap = decoded
		out.CompressedBytes = len(compressed)
		return nil
	}); err != nil {
		return Output{}, err
	}

	if err := runStage(ctx, "encode", func(context.Context) error {
		out.Data, err = EncodeForUpload(bitmap)
		return err
	}); err != nil {
		return Output{}, err
	}

	bounds := bitmap.Bounds()
	out.Width, out.Height = bounds.Dx(), bounds.Dy()
	return out, nil
}
