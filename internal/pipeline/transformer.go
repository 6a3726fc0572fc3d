package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("pixelstamp/pipeline")

// Transformer runs decode through upload encoding on one input and returns
// the payload to store. Stages run strictly in order.
type Transformer interface {
	Transform(ctx context.Context, input []byte, logo LogoSource, opts Options) (Output, error)
}

type Output struct {
	Data            []byte
	Width           int
	Height          int
	CompressedBytes int
	Cropped         bool
	Orientation     Orientation
}

func runStage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "pipeline."+name)
	defer span.End()

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
		return err
	}
	return nil
}
