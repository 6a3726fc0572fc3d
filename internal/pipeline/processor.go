package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/dunamismax/pixelstamp/internal/domain"
	"github.com/dunamismax/pixelstamp/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type Result struct {
	Key             string
	URL             string
	Width           int
	Height          int
	Bytes           int
	CompressedBytes int
	Cropped         bool
}

type Processor struct {
	transformer Transformer
	logo        LogoSource
	uploader    Uploader
	opts        Options
}

type ProcessorConfig struct {
	Logo    LogoSource
	Store   storage.Store
	Prefix  string
	Options Options
}

func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Logo == nil {
		return nil, errors.New("logo source is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("storage client is required")
	}

	transformer, err := newTransformer()
	if err != nil {
		return nil, fmt.Errorf("build transformer: %w", err)
	}

	return &Processor{
		transformer: transformer,
		logo:        cfg.Logo,
		uploader:    Uploader{Store: cfg.Store, Prefix: cfg.Prefix},
		opts:        cfg.Options.withDefaults(),
	}, nil
}

// Process normalizes one validated upload and stores it. Every error it
// returns is a *domain.ProcessingError.
func (p *Processor) Process(ctx context.Context, input []byte) (Result, error) {
	ctx, span := tracer.Start(ctx, "pipeline.process")
	defer span.End()
	span.SetAttributes(attribute.Int("image.input_bytes", len(input)))

	out, err := p.transformer.Transform(ctx, input, p.logo, p.opts)
	if err != nil {
		perr := domain.NewProcessingError(stageOf(err), err)
		span.RecordError(err)
		span.SetStatus(codes.Error, perr.Describe())
		return Result{}, perr
	}

	key, url, err := p.uploader.Upload(ctx, out.Data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return Result{}, domain.NewProcessingError(domain.StageUpload, err)
	}

	span.SetAttributes(
		attribute.String("object.key", key),
		attribute.Int("image.width", out.Width),
		attribute.Int("image.height", out.Height),
		attribute.Int("image.output_bytes", len(out.Data)),
	)
	return Result{
		Key:             key,
		URL:             url,
		Width:           out.Width,
		Height:          out.Height,
		Bytes:           len(out.Data),
		CompressedBytes: out.CompressedBytes,
		Cropped:         out.Cropped,
	}, nil
}

func stageOf(err error) string {
	var decodeErr *DecodeError
	switch {
	case errors.As(err, &decodeErr):
		return domain.StageDecode
	case errors.Is(err, ErrLogoUnavailable):
		return domain.StageLogo
	default:
		return domain.StageTransform
	}
}
