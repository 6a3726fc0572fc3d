package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
)

var ErrLogoUnavailable = errors.New("watermark logo unavailable")

// LogoSource yields the encoded watermark image. It is consulted on every
// request; implementations do not cache.
type LogoSource interface {
	Load(ctx context.Context) ([]byte, error)
}

type FileLogo struct {
	Path string
}

func (f FileLogo) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLogoUnavailable, err)
	}
	return data, nil
}
