package pipeline

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/dunamismax/pixelstamp/internal/domain"
	"github.com/dunamismax/pixelstamp/internal/id"
	"github.com/dunamismax/pixelstamp/internal/storage"
)

const defaultPrefix = "uploads"

// Uploader stores encoded payloads under <prefix>/<uuid>.jpg.
type Uploader struct {
	Store   storage.Store
	Prefix  string
	NewName func() string
}

func (u Uploader) Upload(ctx context.Context, data []byte) (key, url string, err error) {
	if u.Store == nil {
		return "", "", errors.New("storage client is required")
	}

	name := u.NewName
	if name == nil {
		name = func() string { return id.ObjectName(domain.ExtensionJPEG) }
	}

	key = path.Join(objectPrefix(u.Prefix), name())
	url, err = u.Store.Put(ctx, key, data, domain.ContentTypeJPEG)
	if err != nil {
		return "", "", err
	}
	return key, url, nil
}

func objectPrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return defaultPrefix
	}
	return prefix
}
