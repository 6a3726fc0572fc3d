package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const (
	BackendMinio  = "minio"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Store writes an object and returns the public URL the backend assigns to it.
// Implementations must be safe for concurrent use.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// publicURL joins base and an object key, escaping each key segment.
func publicURL(base, key string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	segments := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return base + "/" + strings.Join(segments, "/")
}

func requireBucket(bucket string) error {
	if strings.TrimSpace(bucket) == "" {
		return fmt.Errorf("bucket is required")
	}
	return nil
}
