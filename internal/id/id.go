package id

import (
	"fmt"

	"github.com/google/uuid"
)

// New returns a random UUIDv4 in its 36-character canonical form.
func New() string {
	return uuid.NewString()
}

// ObjectName joins a fresh identifier with the given extension.
func ObjectName(ext string) string {
	return fmt.Sprintf("%s.%s", New(), ext)
}
