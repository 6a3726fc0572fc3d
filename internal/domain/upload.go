package domain

import (
	"errors"
	"fmt"
)

const (
	MessageUploaded = "Image processed and uploaded"

	ContentTypeJPEG = "image/jpeg"
	ExtensionJPEG   = "jpg"
)

// Client errors. Their text is the literal error body returned with a 400.
var (
	ErrNoFile        = errors.New("No file provided")
	ErrInvalidFormat = errors.New("Invalid file format")
)

const (
	StageLogo      = "logo"
	StageDecode    = "decode"
	StageTransform = "transform"
	StageUpload    = "upload"
)

// ProcessingError is any failure after the upload passed validation.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return e.Err.Error()
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

func NewProcessingError(stage string, err error) *ProcessingError {
	return &ProcessingError{Stage: stage, Err: err}
}

// Describe formats the error with its stage for server-side logs.
func (e *ProcessingError) Describe() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

type UploadResponse struct {
	Message string `json:"message"`
	URL     string `json:"url"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
