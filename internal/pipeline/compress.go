package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/disintegration/imaging"
)

// Compress encodes img as JPEG at quality and decodes the result again, so
// later stages operate on exactly what the compressed form holds.
func Compress(img image.Image, quality int) ([]byte, image.Image, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, nil, fmt.Errorf("encode jpeg: %w", err)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, nil, fmt.Errorf("decode compressed jpeg: %w", err)
	}
	return buf.Bytes(), decoded, nil
}

// EncodeForUpload produces the stored payload with the encoder's default quality.
func EncodeForUpload(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		return nil, fmt.Errorf("encode upload jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
