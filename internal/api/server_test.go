package api

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/dunamismax/pixelstamp/internal/domain"
	"github.com/dunamismax/pixelstamp/internal/pipeline"
	"github.com/dunamismax/pixelstamp/internal/ratelimit"
	"github.com/dunamismax/pixelstamp/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var storedURLPattern = regexp.MustCompile(`^https://cdn\.example\.com/uploads/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.jpg$`)

func TestUploadEndToEnd(t *testing.T) {
	store := storage.NewMemoryStore("https://cdn.example.com")
	srv := newPipelineServer(t, store, Options{ExposeErrors: true})

	rec := postUpload(t, srv, "file", "holiday.JPG", testPNG(t, 1000, 600))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body domain.UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Image processed and uploaded", body.Message)
	assert.Regexp(t, storedURLPattern, body.URL)

	keys := store.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, "https://cdn.example.com/"+keys[0], body.URL)

	obj, _ := store.Get(keys[0])
	assert.Equal(t, "image/jpeg", obj.ContentType)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(obj.Data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 800, cfg.Width)
	assert.Equal(t, 600, cfg.Height)
}

func TestUploadJPEGWithOrientation(t *testing.T) {
	store := storage.NewMemoryStore("https://cdn.example.com")
	srv := newPipelineServer(t, store, Options{ExposeErrors: true})

	// Red over blue; orientation 3 turns it upside down.
	src := image.NewRGBA(image.Rect(0, 0, 800, 600))
	for y := 0; y < 600; y++ {
		for x := 0; x < 800; x++ {
			c := color.RGBA{R: 220, G: 20, B: 20, A: 255}
			if y >= 300 {
				c = color.RGBA{R: 20, G: 20, B: 220, A: 255}
			}
			src.Set(x, y, c)
		}
	}
	input := withEXIFOrientation(testJPEG(t, src), 3)

	rec := postUpload(t, srv, "file", "camera.jpeg", input)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body domain.UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Regexp(t, storedURLPattern, body.URL)

	keys := store.Keys()
	require.Len(t, keys, 1)
	obj, _ := store.Get(keys[0])
	out, err := jpeg.Decode(bytes.NewReader(obj.Data))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(800, 600), out.Bounds().Size())

	_, _, top, _ := out.At(100, 50).RGBA()
	assert.Greater(t, top>>8, uint32(150), "top should be blue after the rotation")
	bottom, _, _, _ := out.At(100, 550).RGBA()
	assert.Greater(t, bottom>>8, uint32(150), "bottom should be red after the rotation")
}

func TestUploadEmptyFilenameIsInvalidFormat(t *testing.T) {
	processor := &stubProcessor{}
	srv := NewServer(zerolog.Nop(), processor, Options{})

	rec := postUpload(t, srv, "file", "", testPNG(t, 8, 6))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Invalid file format"}`, rec.Body.String())
	assert.Zero(t, processor.calls)
}

func TestUploadPlainFieldIsNotAFile(t *testing.T) {
	processor := &stubProcessor{}
	srv := NewServer(zerolog.Nop(), processor, Options{})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("file", "photo.png"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"No file provided"}`, rec.Body.String())
	assert.Zero(t, processor.calls)
}

func TestUploadOversizedDimensionsIsServerError(t *testing.T) {
	store := storage.NewMemoryStore("")
	srv := newPipelineServer(t, store, Options{ExposeErrors: true})

	bomb := testPNG(t, 1, 1)
	binary.BigEndian.PutUint32(bomb[16:20], 30000)
	binary.BigEndian.PutUint32(bomb[20:24], 30000)
	binary.BigEndian.PutUint32(bomb[29:33], crc32.ChecksumIEEE(bomb[12:29]))

	rec := postUpload(t, srv, "file", "bomb.png", bomb)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "image exceeds pixel limit")
	assert.Empty(t, store.Keys())
}

func TestUploadMissingFile(t *testing.T) {
	srv := NewServer(zerolog.Nop(), &stubProcessor{}, Options{})

	rec := postUpload(t, srv, "image", "photo.png", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"No file provided"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("plain body"))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"No file provided"}`, rec.Body.String())
}

func TestUploadInvalidExtension(t *testing.T) {
	processor := &stubProcessor{}
	srv := NewServer(zerolog.Nop(), processor, Options{})

	for _, name := range []string{"notes.Txt", "photo", "photo.gif"} {
		rec := postUpload(t, srv, "file", name, testPNG(t, 8, 6))
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		assert.JSONEq(t, `{"error":"Invalid file format"}`, rec.Body.String(), name)
	}
	assert.Zero(t, processor.calls)
}

func TestUploadProcessingErrorExposure(t *testing.T) {
	failure := domain.NewProcessingError(domain.StageUpload, errors.New("put object uploads/x.jpg: access denied"))

	exposed := NewServer(zerolog.Nop(), &stubProcessor{err: failure}, Options{ExposeErrors: true})
	rec := postUpload(t, exposed, "file", "photo.png", testPNG(t, 8, 6))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"put object uploads/x.jpg: access denied"}`, rec.Body.String())

	hidden := NewServer(zerolog.Nop(), &stubProcessor{err: failure}, Options{ExposeErrors: false})
	rec = postUpload(t, hidden, "file", "photo.png", testPNG(t, 8, 6))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestUploadUndecodableImageIsServerError(t *testing.T) {
	srv := newPipelineServer(t, storage.NewMemoryStore(""), Options{ExposeErrors: true})

	rec := postUpload(t, srv, "file", "photo.png", []byte("this is not a png"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body domain.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error)
}

func TestUploadTooLarge(t *testing.T) {
	processor := &stubProcessor{}
	srv := NewServer(zerolog.Nop(), processor, Options{MaxUploadBytes: 1024})

	rec := postUpload(t, srv, "file", "photo.png", bytes.Repeat([]byte{0xab}, 4096))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.JSONEq(t, `{"error":"file too large"}`, rec.Body.String())
	assert.Zero(t, processor.calls)
}

func TestUploadRateLimited(t *testing.T) {
	limiter := &stubLimiter{decision: ratelimit.Decision{Allowed: false, RetryAfter: 1500 * time.Millisecond}}
	processor := &stubProcessor{}
	srv := NewServer(zerolog.Nop(), processor, Options{RateLimiter: limiter})

	rec := postUpload(t, srv, "file", "photo.png", testPNG(t, 8, 6))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Zero(t, processor.calls)
	assert.Equal(t, "192.0.2.1:/upload", limiter.subject)
}

func TestUploadRateLimiterFailureFailsOpen(t *testing.T) {
	limiter := &stubLimiter{err: errors.New("redis down")}
	processor := &stubProcessor{result: pipeline.Result{URL: "https://cdn.example.com/uploads/a.jpg"}}
	srv := NewServer(zerolog.Nop(), processor, Options{RateLimiter: limiter})

	req := uploadRequest(t, "file", "photo.png", testPNG(t, 8, 6))
	req.Header.Set("X-User-ID", "user-7")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, processor.calls)
	assert.Equal(t, "user-7:/upload", limiter.subject)
}

func TestHealthzAndMetrics(t *testing.T) {
	srv := NewServer(zerolog.Nop(), &stubProcessor{}, Options{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `pixelstamp_api_requests_total{method="GET",route="/healthz",status="200"} 1`)
}

func TestUploadRouteRejectsGet(t *testing.T) {
	srv := NewServer(zerolog.Nop(), &stubProcessor{}, Options{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/upload", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func newPipelineServer(t *testing.T, store storage.Store, opts Options) *Server {
	t.Helper()

	logoPath := filepath.Join(t.TempDir(), "logo.png")
	require.NoError(t, os.WriteFile(logoPath, testPNG(t, 16, 16), 0o644))

	processor, err := pipeline.NewProcessor(pipeline.ProcessorConfig{
		Logo:    pipeline.FileLogo{Path: logoPath},
		Store:   store,
		Options: pipeline.DefaultOptions(),
	})
	require.NoError(t, err)
	return NewServer(zerolog.Nop(), processor, opts)
}

func postUpload(t *testing.T, srv *Server, field, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, field, filename, data))
	return rec
}

func uploadRequest(t *testing.T, field, filename string, data []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	header.Set("Content-Type", "application/octet-stream")
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = io.Copy(part, bytes.NewReader(data))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8((x * 255) / w), G: uint8((y * 255) / h), B: 140, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// withEXIFOrientation splices an APP1 segment holding only the orientation
// tag in after the SOI marker.
func withEXIFOrientation(jpg []byte, orientation uint16) []byte {
	tiff := []byte{
		'M', 'M', 0x00, 0x2a, 0x00, 0x00, 0x00, 0x08,
		0x00, 0x01,
		0x01, 0x12, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01,
		byte(orientation >> 8), byte(orientation), 0x00, 0x00,
		0x00, 0x00, 0x00, 0x00,
	}
	payload := append([]byte("Exif\x00\x00"), tiff...)
	segLen := len(payload) + 2

	out := make([]byte, 0, len(jpg)+segLen+2)
	out = append(out, jpg[:2]...)
	out = append(out, 0xff, 0xe1, byte(segLen>>8), byte(segLen))
	out = append(out, payload...)
	out = append(out, jpg[2:]...)
	return out
}

type stubProcessor struct {
	calls  int
	result pipeline.Result
	err    error
}

func (p *stubProcessor) Process(context.Context, []byte) (pipeline.Result, error) {
	p.calls++
	return p.result, p.err
}

type stubLimiter struct {
	decision ratelimit.Decision
	err      error
	subject  string
}

func (l *stubLimiter) Allow(_ context.Context, subject string) (ratelimit.Decision, error) {
	l.subject = subject
	return l.decision, l.err
}
