package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelstamp/internal/domain"
	"github.com/dunamismax/pixelstamp/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	uploadField          = "file"
	genericErrorMessage  = "internal server error"
	tooLargeErrorMessage = "file too large"
)

type Server struct {
	logger                zerolog.Logger
	processor             uploadProcessor
	maxUploadBytes        int64
	exposeErrors          bool
	metrics               *metrics
	tracer                trace.Tracer
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	router                chi.Router
}

type uploadProcessor interface {
	Process(ctx context.Context, input []byte) (pipeline.Result, error)
}

type Options struct {
	MaxUploadBytes int64
	// ExposeErrors writes the processing error's message into 500 bodies.
	ExposeErrors          bool
	RateLimiter           RateLimiter
	RateLimitUserIDHeader string
}

func NewServer(logger zerolog.Logger, processor uploadProcessor, opts Options) *Server {
	if opts.RateLimitUserIDHeader == "" {
		opts.RateLimitUserIDHeader = "X-User-ID"
	}

	s := &Server{
		logger:                logger,
		processor:             processor,
		maxUploadBytes:        opts.MaxUploadBytes,
		exposeErrors:          opts.ExposeErrors,
		metrics:               newMetrics(),
		tracer:                otel.Tracer("pixelstamp/api"),
		rateLimiter:           opts.RateLimiter,
		rateLimitUserIDHeader: opts.RateLimitUserIDHeader,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		hlog.NewHandler(s.logger),
		withRequestIDLogger,
		hlog.AccessHandler(logAccess),
		middleware.Recoverer,
		s.withTracing,
		s.metrics.withHTTPMetrics,
	)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", s.metrics.metricsHandler())
	r.With(s.withRateLimit).Post("/upload", s.handleUpload)

	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}

	filename, data, err := readUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			s.metrics.uploadsTotal.WithLabelValues("rejected", "size").Inc()
			writeError(w, http.StatusRequestEntityTooLarge, tooLargeErrorMessage)
		case errors.Is(err, domain.ErrNoFile):
			s.metrics.uploadsTotal.WithLabelValues("rejected", "presence").Inc()
			writeError(w, http.StatusBadRequest, domain.ErrNoFile.Error())
		default:
			s.fail(w, r, domain.NewProcessingError(domain.StageDecode, err))
		}
		return
	}

	if !pipeline.AllowedFile(filename) {
		s.metrics.uploadsTotal.WithLabelValues("rejected", "extension").Inc()
		writeError(w, http.StatusBadRequest, domain.ErrInvalidFormat.Error())
		return
	}

	result, err := s.processor.Process(r.Context(), data)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.metrics.observeUpload(len(data), result)
	hlog.FromRequest(r).Info().
		Str("filename", filename).
		Str("key", result.Key).
		Int("width", result.Width).
		Int("height", result.Height).
		Int("bytes", result.Bytes).
		Bool("cropped", result.Cropped).
		Msg("upload stored")

	writeJSON(w, http.StatusOK, domain.UploadResponse{
		Message: domain.MessageUploaded,
		URL:     result.URL,
	})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	stage := domain.StageTransform
	var perr *domain.ProcessingError
	if errors.As(err, &perr) {
		stage = perr.Stage
	}

	hlog.FromRequest(r).Error().Err(err).Str("stage", stage).Msg("upload processing failed")
	s.metrics.uploadsTotal.WithLabelValues("failed", stage).Inc()

	msg := genericErrorMessage
	if s.exposeErrors {
		msg = err.Error()
	}
	writeError(w, http.StatusInternalServerError, msg)
}

// readUpload streams the multipart body to the first part named "file" that
// carries a filename parameter. An empty filename is returned as is so the
// extension check rejects it; a part without the parameter is a plain form
// value and does not count as a file.
func readUpload(r *http.Request) (string, []byte, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return "", nil, domain.ErrNoFile
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return "", nil, domain.ErrNoFile
		}
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return "", nil, err
			}
			return "", nil, domain.ErrNoFile
		}

		if part.FormName() != uploadField || !hasFilenameParam(part) {
			_ = part.Close()
			continue
		}

		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return "", nil, err
		}
		return part.FileName(), data, nil
	}
}

func hasFilenameParam(part *multipart.Part) bool {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return false
	}
	_, ok := params["filename"]
	return ok
}

func withRequestIDLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("request_id", reqID)
			})
		}
		next.ServeHTTP(w, r)
	})
}

func logAccess(r *http.Request, status, size int, duration time.Duration) {
	event := hlog.FromRequest(r).Info()
	if status >= http.StatusInternalServerError {
		event = hlog.FromRequest(r).Warn()
	}
	event.
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("remote_addr", strings.TrimSpace(r.RemoteAddr)).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request")
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, domain.ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
