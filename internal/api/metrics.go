package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/dunamismax/pixelstamp/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	requestTotal         *prometheus.CounterVec
	requestDuration      *prometheus.HistogramVec
	rateLimitRejected    *prometheus.CounterVec
	uploadsTotal         *prometheus.CounterVec
	outputBytes          prometheus.Histogram
	pixelsProcessedTotal prometheus.Counter
	bytesSavedTotal      prometheus.Counter
	croppedTotal         prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelstamp_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelstamp_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelstamp_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		uploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelstamp_uploads_total",
			Help: "Uploads by outcome and, for failures, the stage that failed.",
		}, []string{"outcome", "stage"}),
		outputBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pixelstamp_upload_output_bytes",
			Help:    "Size of stored objects in bytes.",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 10),
		}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelstamp_pixels_processed_total",
			Help: "Total output pixels across successful uploads.",
		}),
		bytesSavedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelstamp_bytes_saved_total",
			Help: "Total bytes saved relative to the uploaded originals.",
		}),
		croppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pixelstamp_uploads_cropped_total",
			Help: "Successful uploads that needed an aspect-ratio crop.",
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.uploadsTotal,
		m.outputBytes,
		m.pixelsProcessedTotal,
		m.bytesSavedTotal,
		m.croppedTotal,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) observeUpload(inputBytes int, result pipeline.Result) {
	m.uploadsTotal.WithLabelValues("stored", "").Inc()
	m.outputBytes.Observe(float64(result.Bytes))
	m.pixelsProcessedTotal.Add(float64(result.Width * result.Height))
	if saved := inputBytes - result.Bytes; saved > 0 {
		m.bytesSavedTotal.Add(float64(saved))
	}
	if result.Cropped {
		m.croppedTotal.Inc()
	}
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r)
		status := strconv.Itoa(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

// routeLabel is the matched chi pattern. It is only complete once routing
// has run.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
