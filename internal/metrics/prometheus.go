package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/scribblesense/scribblesense/internal/capture"
	"github.com/scribblesense/scribblesense/internal/remote"
)

// Metrics contains all Prometheus metrics for the ScribbleSense service
type Metrics struct {
	factory promauto.Factory

	// Capture session metrics
	SessionsStarted    *prometheus.CounterVec
	SessionTransitions *prometheus.CounterVec
	SessionResults     *prometheus.CounterVec
	RecordingDuration  prometheus.Histogram
	BlobSize           *prometheus.HistogramVec

	// Upload metrics
	UploadRequests *prometheus.CounterVec
	UploadFailures *prometheus.CounterVec
	UploadDuration *prometheus.HistogramVec

	// WebSocket metrics
	WSConnections prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		factory: factory,

		// Capture session metrics
		SessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribblesense_sessions_started_total",
			Help: "Total number of capture sessions started",
		}, []string{"kind", "language"}),
		SessionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribblesense_session_transitions_total",
			Help: "Total number of capture session status transitions",
		}, []string{"from", "to"}),
		SessionResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribblesense_session_results_total",
			Help: "Total number of finished submits by outcome",
		}, []string{"kind", "status"}),
		RecordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribblesense_recording_duration_seconds",
			Help:    "Elapsed seconds of stopped recordings",
			Buckets: prometheus.LinearBuckets(0, 5, 7), // 0s to 30s
		}),
		BlobSize: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribblesense_blob_size_bytes",
			Help:    "Size of captured blobs",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 14), // 1KB to ~8MB
		}, []string{"kind"}),

		// Upload metrics
		UploadRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribblesense_upload_requests_total",
			Help: "Total number of requests sent to remote services",
		}, []string{"service"}),
		UploadFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribblesense_upload_failures_total",
			Help: "Total number of failed remote requests by failure kind",
		}, []string{"service", "kind"}),
		UploadDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribblesense_upload_duration_seconds",
			Help:    "Duration of remote requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}, []string{"service"}),

		// WebSocket metrics
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "scribblesense_websocket_connections",
			Help: "Current number of session event streams",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribblesense_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribblesense_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribblesense_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// ObserveActiveRecordings exports count as the number of recording sessions.
func (m *Metrics) ObserveActiveRecordings(count func() int) {
	m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "scribblesense_active_recordings",
		Help: "Current number of sessions in the recording status",
	}, func() float64 { return float64(count()) })
}

// SessionChanged records capture session transitions.
func (m *Metrics) SessionChanged(prev capture.Status, info capture.SessionInfo) {
	if prev == info.Status {
		return
	}

	if prev == "" {
		m.SessionsStarted.WithLabelValues(string(info.Kind), info.Language.String()).Inc()
		return
	}

	m.SessionTransitions.WithLabelValues(string(prev), string(info.Status)).Inc()

	switch {
	case prev == capture.StatusRecording && info.Status == capture.StatusStopped:
		m.RecordingDuration.Observe(float64(info.ElapsedSeconds))
		if info.HasBlob {
			m.BlobSize.WithLabelValues(string(info.Kind)).Observe(float64(info.BlobBytes))
		}
	case prev == capture.StatusProcessing:
		m.SessionResults.WithLabelValues(string(info.Kind), string(info.Status)).Inc()
	}
}

// ObserveRequest records one remote request.
func (m *Metrics) ObserveRequest(service string, elapsed time.Duration, err error) {
	m.UploadRequests.WithLabelValues(service).Inc()
	m.UploadDuration.WithLabelValues(service).Observe(elapsed.Seconds())
	if err != nil {
		m.UploadFailures.WithLabelValues(service, failureKind(err)).Inc()
	}
}

func failureKind(err error) string {
	var re *remote.Error
	if errors.As(err, &re) {
		return string(re.Kind)
	}
	return "other"
}

// ConnectionOpened increments the WebSocket connection gauge
func (m *Metrics) ConnectionOpened() {
	m.WSConnections.Inc()
}

// ConnectionClosed decrements the WebSocket connection gauge
func (m *Metrics) ConnectionClosed() {
	m.WSConnections.Dec()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
