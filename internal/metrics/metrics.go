// Package metrics provides the Prometheus metrics of the sync client and the
// local remote-store server.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks goboxsync Prometheus metrics.
//
// All metrics use the goboxsync_ prefix. A nil *Metrics is valid and records
// nothing, so components can take one unconditionally.
type Metrics struct {
	// ChunksTotal counts upload chunks by result ("ok", "recovered", "failed")
	ChunksTotal *prometheus.CounterVec

	// UploadedBytes counts bytes committed to upload sessions
	UploadedBytes prometheus.Counter

	// UploadsTotal counts finished uploads by result
	UploadsTotal *prometheus.CounterVec

	// UploadDuration tracks whole-file upload latency
	UploadDuration prometheus.Histogram

	// RetriesTotal counts retried calls by operation and error kind
	RetriesTotal *prometheus.CounterVec

	// PagesTotal counts delta pages by whether they carried a reset
	PagesTotal *prometheus.CounterVec

	// EntriesTotal counts delta entries applied
	EntriesTotal prometheus.Counter

	// LongPollsTotal counts long-poll results ("changes", "timeout", "error", "cancelled")
	LongPollsTotal *prometheus.CounterVec

	// ActiveTransfers tracks uploads currently in flight
	ActiveTransfers prometheus.Gauge

	// RequestsTotal counts server requests by endpoint and status code
	RequestsTotal *prometheus.CounterVec

	// RequestDuration tracks server request latency by endpoint
	RequestDuration *prometheus.HistogramVec
}

// New creates the metrics and registers them with reg.
// Panics if registration fails (expected during initialization only).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChunksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goboxsync_upload_chunks_total",
				Help: "Total upload chunks by result",
			},
			[]string{"result"},
		),
		UploadedBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "goboxsync_uploaded_bytes_total",
				Help: "Total bytes committed to upload sessions",
			},
		),
		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goboxsync_uploads_total",
				Help: "Total finished uploads by result",
			},
			[]string{"result"},
		),
		UploadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "goboxsync_upload_duration_seconds",
				Help:    "Whole-file upload duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goboxsync_retries_total",
				Help: "Total retried calls by operation and error kind",
			},
			[]string{"op", "kind"},
		),
		PagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goboxsync_delta_pages_total",
				Help: "Total delta pages fetched by reset flag",
			},
			[]string{"reset"},
		),
		EntriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "goboxsync_delta_entries_total",
				Help: "Total delta entries received",
			},
		),
		LongPollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goboxsync_longpolls_total",
				Help: "Total long-poll calls by result",
			},
			[]string{"result"},
		),
		ActiveTransfers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "goboxsync_active_transfers",
				Help: "Current number of uploads in flight",
			},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goboxsync_server_requests_total",
				Help: "Total server requests by endpoint and status code",
			},
			[]string{"endpoint", "code"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "goboxsync_server_request_duration_seconds",
				Help:    "Server request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
	}

	reg.MustRegister(
		m.ChunksTotal,
		m.UploadedBytes,
		m.UploadsTotal,
		m.UploadDuration,
		m.RetriesTotal,
		m.PagesTotal,
		m.EntriesTotal,
		m.LongPollsTotal,
		m.ActiveTransfers,
		m.RequestsTotal,
		m.RequestDuration,
	)

	return m
}

// RecordChunk records one upload chunk and the bytes it committed.
func (m *Metrics) RecordChunk(result string, bytes int) {
	if m == nil {
		return
	}
	m.ChunksTotal.WithLabelValues(result).Inc()
	if bytes > 0 {
		m.UploadedBytes.Add(float64(bytes))
	}
}

// RecordUpload records a whole upload.
func (m *Metrics) RecordUpload(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(result).Inc()
	m.UploadDuration.Observe(duration.Seconds())
}

// RecordRetry records a retried call.
func (m *Metrics) RecordRetry(op, kind string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(op, kind).Inc()
}

// RecordPage records a fetched delta page.
func (m *Metrics) RecordPage(entries int, reset bool) {
	if m == nil {
		return
	}
	m.PagesTotal.WithLabelValues(strconv.FormatBool(reset)).Inc()
	m.EntriesTotal.Add(float64(entries))
}

// RecordLongPoll records a long-poll outcome.
func (m *Metrics) RecordLongPoll(result string) {
	if m == nil {
		return
	}
	m.LongPollsTotal.WithLabelValues(result).Inc()
}

// TransferStarted increments the in-flight gauge.
func (m *Metrics) TransferStarted() {
	if m == nil {
		return
	}
	m.ActiveTransfers.Inc()
}

// TransferDone decrements the in-flight gauge.
func (m *Metrics) TransferDone() {
	if m == nil {
		return
	}
	m.ActiveTransfers.Dec()
}

// RecordRequest records a server request completion.
func (m *Metrics) RecordRequest(endpoint string, code int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}
