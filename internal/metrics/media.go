// Package metrics exposes Prometheus instruments for the media cache. All
// recorders are nil-safe so components can run without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "zonemedia"

// Download results.
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
	ResultPaused    = "paused"
	ResultCanceled  = "canceled"
)

// Reconciliation outcomes.
const (
	OutcomeSynced   = "synced"
	OutcomeLocal    = "local_only"
	OutcomeDenied   = "permission_denied"
	OutcomeFailed   = "failed"
	OutcomeEvicted  = "evicted"
	OutcomeDegraded = "degraded"
	OutcomeCanceled = "canceled"
)

// MediaMetrics records download and reconciliation activity.
type MediaMetrics struct {
	downloads        *prometheus.CounterVec
	downloadBytes    prometheus.Counter
	downloadDuration *prometheus.HistogramVec
	reconciles       *prometheus.CounterVec
	reconcileLatency prometheus.Histogram
	manifestFailures prometheus.Counter
}

// NewMediaMetrics registers the media metrics on the provided registerer.
// A nil registerer yields a recorder that drops everything.
func NewMediaMetrics(reg prometheus.Registerer) *MediaMetrics {
	if reg == nil {
		return &MediaMetrics{}
	}
	m := &MediaMetrics{
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Download attempts by result.",
		}, []string{"result"}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Bytes written by the download manager.",
		}),
		downloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Duration of download sessions in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"result"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "Zone reconciliation passes by outcome.",
		}, []string{"outcome"}),
		reconcileLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconciliation_duration_seconds",
			Help:      "Duration of zone reconciliation passes in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		manifestFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manifest_fetch_failures_total",
			Help:      "Remote manifest fetches that failed.",
		}),
	}
	reg.MustRegister(m.downloads, m.downloadBytes, m.downloadDuration,
		m.reconciles, m.reconcileLatency, m.manifestFailures)
	return m
}

func (m *MediaMetrics) ObserveDownload(result string, d time.Duration) {
	if m == nil || m.downloads == nil {
		return
	}
	result = normalizeLabel(result)
	m.downloads.WithLabelValues(result).Inc()
	m.downloadDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *MediaMetrics) AddBytes(n int) {
	if m == nil || m.downloadBytes == nil || n <= 0 {
		return
	}
	m.downloadBytes.Add(float64(n))
}

func (m *MediaMetrics) ObserveReconcile(outcome string, d time.Duration) {
	if m == nil || m.reconciles == nil {
		return
	}
	m.reconciles.WithLabelValues(normalizeLabel(outcome)).Inc()
	if d > 0 {
		m.reconcileLatency.Observe(d.Seconds())
	}
}

func (m *MediaMetrics) IncManifestFailure() {
	if m == nil || m.manifestFailures == nil {
		return
	}
	m.manifestFailures.Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
