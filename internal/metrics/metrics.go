// Package metrics holds the Prometheus collectors for addon acquisition.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Registry *prometheus.Registry

	Acquisitions        *prometheus.CounterVec
	AcquisitionDuration *prometheus.HistogramVec
	DownloadedBytes     prometheus.Counter
	ExtractionRejected  *prometheus.CounterVec
	Verifications       *prometheus.CounterVec
}

// New creates collectors registered on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		Acquisitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "addonctl_acquisitions_total",
				Help: "Addon acquisitions by outcome",
			},
			[]string{"outcome"},
		),
		AcquisitionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "addonctl_acquisition_duration_seconds",
				Help:    "Time from request to outcome",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),
		DownloadedBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "addonctl_downloaded_bytes_total",
				Help: "Archive bytes downloaded by successful downloads",
			},
		),
		ExtractionRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "addonctl_extraction_failures_total",
				Help: "Aborted extractions by failure kind",
			},
			[]string{"kind"},
		),
		Verifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "addonctl_verifications_total",
				Help: "Archive verifications by method and result",
			},
			[]string{"method", "result"},
		),
	}
}

// ObserveAcquisition records one finished acquisition. Safe on a nil receiver.
func (m *Metrics) ObserveAcquisition(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Acquisitions.WithLabelValues(outcome).Inc()
	m.AcquisitionDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// AddDownloaded records archive bytes. Safe on a nil receiver.
func (m *Metrics) AddDownloaded(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.DownloadedBytes.Add(float64(n))
}

// ExtractionFailed records an aborted extraction. Safe on a nil receiver.
func (m *Metrics) ExtractionFailed(kind string) {
	if m == nil {
		return
	}
	m.ExtractionRejected.WithLabelValues(kind).Inc()
}

// Verified records a verification result. Safe on a nil receiver.
func (m *Metrics) Verified(method string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.Verifications.WithLabelValues(method, result).Inc()
}

// WriteTextfile writes the current values in the text exposition format, for
// pickup by a node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
