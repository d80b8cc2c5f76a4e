package service

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsService encapsulates Prometheus instrumentation for statement retrieval.
type MetricsService struct {
	registry     *prometheus.Registry
	callDuration *prometheus.HistogramVec
	callTotal    *prometheus.CounterVec
	runsTotal    *prometheus.CounterVec
	payloadBytes prometheus.Gauge
	lastSuccess  prometheus.Gauge
}

// NewMetricsService registers the flex collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	callDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flex_http_request_duration_seconds",
		Help:    "Duration of flex web service calls in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	callTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flex_http_requests_total",
		Help: "Total number of flex web service calls",
	}, []string{"operation", "status"})

	runsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flex_statement_runs_total",
		Help: "Statement retrievals by outcome code",
	}, []string{"result"})

	payloadBytes := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flex_statement_payload_bytes",
		Help: "Size of the last downloaded statement",
	})

	lastSuccess := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flex_statement_last_success_timestamp_seconds",
		Help: "Unix time of the last successful retrieval",
	})

	registry.MustRegister(callDuration, callTotal, runsTotal, payloadBytes, lastSuccess)

	return &MetricsService{
		registry:     registry,
		callDuration: callDuration,
		callTotal:    callTotal,
		runsTotal:    runsTotal,
		payloadBytes: payloadBytes,
		lastSuccess:  lastSuccess,
	}
}

// ObserveFlexCall records one HTTP round trip. A zero status means the call
// failed before a response arrived.
func (m *MetricsService) ObserveFlexCall(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if status > 0 {
		label = fmt.Sprintf("%d", status)
	}
	m.callDuration.WithLabelValues(operation, label).Observe(duration.Seconds())
	m.callTotal.WithLabelValues(operation, label).Inc()
}

// RecordRun counts a finished retrieval under result ("ok" or an error code).
func (m *MetricsService) RecordRun(result string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(result).Inc()
}

// RecordPayload stores the size of a downloaded statement and marks success.
func (m *MetricsService) RecordPayload(size int, at time.Time) {
	if m == nil {
		return
	}
	m.payloadBytes.Set(float64(size))
	m.lastSuccess.Set(float64(at.Unix()))
}

// WriteTextfile writes the registry in text exposition format for the
// node_exporter textfile collector.
func (m *MetricsService) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
