package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hive-corporation/threatfeed/internal/core/domain"
)

var (
	// metricsOnce ensures metrics are registered only once
	metricsOnce sync.Once

	// ingestionsTotal tracks ingestion attempts by status, source and failure kind
	ingestionsTotal *prometheus.CounterVec

	// ingestionDuration tracks gateway fetch plus snapshot build latency
	ingestionDuration prometheus.Histogram

	// gatewayErrorsTotal tracks transport errors by type
	gatewayErrorsTotal *prometheus.CounterVec

	// snapshotRecords tracks records in the served snapshot by risk level and type
	snapshotRecords *prometheus.GaugeVec

	// feedCounters mirrors the feed's own summary block
	feedCounters *prometheus.GaugeVec

	// summaryDiscrepanciesTotal counts feed counters that disagree with the records
	summaryDiscrepanciesTotal prometheus.Counter

	// httpRequestsTotal and httpRequestDuration cover the REST API
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
)

// InitMetrics registers all Prometheus metrics for the service
// This should be called once at application startup
func InitMetrics() {
	metricsOnce.Do(func() {
		ingestionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatfeed_ingestions_total",
				Help: "Total number of feed ingestions by status, source and failure kind",
			},
			[]string{"status", "source", "kind"},
		)

		ingestionDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "threatfeed_ingestion_duration_seconds",
				Help:    "Duration of feed ingestions in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
			},
		)

		gatewayErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatfeed_gateway_errors_total",
				Help: "Total number of feed gateway errors by error type",
			},
			[]string{"error_type"},
		)

		snapshotRecords = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "threatfeed_snapshot_records",
				Help: "Records in the served snapshot by risk level and threat type",
			},
			[]string{"risk", "type"},
		)

		feedCounters = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "threatfeed_feed_counter",
				Help: "Summary counters of the served snapshot",
			},
			[]string{"counter"},
		)

		summaryDiscrepanciesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "threatfeed_summary_discrepancies_total",
				Help: "Feed summary counters that disagree with the record set",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threatfeed_http_requests_total",
				Help: "Total HTTP requests by method, route, and response status",
			},
			[]string{"method", "route", "status"},
		)

		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "threatfeed_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		)
	})
}

// RecordIngestion records an ingestion attempt
// status: "success", "error"
// source: the gateway name
// kind: "" on success, otherwise "transport", "malformed" or "timeout"
func RecordIngestion(status, source, kind string) {
	if ingestionsTotal != nil {
		ingestionsTotal.WithLabelValues(status, source, kind).Inc()
	}
}

// RecordIngestionDuration records the duration of an ingestion
func RecordIngestionDuration(duration time.Duration) {
	if ingestionDuration != nil {
		ingestionDuration.Observe(duration.Seconds())
	}
}

// RecordGatewayError records a gateway error by type
// errorType: "timeout", "rate_limit", "server_error", "http_error", "connection", "circuit_open"
func RecordGatewayError(errorType string) {
	if gatewayErrorsTotal != nil {
		gatewayErrorsTotal.WithLabelValues(errorType).Inc()
	}
}

// RecordSnapshot publishes the gauges describing a freshly served snapshot
func RecordSnapshot(snap *domain.Snapshot) {
	if snap == nil || snapshotRecords == nil {
		return
	}

	snapshotRecords.Reset()
	for _, level := range []domain.RiskLevel{domain.Critical, domain.High, domain.Medium, domain.Low} {
		for _, t := range domain.ThreatTypes {
			snapshotRecords.WithLabelValues(string(level), string(t)).Set(0)
		}
	}
	for _, r := range snap.Query(domain.FilterAll) {
		snapshotRecords.WithLabelValues(string(r.Risk), string(r.Type)).Inc()
	}

	feedCounters.WithLabelValues("emails_scanned").Set(float64(snap.Summary.EmailsScanned))
	feedCounters.WithLabelValues("threats_detected").Set(float64(snap.Summary.ThreatsDetected))
	feedCounters.WithLabelValues("quarantined_items").Set(float64(snap.Summary.QuarantinedItems))

	if n := len(snap.Summary.Discrepancies); n > 0 {
		summaryDiscrepanciesTotal.Add(float64(n))
	}
}

// RecordHTTPRequest records a served REST request
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if httpRequestsTotal != nil {
		httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	}
	if httpRequestDuration != nil {
		httpRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
	}
}

// IngestionTimer is a helper for timing ingestions
type IngestionTimer struct {
	start time.Time
}

// StartTimer creates a new timer for measuring ingestion duration
func StartTimer() *IngestionTimer {
	return &IngestionTimer{start: time.Now()}
}

// ObserveDuration records the elapsed time since the timer started
func (t *IngestionTimer) ObserveDuration() {
	if t != nil {
		RecordIngestionDuration(time.Since(t.start))
	}
}
