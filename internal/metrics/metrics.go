package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_devicebridge_events_total",
			Help: "Total number of raw events received, by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	EventBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_devicebridge_event_bytes_total",
			Help: "Total bytes of raw event payloads received",
		},
		[]string{"source"},
	)

	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telhawk_devicebridge_inflight_events",
			Help: "Number of events currently being processed",
		},
	)

	// Normalization metrics
	NormalizationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telhawk_devicebridge_normalization_duration_seconds",
			Help:    "Duration of payload normalization in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	NormalizationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_devicebridge_normalization_errors_total",
			Help: "Total number of payloads rejected by the normalizer",
		},
		[]string{"source"},
	)

	RecordsNormalized = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telhawk_devicebridge_records_normalized_total",
			Help: "Total number of canonical records produced",
		},
	)

	// Dispatch metrics
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telhawk_devicebridge_dispatch_duration_seconds",
			Help:    "Duration of remote method invocations in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method"},
	)

	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_devicebridge_dispatch_total",
			Help: "Total number of dispatches, by status class (2xx, 4xx, 5xx, error)",
		},
		[]string{"method", "status"},
	)

	// Cleanup metrics
	CleanupTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_devicebridge_cleanup_total",
			Help: "Total number of artifact cleanups, by result",
		},
		[]string{"result"},
	)

	// Sink metrics
	SinkMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_devicebridge_sink_messages_total",
			Help: "Total number of inbound messages handled by the document sink, by terminal state",
		},
		[]string{"state"},
	)

	SinkProvisionedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_devicebridge_sink_provisioned_total",
			Help: "Total number of databases and collections created on demand",
		},
		[]string{"resource"},
	)

	SinkInsertDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telhawk_devicebridge_sink_insert_duration_seconds",
			Help:    "Duration of document inserts in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Secret metrics
	SecretLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_devicebridge_secret_lookups_total",
			Help: "Total number of secret lookups, by result",
		},
		[]string{"result"},
	)

	// Change feed metrics
	ChangeFeedBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_devicebridge_changefeed_batches_total",
			Help: "Total number of change feed batches, by result",
		},
		[]string{"result"},
	)

	ChangeFeedCheckpoint = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "telhawk_devicebridge_changefeed_checkpoint",
			Help: "Last committed change feed sequence number",
		},
		[]string{"feed"},
	)

	// DLQ metrics
	DLQWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_devicebridge_dlq_writes_total",
			Help: "Total number of events written to the dead letter queue",
		},
		[]string{"reason"},
	)
)

// StatusClass buckets a device status code for the dispatch counter.
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}
