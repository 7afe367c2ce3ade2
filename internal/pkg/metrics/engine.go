package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine metrics are recorded from the service ingest path and from the
// sweep loop. The collectors are package-level so every per-run engine
// reports into one set of series.

var (
	// stageEventsTotal tracks ingested stage events by record result
	stageEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagewatch_stage_events_total",
			Help: "Total number of stage events recorded, by record result",
		},
		[]string{"result"},
	)

	// tracesFinalizedTotal tracks finalized traces by terminal status
	tracesFinalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagewatch_traces_finalized_total",
			Help: "Total number of traces reaching a terminal status",
		},
		[]string{"status"},
	)

	// tracesInFlight tracks traces currently awaiting completion across all runs
	tracesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stagewatch_traces_in_flight",
			Help: "Number of traces currently in flight across all active runs",
		},
	)

	// anomaliesTotal tracks recovered anomalies by error code
	anomaliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagewatch_anomalies_total",
			Help: "Total number of recovered ingest anomalies, by error code",
		},
		[]string{"code"},
	)

	// sweepDuration tracks timeout sweep duration in seconds
	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stagewatch_sweep_duration_seconds",
			Help:    "Timeout sweep duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	// archiveFlushTotal tracks outcome archive flushes by result
	archiveFlushTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagewatch_archive_flush_total",
			Help: "Total number of outcome archive flushes",
		},
		[]string{"status"},
	)

	// archiveBufferSize tracks outcomes buffered for archival
	archiveBufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stagewatch_archive_buffer_size",
			Help: "Number of finalized traces buffered for archival",
		},
	)
)

// RecordStageEvent records the result of a stage event ingest
func RecordStageEvent(result string) {
	stageEventsTotal.WithLabelValues(result).Inc()
}

// RecordTraceFinalized records a trace reaching a terminal status
func RecordTraceFinalized(status string) {
	tracesFinalizedTotal.WithLabelValues(status).Inc()
}

// SetTracesInFlight sets the in-flight trace gauge
func SetTracesInFlight(n int64) {
	tracesInFlight.Set(float64(n))
}

// RecordAnomaly records a recovered ingest anomaly
func RecordAnomaly(code string) {
	anomaliesTotal.WithLabelValues(code).Inc()
}

// RecordSweepDuration records the duration of a timeout sweep
func RecordSweepDuration(d time.Duration) {
	sweepDuration.Observe(d.Seconds())
}

// RecordArchiveFlush records an outcome archive flush attempt
func RecordArchiveFlush(status string) {
	archiveFlushTotal.WithLabelValues(status).Inc()
}

// SetArchiveBufferSize sets the archive buffer gauge
func SetArchiveBufferSize(n int) {
	archiveBufferSize.Set(float64(n))
}
