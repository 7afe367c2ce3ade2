// Package metrics centralizes the Prometheus series recorded by the
// storage and service layers. HTTP series live with the fiber
// middleware; keeping these here spares the database and service
// packages a middleware import.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// slowQueryCutoff matches the threshold the postgres tracer logs at.
const slowQueryCutoff = 100 * time.Millisecond

var (
	// dbQueryDuration tracks query latency; its _count series doubles
	// as the query counter.
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stagewatch_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"database", "operation"},
	)

	// dbQueryErrors tracks database query errors
	dbQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagewatch_db_query_errors_total",
			Help: "Total number of database query errors",
		},
		[]string{"database", "operation"},
	)

	// dbSlowQueries tracks queries slower than the cutoff
	dbSlowQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagewatch_db_slow_queries_total",
			Help: "Total number of slow database queries (>100ms)",
		},
		[]string{"database", "operation"},
	)
)

// RecordDBQuery records one query's latency
func RecordDBQuery(database, operation string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
	if duration > slowQueryCutoff {
		dbSlowQueries.WithLabelValues(database, operation).Inc()
	}
}

// RecordDBError records a database query error
func RecordDBError(database, operation string) {
	dbQueryErrors.WithLabelValues(database, operation).Inc()
}
