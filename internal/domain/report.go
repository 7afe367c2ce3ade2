package domain

import (
	"time"

	"github.com/google/uuid"
)

// StageStats holds latency statistics for one stage transition or for
// the end-to-end pipeline. All fields are zero-valued when Count is 0.
// Min and Max are exact; percentiles are estimated from histogram
// buckets.
type StageStats struct {
	Count int64   `json:"count"`
	MinMs int64   `json:"min"`
	MaxMs int64   `json:"max"`
	P50Ms float64 `json:"p50"`
	P95Ms float64 `json:"p95"`
	P99Ms float64 `json:"p99"`
}

// Outcomes counts traces by terminal disposition. Completed includes
// out-of-order traces that still assembled a full arrival set, so
// Completed+TimedOut equals the number of finalized traces.
type Outcomes struct {
	Completed         int64 `json:"completed"`
	TimedOut          int64 `json:"timedOut"`
	OutOfOrder        int64 `json:"outOfOrder"`
	DuplicateArrivals int64 `json:"duplicateArrivals"`
}

// Anomalies counts recovered ingest anomalies. These never fail a
// request; they are surfaced here and in logs.
type Anomalies struct {
	ClockSkew          int64 `json:"clockSkew"`
	FinalizedReentries int64 `json:"finalizedReentries"`
	UnknownStages      int64 `json:"unknownStages"`
}

// ReportView is a consistent point-in-time view of a run's aggregated
// statistics. PerTransition is keyed by TransitionKey(from, to).
type ReportView struct {
	PerTransition map[string]StageStats `json:"perTransition"`
	EndToEnd      StageStats            `json:"endToEnd"`
	Outcomes      Outcomes              `json:"outcomes"`
	Anomalies     Anomalies             `json:"anomalies"`
}

// RunReport wraps a ReportView with run context for API responses and
// persisted snapshots.
type RunReport struct {
	RunID       uuid.UUID  `json:"runId"`
	RunName     string     `json:"runName,omitempty"`
	Status      RunStatus  `json:"status"`
	InFlight    int64      `json:"inFlight"`
	Report      ReportView `json:"report"`
	GeneratedAt time.Time  `json:"generatedAt"`
}

// ReportSnapshot is a persisted point-in-time report for a run,
// written by the snapshot worker into the warehouse.
type ReportSnapshot struct {
	RunID      uuid.UUID `json:"runId" ch:"run_id"`
	InFlight   int64     `json:"inFlight" ch:"in_flight"`
	ReportJSON string    `json:"reportJson" ch:"report_json"`
	TakenAt    time.Time `json:"takenAt" ch:"taken_at"`
}
