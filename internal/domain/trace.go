package domain

import (
	"time"

	"github.com/google/uuid"
)

// StageEvent represents one arrival of a trace id at a pipeline stage.
// TimestampMs is the producer-side arrival time in epoch milliseconds;
// the engine never substitutes its own clock for it. Events are not
// struct-validated: the engine classifies each one on ingest so a bad
// event never fails its batch.
type StageEvent struct {
	TraceID     string `json:"traceId"`
	Stage       string `json:"stage"`
	TimestampMs int64  `json:"timestampMs"`
}

// StageEventBatch represents a batch of stage events for ingestion
type StageEventBatch struct {
	Events []StageEvent `json:"events"`
}

// StageEventResult represents the per-item outcome of a batch ingest.
// Rejected items carry an error message; the batch itself never fails
// because of one bad event.
type StageEventResult struct {
	Index   int          `json:"index"`
	TraceID string       `json:"traceId,omitempty"`
	Stage   string       `json:"stage,omitempty"`
	Result  RecordResult `json:"result,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// BatchIngestResult summarizes a batch ingest request
type BatchIngestResult struct {
	Accepted int                `json:"accepted"`
	Rejected int                `json:"rejected"`
	Results  []StageEventResult `json:"results"`
}

// TraceOutcome is the terminal record of a correlated trace, produced
// exactly once per trace when it is finalized.
type TraceOutcome struct {
	RunID             uuid.UUID   `json:"runId" ch:"run_id"`
	TraceID           string      `json:"traceId" ch:"trace_id"`
	Status            TraceStatus `json:"status" ch:"status"`
	OutOfOrder        bool        `json:"outOfOrder" ch:"out_of_order"`
	DuplicateArrivals uint32      `json:"duplicateArrivals" ch:"duplicate_arrivals"`
	ArrivalCount      uint32      `json:"arrivalCount" ch:"arrival_count"`
	StageCount        uint32      `json:"stageCount" ch:"stage_count"`
	FirstArrivalMs    int64       `json:"firstArrivalMs" ch:"first_arrival_ms"`
	LastArrivalMs     int64       `json:"lastArrivalMs" ch:"last_arrival_ms"`
	EndToEndMs        *int64      `json:"endToEndMs,omitempty" ch:"end_to_end_ms"`
	FinalizedAt       time.Time   `json:"finalizedAt" ch:"finalized_at"`
}

// TraceOutcomeFilter represents filter options for querying outcomes
type TraceOutcomeFilter struct {
	RunID  uuid.UUID
	Status *TraceStatus
}
