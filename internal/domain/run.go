package domain

import (
	"time"

	"github.com/google/uuid"
)

// Run represents a measurement session over a configured pipeline.
// Stage events are correlated against the run's stage list until the
// run is stopped.
type Run struct {
	ID                 uuid.UUID  `json:"id"`
	Name               string     `json:"name"`
	Stages             []string   `json:"stages"`
	StageDeadlineMs    int64      `json:"stageDeadlineMs"`
	SweepIntervalMs    int64      `json:"sweepIntervalMs"`
	HistogramBucketsMs []int64    `json:"histogramBucketsMs,omitempty"`
	Status             RunStatus  `json:"status"`
	CreatedAt          time.Time  `json:"createdAt"`
	StoppedAt          *time.Time `json:"stoppedAt,omitempty"`

	// Outcome totals denormalized onto the run when it is stopped.
	CompletedTotal int64 `json:"completedTotal"`
	TimedOutTotal  int64 `json:"timedOutTotal"`
}

// Pipeline builds the run's pipeline value
func (r *Run) Pipeline() (*Pipeline, error) {
	return NewPipeline(r.Stages)
}

// IsActive reports whether the run still accepts stage events
func (r *Run) IsActive() bool {
	return r.Status == RunStatusActive
}

// RunInput represents input for creating a run
type RunInput struct {
	Name               string  `json:"name" validate:"required,min=1,max=100"`
	Stages             []string `json:"stages" validate:"required,min=1,max=32,dive,stagename"`
	StageDeadlineMs    int64   `json:"stageDeadlineMs" validate:"required,gt=0"`
	SweepIntervalMs    int64   `json:"sweepIntervalMs,omitempty" validate:"omitempty,gt=0"`
	HistogramBucketsMs []int64 `json:"histogramBucketsMs,omitempty" validate:"omitempty,min=1,max=64"`
}

// IngestKey authenticates stage event producers for one run. The
// secret is stored hashed; only a preview survives creation.
type IngestKey struct {
	ID               uuid.UUID  `json:"id"`
	RunID            uuid.UUID  `json:"runId"`
	PublicKey        string     `json:"publicKey"`
	SecretKeyHash    string     `json:"-"`
	SecretKeyPreview string     `json:"secretKeyPreview"`
	LastUsedAt       *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// RunCreateResult represents the result of creating a run. SecretKey is
// returned exactly once and never persisted in clear.
type RunCreateResult struct {
	Run       *Run       `json:"run"`
	IngestKey *IngestKey `json:"ingestKey"`
	SecretKey string     `json:"secretKey"`
}

// IngestKeyCreateResult represents the result of issuing an additional
// ingest key for an existing run.
type IngestKeyCreateResult struct {
	IngestKey *IngestKey `json:"ingestKey"`
	SecretKey string     `json:"secretKey"`
}

// RunFilter represents filter options for querying runs
type RunFilter struct {
	Status *RunStatus
}
