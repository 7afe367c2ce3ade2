package engine

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/domain"
	"github.com/stagewatch/stagewatch/internal/pkg/id"
)

// Validation errors returned by the recorder. Callers treat all of
// them as per-event rejections; none is fatal to the engine.
var (
	ErrUnknownStage     = errors.New("unknown stage")
	ErrInvalidTraceID   = errors.New("invalid trace id")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// Recorder is the validation and translation layer between external
// stage-event sources and the registry. It resolves stage names to
// pipeline positions, drops events it cannot attribute, and feeds
// finalized traces to the aggregator.
type Recorder struct {
	pipeline *domain.Pipeline
	registry *Registry
	stats    *Aggregator
	log      *zap.Logger
}

// NewRecorder creates a recorder over the given registry and aggregator
func NewRecorder(pipeline *domain.Pipeline, registry *Registry, stats *Aggregator, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{
		pipeline: pipeline,
		registry: registry,
		stats:    stats,
		log:      log,
	}
}

// OnStageArrival records one stage arrival for a trace. A stage name
// outside the pipeline is a collaborator bug: the event is dropped,
// counted, and reported as an error without mutating any trace.
// Finalized traces are handed to the aggregator here, on the goroutine
// that triggered finalization, after the registry released its lock.
func (rec *Recorder) OnStageArrival(traceID, stage string, tsMs, nowMs int64) (ArrivalOutcome, error) {
	if !id.ValidTraceID(traceID) {
		return ArrivalOutcome{}, fmt.Errorf("%w: length %d", ErrInvalidTraceID, len(traceID))
	}
	if tsMs < 0 {
		return ArrivalOutcome{}, fmt.Errorf("%w: %d", ErrInvalidTimestamp, tsMs)
	}

	idx, ok := rec.pipeline.IndexOf(stage)
	if !ok {
		rec.stats.RecordUnknownStage()
		rec.log.Warn("dropping event for unknown stage",
			zap.String("stage", stage),
			zap.String("traceId", traceID),
		)
		return ArrivalOutcome{}, fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}

	out := rec.registry.RecordArrival(traceID, idx, tsMs, nowMs)

	switch {
	case out.Reentry:
		rec.stats.RecordReentry()
		rec.log.Warn("arrival for finalized trace ignored",
			zap.String("traceId", traceID),
			zap.String("stage", stage),
		)
	case out.Result == domain.RecordResultDuplicateArrival:
		rec.stats.RecordDuplicate()
	case out.Result == domain.RecordResultOutOfOrderRecorded:
		rec.log.Debug("out-of-order arrival recorded",
			zap.String("traceId", traceID),
			zap.String("stage", stage),
		)
	case out.Result == domain.RecordResultFinalized:
		rec.stats.Ingest(out.Finalized)
	}

	return out, nil
}
