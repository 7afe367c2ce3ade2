package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/stagewatch/stagewatch/internal/domain"
	"github.com/stagewatch/stagewatch/internal/pkg/id"
)

// NewTestIngestKey creates a test ingest key bound to the given run.
// The secret hash is not valid for authentication.
func NewTestIngestKey(runID uuid.UUID) *domain.IngestKey {
	return &domain.IngestKey{
		ID:               uuid.New(),
		RunID:            runID,
		PublicKey:        id.NewIngestKeyPublic(),
		SecretKeyHash:    "not-a-real-hash",
		SecretKeyPreview: "0000",
		CreatedAt:        time.Now(),
	}
}

// NewTestReport creates a run report with plausible latency stats.
func NewTestReport(runID uuid.UUID) *domain.RunReport {
	stats := domain.StageStats{
		Count: 100,
		MinMs: 5,
		MaxMs: 480,
		P50Ms: 40,
		P95Ms: 210,
		P99Ms: 420,
	}
	return &domain.RunReport{
		RunID:    runID,
		RunName:  "test-run",
		Status:   domain.RunStatusActive,
		InFlight: 7,
		Report: domain.ReportView{
			PerTransition: map[string]domain.StageStats{
				domain.TransitionKey("ingest", "transform"): stats,
				domain.TransitionKey("transform", "sink"):   stats,
			},
			EndToEnd: stats,
			Outcomes: domain.Outcomes{Completed: 93},
		},
		GeneratedAt: time.Now(),
	}
}
