package domain

import (
	"time"

	"github.com/google/uuid"
)

// ExportRequest represents input for requesting a report export
type ExportRequest struct {
	Format ExportFormat `json:"format" validate:"required,oneof=json csv"`
}

// ExportArtifact describes an exported report object in storage
type ExportArtifact struct {
	RunID     uuid.UUID    `json:"runId"`
	Format    ExportFormat `json:"format"`
	Bucket    string       `json:"bucket"`
	ObjectKey string       `json:"objectKey"`
	SizeBytes int64        `json:"sizeBytes"`
	CreatedAt time.Time    `json:"createdAt"`
}
