package worker

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"

	"github.com/stagewatch/stagewatch/internal/domain"
	"github.com/stagewatch/stagewatch/internal/pkg/pagination"
	chrepo "github.com/stagewatch/stagewatch/internal/repository/clickhouse"
	pgrepo "github.com/stagewatch/stagewatch/internal/repository/postgres"
)

// TypeReportExport is the task type for run report exports
const TypeReportExport = "export:report"

// Outcome exports page through the warehouse; runs beyond this many
// finalized traces are truncated and the artifact says so in the log.
const maxExportOutcomes = 100000

// ReportExportPayload is the payload for report export tasks
type ReportExportPayload struct {
	RunID       uuid.UUID           `json:"run_id"`
	Format      domain.ExportFormat `json:"format"`
	RequestedBy string              `json:"requested_by"`
}

// NewReportExportTask creates a report export task
func NewReportExportTask(payload *ReportExportPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report export payload: %w", err)
	}
	return asynq.NewTask(TypeReportExport, data, asynq.MaxRetry(3), asynq.Timeout(10*time.Minute)), nil
}

// ExportWorker builds report artifacts from the control plane and the
// warehouse and uploads them to object storage. It never touches live
// engine state: the report section comes from the latest persisted
// snapshot, so exports work identically for live and stopped runs.
type ExportWorker struct {
	logger       *zap.Logger
	runRepo      *pgrepo.RunRepository
	outcomeRepo  *chrepo.OutcomeRepository
	snapshotRepo *chrepo.SnapshotRepository
	minioClient  *minio.Client
	bucket       string
}

// NewExportWorker creates a new export worker
func NewExportWorker(
	logger *zap.Logger,
	runRepo *pgrepo.RunRepository,
	outcomeRepo *chrepo.OutcomeRepository,
	snapshotRepo *chrepo.SnapshotRepository,
	minioClient *minio.Client,
	bucket string,
) *ExportWorker {
	return &ExportWorker{
		logger:       logger,
		runRepo:      runRepo,
		outcomeRepo:  outcomeRepo,
		snapshotRepo: snapshotRepo,
		minioClient:  minioClient,
		bucket:       bucket,
	}
}

// reportExportDocument is the JSON artifact layout
type reportExportDocument struct {
	Run        *domain.Run           `json:"run"`
	Report     *domain.ReportView    `json:"report,omitempty"`
	ReportAt   *time.Time            `json:"reportAt,omitempty"`
	Outcomes   []domain.TraceOutcome `json:"outcomes"`
	Truncated  bool                  `json:"truncated"`
	ExportedAt time.Time             `json:"exportedAt"`
}

// ProcessTask processes a report export task
func (w *ExportWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ReportExportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal report export payload: %w", err)
	}

	w.logger.Info("processing report export",
		zap.String("run_id", payload.RunID.String()),
		zap.String("format", string(payload.Format)),
	)

	run, err := w.runRepo.GetByID(ctx, payload.RunID)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}

	outcomes, truncated, err := w.collectOutcomes(ctx, payload.RunID)
	if err != nil {
		return fmt.Errorf("failed to collect outcomes: %w", err)
	}

	var data []byte
	var filename string
	var contentType string

	switch payload.Format {
	case domain.ExportFormatJSON:
		data, err = w.buildJSON(ctx, run, outcomes, truncated)
		filename = fmt.Sprintf("report_%s.json", time.Now().UTC().Format("20060102_150405"))
		contentType = "application/json"
	case domain.ExportFormatCSV:
		data, err = w.outcomesToCSV(outcomes)
		filename = fmt.Sprintf("outcomes_%s.csv", time.Now().UTC().Format("20060102_150405"))
		contentType = "text/csv"
	default:
		return fmt.Errorf("unsupported export format: %s", payload.Format)
	}
	if err != nil {
		return fmt.Errorf("failed to build export: %w", err)
	}

	path := fmt.Sprintf("exports/%s/%s", payload.RunID.String(), filename)
	if err := w.upload(ctx, path, data, contentType); err != nil {
		return fmt.Errorf("failed to upload export: %w", err)
	}

	w.logger.Info("report export completed",
		zap.String("run_id", payload.RunID.String()),
		zap.String("path", path),
		zap.Int("outcomes", len(outcomes)),
		zap.Int("size", len(data)),
		zap.Bool("truncated", truncated),
	)

	return nil
}

// collectOutcomes pages through the warehouse newest first
func (w *ExportWorker) collectOutcomes(ctx context.Context, runID uuid.UUID) ([]domain.TraceOutcome, bool, error) {
	filter := &domain.TraceOutcomeFilter{RunID: runID}
	outcomes := make([]domain.TraceOutcome, 0, 1024)

	cursor := ""
	for {
		params, err := pagination.NewParams(1000, cursor)
		if err != nil {
			return nil, false, err
		}

		page, err := w.outcomeRepo.List(ctx, filter, params)
		if err != nil {
			return nil, false, err
		}

		outcomes = append(outcomes, page.Items...)
		if len(outcomes) >= maxExportOutcomes {
			return outcomes[:maxExportOutcomes], true, nil
		}
		if page.NextCursor == "" {
			return outcomes, false, nil
		}
		cursor = page.NextCursor
	}
}

func (w *ExportWorker) buildJSON(ctx context.Context, run *domain.Run, outcomes []domain.TraceOutcome, truncated bool) ([]byte, error) {
	doc := &reportExportDocument{
		Run:        run,
		Outcomes:   outcomes,
		Truncated:  truncated,
		ExportedAt: time.Now().UTC(),
	}

	snap, err := w.snapshotRepo.LatestByRun(ctx, run.ID)
	if err == nil && snap != nil {
		var view domain.ReportView
		if uerr := json.Unmarshal([]byte(snap.ReportJSON), &view); uerr == nil {
			doc.Report = &view
			doc.ReportAt = &snap.TakenAt
		} else {
			w.logger.Warn("skipping unreadable report snapshot",
				zap.String("run_id", run.ID.String()),
				zap.Error(uerr),
			)
		}
	}

	return json.MarshalIndent(doc, "", "  ")
}

func (w *ExportWorker) outcomesToCSV(outcomes []domain.TraceOutcome) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	header := []string{"trace_id", "status", "out_of_order", "duplicate_arrivals", "arrival_count", "stage_count", "first_arrival_ms", "last_arrival_ms", "end_to_end_ms", "finalized_at"}
	if err := writer.Write(header); err != nil {
		return nil, err
	}

	for _, oc := range outcomes {
		endToEnd := ""
		if oc.EndToEndMs != nil {
			endToEnd = strconv.FormatInt(*oc.EndToEndMs, 10)
		}
		row := []string{
			oc.TraceID,
			string(oc.Status),
			strconv.FormatBool(oc.OutOfOrder),
			strconv.FormatUint(uint64(oc.DuplicateArrivals), 10),
			strconv.FormatUint(uint64(oc.ArrivalCount), 10),
			strconv.FormatUint(uint64(oc.StageCount), 10),
			strconv.FormatInt(oc.FirstArrivalMs, 10),
			strconv.FormatInt(oc.LastArrivalMs, 10),
			endToEnd,
			oc.FinalizedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := writer.Write(row); err != nil {
			return nil, err
		}
	}

	writer.Flush()
	return buf.Bytes(), writer.Error()
}

func (w *ExportWorker) upload(ctx context.Context, path string, data []byte, contentType string) error {
	if w.minioClient == nil {
		return fmt.Errorf("object storage is not configured")
	}

	reader := bytes.NewReader(data)
	_, err := w.minioClient.PutObject(ctx, w.bucket, path, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload to MinIO: %w", err)
	}

	return nil
}
