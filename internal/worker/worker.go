package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/busbell/backend/internal/exports"
	"github.com/busbell/backend/internal/models"
	"github.com/busbell/backend/pkg/queue"
	"github.com/busbell/backend/pkg/storage"
)

// ExportProcessor drains export archive jobs: upload the snapshot JSON to
// S3 and record the archive in the database. The snapshot rides in the job
// payload, so the processor works in the server process or as a separate
// binary.
type ExportProcessor struct {
	repo   *exports.Repository
	s3     *storage.S3
	queue  *queue.Queue
	logger *zap.Logger
}

// NewExportProcessor creates an export archive processor.
func NewExportProcessor(repo *exports.Repository, s3 *storage.S3, q *queue.Queue, logger *zap.Logger) *ExportProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportProcessor{repo: repo, s3: s3, queue: q, logger: logger}
}

// Process executes one export archive job.
func (p *ExportProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeExportArchive {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.ExportArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	key := storage.ExportKey(payload.SessionID.String(), payload.ExportID.String())
	size := int64(len(payload.Snapshot))
	s3URL, err := p.s3.Upload(ctx, p.s3.ExportsBucket(), key, "application/json", bytes.NewReader(payload.Snapshot), size)
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}

	rec := &models.ExportRecord{
		ID:         payload.ExportID,
		SessionID:  payload.SessionID,
		S3URL:      s3URL,
		S3Key:      key,
		TotalBells: payload.TotalBells,
		FileSize:   size,
	}
	if err := p.repo.Create(ctx, rec); err != nil {
		p.logger.Error("record export failed", zap.Error(err), zap.String("export_id", payload.ExportID.String()))
		return fmt.Errorf("record export: %w", err)
	}

	p.logger.Info("export archived",
		zap.String("export_id", payload.ExportID.String()),
		zap.String("session_id", payload.SessionID.String()),
		zap.String("s3_key", key),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ExportProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("export worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
