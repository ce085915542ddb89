package exports

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/busbell/backend/internal/models"
	"github.com/busbell/backend/pkg/response"
)

// Records is the persistence surface the handler uses; *Repository
// satisfies it.
type Records interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.ExportRecord, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.ExportRecord, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// ObjectStore is the archive surface the handler uses; *storage.S3
// satisfies it.
type ObjectStore interface {
	GeneratePresignedDownloadURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
	GetObjectStream(ctx context.Context, bucket, key string) (io.ReadCloser, string, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	ExportsBucket() string
	PresignExpire() time.Duration
}

// Handler serves archived export records: listing with presigned download
// URLs, snapshot download, and deletion.
type Handler struct {
	records Records
	objects ObjectStore
	logger  *zap.Logger
}

// NewHandler creates the exports handler.
func NewHandler(records Records, objects ObjectStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{records: records, objects: objects, logger: logger}
}

// ListBySession handles GET /sessions/:id/exports: archived exports for a
// session, newest first, each with a presigned download URL.
func (h *Handler) ListBySession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	recs, err := h.records.ListBySession(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("list exports failed", zap.String("session_id", id.String()), zap.Error(err))
		response.Internal(c, "list exports failed")
		return
	}

	items := make([]gin.H, 0, len(recs))
	for _, rec := range recs {
		url, err := h.objects.GeneratePresignedDownloadURL(
			c.Request.Context(), h.objects.ExportsBucket(), rec.S3Key, h.objects.PresignExpire())
		if err != nil {
			h.logger.Warn("presign export failed", zap.String("export_id", rec.ID.String()), zap.Error(err))
			url = ""
		}
		items = append(items, gin.H{"export": rec, "download_url": url})
	}
	response.OK(c, gin.H{"exports": items, "count": len(items)})
}

// Download handles GET /exports/:id/download: streams the archived
// snapshot JSON from S3.
func (h *Handler) Download(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid export id")
		return
	}
	rec, err := h.records.GetByID(c.Request.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		response.NotFound(c, "export not found")
		return
	}
	if err != nil {
		response.Internal(c, "load export failed")
		return
	}

	body, contentType, err := h.objects.GetObjectStream(c.Request.Context(), h.objects.ExportsBucket(), rec.S3Key)
	if err != nil {
		h.logger.Error("export object fetch failed",
			zap.String("export_id", rec.ID.String()),
			zap.String("s3_key", rec.S3Key),
			zap.Error(err),
		)
		response.Internal(c, "export object unavailable")
		return
	}
	defer body.Close()

	if contentType == "" {
		contentType = "application/json"
	}
	c.DataFromReader(http.StatusOK, rec.FileSize, contentType, body, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", rec.ID.String()+".json"),
	})
}

// Delete handles DELETE /exports/:id: removes the archived object and its
// record. The record is kept when the object delete fails so the export
// stays visible for retry.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid export id")
		return
	}
	rec, err := h.records.GetByID(c.Request.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		response.NotFound(c, "export not found")
		return
	}
	if err != nil {
		response.Internal(c, "load export failed")
		return
	}

	if err := h.objects.DeleteObject(c.Request.Context(), h.objects.ExportsBucket(), rec.S3Key); err != nil {
		h.logger.Error("delete export object failed",
			zap.String("export_id", rec.ID.String()),
			zap.String("s3_key", rec.S3Key),
			zap.Error(err),
		)
		response.Internal(c, "delete export failed")
		return
	}
	if err := h.records.Delete(c.Request.Context(), id); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		response.Internal(c, "delete export record failed")
		return
	}
	response.OK(c, gin.H{"deleted": id})
}
