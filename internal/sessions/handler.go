package sessions

import (
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/busbell/backend/internal/engine"
	"github.com/busbell/backend/internal/models"
	"github.com/busbell/backend/internal/session"
	"github.com/busbell/backend/internal/stats"
	"github.com/busbell/backend/pkg/queue"
	"github.com/busbell/backend/pkg/response"
	"github.com/busbell/backend/pkg/storage"
)

// Read-time limits for the session query. The stored timeline is capped at
// 10 anyway, so the timeline limit is effectively <= 10.
const (
	sessionHistoryLimit  = 50
	sessionTimelineLimit = 20
)

// WatcherCounter reports connected WebSocket clients per session; the
// realtime hub satisfies it.
type WatcherCounter interface {
	SubscriberCount(sessionID uuid.UUID) int
}

// Handler serves the session HTTP API.
type Handler struct {
	store    *session.Store
	engine   *engine.Engine
	agg      *stats.Aggregator
	svc      *Service
	watchers WatcherCounter
	jobQueue *queue.Queue // optional export archiving
	logger   *zap.Logger
}

// NewHandler creates the sessions handler. jobQueue may be nil to disable
// export archiving.
func NewHandler(store *session.Store, eng *engine.Engine, agg *stats.Aggregator, svc *Service, watchers WatcherCounter, jobQueue *queue.Queue, logger *zap.Logger) *Handler {
	return &Handler{store: store, engine: eng, agg: agg, svc: svc, watchers: watchers, jobQueue: jobQueue, logger: logger}
}

// GetStats handles GET /stats: global counters plus server time.
func (h *Handler) GetStats(c *gin.Context) {
	snap := h.agg.Snapshot(h.store.Count())
	response.OK(c, gin.H{
		"stats":            snap,
		"server_timestamp": time.Now().UnixMilli(),
	})
}

// GetSession handles GET /sessions/:id.
func (h *Handler) GetSession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	st, ok := h.store.Get(id)
	if !ok {
		response.NotFound(c, "session not found")
		return
	}
	connected := 0
	if h.watchers != nil {
		connected = h.watchers.SubscriberCount(id)
	}
	response.OK(c, gin.H{
		"session":           st.Snapshot(sessionHistoryLimit, sessionTimelineLimit),
		"connected_clients": connected,
	})
}

// ExportSession handles GET /sessions/:id/export: full untrimmed snapshot
// plus export metadata. When the job queue is wired, the snapshot is also
// enqueued for archiving (S3 + export record).
func (h *Handler) ExportSession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	st, ok := h.store.Get(id)
	if !ok {
		response.NotFound(c, "session not found")
		return
	}

	snap := st.Snapshot(0, 0)
	export := models.SessionExport{
		ExportID:   uuid.New(),
		ExportedAt: time.Now().UnixMilli(),
		TotalBells: len(snap.BellHistory),
		Session:    snap,
	}

	if h.jobQueue != nil {
		raw, err := json.Marshal(export)
		if err != nil {
			h.logger.Error("export snapshot marshal failed", zap.Error(err), zap.String("session_id", id.String()))
		} else {
			payload := queue.ExportArchivePayload{
				ExportID:   export.ExportID,
				SessionID:  id,
				TotalBells: export.TotalBells,
				Snapshot:   raw,
			}
			if err := h.jobQueue.EnqueueExportArchive(c.Request.Context(), payload); err != nil {
				h.logger.Warn("export archive enqueue failed", zap.Error(err), zap.String("session_id", id.String()))
			}
		}
	}
	response.OK(c, export)
}

// IngestAudio handles POST /sessions/:id/audio (multipart field "file").
func (h *Handler) IngestAudio(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.BadRequest(c, "audio file required")
		return
	}
	defer file.Close()

	if header.Size > storage.MaxAudioFileSize {
		response.RequestTooLarge(c, "audio file exceeds size limit")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if !storage.ValidateAudioFileType(contentType, header.Filename) {
		response.BadRequest(c, "unsupported audio type")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(file, storage.MaxAudioFileSize+1))
	if err != nil {
		response.Internal(c, "failed to read audio file")
		return
	}
	if int64(len(payload)) > storage.MaxAudioFileSize {
		response.RequestTooLarge(c, "audio file exceeds size limit")
		return
	}

	result, err := h.svc.Ingest(c.Request.Context(), id, payload, contentType, header.Filename)
	switch {
	case errors.Is(err, engine.ErrSessionNotFound):
		response.NotFound(c, "session not found")
		return
	case errors.Is(err, ErrPayloadTooLarge):
		response.RequestTooLarge(c, "audio file exceeds size limit")
		return
	case err != nil:
		response.Internal(c, "ingest failed")
		return
	}

	if result == nil {
		response.OK(c, gin.H{"detected": false})
		return
	}
	response.OK(c, gin.H{"detected": true, "result": result})
}

// History handles GET /history?start=&end=&type=: flattened cross-session
// bell history, newest first.
func (h *Handler) History(c *gin.Context) {
	start, ok := parseMsParam(c.Query("start"))
	if !ok {
		response.BadRequest(c, "invalid start timestamp")
		return
	}
	end, ok := parseMsParam(c.Query("end"))
	if !ok {
		response.BadRequest(c, "invalid end timestamp")
		return
	}
	bellType := c.Query("type")
	if bellType != "" && bellType != models.BellTypeSingle && bellType != models.BellTypeDouble {
		response.BadRequest(c, "type must be single or double")
		return
	}

	events := h.engine.History(start, end, bellType)
	response.OK(c, gin.H{"events": events, "count": len(events)})
}

func parseMsParam(s string) (int64, bool) {
	if s == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
