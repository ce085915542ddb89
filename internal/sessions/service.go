// Package sessions exposes the session API: audio ingest, queries, and
// export over HTTP, backed by the correlation engine.
package sessions

import (
	"bytes"
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/busbell/backend/internal/detector"
	"github.com/busbell/backend/internal/engine"
	"github.com/busbell/backend/internal/models"
	"github.com/busbell/backend/internal/session"
	"github.com/busbell/backend/pkg/storage"
)

// ErrPayloadTooLarge is returned for audio payloads over the size cap,
// before the detector sees them.
var ErrPayloadTooLarge = errors.New("audio payload too large")

// Service runs the ingest pipeline: validate payload, detect, classify and
// apply, archive the clip. Shared by the HTTP handler and the WebSocket
// client loop.
type Service struct {
	store    *session.Store
	engine   *engine.Engine
	detector detector.Detector
	s3       *storage.S3 // optional clip archive
	logger   *zap.Logger
}

// NewService creates the ingest service. s3 may be nil to disable clip
// archiving.
func NewService(store *session.Store, eng *engine.Engine, det detector.Detector, s3 *storage.S3, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, engine: eng, detector: det, s3: s3, logger: logger}
}

// Ingest runs one detection cycle for a session. A nil result with nil
// error means no bell was detected. Detector failures are logged and
// treated as no detection; session state is untouched. filename may be
// empty for streamed chunks and synthetic probes.
func (s *Service) Ingest(ctx context.Context, sessionID uuid.UUID, payload []byte, contentType, filename string) (*models.ApplyResult, error) {
	if _, ok := s.store.Get(sessionID); !ok {
		return nil, engine.ErrSessionNotFound
	}
	if len(payload) > storage.MaxAudioFileSize {
		return nil, ErrPayloadTooLarge
	}

	raw, err := s.detector.Detect(ctx, sessionID, payload)
	if err != nil {
		s.logger.Warn("detector failed, treating as no detection",
			zap.String("session_id", sessionID.String()),
			zap.Error(err),
		)
		return nil, nil
	}
	if raw == nil {
		return nil, nil
	}

	result, err := s.engine.Process(sessionID, *raw)
	if err != nil {
		return nil, err
	}

	if s.s3 != nil && filename != "" {
		s.archiveClip(sessionID, payload, contentType, filename)
	}
	return result, nil
}

// archiveClip uploads the raw clip to the audio bucket in the background.
// Best effort: failures are logged, never surfaced to the caller.
func (s *Service) archiveClip(sessionID uuid.UUID, payload []byte, contentType, filename string) {
	data := make([]byte, len(payload))
	copy(data, payload)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.s3.PresignExpire())
		defer cancel()
		if contentType == "" {
			contentType = storage.ContentTypeForFilename(filename)
		}
		key := storage.AudioKey(sessionID.String(), filename)
		if _, err := s.s3.Upload(ctx, s.s3.AudioBucket(), key, contentType, bytes.NewReader(data), int64(len(data))); err != nil {
			s.logger.Warn("clip archive failed", zap.String("s3_key", key), zap.Error(err))
			return
		}
		s.logger.Debug("clip archived", zap.String("s3_key", key))
	}()
}
