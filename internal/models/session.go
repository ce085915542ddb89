package models

import (
	"github.com/google/uuid"
)

// SessionSnapshot is the read model for a session returned by queries.
// History and timeline lengths depend on the caller: the session query
// trims them, the export carries them untrimmed.
type SessionSnapshot struct {
	ID           uuid.UUID       `json:"id"`
	StartTime    int64           `json:"start_time"`
	IsRecording  bool            `json:"is_recording"`
	Stats        SessionStats    `json:"stats"`
	BellHistory  []BellEvent     `json:"bell_history"`
	Timeline     []TimelineEvent `json:"timeline"`
	LastActivity int64           `json:"last_activity"`
}

// SessionExport wraps a full untrimmed snapshot with export metadata.
// Persisting the archive is the export worker's job, not the engine's.
type SessionExport struct {
	ExportID   uuid.UUID       `json:"export_id"`
	ExportedAt int64           `json:"exported_at"`
	TotalBells int             `json:"total_bells"`
	Session    SessionSnapshot `json:"session"`
}
