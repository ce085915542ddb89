package models

import (
	"time"

	"github.com/google/uuid"
)

// Bell event types derived from timing correlation.
const (
	BellTypeSingle = "single"
	BellTypeDouble = "double"
)

// Bus status values for a session.
const (
	BusStatusIdle     = "idle"
	BusStatusStopping = "stopping"
	BusStatusStarting = "starting"
)

// Timeline event types shown in the recent-activity feed.
const (
	TimelineTypeStopping = "stopping"
	TimelineTypeStarting = "starting"
)

// RawDetection is the unclassified output of the detector: timing and
// confidence, no semantic bell type. Any type hint from the detector is
// ignored; the classifier re-derives the type from timing.
type RawDetection struct {
	Timestamp  int64   `json:"timestamp"`  // unix ms
	Confidence float64 `json:"confidence"` // 0..1
	Frequency  float64 `json:"frequency"`  // Hz
	Duration   int64   `json:"duration"`   // ms
}

// BellEvent is a classified detection. Immutable once created; retained in
// the session's bell history for the life of the session.
type BellEvent struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"` // single | double
	Timestamp  int64     `json:"timestamp"`
	Confidence float64   `json:"confidence"`
	Frequency  float64   `json:"frequency"`
	Duration   int64     `json:"duration"`
	Time       string    `json:"time"` // human-readable, local clock
}

// TimelineEvent is one entry in the bounded recent-activity feed.
type TimelineEvent struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"` // stopping | starting
	Text       string    `json:"text"`
	Timestamp  int64     `json:"timestamp"`
	Time       string    `json:"time"`
	Confidence float64   `json:"confidence"`
}

// SessionStats is the per-session counter snapshot delivered with every
// apply result.
type SessionStats struct {
	SingleBells int    `json:"single_bells"`
	DoubleBells int    `json:"double_bells"`
	TotalStops  int    `json:"total_stops"`
	BusStatus   string `json:"bus_status"`
}

// ApplyResult is the outcome of classifying and applying one detection,
// published to the session's subscribers and returned on ingest.
type ApplyResult struct {
	SessionID uuid.UUID     `json:"session_id"`
	Bell      BellEvent     `json:"bell"`
	Timeline  TimelineEvent `json:"timeline"`
	Stats     SessionStats  `json:"stats"`
}

// SessionBellEvent is a bell event tagged with its owning session, used by
// the cross-session history query.
type SessionBellEvent struct {
	SessionID uuid.UUID `json:"session_id"`
	BellEvent
}

// ClockTime renders a unix-ms timestamp as a local wall-clock string.
func ClockTime(ms int64) string {
	return time.UnixMilli(ms).Format("15:04:05")
}
