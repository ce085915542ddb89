// Package session owns per-session mutable state and the store that maps
// session IDs to it.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/busbell/backend/internal/models"
)

// TimelineCap bounds the stored timeline; the oldest entry is dropped on
// overflow regardless of any read-time limit.
const TimelineCap = 10

// State is the mutable record for one session. The engine is the sole
// mutator of bell-related fields; all access goes through Mu. The revert
// timer handle lives here so Delete can stop it.
type State struct {
	Mu sync.Mutex

	ID            uuid.UUID
	StartTime     int64 // unix ms
	IsRecording   bool
	SingleBells   int
	DoubleBells   int
	TotalStops    int
	BusStatus     string
	StatusChanged int64
	LastBellTime  int64
	HasLastBell   bool
	BellHistory   []models.BellEvent     // newest first, unbounded
	Timeline      []models.TimelineEvent // newest first, capped
	LastActivity  int64

	revert *time.Timer
}

// newState initializes an idle session.
func newState(id uuid.UUID, nowMs int64) *State {
	return &State{
		ID:           id,
		StartTime:    nowMs,
		BusStatus:    models.BusStatusIdle,
		LastActivity: nowMs,
	}
}

// SetRecording toggles streaming-ingest gating.
func (s *State) SetRecording(on bool) {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	s.IsRecording = on
	s.LastActivity = time.Now().UnixMilli()
}

// Recording reports whether streamed chunks should be processed.
func (s *State) Recording() bool {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	return s.IsRecording
}

// ReplaceRevertTimer stops any pending revert timer and installs t.
// Caller must hold Mu.
func (s *State) ReplaceRevertTimer(t *time.Timer) {
	if s.revert != nil {
		s.revert.Stop()
	}
	s.revert = t
}

// StopRevertTimer cancels the pending revert timer, if any.
func (s *State) StopRevertTimer() {
	s.Mu.Lock()
	defer s.Mu.Unlock()
	if s.revert != nil {
		s.revert.Stop()
		s.revert = nil
	}
}

// Stats returns the counter snapshot. Caller must hold Mu.
func (s *State) Stats() models.SessionStats {
	return models.SessionStats{
		SingleBells: s.SingleBells,
		DoubleBells: s.DoubleBells,
		TotalStops:  s.TotalStops,
		BusStatus:   s.BusStatus,
	}
}

// Snapshot copies the session into a read model. historyLimit and
// timelineLimit trim the copies; <= 0 means untrimmed.
func (s *State) Snapshot(historyLimit, timelineLimit int) models.SessionSnapshot {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	history := s.BellHistory
	if historyLimit > 0 && len(history) > historyLimit {
		history = history[:historyLimit]
	}
	timeline := s.Timeline
	if timelineLimit > 0 && len(timeline) > timelineLimit {
		timeline = timeline[:timelineLimit]
	}

	snap := models.SessionSnapshot{
		ID:           s.ID,
		StartTime:    s.StartTime,
		IsRecording:  s.IsRecording,
		Stats:        s.Stats(),
		BellHistory:  make([]models.BellEvent, len(history)),
		Timeline:     make([]models.TimelineEvent, len(timeline)),
		LastActivity: s.LastActivity,
	}
	copy(snap.BellHistory, history)
	copy(snap.Timeline, timeline)
	return snap
}
