// Package engine applies classified bell events to session state: the
// state machine, counters, bounded timeline, and the delayed revert of the
// bus status back to idle.
package engine

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/busbell/backend/internal/bell"
	"github.com/busbell/backend/internal/models"
	"github.com/busbell/backend/internal/session"
	"github.com/busbell/backend/internal/stats"
)

// StatusRevertDelay is how long the bus status stays in stopping/starting
// before falling back to idle, unless a newer event supersedes it.
const StatusRevertDelay = 10 * time.Second

// HistoryQueryCap bounds the cross-session history query result.
const HistoryQueryCap = 100

// ErrSessionNotFound is returned when a detection targets an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// Publisher delivers an event to a session's subscriber channel. The
// realtime hub implements it; a nil publisher disables delivery.
type Publisher interface {
	BroadcastToSessionAndPublish(sessionID uuid.UUID, event string, payload interface{})
}

// Engine is the sole mutator of session bell state. Detections for the
// same session are serialized on the session lock; sessions are
// independent of each other.
type Engine struct {
	store       *session.Store
	agg         *stats.Aggregator
	publisher   Publisher
	logger      *zap.Logger
	revertDelay time.Duration
}

// New creates the event-correlation engine.
func New(store *session.Store, agg *stats.Aggregator, publisher Publisher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:       store,
		agg:         agg,
		publisher:   publisher,
		logger:      logger,
		revertDelay: StatusRevertDelay,
	}
}

// SetRevertDelay overrides the status revert delay (tests).
func (e *Engine) SetRevertDelay(d time.Duration) { e.revertDelay = d }

// Process classifies a raw detection against the session's last bell and
// applies it: history, counters, bus status, timeline, revert scheduling,
// and the global fold. The result is published to the session's channel
// and returned to the caller.
func (e *Engine) Process(sessionID uuid.UUID, raw models.RawDetection) (*models.ApplyResult, error) {
	st, ok := e.store.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	st.Mu.Lock()
	classified := bell.Classify(raw, st.LastBellTime, st.HasLastBell)
	result := e.apply(st, classified)
	st.Mu.Unlock()

	e.agg.BellDetected(classified.Type)

	if e.publisher != nil {
		e.publisher.BroadcastToSessionAndPublish(sessionID, "bell_detected", result)
	}
	e.logger.Debug("bell applied",
		zap.String("session_id", sessionID.String()),
		zap.String("type", classified.Type),
		zap.Float64("confidence", classified.Confidence),
	)
	return &result, nil
}

// apply mutates the session under its lock. Caller holds st.Mu.
func (e *Engine) apply(st *session.State, c bell.Classified) models.ApplyResult {
	ev := models.BellEvent{
		ID:         uuid.New(),
		Type:       c.Type,
		Timestamp:  c.Timestamp,
		Confidence: c.Confidence,
		Frequency:  c.Frequency,
		Duration:   c.Duration,
		Time:       models.ClockTime(c.Timestamp),
	}

	// The cycle-correction rule looks at the entry that was most recent
	// before this event is inserted.
	prevType := ""
	if len(st.BellHistory) > 0 {
		prevType = st.BellHistory[0].Type
	}
	st.BellHistory = append([]models.BellEvent{ev}, st.BellHistory...)

	st.LastBellTime = c.Timestamp
	st.HasLastBell = true
	st.LastActivity = c.Timestamp

	var tl models.TimelineEvent
	switch c.Type {
	case models.BellTypeDouble:
		st.DoubleBells++
		st.TotalStops++
		if prevType == models.BellTypeSingle && st.SingleBells > 0 {
			// The preceding single was the first clang of this double; it
			// is no longer an outstanding stop request.
			st.SingleBells--
		}
		st.BusStatus = models.BusStatusStarting
		tl = models.TimelineEvent{
			Type: models.TimelineTypeStarting,
			Text: "Bus starting (double bell)",
		}
	default:
		st.SingleBells++
		st.BusStatus = models.BusStatusStopping
		tl = models.TimelineEvent{
			Type: models.TimelineTypeStopping,
			Text: "Bus stopping (single bell)",
		}
	}
	st.StatusChanged = c.Timestamp

	tl.ID = uuid.New()
	tl.Timestamp = c.Timestamp
	tl.Time = models.ClockTime(c.Timestamp)
	tl.Confidence = c.Confidence
	st.Timeline = append([]models.TimelineEvent{tl}, st.Timeline...)
	if len(st.Timeline) > session.TimelineCap {
		st.Timeline = st.Timeline[:session.TimelineCap]
	}

	e.scheduleRevert(st)

	return models.ApplyResult{
		SessionID: st.ID,
		Bell:      ev,
		Timeline:  tl,
		Stats:     st.Stats(),
	}
}

// scheduleRevert replaces the session's pending revert timer. The timer
// carries the StatusChanged value captured now; if a newer event changes
// it before the timer fires, the fire is a no-op. Caller holds st.Mu.
func (e *Engine) scheduleRevert(st *session.State) {
	sessionID := st.ID
	guard := st.StatusChanged
	st.ReplaceRevertTimer(time.AfterFunc(e.revertDelay, func() {
		e.revertToIdle(sessionID, guard)
	}))
}

// revertToIdle returns the bus status to idle if the session still exists
// and no newer event has changed the status since the timer was scheduled.
func (e *Engine) revertToIdle(sessionID uuid.UUID, guard int64) {
	st, ok := e.store.Get(sessionID)
	if !ok {
		return
	}
	st.Mu.Lock()
	if st.StatusChanged != guard || st.BusStatus == models.BusStatusIdle {
		st.Mu.Unlock()
		return
	}
	st.BusStatus = models.BusStatusIdle
	snapshot := st.Stats()
	st.Mu.Unlock()

	if e.publisher != nil {
		e.publisher.BroadcastToSessionAndPublish(sessionID, "status_reverted", snapshot)
	}
	e.logger.Debug("bus status reverted to idle", zap.String("session_id", sessionID.String()))
}

// History returns bell events across all sessions, newest first, capped at
// HistoryQueryCap. start/end are inclusive unix-ms bounds; zero means
// unbounded. bellType filters by "single"/"double"; empty matches all.
func (e *Engine) History(start, end int64, bellType string) []models.SessionBellEvent {
	var out []models.SessionBellEvent
	for _, st := range e.store.All() {
		st.Mu.Lock()
		for _, ev := range st.BellHistory {
			if start != 0 && ev.Timestamp < start {
				continue
			}
			if end != 0 && ev.Timestamp > end {
				continue
			}
			if bellType != "" && ev.Type != bellType {
				continue
			}
			out = append(out, models.SessionBellEvent{SessionID: st.ID, BellEvent: ev})
		}
		st.Mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if len(out) > HistoryQueryCap {
		out = out[:HistoryQueryCap]
	}
	return out
}
