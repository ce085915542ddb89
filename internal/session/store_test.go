package session

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/busbell/backend/internal/models"
	"github.com/busbell/backend/internal/stats"
)

func newTestStore() (*Store, *stats.Aggregator) {
	agg := stats.NewAggregator()
	return NewStore(agg, nil), agg
}

func TestCreateInitializesIdleSession(t *testing.T) {
	s, agg := newTestStore()
	st := s.Create()

	if st.ID == uuid.Nil {
		t.Error("Create assigned nil ID")
	}
	if st.BusStatus != models.BusStatusIdle {
		t.Errorf("busStatus = %q, want idle", st.BusStatus)
	}
	if st.SingleBells != 0 || st.DoubleBells != 0 || st.TotalStops != 0 {
		t.Errorf("counters not zeroed: %d %d %d", st.SingleBells, st.DoubleBells, st.TotalStops)
	}
	if len(st.BellHistory) != 0 || len(st.Timeline) != 0 {
		t.Error("containers not empty on create")
	}
	if st.HasLastBell {
		t.Error("new session has lastBellTime set")
	}

	snap := agg.Snapshot(s.Count())
	if snap.TotalSessions != 1 || snap.ActiveUsers != 1 || snap.ActiveSessions != 1 {
		t.Errorf("global counters after create: %+v", snap)
	}
}

func TestGetMissing(t *testing.T) {
	s, _ := newTestStore()
	if _, ok := s.Get(uuid.New()); ok {
		t.Error("Get for missing id returned ok=true")
	}
}

func TestDeleteRemovesAndDecrements(t *testing.T) {
	s, agg := newTestStore()
	st := s.Create()

	s.Delete(st.ID)
	if _, ok := s.Get(st.ID); ok {
		t.Error("session still present after Delete")
	}
	snap := agg.Snapshot(s.Count())
	if snap.ActiveUsers != 0 {
		t.Errorf("activeUsers = %d, want 0", snap.ActiveUsers)
	}
	if snap.TotalSessions != 1 {
		t.Errorf("totalSessions = %d, want 1 (never decremented)", snap.TotalSessions)
	}
}

func TestDeleteUnknownIsNoOp(t *testing.T) {
	s, agg := newTestStore()
	s.Create()
	s.Delete(uuid.New())
	s.Delete(uuid.New())

	snap := agg.Snapshot(s.Count())
	if snap.ActiveUsers != 1 {
		t.Errorf("activeUsers = %d, want 1 (unknown deletes must not decrement)", snap.ActiveUsers)
	}
}

func TestActiveUsersFlooredAtZero(t *testing.T) {
	s, agg := newTestStore()
	st := s.Create()
	s.Delete(st.ID)
	s.Delete(st.ID) // repeated delete of same id

	snap := agg.Snapshot(s.Count())
	if snap.ActiveUsers != 0 {
		t.Errorf("activeUsers = %d, want 0", snap.ActiveUsers)
	}
}

func TestDeleteStopsRevertTimer(t *testing.T) {
	s, _ := newTestStore()
	st := s.Create()

	fired := make(chan struct{}, 1)
	st.Mu.Lock()
	st.ReplaceRevertTimer(time.AfterFunc(30*time.Millisecond, func() { fired <- struct{}{} }))
	st.Mu.Unlock()

	s.Delete(st.ID)

	select {
	case <-fired:
		t.Error("revert timer fired after session delete")
	case <-time.After(80 * time.Millisecond):
	}
}

func TestReplaceRevertTimerStopsPrevious(t *testing.T) {
	s, _ := newTestStore()
	st := s.Create()

	firstFired := make(chan struct{}, 1)
	st.Mu.Lock()
	st.ReplaceRevertTimer(time.AfterFunc(30*time.Millisecond, func() { firstFired <- struct{}{} }))
	st.ReplaceRevertTimer(time.AfterFunc(time.Hour, func() {}))
	st.Mu.Unlock()
	defer st.StopRevertTimer()

	select {
	case <-firstFired:
		t.Error("superseded timer fired")
	case <-time.After(80 * time.Millisecond):
	}
}

func TestAllAndCount(t *testing.T) {
	s, _ := newTestStore()
	a := s.Create()
	b := s.Create()

	if s.Count() != 2 {
		t.Errorf("Count = %d, want 2", s.Count())
	}
	ids := map[uuid.UUID]bool{}
	for _, st := range s.All() {
		ids[st.ID] = true
	}
	if !ids[a.ID] || !ids[b.ID] {
		t.Errorf("All missing expected sessions: %v", ids)
	}
}

func TestSnapshotTrimsAndCopies(t *testing.T) {
	s, _ := newTestStore()
	st := s.Create()

	st.Mu.Lock()
	for i := 0; i < 8; i++ {
		ev := models.BellEvent{ID: uuid.New(), Type: models.BellTypeSingle, Timestamp: int64(i)}
		st.BellHistory = append([]models.BellEvent{ev}, st.BellHistory...)
	}
	st.Mu.Unlock()

	snap := st.Snapshot(5, 0)
	if len(snap.BellHistory) != 5 {
		t.Fatalf("trimmed history length = %d, want 5", len(snap.BellHistory))
	}
	if snap.BellHistory[0].Timestamp != 7 {
		t.Errorf("front timestamp = %d, want 7 (newest first)", snap.BellHistory[0].Timestamp)
	}

	// mutation of the snapshot must not leak into the store
	snap.BellHistory[0].Type = models.BellTypeDouble
	st.Mu.Lock()
	defer st.Mu.Unlock()
	if st.BellHistory[0].Type != models.BellTypeSingle {
		t.Error("snapshot mutation leaked into session state")
	}
}

func TestSetRecording(t *testing.T) {
	s, _ := newTestStore()
	st := s.Create()

	if st.Recording() {
		t.Error("new session is recording")
	}
	st.SetRecording(true)
	if !st.Recording() {
		t.Error("SetRecording(true) not observed")
	}
	st.SetRecording(false)
	if st.Recording() {
		t.Error("SetRecording(false) not observed")
	}
}
