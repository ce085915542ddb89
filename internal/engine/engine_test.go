package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/busbell/backend/internal/models"
	"github.com/busbell/backend/internal/session"
	"github.com/busbell/backend/internal/stats"
)

type publishedEvent struct {
	sessionID uuid.UUID
	event     string
	payload   interface{}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *fakePublisher) BroadcastToSessionAndPublish(sessionID uuid.UUID, event string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{sessionID, event, payload})
}

func (p *fakePublisher) byName(event string) []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []publishedEvent
	for _, e := range p.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func newTestEngine() (*Engine, *session.Store, *stats.Aggregator, *fakePublisher) {
	agg := stats.NewAggregator()
	store := session.NewStore(agg, nil)
	pub := &fakePublisher{}
	eng := New(store, agg, pub, nil)
	return eng, store, agg, pub
}

func raw(ts int64, conf float64) models.RawDetection {
	return models.RawDetection{Timestamp: ts, Confidence: conf, Frequency: 900, Duration: 150}
}

func TestProcessUnknownSession(t *testing.T) {
	eng, _, _, _ := newTestEngine()
	if _, err := eng.Process(uuid.New(), raw(100, 0.9)); err != ErrSessionNotFound {
		t.Errorf("Process on unknown session err = %v, want ErrSessionNotFound", err)
	}
}

func TestSingleThenDoubleScenario(t *testing.T) {
	eng, store, agg, _ := newTestEngine()
	st := store.Create()

	// single at t=100
	res, err := eng.Process(st.ID, raw(100, 0.9))
	if err != nil {
		t.Fatal(err)
	}
	if res.Bell.Type != models.BellTypeSingle {
		t.Errorf("first bell type = %q, want single", res.Bell.Type)
	}
	if res.Stats.BusStatus != models.BusStatusStopping {
		t.Errorf("bus status = %q, want stopping", res.Stats.BusStatus)
	}
	if res.Stats.SingleBells != 1 {
		t.Errorf("singleBells = %d, want 1", res.Stats.SingleBells)
	}
	if res.Timeline.Type != models.TimelineTypeStopping {
		t.Errorf("timeline type = %q, want stopping", res.Timeline.Type)
	}

	// double at t=300 (gap 200, inside window)
	res, err = eng.Process(st.ID, raw(300, 0.9))
	if err != nil {
		t.Fatal(err)
	}
	if res.Bell.Type != models.BellTypeDouble {
		t.Errorf("second bell type = %q, want double", res.Bell.Type)
	}
	if res.Stats.BusStatus != models.BusStatusStarting {
		t.Errorf("bus status = %q, want starting", res.Stats.BusStatus)
	}
	if res.Stats.DoubleBells != 1 || res.Stats.TotalStops != 1 {
		t.Errorf("doubleBells = %d, totalStops = %d, want 1, 1", res.Stats.DoubleBells, res.Stats.TotalStops)
	}
	// cycle correction: the preceding single is consumed by this double
	if res.Stats.SingleBells != 0 {
		t.Errorf("singleBells = %d, want 0 after cycle correction", res.Stats.SingleBells)
	}
	if res.Timeline.Type != models.TimelineTypeStarting {
		t.Errorf("timeline type = %q, want starting", res.Timeline.Type)
	}

	snap := agg.Snapshot(store.Count())
	if snap.TotalBellsDetected != 2 {
		t.Errorf("totalBellsDetected = %d, want 2", snap.TotalBellsDetected)
	}
	if snap.TotalStops != 1 {
		t.Errorf("global totalStops = %d, want 1", snap.TotalStops)
	}
}

func TestTwoSinglesOutsideWindow(t *testing.T) {
	eng, store, _, _ := newTestEngine()
	st := store.Create()

	if _, err := eng.Process(st.ID, raw(0, 0.9)); err != nil {
		t.Fatal(err)
	}
	res, err := eng.Process(st.ID, raw(2000, 0.9))
	if err != nil {
		t.Fatal(err)
	}
	if res.Bell.Type != models.BellTypeSingle {
		t.Errorf("second bell type = %q, want single (gap outside window)", res.Bell.Type)
	}
	if res.Stats.SingleBells != 2 {
		t.Errorf("singleBells = %d, want 2", res.Stats.SingleBells)
	}
}

func TestCycleCorrectionOnlyWhenPreviousWasSingle(t *testing.T) {
	eng, store, _, _ := newTestEngine()
	st := store.Create()

	// single, double (consumes single), then another double within window
	mustProcess(t, eng, st.ID, raw(0, 0.9))          // single
	mustProcess(t, eng, st.ID, raw(200, 0.9))        // double, corrects
	res := mustProcess(t, eng, st.ID, raw(400, 0.9)) // double, previous is double

	if res.Bell.Type != models.BellTypeDouble {
		t.Fatalf("third bell type = %q, want double", res.Bell.Type)
	}
	if res.Stats.SingleBells != 0 {
		t.Errorf("singleBells = %d, want 0 (no decrement below zero)", res.Stats.SingleBells)
	}
	if res.Stats.DoubleBells != 2 {
		t.Errorf("doubleBells = %d, want 2", res.Stats.DoubleBells)
	}
}

func TestCountersNeverNegative(t *testing.T) {
	eng, store, _, _ := newTestEngine()
	st := store.Create()

	// Alternate singles and doubles aggressively; counters must stay >= 0.
	ts := int64(0)
	for i := 0; i < 50; i++ {
		ts += 200 // every gap inside the double window after the first
		res := mustProcess(t, eng, st.ID, raw(ts, 0.9))
		if res.Stats.SingleBells < 0 || res.Stats.DoubleBells < 0 || res.Stats.TotalStops < 0 {
			t.Fatalf("negative counter after event %d: %+v", i, res.Stats)
		}
	}
}

func TestTimelineCapped(t *testing.T) {
	eng, store, _, _ := newTestEngine()
	st := store.Create()

	ts := int64(0)
	for i := 0; i < 25; i++ {
		ts += 5000 // outside window: all singles
		mustProcess(t, eng, st.ID, raw(ts, 0.9))
	}

	st.Mu.Lock()
	defer st.Mu.Unlock()
	if len(st.Timeline) != session.TimelineCap {
		t.Errorf("timeline length = %d, want %d", len(st.Timeline), session.TimelineCap)
	}
	if len(st.BellHistory) != 25 {
		t.Errorf("bell history length = %d, want 25 (unbounded)", len(st.BellHistory))
	}
	// newest first
	if st.Timeline[0].Timestamp != ts {
		t.Errorf("timeline front timestamp = %d, want %d (newest first)", st.Timeline[0].Timestamp, ts)
	}
}

func TestStatusRevertsToIdle(t *testing.T) {
	eng, store, _, pub := newTestEngine()
	eng.SetRevertDelay(30 * time.Millisecond)
	st := store.Create()

	mustProcess(t, eng, st.ID, raw(100, 0.9))

	st.Mu.Lock()
	status := st.BusStatus
	st.Mu.Unlock()
	if status != models.BusStatusStopping {
		t.Fatalf("status = %q before revert, want stopping", status)
	}

	waitFor(t, 500*time.Millisecond, func() bool {
		st.Mu.Lock()
		defer st.Mu.Unlock()
		return st.BusStatus == models.BusStatusIdle
	})

	if got := pub.byName("status_reverted"); len(got) != 1 {
		t.Errorf("status_reverted published %d times, want 1", len(got))
	}
}

func TestNewerEventSupersedesRevert(t *testing.T) {
	eng, store, _, _ := newTestEngine()
	eng.SetRevertDelay(100 * time.Millisecond)
	st := store.Create()

	mustProcess(t, eng, st.ID, raw(100, 0.9))
	time.Sleep(40 * time.Millisecond)
	// Second event reschedules; first timer is stopped and, even if it
	// fired, its stale guard would not match.
	mustProcess(t, eng, st.ID, raw(5000, 0.9))

	time.Sleep(70 * time.Millisecond) // past the first deadline, before the second
	st.Mu.Lock()
	status := st.BusStatus
	st.Mu.Unlock()
	if status == models.BusStatusIdle {
		t.Error("status reverted early; superseded timer took effect")
	}

	waitFor(t, 500*time.Millisecond, func() bool {
		st.Mu.Lock()
		defer st.Mu.Unlock()
		return st.BusStatus == models.BusStatusIdle
	})
}

func TestStaleGuardIsNoOp(t *testing.T) {
	eng, store, _, pub := newTestEngine()
	st := store.Create()

	mustProcess(t, eng, st.ID, raw(100, 0.9))
	// Fire a revert carrying an outdated guard value directly.
	eng.revertToIdle(st.ID, 42)

	st.Mu.Lock()
	status := st.BusStatus
	st.Mu.Unlock()
	if status != models.BusStatusStopping {
		t.Errorf("status = %q, want stopping (stale revert must be a no-op)", status)
	}
	if got := pub.byName("status_reverted"); len(got) != 0 {
		t.Errorf("status_reverted published %d times, want 0", len(got))
	}
}

func TestRevertAfterDeleteHasNoEffect(t *testing.T) {
	eng, store, agg, _ := newTestEngine()
	eng.SetRevertDelay(20 * time.Millisecond)
	st := store.Create()

	mustProcess(t, eng, st.ID, raw(100, 0.9))
	store.Delete(st.ID)

	time.Sleep(60 * time.Millisecond)
	if _, ok := store.Get(st.ID); ok {
		t.Fatal("session still present after delete")
	}
	snap := agg.Snapshot(store.Count())
	if snap.ActiveUsers != 0 {
		t.Errorf("activeUsers = %d, want 0", snap.ActiveUsers)
	}
}

func TestBellDetectedPublished(t *testing.T) {
	eng, store, _, pub := newTestEngine()
	st := store.Create()

	mustProcess(t, eng, st.ID, raw(100, 0.9))
	got := pub.byName("bell_detected")
	if len(got) != 1 {
		t.Fatalf("bell_detected published %d times, want 1", len(got))
	}
	if got[0].sessionID != st.ID {
		t.Errorf("published for session %s, want %s", got[0].sessionID, st.ID)
	}
	res, ok := got[0].payload.(models.ApplyResult)
	if !ok {
		t.Fatalf("payload type %T, want models.ApplyResult", got[0].payload)
	}
	if res.Bell.Type != models.BellTypeSingle {
		t.Errorf("published bell type = %q, want single", res.Bell.Type)
	}
}

func TestHistoryQuery(t *testing.T) {
	eng, store, _, _ := newTestEngine()
	a := store.Create()
	b := store.Create()

	mustProcess(t, eng, a.ID, raw(1000, 0.9)) // single
	mustProcess(t, eng, a.ID, raw(1200, 0.9)) // double
	mustProcess(t, eng, b.ID, raw(9000, 0.9)) // single
	mustProcess(t, eng, b.ID, raw(9300, 0.9)) // double

	t.Run("all events newest first", func(t *testing.T) {
		events := eng.History(0, 0, "")
		if len(events) != 4 {
			t.Fatalf("got %d events, want 4", len(events))
		}
		for i := 1; i < len(events); i++ {
			if events[i-1].Timestamp < events[i].Timestamp {
				t.Errorf("events not sorted newest first at index %d", i)
			}
		}
	})

	t.Run("type filter with window excluding one double", func(t *testing.T) {
		events := eng.History(0, 5000, models.BellTypeDouble)
		if len(events) != 1 {
			t.Fatalf("got %d events, want exactly 1", len(events))
		}
		if events[0].Timestamp != 1200 || events[0].SessionID != a.ID {
			t.Errorf("wrong event: ts=%d session=%s", events[0].Timestamp, events[0].SessionID)
		}
	})

	t.Run("inclusive bounds", func(t *testing.T) {
		events := eng.History(1200, 9000, "")
		if len(events) != 2 {
			t.Fatalf("got %d events, want 2", len(events))
		}
	})
}

func TestHistoryQueryCap(t *testing.T) {
	eng, store, _, _ := newTestEngine()
	st := store.Create()

	ts := int64(0)
	for i := 0; i < HistoryQueryCap+20; i++ {
		ts += 5000
		mustProcess(t, eng, st.ID, raw(ts, 0.9))
	}
	events := eng.History(0, 0, "")
	if len(events) != HistoryQueryCap {
		t.Errorf("got %d events, want cap %d", len(events), HistoryQueryCap)
	}
	if events[0].Timestamp != ts {
		t.Errorf("front timestamp = %d, want newest %d", events[0].Timestamp, ts)
	}
}

func TestConcurrentProcessSameSession(t *testing.T) {
	eng, store, agg, _ := newTestEngine()
	st := store.Create()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = eng.Process(st.ID, raw(int64(i)*10, 0.9))
		}(i)
	}
	wg.Wait()

	st.Mu.Lock()
	defer st.Mu.Unlock()
	if len(st.BellHistory) != n {
		t.Errorf("bell history length = %d, want %d", len(st.BellHistory), n)
	}
	if st.SingleBells < 0 || st.DoubleBells < 0 || st.TotalStops < 0 {
		t.Errorf("negative counters under concurrency: %d %d %d", st.SingleBells, st.DoubleBells, st.TotalStops)
	}
	if got := st.SingleBells + st.DoubleBells; got > n {
		t.Errorf("counter sum %d exceeds event count %d", got, n)
	}
	snap := agg.Snapshot(store.Count())
	if snap.TotalBellsDetected != n {
		t.Errorf("totalBellsDetected = %d, want %d", snap.TotalBellsDetected, n)
	}
}

func mustProcess(t *testing.T, eng *Engine, id uuid.UUID, r models.RawDetection) *models.ApplyResult {
	t.Helper()
	res, err := eng.Process(id, r)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	return res
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
