package stats

import (
	"sync"
	"testing"

	"github.com/busbell/backend/internal/models"
)

func TestZeroSnapshot(t *testing.T) {
	a := NewAggregator()
	snap := a.Snapshot(0)
	if snap != (models.GlobalStats{}) {
		t.Errorf("new aggregator snapshot = %+v, want zero", snap)
	}
}

func TestSessionLifecycleCounts(t *testing.T) {
	a := NewAggregator()
	a.SessionCreated()
	a.SessionCreated()
	a.SessionClosed()

	snap := a.Snapshot(1)
	if snap.TotalSessions != 2 {
		t.Errorf("totalSessions = %d, want 2", snap.TotalSessions)
	}
	if snap.ActiveUsers != 1 {
		t.Errorf("activeUsers = %d, want 1", snap.ActiveUsers)
	}
	if snap.ActiveSessions != 1 {
		t.Errorf("activeSessions = %d, want 1", snap.ActiveSessions)
	}
}

func TestActiveUsersNeverNegative(t *testing.T) {
	a := NewAggregator()
	a.SessionClosed()
	a.SessionClosed()
	if got := a.Snapshot(0).ActiveUsers; got != 0 {
		t.Errorf("activeUsers = %d, want 0", got)
	}
}

func TestBellDetectedCounts(t *testing.T) {
	a := NewAggregator()
	a.BellDetected(models.BellTypeSingle)
	a.BellDetected(models.BellTypeDouble)
	a.BellDetected(models.BellTypeDouble)

	snap := a.Snapshot(0)
	if snap.TotalBellsDetected != 3 {
		t.Errorf("totalBellsDetected = %d, want 3", snap.TotalBellsDetected)
	}
	if snap.TotalStops != 2 {
		t.Errorf("totalStops = %d, want 2 (doubles only)", snap.TotalStops)
	}
}

func TestConcurrentFolds(t *testing.T) {
	a := NewAggregator()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a.SessionCreated()
			if i%2 == 0 {
				a.BellDetected(models.BellTypeDouble)
			} else {
				a.BellDetected(models.BellTypeSingle)
			}
			a.SessionClosed()
		}(i)
	}
	wg.Wait()

	snap := a.Snapshot(0)
	if snap.TotalSessions != 100 {
		t.Errorf("totalSessions = %d, want 100", snap.TotalSessions)
	}
	if snap.TotalBellsDetected != 100 {
		t.Errorf("totalBellsDetected = %d, want 100", snap.TotalBellsDetected)
	}
	if snap.TotalStops != 50 {
		t.Errorf("totalStops = %d, want 50", snap.TotalStops)
	}
	if snap.ActiveUsers != 0 {
		t.Errorf("activeUsers = %d, want 0", snap.ActiveUsers)
	}
}
