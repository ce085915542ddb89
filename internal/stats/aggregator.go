// Package stats holds the process-wide detection counters.
package stats

import (
	"sync"

	"github.com/busbell/backend/internal/models"
)

// Aggregator folds session lifecycle and bell events into global counters.
// Counters are scoped to process lifetime; nothing is persisted.
type Aggregator struct {
	mu                 sync.Mutex
	totalSessions      int
	totalBellsDetected int
	totalStops         int
	activeUsers        int
}

// NewAggregator creates a zeroed aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// SessionCreated records a new session and connected user.
func (a *Aggregator) SessionCreated() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalSessions++
	a.activeUsers++
}

// SessionClosed records a disconnect. ActiveUsers never goes below zero.
func (a *Aggregator) SessionClosed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.activeUsers > 0 {
		a.activeUsers--
	}
}

// BellDetected records one classified detection; double bells also count a
// completed stop.
func (a *Aggregator) BellDetected(bellType string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalBellsDetected++
	if bellType == models.BellTypeDouble {
		a.totalStops++
	}
}

// Snapshot returns a read-only copy of the counters. activeSessions comes
// from the store at query time.
func (a *Aggregator) Snapshot(activeSessions int) models.GlobalStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return models.GlobalStats{
		TotalSessions:      a.totalSessions,
		TotalBellsDetected: a.totalBellsDetected,
		TotalStops:         a.totalStops,
		ActiveUsers:        a.activeUsers,
		ActiveSessions:     activeSessions,
	}
}
