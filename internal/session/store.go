package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/busbell/backend/internal/stats"
)

// Store is the single source of truth for live sessions. Only the store
// adds or removes entries; map mutation is independent of per-session
// apply locks.
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*State
	agg      *stats.Aggregator
	logger   *zap.Logger
}

// NewStore creates an empty session store.
func NewStore(agg *stats.Aggregator, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		sessions: make(map[uuid.UUID]*State),
		agg:      agg,
		logger:   logger,
	}
}

// Create registers a new idle session and counts it globally.
func (s *Store) Create() *State {
	st := newState(uuid.New(), time.Now().UnixMilli())
	s.mu.Lock()
	s.sessions[st.ID] = st
	s.mu.Unlock()
	s.agg.SessionCreated()
	s.logger.Debug("session created", zap.String("session_id", st.ID.String()))
	return st
}

// Get returns the live session state, or false if unknown.
func (s *Store) Get(id uuid.UUID) (*State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[id]
	return st, ok
}

// Delete removes a session, stops its pending revert timer, and decrements
// the active-user count. Unknown IDs are a no-op.
func (s *Store) Delete(id uuid.UUID) {
	s.mu.Lock()
	st, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	st.StopRevertTimer()
	s.agg.SessionClosed()
	s.logger.Debug("session deleted", zap.String("session_id", id.String()))
}

// All returns the current live sessions. The slice is a copy; the states
// are shared and need their own locks for field access.
func (s *Store) All() []*State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*State, 0, len(s.sessions))
	for _, st := range s.sessions {
		out = append(out, st)
	}
	return out
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
