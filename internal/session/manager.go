package session

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL is how long an untouched session survives before the
// manager discards it. A TTL of zero disables expiry.
const DefaultTTL = 30 * time.Minute

// Manager owns the per-user session table. A user has at most one
// active session; beginning a new one replaces whatever was in flight.
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	ttl      time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

// NewManager creates a Manager with the given idle TTL (0 disables expiry).
func NewManager(ttl time.Duration) *Manager {
	return &Manager{
		sessions: make(map[int64]*Session),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
}

// Begin starts a fresh session for the user, abandoning any in-flight
// one. Replacement is deliberate: partial input from the old session is
// silently dropped, so callers should only Begin on an explicit command.
func (m *Manager) Begin(userID int64, kind Kind, step Step) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.sessions[userID]; ok {
		slog.Debug("session replaced",
			"user_id", userID,
			"old_kind", old.Kind,
			"new_kind", kind,
		)
	}

	s := &Session{
		UserID: userID,
		Kind:   kind,
		Step:   step,
	}
	s.Touch()
	m.sessions[userID] = s
	return s
}

// Get returns the user's active session, or nil if there is none.
// An expired session is discarded on access, so staleness is handled
// even when the background sweeper is not running.
func (m *Manager) Get(userID int64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil
	}
	if m.expired(s, time.Now()) {
		delete(m.sessions, userID)
		slog.Debug("session expired", "user_id", userID, "kind", s.Kind)
		return nil
	}
	return s
}

// End destroys the user's session, if any. Abandoning a session has no
// effect on the ledger; only a completed commit does.
func (m *Manager) End(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
}

// Sweep removes all expired sessions and returns how many were dropped.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var dropped int
	for id, s := range m.sessions {
		if m.expired(s, now) {
			delete(m.sessions, id)
			dropped++
		}
	}
	return dropped
}

// Run sweeps expired sessions at the given interval until Stop is
// called. Run returns immediately when expiry is disabled.
func (m *Manager) Run(interval time.Duration) {
	if m.ttl == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				slog.Debug("swept idle sessions", "count", n)
			}
		case <-m.stop:
			return
		}
	}
}

// Stop terminates a running sweeper. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Manager) expired(s *Session, now time.Time) bool {
	return m.ttl > 0 && now.Sub(s.LastActive()) > m.ttl
}
