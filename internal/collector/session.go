package collector

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"pulsera/internal/registry"
)

// Session is one continuous listen on a registered device.
type Session struct {
	ID        uuid.UUID
	Device    registry.Device
	StartedAt time.Time

	mu       sync.Mutex
	tracker  Tracker
	rejected uint64
}

func NewSession(dev registry.Device, now time.Time) *Session {
	return &Session{ID: uuid.New(), Device: dev, StartedAt: now}
}

// SessionStats is a snapshot of a session's counters.
type SessionStats struct {
	Received uint64
	Lost     uint64
	Restarts int
	Rejected uint64
}

func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionStats{
		Received: s.tracker.Received,
		Lost:     s.tracker.Lost,
		Restarts: s.tracker.Restarts,
		Rejected: s.rejected,
	}
}

func (s *Session) observe(seq uint32) Gap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Observe(seq)
}

func (s *Session) reject() {
	s.mu.Lock()
	s.rejected++
	s.mu.Unlock()
}
