// Package session tracks the serial link sessions of the meter: one session
// per successful open of the port, kept in a bounded history after it ends.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionState represents the current state of a link session.
type SessionState int

const (
	SessionStateConnected SessionState = iota
	SessionStateActive
	SessionStateDisconnected
)

// String returns the string representation of the session state.
func (s SessionState) String() string {
	switch s {
	case SessionStateConnected:
		return "connected"
	case SessionStateActive:
		return "active"
	case SessionStateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session represents one open period of the serial link.
type Session struct {
	ID            string
	Port          string
	State         SessionState
	ConnectedAt   time.Time
	ClosedAt      time.Time
	LastActivity  time.Time
	LastTelegram  time.Time
	BytesReceived int64
	Reads         int64
	Telegrams     int64
	DeviceErrors  int64
	ErrorCount    int64
	CloseReason   string
	now           func() time.Time
	mutex         sync.RWMutex
}

func newSession(port string, now func() time.Time) *Session {
	at := now()
	return &Session{
		ID:           uuid.NewString(),
		Port:         port,
		State:        SessionStateConnected,
		ConnectedAt:  at,
		LastActivity: at,
		now:          now,
	}
}

// AddBytesReceived counts a read that returned data.
func (s *Session) AddBytesReceived(bytes int64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.BytesReceived += bytes
	s.Reads++
	s.LastActivity = s.now()
}

// RecordTelegram counts a decoded telegram. The first one marks the session
// active.
func (s *Session) RecordTelegram(ok bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.LastTelegram = s.now()
	if ok {
		s.Telegrams++
	} else {
		s.DeviceErrors++
	}
	if s.State == SessionStateConnected {
		s.State = SessionStateActive
	}
}

// IncrementErrorCount counts a frame that produced no telegram.
func (s *Session) IncrementErrorCount() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.ErrorCount++
}

// GetState safely retrieves the session state.
func (s *Session) GetState() SessionState {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.State
}

// IdleFor returns how long no bytes arrived.
func (s *Session) IdleFor() time.Duration {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.now().Sub(s.LastActivity)
}

// IsExpired checks if the session has been silent longer than timeout.
// A zero timeout never expires.
func (s *Session) IsExpired(timeout time.Duration) bool {
	return timeout > 0 && s.IdleFor() > timeout
}

func (s *Session) close(reason string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.State == SessionStateDisconnected {
		return
	}
	s.State = SessionStateDisconnected
	s.ClosedAt = s.now()
	s.CloseReason = reason
}

// GetStats returns a copy of the session statistics.
func (s *Session) GetStats() SessionStats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	end := s.ClosedAt
	if end.IsZero() {
		end = s.now()
	}

	return SessionStats{
		ID:            s.ID,
		Port:          s.Port,
		State:         s.State,
		ConnectedAt:   s.ConnectedAt,
		ClosedAt:      s.ClosedAt,
		LastActivity:  s.LastActivity,
		LastTelegram:  s.LastTelegram,
		BytesReceived: s.BytesReceived,
		Reads:         s.Reads,
		Telegrams:     s.Telegrams,
		DeviceErrors:  s.DeviceErrors,
		ErrorCount:    s.ErrorCount,
		CloseReason:   s.CloseReason,
		Duration:      end.Sub(s.ConnectedAt).Round(time.Second).String(),
	}
}

// SessionStats represents session statistics for external consumption.
type SessionStats struct {
	ID            string       `json:"id"`
	Port          string       `json:"port"`
	State         SessionState `json:"state"`
	ConnectedAt   time.Time    `json:"connected_at"`
	ClosedAt      time.Time    `json:"closed_at,omitzero"`
	LastActivity  time.Time    `json:"last_activity"`
	LastTelegram  time.Time    `json:"last_telegram,omitzero"`
	BytesReceived int64        `json:"bytes_received"`
	Reads         int64        `json:"reads"`
	Telegrams     int64        `json:"telegrams"`
	DeviceErrors  int64        `json:"device_errors"`
	ErrorCount    int64        `json:"error_count"`
	CloseReason   string       `json:"close_reason,omitempty"`
	Duration      string       `json:"duration"`
}

// DefaultHistorySize is the number of ended sessions kept by default.
const DefaultHistorySize = 20

// SessionManager owns the current link session and the history of ended ones.
type SessionManager struct {
	current     *Session
	history     []*Session
	historySize int
	now         func() time.Time
	mutex       sync.RWMutex
}

// NewSessionManager creates a new session manager keeping historySize ended
// sessions.
func NewSessionManager(historySize int) *SessionManager {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &SessionManager{
		historySize: historySize,
		now:         time.Now,
	}
}

// CreateSession starts a session for a freshly opened port. A session that
// is still open is ended first.
func (sm *SessionManager) CreateSession(port string) *Session {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.current != nil {
		sm.endLocked("replaced")
	}
	sm.current = newSession(port, sm.now)
	return sm.current
}

// Current returns the open session.
func (sm *SessionManager) Current() (*Session, bool) {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.current, sm.current != nil
}

// GetSession retrieves an open or ended session by ID.
func (sm *SessionManager) GetSession(id string) (*Session, bool) {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	if sm.current != nil && sm.current.ID == id {
		return sm.current, true
	}
	for _, s := range sm.history {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// EndSession closes the open session with a reason and moves it to the history.
func (sm *SessionManager) EndSession(reason string) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()
	sm.endLocked(reason)
}

func (sm *SessionManager) endLocked(reason string) {
	if sm.current == nil {
		return
	}
	sm.current.close(reason)
	sm.history = append(sm.history, sm.current)
	if len(sm.history) > sm.historySize {
		sm.history = sm.history[len(sm.history)-sm.historySize:]
	}
	sm.current = nil
}

// GetAllSessions returns statistics for the open session followed by ended
// sessions, newest first.
func (sm *SessionManager) GetAllSessions() []SessionStats {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	stats := make([]SessionStats, 0, len(sm.history)+1)
	if sm.current != nil {
		stats = append(stats, sm.current.GetStats())
	}
	for i := len(sm.history) - 1; i >= 0; i-- {
		stats = append(stats, sm.history[i].GetStats())
	}
	return stats
}

// GetSessionCount returns the number of sessions known, open and ended.
func (sm *SessionManager) GetSessionCount() int {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	n := len(sm.history)
	if sm.current != nil {
		n++
	}
	return n
}

// Close ends the open session.
func (sm *SessionManager) Close() {
	sm.EndSession("shutdown")
}
