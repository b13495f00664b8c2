package entities

import (
	"errors"
	"time"
)

// SessionState represents the lifecycle state of a live session.
type SessionState string

const (
	SessionStateAbsent     SessionState = "absent"
	SessionStateConnecting SessionState = "connecting"
	SessionStateOpen       SessionState = "open"
	SessionStateClosing    SessionState = "closing"
	SessionStateClosed     SessionState = "closed"
)

// Session names one live conversational session against the remote service.
// It is owned exclusively by the transport that created it and is never
// shared across orchestrator instances.
type Session struct {
	ID           string       `json:"id"`
	State        SessionState `json:"state"`
	Model        string       `json:"model"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActiveAt time.Time    `json:"last_active_at"`
}

// NewSession creates a session record in the connecting state.
func NewSession(id, model string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		State:        SessionStateConnecting,
		Model:        model,
		CreatedAt:    now,
		LastActiveAt: now,
	}
}

// Touch updates the last activity timestamp.
func (s *Session) Touch() {
	s.LastActiveAt = time.Now()
}

// MarkOpen transitions the session to open after a successful connect.
func (s *Session) MarkOpen() {
	s.State = SessionStateOpen
	s.Touch()
}

// MarkClosing transitions the session to closing during teardown.
func (s *Session) MarkClosing() {
	s.State = SessionStateClosing
}

// MarkClosed finalizes the session.
func (s *Session) MarkClosed() {
	s.State = SessionStateClosed
}

// CanSend reports whether realtime input may still be sent.
func (s *Session) CanSend() bool {
	return s.State == SessionStateOpen
}

// IdleLongerThan reports whether the session has been inactive past the
// given duration. Registries use this for eviction.
func (s *Session) IdleLongerThan(d time.Duration) bool {
	return time.Since(s.LastActiveAt) > d
}

// Validate validates the session data.
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("session id is required")
	}
	switch s.State {
	case SessionStateAbsent, SessionStateConnecting, SessionStateOpen,
		SessionStateClosing, SessionStateClosed:
	default:
		return errors.New("invalid session state")
	}
	return nil
}
