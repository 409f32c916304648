package model

import "time"

// SessionInfo describes a live terminal session in API responses.
type SessionInfo struct {
	ID          string    `json:"id"`
	State       string    `json:"state"`
	PID         *int      `json:"pid,omitempty"`
	Attempts    int       `json:"attempts"`
	Cols        uint16    `json:"cols"`
	Rows        uint16    `json:"rows"`
	Fallback    bool      `json:"fallback"`
	Preview     string    `json:"preview,omitempty"`
	OutputBytes int64     `json:"outputBytes"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Duration returns how long the session has been open.
func (s *SessionInfo) Duration() time.Duration {
	return time.Since(s.CreatedAt)
}
