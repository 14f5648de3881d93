package model

import "time"

// Session is the server-side state of an authenticated connection
type Session struct {
	ID               string
	Principal        string
	TokenID          string
	TokenExpiresAt   time.Time
	DefaultTimeoutMs int64
	ConnID           uint64
	CreatedAt        time.Time
	LastValidated    time.Time
}

// Expired reports whether the session's token validity window has passed
func (s *Session) Expired(now time.Time) bool {
	return !s.TokenExpiresAt.IsZero() && !now.Before(s.TokenExpiresAt)
}
