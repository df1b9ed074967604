package domain

import (
	"strings"
	"time"
)

// SessionStatus identifies one chat session lifecycle state.
type SessionStatus string

const (
	// SessionWaiting means the session was started and awaits a specialist.
	SessionWaiting SessionStatus = "waiting"
	// SessionActive means a specialist was assigned and the conversation is live.
	SessionActive SessionStatus = "active"
	// SessionEnded is the terminal state.
	SessionEnded SessionStatus = "ended"
)

// EndReason records why a session ended.
type EndReason string

// End reasons passed through to the backend for audit. The set is open;
// these are the reasons this subsystem itself produces.
const (
	EndReasonManual     EndReason = "manual"
	EndReasonTimeout    EndReason = "timeout"
	EndReasonEscalation EndReason = "escalation"
	EndReasonStale      EndReason = "stale_timeout"
	EndReasonForceNew   EndReason = "force_new"
)

// DefaultStaleAfter is how long a waiting session may go unclaimed before
// any reader must treat it as abandoned.
const DefaultStaleAfter = 10 * time.Minute

// ChatSession is one two-party support conversation.
//
// At most one non-ended session exists per user at any time; the storage
// layer enforces the invariant and StartOrReuse relies on it.
type ChatSession struct {
	ID             string
	UserID         string
	SpecialistID   string // empty while waiting
	Status         SessionStatus
	StartedAt      time.Time
	EndedAt        *time.Time
	LastActivityAt time.Time
}

// Open reports whether the session is still joinable or live.
func (s ChatSession) Open() bool {
	return s.Status == SessionWaiting || s.Status == SessionActive
}

// Stale reports whether a waiting, unclaimed session has exceeded staleAfter
// at now. Sessions with a specialist assigned are never stale. The check is a
// pure function of (status, specialist, startedAt, now) so every code path
// that reads an existing session can apply it identically.
func (s ChatSession) Stale(now time.Time, staleAfter time.Duration) bool {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if s.Status != SessionWaiting {
		return false
	}
	if strings.TrimSpace(s.SpecialistID) != "" {
		return false
	}
	return now.Sub(s.StartedAt) > staleAfter
}
