// Package storage defines the persistence interfaces for the chat sync
// subsystem. Implementations must make every mutating entry point atomic:
// concurrent duplicate invocations of start, send, or register never produce
// duplicate open sessions, messages, or ownership records.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/peerline/peerline/internal/chat/domain"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a requested write conflicts with uniqueness constraints.
	ErrConflict = errors.New("record conflict")
)

// SessionStore persists chat session rows. At most one non-ended session
// exists per user; StartOrReuseSession is the only way to create one.
type SessionStore interface {
	// StartOrReuseSession atomically returns the user's existing open session
	// when reusable reports it usable, or ends it and inserts candidate
	// otherwise. The returned bool is true when candidate was inserted.
	StartOrReuseSession(ctx context.Context, candidate domain.ChatSession, reusable func(domain.ChatSession) bool) (domain.ChatSession, bool, error)
	GetSession(ctx context.Context, sessionID string) (domain.ChatSession, error)
	// FindOpenSession returns the user's non-ended session, preferring an
	// active one over a waiting one. ErrNotFound when none exists.
	FindOpenSession(ctx context.Context, userID string) (domain.ChatSession, error)
	// EndSession marks a session ended. Ending an already-ended session is
	// not an error; the final row is returned either way.
	EndSession(ctx context.Context, sessionID string, at time.Time) (domain.ChatSession, error)
	// AssignSpecialist claims a waiting session for a specialist and flips it
	// active. Assigning to a non-waiting session returns the row unchanged.
	AssignSpecialist(ctx context.Context, sessionID, specialistID string, at time.Time) (domain.ChatSession, error)
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	// ListStaleWaiting returns waiting, unclaimed sessions started before the
	// given instant, for the reaper loop.
	ListStaleWaiting(ctx context.Context, startedBefore time.Time) ([]domain.ChatSession, error)
}

// MessageStore persists chat message rows.
type MessageStore interface {
	// InsertMessage persists one message. When the message carries a client
	// correlation id that was already persisted for the session, the existing
	// row is returned and the bool is false (idempotent retry).
	InsertMessage(ctx context.Context, message domain.ChatMessage) (domain.ChatMessage, bool, error)
	// ListMessages returns the session's messages ordered by creation time.
	ListMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)
	// MarkMessagesRead flags messages not authored by readerID as read and
	// reports how many rows changed.
	MarkMessagesRead(ctx context.Context, sessionID, readerID string) (int64, error)
}

// PhoneCallStore persists phone-call handshake rows.
type PhoneCallStore interface {
	// CreatePhoneCall inserts a pending request. ErrConflict when the session
	// already has a pending, non-expired request at now.
	CreatePhoneCall(ctx context.Context, request domain.PhoneCallRequest, now time.Time) error
	GetPhoneCall(ctx context.Context, requestID string) (domain.PhoneCallRequest, error)
	UpdatePhoneCall(ctx context.Context, request domain.PhoneCallRequest) error
}

// DeviceStore persists single-session arbitration records, one per user.
type DeviceStore interface {
	// UpsertDevice unconditionally overwrites the user's ownership record
	// (last writer wins).
	UpsertDevice(ctx context.Context, record domain.ActiveSessionRecord) error
	GetDevice(ctx context.Context, userID string) (domain.ActiveSessionRecord, error)
	// DeleteDevice removes the record only while token is still the one on
	// file. A mismatch is not an error; logout is best-effort.
	DeleteDevice(ctx context.Context, userID, token string) error
}

// Store aggregates every persistence concern of the sync subsystem.
type Store interface {
	SessionStore
	MessageStore
	PhoneCallStore
	DeviceStore
	Close() error
}
