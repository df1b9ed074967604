// Package engine implements the client-side sync engine: it drives the
// session state machine, keeps an optimistic local transcript reconciled
// against the realtime change feed, and arbitrates single-session ownership.
package engine

import (
	"context"

	"github.com/peerline/peerline/internal/chat/domain"
	"github.com/peerline/peerline/internal/chat/ops"
)

// Backend is the engine's view of the server operations. A local engine
// calls the operation layer directly; a remote one goes through HTTP.
type Backend interface {
	StartOrReuseSession(ctx context.Context, userID string, forceNew bool) (domain.ChatSession, error)
	SendMessage(ctx context.Context, req ops.SendRequest) (ops.SendResult, error)
	// EndSession closes a session on behalf of userID, who must be one of
	// its parties.
	EndSession(ctx context.Context, sessionID, userID string, reason domain.EndReason) (domain.ChatSession, error)
	// OpenSession returns the user's open session. No open session is an
	// error carrying CodeNoOpenSession.
	OpenSession(ctx context.Context, userID string) (domain.ChatSession, error)
	Session(ctx context.Context, sessionID string) (domain.ChatSession, error)
	Messages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error)
}

// LocalBackend adapts the in-process operation layer to the Backend
// interface.
type LocalBackend struct {
	service *ops.Service
}

// NewLocalBackend wraps an operation service.
func NewLocalBackend(service *ops.Service) *LocalBackend {
	return &LocalBackend{service: service}
}

func (b *LocalBackend) StartOrReuseSession(ctx context.Context, userID string, forceNew bool) (domain.ChatSession, error) {
	return b.service.StartOrReuseSession(ctx, userID, forceNew)
}

func (b *LocalBackend) SendMessage(ctx context.Context, req ops.SendRequest) (ops.SendResult, error) {
	return b.service.SendMessage(ctx, req)
}

func (b *LocalBackend) EndSession(ctx context.Context, sessionID, userID string, reason domain.EndReason) (domain.ChatSession, error) {
	return b.service.EndSession(ctx, sessionID, userID, reason)
}

func (b *LocalBackend) OpenSession(ctx context.Context, userID string) (domain.ChatSession, error) {
	return b.service.FindOpenSession(ctx, userID)
}

func (b *LocalBackend) Session(ctx context.Context, sessionID string) (domain.ChatSession, error) {
	return b.service.GetSession(ctx, sessionID)
}

func (b *LocalBackend) Messages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	return b.service.SessionMessages(ctx, sessionID)
}

// Register implements RecordStore.
func (b *LocalBackend) Register(ctx context.Context, userID, sessionToken, deviceInfo string) (domain.ActiveSessionRecord, error) {
	return b.service.RegisterDevice(ctx, userID, sessionToken, deviceInfo)
}

// Current implements RecordStore.
func (b *LocalBackend) Current(ctx context.Context, userID string) (domain.ActiveSessionRecord, error) {
	return b.service.CurrentDevice(ctx, userID)
}

// Release implements RecordStore.
func (b *LocalBackend) Release(ctx context.Context, userID, sessionToken string) error {
	return b.service.Logout(ctx, userID, sessionToken)
}
