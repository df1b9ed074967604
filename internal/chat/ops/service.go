// Package ops implements the backend operations of the chat sync subsystem:
// session lifecycle, message sends, phone-call handshakes, and single-session
// device arbitration. Every mutation commits to storage first and then
// publishes its change events on the session channel.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/peerline/peerline/internal/chat/domain"
	"github.com/peerline/peerline/internal/chat/realtime"
	"github.com/peerline/peerline/internal/chat/storage"
	"github.com/peerline/peerline/internal/chat/wire"
	perrors "github.com/peerline/peerline/internal/platform/errors"
	"github.com/peerline/peerline/internal/platform/id"
)

// Config defines the inputs for the operation layer.
type Config struct {
	Store storage.Store
	Bus   realtime.Publisher
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
	// StaleAfter bounds how long a waiting, unclaimed session stays
	// reusable. Zero means the default.
	StaleAfter time.Duration
	// PhoneCallTTL bounds how long a phone-call request stays actionable.
	// Zero means the default.
	PhoneCallTTL time.Duration
}

// Service executes chat sync operations against a store and a change bus.
type Service struct {
	store        storage.Store
	bus          realtime.Publisher
	now          func() time.Time
	staleAfter   time.Duration
	phoneCallTTL time.Duration
}

// NewService creates the operation layer.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("bus is required")
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = domain.DefaultStaleAfter
	}
	phoneCallTTL := cfg.PhoneCallTTL
	if phoneCallTTL <= 0 {
		phoneCallTTL = domain.DefaultPhoneCallTTL
	}
	return &Service{
		store:        cfg.Store,
		bus:          cfg.Bus,
		now:          now,
		staleAfter:   staleAfter,
		phoneCallTTL: phoneCallTTL,
	}, nil
}

// publish sends a change event on the session channel. Events are emitted
// after the write committed; a publish failure is logged, never surfaced, so
// a flaky bus cannot roll back a committed operation.
func (s *Service) publish(ctx context.Context, sessionID, table string, event realtime.EventType, row any) {
	payload, err := json.Marshal(row)
	if err != nil {
		log.Printf("ops: encode %s event for session %s: %v", table, sessionID, err)
		return
	}
	err = s.bus.Publish(ctx, wire.SessionChannel(sessionID), realtime.ChangeEvent{
		Table: table,
		Event: event,
		New:   payload,
	})
	if err != nil {
		log.Printf("ops: publish %s event for session %s: %v", table, sessionID, err)
	}
}

func (s *Service) publishSession(ctx context.Context, session domain.ChatSession) {
	s.publish(ctx, session.ID, wire.TableSessions, realtime.EventUpdate, wire.FromSession(session))
}

// StartOrReuseSession returns the user's open session, or starts a waiting
// one. With forceNew, or when the open session went stale, the old session
// is ended and a fresh one starts. At most one non-ended session exists per
// user at any time.
func (s *Service) StartOrReuseSession(ctx context.Context, userID string, forceNew bool) (domain.ChatSession, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.ChatSession{}, perrors.New(perrors.CodeSessionUserMissing, "user id is required")
	}

	now := s.now().UTC()
	candidate := domain.ChatSession{
		ID:             id.New(),
		UserID:         userID,
		Status:         domain.SessionWaiting,
		StartedAt:      now,
		LastActivityAt: now,
	}

	// Remember the open session, if any, so its end can be announced when
	// the start replaces it.
	previous, err := s.store.FindOpenSession(ctx, userID)
	hadPrevious := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return domain.ChatSession{}, fmt.Errorf("find open session: %w", err)
	}

	session, created, err := s.store.StartOrReuseSession(ctx, candidate, func(existing domain.ChatSession) bool {
		if forceNew {
			return false
		}
		return !existing.Stale(now, s.staleAfter)
	})
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("start or reuse session: %w", err)
	}

	if created {
		log.Printf("ops: started session %s for user %s", session.ID, userID)
		if hadPrevious && previous.ID != session.ID {
			if ended, err := s.store.GetSession(ctx, previous.ID); err == nil {
				s.publishSession(ctx, ended)
			}
		}
	}
	return session, nil
}

// SendRequest carries one message submission.
type SendRequest struct {
	SessionID       string
	SenderID        string
	SenderRole      domain.SenderRole
	Kind            domain.MessageKind
	Content         string
	Metadata        map[string]any
	ClientMessageID string
}

// SendResult is the outcome of a successful send. Session is set when the
// send changed session state, e.g. a specialist's first reply claimed a
// waiting session.
type SendResult struct {
	Message domain.ChatMessage
	Session *domain.ChatSession
}

// SendMessage validates and persists one message, then publishes it on the
// session channel. Retries carrying the same client correlation id return
// the originally persisted message without inserting again.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) (SendResult, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.SenderID = strings.TrimSpace(req.SenderID)
	req.Content = strings.TrimSpace(req.Content)
	req.ClientMessageID = strings.TrimSpace(req.ClientMessageID)
	if req.Kind == "" {
		req.Kind = domain.KindText
	}

	if req.SenderID == "" {
		return SendResult{}, perrors.New(perrors.CodeMessageSenderMissing, "sender id is required")
	}
	if req.Content == "" {
		return SendResult{}, perrors.New(perrors.CodeMessageEmptyContent, "message content is required")
	}
	if !domain.ValidKind(req.Kind) {
		return SendResult{}, perrors.New(perrors.CodeMessageInvalidKind, fmt.Sprintf("unknown message kind %q", req.Kind))
	}
	if !domain.ValidRole(req.SenderRole) {
		return SendResult{}, perrors.New(perrors.CodeMessageInvalidRole, fmt.Sprintf("unknown sender role %q", req.SenderRole))
	}

	session, err := s.store.GetSession(ctx, req.SessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return SendResult{}, perrors.New(perrors.CodeSessionNotFound, "session not found")
	}
	if err != nil {
		return SendResult{}, fmt.Errorf("get session: %w", err)
	}
	if session.Status == domain.SessionEnded {
		return SendResult{}, perrors.New(perrors.CodeSessionEnded, "session has ended")
	}

	now := s.now().UTC()
	result := SendResult{}

	// A specialist's first reply claims the waiting session.
	if req.SenderRole == domain.RoleSpecialist && session.Status == domain.SessionWaiting {
		claimed, err := s.store.AssignSpecialist(ctx, session.ID, req.SenderID, now)
		if err != nil {
			return SendResult{}, fmt.Errorf("assign specialist: %w", err)
		}
		session = claimed
		result.Session = &claimed
		s.publishSession(ctx, claimed)
		log.Printf("ops: specialist %s claimed session %s", req.SenderID, session.ID)
	}

	message := domain.ChatMessage{
		ID:              id.New(),
		SessionID:       session.ID,
		SenderID:        req.SenderID,
		SenderRole:      req.SenderRole,
		Kind:            req.Kind,
		Content:         req.Content,
		Metadata:        req.Metadata,
		ClientMessageID: req.ClientMessageID,
		CreatedAt:       now,
	}
	persisted, inserted, err := s.store.InsertMessage(ctx, message)
	if err != nil {
		return SendResult{}, fmt.Errorf("insert message: %w", err)
	}
	result.Message = persisted

	if inserted {
		if err := s.store.TouchSession(ctx, session.ID, now); err != nil {
			log.Printf("ops: touch session %s: %v", session.ID, err)
		}
		s.publish(ctx, session.ID, wire.TableMessages, realtime.EventInsert, wire.FromMessage(persisted))
	}
	return result, nil
}

// EndSession closes a session on behalf of one of its parties. Only the
// session's user or its assigned specialist may end it. Ending an
// already-ended session is a no-op that returns the final row.
func (s *Service) EndSession(ctx context.Context, sessionID, userID string, reason domain.EndReason) (domain.ChatSession, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return domain.ChatSession{}, perrors.New(perrors.CodeSessionNotFound, "session id is required")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.ChatSession{}, perrors.New(perrors.CodeSessionUserMissing, "user id is required")
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ChatSession{}, perrors.New(perrors.CodeSessionNotFound, "session not found")
	}
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("get session: %w", err)
	}
	if userID != session.UserID && userID != session.SpecialistID {
		return domain.ChatSession{}, perrors.New(perrors.CodeForbidden, "not a participant of this session")
	}
	if session.Status == domain.SessionEnded {
		return session, nil
	}

	ended, err := s.store.EndSession(ctx, sessionID, s.now().UTC())
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("end session: %w", err)
	}
	log.Printf("ops: ended session %s (%s)", sessionID, reason)
	s.publishSession(ctx, ended)
	return ended, nil
}

// FindOpenSession returns the user's open session. A waiting session that
// went stale is reaped on read: it is ended and the caller gets no session.
func (s *Service) FindOpenSession(ctx context.Context, userID string) (domain.ChatSession, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.ChatSession{}, perrors.New(perrors.CodeSessionUserMissing, "user id is required")
	}

	session, err := s.store.FindOpenSession(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ChatSession{}, perrors.New(perrors.CodeNoOpenSession, "no open session")
	}
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("find open session: %w", err)
	}

	if session.Stale(s.now().UTC(), s.staleAfter) {
		if _, err := s.EndSession(ctx, session.ID, session.UserID, domain.EndReasonStale); err != nil {
			log.Printf("ops: reap stale session %s: %v", session.ID, err)
		}
		return domain.ChatSession{}, perrors.New(perrors.CodeNoOpenSession, "no open session")
	}
	return session, nil
}

// GetSession returns one session by id.
func (s *Service) GetSession(ctx context.Context, sessionID string) (domain.ChatSession, error) {
	session, err := s.store.GetSession(ctx, strings.TrimSpace(sessionID))
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ChatSession{}, perrors.New(perrors.CodeSessionNotFound, "session not found")
	}
	if err != nil {
		return domain.ChatSession{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// SessionMessages returns a session's messages in creation order.
func (s *Service) SessionMessages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	messages, err := s.store.ListMessages(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// MarkRead flags the counterpart's messages as read and reports how many
// rows changed. Read state syncs to other clients on their next refresh.
func (s *Service) MarkRead(ctx context.Context, sessionID, readerID string) (int64, error) {
	sessionID = strings.TrimSpace(sessionID)
	readerID = strings.TrimSpace(readerID)
	if sessionID == "" || readerID == "" {
		return 0, perrors.New(perrors.CodeSessionNotFound, "session id and reader id are required")
	}
	changed, err := s.store.MarkMessagesRead(ctx, sessionID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return changed, nil
}

// RequestPhoneCall opens a phone-call handshake on an open session. The
// request also surfaces as a message bubble in the transcript.
func (s *Service) RequestPhoneCall(ctx context.Context, sessionID, requesterID string) (domain.PhoneCallRequest, error) {
	sessionID = strings.TrimSpace(sessionID)
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return domain.PhoneCallRequest{}, perrors.New(perrors.CodeMessageSenderMissing, "requester id is required")
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return domain.PhoneCallRequest{}, err
	}
	if session.Status == domain.SessionEnded {
		return domain.PhoneCallRequest{}, perrors.New(perrors.CodeSessionEnded, "session has ended")
	}

	now := s.now().UTC()
	request := domain.PhoneCallRequest{
		ID:          id.New(),
		SessionID:   session.ID,
		RequesterID: requesterID,
		Status:      domain.PhoneCallPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.phoneCallTTL),
	}
	err = s.store.CreatePhoneCall(ctx, request, now)
	if errors.Is(err, storage.ErrConflict) {
		return domain.PhoneCallRequest{}, perrors.New(perrors.CodePhoneCallPendingExists, "a phone call request is already pending")
	}
	if err != nil {
		return domain.PhoneCallRequest{}, fmt.Errorf("create phone call: %w", err)
	}
	s.publish(ctx, session.ID, wire.TablePhoneCalls, realtime.EventInsert, wire.FromPhoneCall(request))

	bubble := domain.ChatMessage{
		ID:         id.New(),
		SessionID:  session.ID,
		SenderID:   requesterID,
		SenderRole: domain.RoleSystem,
		Kind:       domain.KindPhoneCallRequest,
		Content:    "phone call requested",
		Metadata:   map[string]any{"request_id": request.ID},
		CreatedAt:  now,
	}
	if persisted, inserted, err := s.store.InsertMessage(ctx, bubble); err != nil {
		log.Printf("ops: insert phone-call bubble for session %s: %v", session.ID, err)
	} else if inserted {
		s.publish(ctx, session.ID, wire.TableMessages, realtime.EventInsert, wire.FromMessage(persisted))
	}
	return request, nil
}

// RespondPhoneCall resolves a pending handshake. Responding to an expired
// request marks it expired and fails; a non-pending request is not
// actionable.
func (s *Service) RespondPhoneCall(ctx context.Context, requestID string, accept bool) (domain.PhoneCallRequest, error) {
	request, err := s.store.GetPhoneCall(ctx, strings.TrimSpace(requestID))
	if errors.Is(err, storage.ErrNotFound) {
		return domain.PhoneCallRequest{}, perrors.New(perrors.CodePhoneCallNotFound, "phone call request not found")
	}
	if err != nil {
		return domain.PhoneCallRequest{}, fmt.Errorf("get phone call: %w", err)
	}

	now := s.now().UTC()
	if request.Status == domain.PhoneCallPending && request.Expired(now) {
		request.Status = domain.PhoneCallExpired
		if err := s.store.UpdatePhoneCall(ctx, request); err != nil {
			log.Printf("ops: expire phone call %s: %v", request.ID, err)
		}
		s.publish(ctx, request.SessionID, wire.TablePhoneCalls, realtime.EventUpdate, wire.FromPhoneCall(request))
		return domain.PhoneCallRequest{}, perrors.New(perrors.CodePhoneCallExpired, "phone call request expired")
	}
	if !request.Actionable(now) {
		return domain.PhoneCallRequest{}, perrors.New(perrors.CodePhoneCallNotActionable, "phone call request is not pending")
	}

	if accept {
		request.Status = domain.PhoneCallAccepted
	} else {
		request.Status = domain.PhoneCallDeclined
	}
	request.RespondedAt = &now
	if err := s.store.UpdatePhoneCall(ctx, request); err != nil {
		return domain.PhoneCallRequest{}, fmt.Errorf("update phone call: %w", err)
	}
	s.publish(ctx, request.SessionID, wire.TablePhoneCalls, realtime.EventUpdate, wire.FromPhoneCall(request))
	return request, nil
}

// RegisterDevice claims single-session ownership for a browsing context.
// The newest registration always wins; the previous holder discovers the
// eviction on its next arbitration poll.
func (s *Service) RegisterDevice(ctx context.Context, userID, sessionToken, deviceInfo string) (domain.ActiveSessionRecord, error) {
	userID = strings.TrimSpace(userID)
	sessionToken = strings.TrimSpace(sessionToken)
	if userID == "" {
		return domain.ActiveSessionRecord{}, perrors.New(perrors.CodeDeviceUserMissing, "user id is required")
	}
	if sessionToken == "" {
		return domain.ActiveSessionRecord{}, perrors.New(perrors.CodeDeviceTokenMissing, "session token is required")
	}

	record := domain.ActiveSessionRecord{
		UserID:       userID,
		SessionToken: sessionToken,
		DeviceInfo:   strings.TrimSpace(deviceInfo),
		UpdatedAt:    s.now().UTC(),
	}
	if err := s.store.UpsertDevice(ctx, record); err != nil {
		return domain.ActiveSessionRecord{}, fmt.Errorf("upsert device record: %w", err)
	}
	return record, nil
}

// CurrentDevice returns the user's ownership record.
func (s *Service) CurrentDevice(ctx context.Context, userID string) (domain.ActiveSessionRecord, error) {
	record, err := s.store.GetDevice(ctx, strings.TrimSpace(userID))
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ActiveSessionRecord{}, perrors.New(perrors.CodeDeviceNotFound, "no device record")
	}
	if err != nil {
		return domain.ActiveSessionRecord{}, fmt.Errorf("get device record: %w", err)
	}
	return record, nil
}

// Logout releases single-session ownership if the caller still holds it.
// A stale token is silently ignored.
func (s *Service) Logout(ctx context.Context, userID, sessionToken string) error {
	if err := s.store.DeleteDevice(ctx, strings.TrimSpace(userID), strings.TrimSpace(sessionToken)); err != nil {
		return fmt.Errorf("delete device record: %w", err)
	}
	return nil
}

// ReapStaleSessions ends every waiting, unclaimed session older than the
// staleness threshold and reports how many were ended.
func (s *Service) ReapStaleSessions(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.staleAfter)
	stale, err := s.store.ListStaleWaiting(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale sessions: %w", err)
	}

	reaped := 0
	for _, session := range stale {
		if _, err := s.EndSession(ctx, session.ID, session.UserID, domain.EndReasonStale); err != nil {
			log.Printf("ops: reap session %s: %v", session.ID, err)
			continue
		}
		reaped++
	}
	return reaped, nil
}
