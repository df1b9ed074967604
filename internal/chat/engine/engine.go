package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/peerline/peerline/internal/chat/domain"
	"github.com/peerline/peerline/internal/chat/ops"
	"github.com/peerline/peerline/internal/chat/realtime"
	"github.com/peerline/peerline/internal/chat/wire"
	perrors "github.com/peerline/peerline/internal/platform/errors"
	"github.com/peerline/peerline/internal/platform/id"
)

// Config defines the inputs for a sync engine.
type Config struct {
	UserID  string
	Role    domain.SenderRole
	Backend Backend
	Adapter *realtime.Adapter
	// Monitor, when set, folds transport probe health into Connected.
	Monitor *realtime.Monitor
	// Notifier, when set, fires on inbound counterpart messages. Defaults
	// to LogNotifier.
	Notifier Notifier
	// StaleAfter bounds how long a waiting session loaded from the server
	// is still considered live. Zero means the default.
	StaleAfter time.Duration
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Engine drives one conversation for one participant: it owns the local
// session snapshot and transcript, applies the realtime change feed, and
// reconciles optimistic sends against server-confirmed rows.
type Engine struct {
	userID     string
	role       domain.SenderRole
	backend    Backend
	adapter    *realtime.Adapter
	monitor    *realtime.Monitor
	notifier   Notifier
	staleAfter time.Duration
	now        func() time.Time

	mu       sync.Mutex
	session  *domain.ChatSession
	messages []domain.ChatMessage
	subID    string
	closed   bool
	// epoch increments whenever the tracked session changes; stale events
	// and late in-flight results carry the old epoch and are dropped.
	epoch int
}

// New creates a sync engine.
func New(cfg Config) (*Engine, error) {
	userID := strings.TrimSpace(cfg.UserID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if cfg.Adapter == nil {
		return nil, fmt.Errorf("adapter is required")
	}
	role := cfg.Role
	if role == "" {
		role = domain.RoleUser
	}
	if !domain.ValidRole(role) {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = LogNotifier{}
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = domain.DefaultStaleAfter
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Engine{
		userID:     userID,
		role:       role,
		backend:    cfg.Backend,
		adapter:    cfg.Adapter,
		monitor:    cfg.Monitor,
		notifier:   notifier,
		staleAfter: staleAfter,
		now:        now,
	}, nil
}

// Start begins or resumes a conversation. With forceNew the server ends any
// open session first. The engine subscribes to the session's change feed
// before returning.
func (e *Engine) Start(ctx context.Context, forceNew bool) (domain.ChatSession, error) {
	if e.isClosed() {
		return domain.ChatSession{}, fmt.Errorf("engine is closed")
	}

	session, err := e.backend.StartOrReuseSession(ctx, e.userID, forceNew)
	if err != nil {
		return domain.ChatSession{}, err
	}
	if err := e.adopt(ctx, session); err != nil {
		return domain.ChatSession{}, err
	}
	return session, nil
}

// LoadExisting resumes the user's open session, if one exists and is still
// live. A waiting session past the staleness threshold is ended best-effort
// and reported as absent. The returned bool is false when there is no
// session to resume.
func (e *Engine) LoadExisting(ctx context.Context) (domain.ChatSession, bool, error) {
	if e.isClosed() {
		return domain.ChatSession{}, false, fmt.Errorf("engine is closed")
	}

	session, err := e.backend.OpenSession(ctx, e.userID)
	if perrors.CodeOf(err) == perrors.CodeNoOpenSession {
		return domain.ChatSession{}, false, nil
	}
	if err != nil {
		return domain.ChatSession{}, false, err
	}

	if session.Stale(e.now().UTC(), e.staleAfter) {
		if _, err := e.backend.EndSession(ctx, session.ID, e.userID, domain.EndReasonStale); err != nil {
			log.Printf("engine: end stale session %s: %v", session.ID, err)
		}
		return domain.ChatSession{}, false, nil
	}

	if err := e.adopt(ctx, session); err != nil {
		return domain.ChatSession{}, false, err
	}
	return session, true, nil
}

// adopt makes the given session the tracked one: it pulls the transcript
// and subscribes to the session channel.
func (e *Engine) adopt(ctx context.Context, session domain.ChatSession) error {
	messages, err := e.backend.Messages(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	e.mu.Lock()
	e.detachLocked()
	e.session = &session
	e.messages = messages
	e.epoch++
	epoch := e.epoch
	e.mu.Unlock()

	subID, err := e.adapter.Subscribe(ctx, wire.SessionChannel(session.ID), realtime.EventSpec{}, func(event realtime.ChangeEvent) {
		e.handleEvent(epoch, event)
	})
	if err != nil {
		return fmt.Errorf("subscribe session channel: %w", err)
	}

	e.mu.Lock()
	e.subID = subID
	e.mu.Unlock()
	return nil
}

// detachLocked drops the current subscription. Callers hold e.mu.
func (e *Engine) detachLocked() {
	if e.subID != "" {
		e.adapter.Unsubscribe(e.subID)
		e.subID = ""
	}
}

// Send submits one message. For the user role a pending placeholder appears
// in the transcript immediately and is rolled back if the server rejects
// the send. The confirmed row arrives through the change feed; the send
// result only updates the session snapshot.
func (e *Engine) Send(ctx context.Context, kind domain.MessageKind, content string, metadata map[string]any) (domain.ChatMessage, error) {
	e.mu.Lock()
	if e.closed || e.session == nil {
		e.mu.Unlock()
		return domain.ChatMessage{}, perrors.New(perrors.CodeNoOpenSession, "no session in progress")
	}
	session := *e.session
	epoch := e.epoch

	clientMessageID := id.New()
	placeholder := domain.ChatMessage{
		ID:              clientMessageID,
		SessionID:       session.ID,
		SenderID:        e.userID,
		SenderRole:      e.role,
		Kind:            kind,
		Content:         strings.TrimSpace(content),
		Metadata:        metadata,
		ClientMessageID: clientMessageID,
		CreatedAt:       e.now().UTC(),
		Pending:         true,
	}
	optimistic := e.role == domain.RoleUser
	if optimistic {
		e.messages = append(e.messages, placeholder)
	}
	e.mu.Unlock()

	result, err := e.backend.SendMessage(ctx, ops.SendRequest{
		SessionID:       session.ID,
		SenderID:        e.userID,
		SenderRole:      e.role,
		Kind:            kind,
		Content:         content,
		Metadata:        metadata,
		ClientMessageID: clientMessageID,
	})
	if err != nil {
		if optimistic {
			e.removePlaceholder(epoch, clientMessageID)
		}
		return domain.ChatMessage{}, err
	}

	if result.Session != nil {
		e.applySessionSnapshot(epoch, *result.Session)
	}
	return result.Message, nil
}

func (e *Engine) removePlaceholder(epoch int, clientMessageID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.epoch != epoch {
		return
	}
	kept := e.messages[:0]
	for _, message := range e.messages {
		if message.Pending && message.ClientMessageID == clientMessageID {
			continue
		}
		kept = append(kept, message)
	}
	e.messages = kept
}

func (e *Engine) applySessionSnapshot(epoch int, session domain.ChatSession) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.epoch != epoch || e.session == nil || e.session.ID != session.ID {
		return
	}
	e.session = &session
}

// End closes the conversation on the server and clears local state. The
// transcript stays readable until the next Start.
func (e *Engine) End(ctx context.Context) error {
	e.mu.Lock()
	if e.closed || e.session == nil {
		e.mu.Unlock()
		return perrors.New(perrors.CodeNoOpenSession, "no session in progress")
	}
	sessionID := e.session.ID
	e.mu.Unlock()

	ended, err := e.backend.EndSession(ctx, sessionID, e.userID, domain.EndReasonManual)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.detachLocked()
	e.session = &ended
	e.epoch++
	return nil
}

// Refresh re-pulls the session and transcript from the server, the recovery
// path after missed events. Pending placeholders the server has not
// confirmed yet are retained.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	if e.closed || e.session == nil {
		e.mu.Unlock()
		return nil
	}
	sessionID := e.session.ID
	epoch := e.epoch
	e.mu.Unlock()

	session, err := e.backend.Session(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	messages, err := e.backend.Messages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("refresh messages: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.epoch != epoch {
		return nil
	}
	e.session = &session

	confirmed := make(map[string]bool, len(messages))
	for _, message := range messages {
		if message.ClientMessageID != "" {
			confirmed[message.ClientMessageID] = true
		}
	}
	for _, message := range e.messages {
		if message.Pending && !confirmed[message.ClientMessageID] {
			messages = append(messages, message)
		}
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	e.messages = messages
	return nil
}

// ForceReconnect tears the realtime transport down and up again, then
// refreshes local state to cover the gap. Safe to call in any connection
// state.
func (e *Engine) ForceReconnect(ctx context.Context) error {
	if err := e.adapter.ReconnectAll(ctx); err != nil {
		return fmt.Errorf("reconnect transport: %w", err)
	}
	return e.Refresh(ctx)
}

// Connected reports whether the realtime transport is fully healthy.
func (e *Engine) Connected() bool {
	if !e.adapter.Connected() {
		return false
	}
	if e.monitor != nil && !e.monitor.Connected() {
		return false
	}
	return true
}

// handleEvent applies one change-feed event to local state. Events from a
// previous session epoch or another session's rows are dropped.
func (e *Engine) handleEvent(epoch int, event realtime.ChangeEvent) {
	switch event.Table {
	case wire.TableMessages:
		var row wire.Message
		if err := decodeRow(event.New, &row); err != nil {
			log.Printf("engine: skipping malformed message event: %v", err)
			return
		}
		e.applyMessage(epoch, row.ToMessage())
	case wire.TableSessions:
		var row wire.Session
		if err := decodeRow(event.New, &row); err != nil {
			log.Printf("engine: skipping malformed session event: %v", err)
			return
		}
		e.applySession(epoch, row.ToSession())
	}
}

func (e *Engine) applyMessage(epoch int, message domain.ChatMessage) {
	e.mu.Lock()
	if e.closed || e.epoch != epoch || e.session == nil || e.session.ID != message.SessionID {
		e.mu.Unlock()
		return
	}
	e.messages = Merge(e.messages, message)
	notifier := e.notifier
	inbound := message.SenderID != e.userID && message.SenderRole != domain.RoleSystem
	e.mu.Unlock()

	if inbound && notifier != nil {
		notifier.Notify("New message", message.Content, map[string]string{
			"session_id": message.SessionID,
			"message_id": message.ID,
		})
	}
}

func (e *Engine) applySession(epoch int, session domain.ChatSession) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.epoch != epoch || e.session == nil || e.session.ID != session.ID {
		return
	}
	// A remote end keeps the transcript visible; only the status changes.
	e.session = &session
}

// Session returns the tracked session, if any.
func (e *Engine) Session() (domain.ChatSession, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return domain.ChatSession{}, false
	}
	return *e.session, true
}

// Messages returns a copy of the local transcript in creation order.
func (e *Engine) Messages() []domain.ChatMessage {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.ChatMessage, len(e.messages))
	copy(out, e.messages)
	return out
}

// Evict shuts the engine down without ending the session server-side; the
// conversation continues in whichever context took ownership.
func (e *Engine) Evict() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.detachLocked()
	e.closed = true
	log.Printf("engine: user %s evicted, sync stopped", e.userID)
}

// Close releases the engine's subscription. The backend session, if any,
// stays open.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.detachLocked()
	e.closed = true
	return nil
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func decodeRow(raw []byte, v any) error {
	if len(raw) == 0 {
		return errors.New("empty event row")
	}
	return json.Unmarshal(raw, v)
}
