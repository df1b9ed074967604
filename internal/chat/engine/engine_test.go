package engine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/peerline/peerline/internal/chat/domain"
	"github.com/peerline/peerline/internal/chat/ops"
	"github.com/peerline/peerline/internal/chat/realtime"
	"github.com/peerline/peerline/internal/chat/storage/sqlite"
	"github.com/peerline/peerline/internal/chat/wire"
	perrors "github.com/peerline/peerline/internal/platform/errors"
)

type captureNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *captureNotifier) Notify(title, body string, data map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, body)
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

type engineFixture struct {
	service  *ops.Service
	bus      *realtime.MemoryBus
	engine   *Engine
	notifier *captureNotifier
	clock    *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	bus := realtime.NewMemoryBus()
	clock := &testClock{now: time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)}
	service, err := ops.NewService(ops.Config{Store: store, Bus: bus, Clock: clock.Now})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	notifier := &captureNotifier{}
	adapter := realtime.NewAdapter(bus)
	engine, err := New(Config{
		UserID:   "user-1",
		Role:     domain.RoleUser,
		Backend:  NewLocalBackend(service),
		Adapter:  adapter,
		Notifier: notifier,
		Clock:    clock.Now,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() {
		_ = engine.Close()
	})
	return &engineFixture{service: service, bus: bus, engine: engine, notifier: notifier, clock: clock}
}

func waitFor(t *testing.T, what string, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEngineStartReceivesInboundMessages(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	session, err := f.engine.Start(ctx, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if session.Status != domain.SessionWaiting {
		t.Fatalf("session status = %q, want waiting", session.Status)
	}

	// The specialist replies through the backend; the engine learns about
	// it through the change feed.
	if _, err := f.service.SendMessage(ctx, ops.SendRequest{
		SessionID:  session.ID,
		SenderID:   "spec-1",
		SenderRole: domain.RoleSpecialist,
		Content:    "how can I help?",
	}); err != nil {
		t.Fatalf("specialist send: %v", err)
	}

	waitFor(t, "inbound message", func() bool {
		return len(f.engine.Messages()) == 1
	})
	waitFor(t, "session activation", func() bool {
		current, ok := f.engine.Session()
		return ok && current.Status == domain.SessionActive && current.SpecialistID == "spec-1"
	})
	waitFor(t, "notification", func() bool {
		return f.notifier.count() == 1
	})
}

func TestEngineSendPromotesPlaceholder(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if _, err := f.engine.Start(ctx, false); err != nil {
		t.Fatalf("start: %v", err)
	}

	sent, err := f.engine.Send(ctx, domain.KindText, "hello", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// The confirmed row arrives on the change feed and replaces the
	// placeholder; no duplicate remains.
	waitFor(t, "placeholder promotion", func() bool {
		messages := f.engine.Messages()
		return len(messages) == 1 && !messages[0].Pending && messages[0].ID == sent.ID
	})

	// Own sends never notify.
	if f.notifier.count() != 0 {
		t.Fatalf("own send should not notify, got %d notifications", f.notifier.count())
	}
}

func TestEngineSendWithoutSessionFails(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.Send(context.Background(), domain.KindText, "hello", nil)
	if got := perrors.CodeOf(err); got != perrors.CodeNoOpenSession {
		t.Fatalf("error code = %q, want %q", got, perrors.CodeNoOpenSession)
	}
}

func TestEngineSendRollsBackOnFailure(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	session, err := f.engine.Start(ctx, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// End the session behind the engine's back; the send fails server-side
	// and the placeholder must disappear.
	if _, err := f.service.EndSession(ctx, session.ID, session.UserID, domain.EndReasonManual); err != nil {
		t.Fatalf("end session: %v", err)
	}

	_, err = f.engine.Send(ctx, domain.KindText, "too late", nil)
	if got := perrors.CodeOf(err); got != perrors.CodeSessionEnded {
		t.Fatalf("error code = %q, want %q", got, perrors.CodeSessionEnded)
	}
	waitFor(t, "placeholder rollback", func() bool {
		for _, message := range f.engine.Messages() {
			if message.Pending {
				return false
			}
		}
		return true
	})
}

func TestEngineLoadExisting(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	// Nothing to resume.
	_, found, err := f.engine.LoadExisting(ctx)
	if err != nil {
		t.Fatalf("load existing: %v", err)
	}
	if found {
		t.Fatal("expected no session to resume")
	}

	started, err := f.service.StartOrReuseSession(ctx, "user-1", false)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	resumed, found, err := f.engine.LoadExisting(ctx)
	if err != nil {
		t.Fatalf("load existing: %v", err)
	}
	if !found || resumed.ID != started.ID {
		t.Fatalf("expected to resume %q, got %q found=%v", started.ID, resumed.ID, found)
	}
}

func TestEngineLoadExistingReapsStaleWaiting(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	started, err := f.service.StartOrReuseSession(ctx, "user-1", false)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	f.clock.Advance(domain.DefaultStaleAfter + time.Minute)
	_, found, err := f.engine.LoadExisting(ctx)
	if err != nil {
		t.Fatalf("load existing: %v", err)
	}
	if found {
		t.Fatal("stale waiting session should not resume")
	}

	ended, err := f.service.GetSession(ctx, started.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if ended.Status != domain.SessionEnded {
		t.Fatalf("stale session status = %q, want ended", ended.Status)
	}
}

func TestEngineEndKeepsTranscript(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if _, err := f.engine.Start(ctx, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.engine.Send(ctx, domain.KindText, "hello", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "confirmed message", func() bool {
		messages := f.engine.Messages()
		return len(messages) == 1 && !messages[0].Pending
	})

	if err := f.engine.End(ctx); err != nil {
		t.Fatalf("end: %v", err)
	}

	session, ok := f.engine.Session()
	if !ok || session.Status != domain.SessionEnded {
		t.Fatalf("expected ended session, got %+v ok=%v", session, ok)
	}
	if len(f.engine.Messages()) != 1 {
		t.Fatal("transcript should survive ending the session")
	}

	// Ended means no further sends.
	if _, err := f.engine.Send(ctx, domain.KindText, "again", nil); err == nil {
		t.Fatal("send after end should fail")
	}
}

func TestEngineRemoteEndKeepsTranscript(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	session, err := f.engine.Start(ctx, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.engine.Send(ctx, domain.KindText, "hello", nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	// The counterpart ends the session; the engine observes it remotely.
	if _, err := f.service.EndSession(ctx, session.ID, session.UserID, domain.EndReasonManual); err != nil {
		t.Fatalf("remote end: %v", err)
	}
	waitFor(t, "remote end", func() bool {
		current, ok := f.engine.Session()
		return ok && current.Status == domain.SessionEnded
	})
	if len(f.engine.Messages()) == 0 {
		t.Fatal("transcript should survive a remote end")
	}
}

func TestEngineDropsCrossSessionEvents(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	session, err := f.engine.Start(ctx, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// An event for another session arriving on this channel must not leak
	// into the transcript.
	foreign, err := f.service.StartOrReuseSession(ctx, "user-2", false)
	if err != nil {
		t.Fatalf("start foreign session: %v", err)
	}
	result, err := f.service.SendMessage(ctx, ops.SendRequest{
		SessionID:  foreign.ID,
		SenderID:   "user-2",
		SenderRole: domain.RoleUser,
		Content:    "wrong room",
	})
	if err != nil {
		t.Fatalf("foreign send: %v", err)
	}
	rowJSON, err := jsonMarshalMessage(result.Message)
	if err != nil {
		t.Fatalf("encode foreign row: %v", err)
	}
	if err := f.bus.Publish(ctx, "session:"+session.ID, realtime.ChangeEvent{
		Table: "chat_messages",
		Event: realtime.EventInsert,
		New:   rowJSON,
	}); err != nil {
		t.Fatalf("publish foreign event: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := len(f.engine.Messages()); got != 0 {
		t.Fatalf("foreign message leaked into the transcript: %d messages", got)
	}
}

func TestEngineRefreshRetainsUnconfirmedPending(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	session, err := f.engine.Start(ctx, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// Seed server-side history the engine has not seen, plus a local
	// placeholder the server has not seen.
	if _, err := f.service.SendMessage(ctx, ops.SendRequest{
		SessionID:  session.ID,
		SenderID:   "spec-1",
		SenderRole: domain.RoleSpecialist,
		Content:    "hello",
	}); err != nil {
		t.Fatalf("seed send: %v", err)
	}
	waitFor(t, "seeded message", func() bool {
		return len(f.engine.Messages()) == 1
	})

	f.engine.mu.Lock()
	f.engine.messages = append(f.engine.messages, domain.ChatMessage{
		ID:              "local-1",
		SessionID:       session.ID,
		SenderID:        "user-1",
		SenderRole:      domain.RoleUser,
		Kind:            domain.KindText,
		Content:         "unsent",
		ClientMessageID: "local-1",
		CreatedAt:       f.clock.Now(),
		Pending:         true,
	})
	f.engine.mu.Unlock()

	if err := f.engine.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	messages := f.engine.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected seeded + pending after refresh, got %d", len(messages))
	}
	var pendingKept bool
	for _, message := range messages {
		if message.Pending && message.ClientMessageID == "local-1" {
			pendingKept = true
		}
	}
	if !pendingKept {
		t.Fatal("refresh dropped the unconfirmed placeholder")
	}
}

func TestEngineForceReconnect(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	session, err := f.engine.Start(ctx, false)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.engine.ForceReconnect(ctx); err != nil {
		t.Fatalf("force reconnect: %v", err)
	}

	// Events still arrive after the reconnect.
	if _, err := f.service.SendMessage(ctx, ops.SendRequest{
		SessionID:  session.ID,
		SenderID:   "spec-1",
		SenderRole: domain.RoleSpecialist,
		Content:    "still here",
	}); err != nil {
		t.Fatalf("send after reconnect: %v", err)
	}
	waitFor(t, "event after reconnect", func() bool {
		for _, message := range f.engine.Messages() {
			if message.Content == "still here" {
				return true
			}
		}
		return false
	})
}

func TestEngineEvictStopsSync(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	if _, err := f.engine.Start(ctx, false); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.engine.Evict()

	if f.engine.Connected() {
		// Adapter may still report a healthy bus; eviction only guarantees
		// the engine stops acting on it.
		t.Log("adapter still connected after evict")
	}
	if _, err := f.engine.Send(ctx, domain.KindText, "hello", nil); err == nil {
		t.Fatal("send after eviction should fail")
	}
	if _, err := f.engine.Start(ctx, false); err == nil {
		t.Fatal("start after eviction should fail")
	}
}

func jsonMarshalMessage(message domain.ChatMessage) ([]byte, error) {
	return json.Marshal(wire.FromMessage(message))
}
