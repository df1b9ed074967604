package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/peerline/peerline/internal/chat/domain"
)

type fakeRecordStore struct {
	mu         sync.Mutex
	records    map[string]domain.ActiveSessionRecord
	currentErr error
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{records: make(map[string]domain.ActiveSessionRecord)}
}

func (s *fakeRecordStore) Register(_ context.Context, userID, sessionToken, deviceInfo string) (domain.ActiveSessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record := domain.ActiveSessionRecord{
		UserID:       userID,
		SessionToken: sessionToken,
		DeviceInfo:   deviceInfo,
		UpdatedAt:    time.Now().UTC(),
	}
	s.records[userID] = record
	return record, nil
}

func (s *fakeRecordStore) Current(_ context.Context, userID string) (domain.ActiveSessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentErr != nil {
		return domain.ActiveSessionRecord{}, s.currentErr
	}
	record, ok := s.records[userID]
	if !ok {
		return domain.ActiveSessionRecord{}, errors.New("no record")
	}
	return record, nil
}

func (s *fakeRecordStore) Release(_ context.Context, userID, sessionToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.records[userID]; ok && record.SessionToken == sessionToken {
		delete(s.records, userID)
	}
	return nil
}

func TestArbiterKeepsOwnershipWhileTokenMatches(t *testing.T) {
	store := newFakeRecordStore()
	arbiter, err := NewArbiter(ArbiterConfig{Store: store, UserID: "user-1"})
	if err != nil {
		t.Fatalf("new arbiter: %v", err)
	}
	ctx := context.Background()

	if err := arbiter.Register(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}
	if arbiter.poll(ctx) {
		t.Fatal("poll should not stop while the token matches")
	}
	if arbiter.Evicted() {
		t.Fatal("arbiter should not be evicted")
	}
}

func TestArbiterEvictedByNewerRegistration(t *testing.T) {
	store := newFakeRecordStore()
	evictions := 0
	arbiter, err := NewArbiter(ArbiterConfig{
		Store:   store,
		UserID:  "user-1",
		OnEvict: func() { evictions++ },
	})
	if err != nil {
		t.Fatalf("new arbiter: %v", err)
	}
	ctx := context.Background()

	if err := arbiter.Register(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Another browsing context registers a newer token.
	if _, err := store.Register(ctx, "user-1", "other-token", "phone"); err != nil {
		t.Fatalf("register other: %v", err)
	}

	if !arbiter.poll(ctx) {
		t.Fatal("poll should stop after eviction")
	}
	if !arbiter.Evicted() {
		t.Fatal("arbiter should report eviction")
	}

	// Repeated polls never fire the callback twice.
	arbiter.poll(ctx)
	if evictions != 1 {
		t.Fatalf("eviction callback fired %d times, want 1", evictions)
	}
}

func TestArbiterSkipsTransientPollErrors(t *testing.T) {
	store := newFakeRecordStore()
	arbiter, err := NewArbiter(ArbiterConfig{Store: store, UserID: "user-1"})
	if err != nil {
		t.Fatalf("new arbiter: %v", err)
	}
	ctx := context.Background()

	if err := arbiter.Register(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}

	store.mu.Lock()
	store.currentErr = errors.New("network down")
	store.mu.Unlock()

	// A failing poll is not an eviction.
	if arbiter.poll(ctx) {
		t.Fatal("transient error should not stop the arbiter")
	}
	if arbiter.Evicted() {
		t.Fatal("transient error should not evict")
	}
}

func TestArbiterRunStopsOnEviction(t *testing.T) {
	store := newFakeRecordStore()
	evicted := make(chan struct{})
	arbiter, err := NewArbiter(ArbiterConfig{
		Store:    store,
		UserID:   "user-1",
		Interval: 10 * time.Millisecond,
		OnEvict:  func() { close(evicted) },
	})
	if err != nil {
		t.Fatalf("new arbiter: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := arbiter.Register(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}

	done := make(chan struct{})
	go func() {
		arbiter.Run(ctx)
		close(done)
	}()

	if _, err := store.Register(ctx, "user-1", "other-token", "phone"); err != nil {
		t.Fatalf("register other: %v", err)
	}

	select {
	case <-evicted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for eviction")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after eviction")
	}
}

func TestArbiterRelease(t *testing.T) {
	store := newFakeRecordStore()
	arbiter, err := NewArbiter(ArbiterConfig{Store: store, UserID: "user-1"})
	if err != nil {
		t.Fatalf("new arbiter: %v", err)
	}
	ctx := context.Background()

	if err := arbiter.Register(ctx); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := arbiter.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := store.Current(ctx, "user-1"); err == nil {
		t.Fatal("record should be gone after release")
	}
}
