package domain

import (
	"testing"
	"time"
)

func TestSessionStale(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		session ChatSession
		want    bool
	}{
		{
			name:    "waiting past threshold",
			session: ChatSession{Status: SessionWaiting, StartedAt: now.Add(-11 * time.Minute)},
			want:    true,
		},
		{
			name:    "waiting within threshold",
			session: ChatSession{Status: SessionWaiting, StartedAt: now.Add(-9 * time.Minute)},
			want:    false,
		},
		{
			name:    "waiting exactly at threshold",
			session: ChatSession{Status: SessionWaiting, StartedAt: now.Add(-10 * time.Minute)},
			want:    false,
		},
		{
			name:    "active never stale",
			session: ChatSession{Status: SessionActive, StartedAt: now.Add(-2 * time.Hour)},
			want:    false,
		},
		{
			name:    "ended never stale",
			session: ChatSession{Status: SessionEnded, StartedAt: now.Add(-2 * time.Hour)},
			want:    false,
		},
		{
			name: "waiting with specialist assigned never stale",
			session: ChatSession{
				Status:       SessionWaiting,
				SpecialistID: "spec-1",
				StartedAt:    now.Add(-2 * time.Hour),
			},
			want: false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.session.Stale(now, DefaultStaleAfter); got != tc.want {
				t.Fatalf("Stale = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSessionStaleDefaultsThreshold(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	session := ChatSession{Status: SessionWaiting, StartedAt: now.Add(-11 * time.Minute)}

	if !session.Stale(now, 0) {
		t.Fatal("expected zero threshold to fall back to the default")
	}
}

func TestSessionOpen(t *testing.T) {
	if !(ChatSession{Status: SessionWaiting}).Open() {
		t.Fatal("waiting session should be open")
	}
	if !(ChatSession{Status: SessionActive}).Open() {
		t.Fatal("active session should be open")
	}
	if (ChatSession{Status: SessionEnded}).Open() {
		t.Fatal("ended session should not be open")
	}
}
