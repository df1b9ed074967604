package domain

import (
	"testing"
	"time"
)

func TestPhoneCallExpired(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	request := PhoneCallRequest{ExpiresAt: now.Add(time.Minute)}
	if request.Expired(now) {
		t.Fatal("request should not be expired before its deadline")
	}
	if !request.Expired(now.Add(2 * time.Minute)) {
		t.Fatal("request should be expired after its deadline")
	}
	if request.Expired(request.ExpiresAt) {
		t.Fatal("request should not be expired exactly at its deadline")
	}
}

func TestPhoneCallActionable(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		request PhoneCallRequest
		want    bool
	}{
		{
			name:    "pending and live",
			request: PhoneCallRequest{Status: PhoneCallPending, ExpiresAt: now.Add(time.Minute)},
			want:    true,
		},
		{
			name:    "pending but expired",
			request: PhoneCallRequest{Status: PhoneCallPending, ExpiresAt: now.Add(-time.Minute)},
			want:    false,
		},
		{
			name:    "already accepted",
			request: PhoneCallRequest{Status: PhoneCallAccepted, ExpiresAt: now.Add(time.Minute)},
			want:    false,
		},
		{
			name:    "already declined",
			request: PhoneCallRequest{Status: PhoneCallDeclined, ExpiresAt: now.Add(time.Minute)},
			want:    false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.request.Actionable(now); got != tc.want {
				t.Fatalf("Actionable = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestValidKindAndRole(t *testing.T) {
	for _, kind := range []MessageKind{KindText, KindQuickAction, KindSystem, KindPhoneCallRequest} {
		if !ValidKind(kind) {
			t.Fatalf("kind %q should be valid", kind)
		}
	}
	if ValidKind("sticker") {
		t.Fatal("unknown kind should be invalid")
	}

	for _, role := range []SenderRole{RoleUser, RoleSpecialist, RoleSystem} {
		if !ValidRole(role) {
			t.Fatalf("role %q should be valid", role)
		}
	}
	if ValidRole("moderator") {
		t.Fatal("unknown role should be invalid")
	}
}
