package app

import (
	"net/http/httptest"
	"testing"

	perrors "github.com/peerline/peerline/internal/platform/errors"
)

func TestAuthenticatorRoundTrip(t *testing.T) {
	auth := newAuthenticator("secret")

	token, err := auth.MintToken("user-1", "specialist")
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	request := httptest.NewRequest("GET", "/api/session/open", nil)
	request.Header.Set("Authorization", "Bearer "+token)
	caller, err := auth.authenticate(request)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if caller.UserID != "user-1" || !caller.specialist() {
		t.Fatalf("unexpected identity %+v", caller)
	}
}

func TestAuthenticatorAcceptsQueryToken(t *testing.T) {
	auth := newAuthenticator("secret")
	token, err := auth.MintToken("user-1", "user")
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	request := httptest.NewRequest("GET", "/ws?token="+token, nil)
	caller, err := auth.authenticate(request)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if caller.UserID != "user-1" {
		t.Fatalf("unexpected identity %+v", caller)
	}
}

func TestAuthenticatorRejectsBadToken(t *testing.T) {
	auth := newAuthenticator("secret")

	request := httptest.NewRequest("GET", "/api/session/open", nil)
	request.Header.Set("Authorization", "Bearer not-a-token")
	_, err := auth.authenticate(request)
	if got := perrors.CodeOf(err); got != perrors.CodeUnauthenticated {
		t.Fatalf("error code = %q, want %q", got, perrors.CodeUnauthenticated)
	}

	// A token signed with a different secret is rejected too.
	other := newAuthenticator("other-secret")
	token, err := other.MintToken("user-1", "user")
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	if _, err := auth.authenticate(request); err == nil {
		t.Fatal("cross-secret token should be rejected")
	}
}

func TestAuthenticatorIdentityHeaderFallback(t *testing.T) {
	auth := newAuthenticator("")

	request := httptest.NewRequest("GET", "/api/session/open", nil)
	if _, err := auth.authenticate(request); err == nil {
		t.Fatal("missing identity header should be rejected")
	}

	request.Header.Set(identityHeader, "user-1")
	caller, err := auth.authenticate(request)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if caller.UserID != "user-1" {
		t.Fatalf("unexpected identity %+v", caller)
	}
}

func TestAuthorizeUser(t *testing.T) {
	if err := authorizeUser(identity{UserID: "user-1"}, "user-1"); err != nil {
		t.Fatalf("self access should be allowed: %v", err)
	}
	if err := authorizeUser(identity{UserID: "user-1"}, "user-2"); err == nil {
		t.Fatal("cross-user access should be forbidden")
	}
	if err := authorizeUser(identity{UserID: "spec-1", Role: "specialist"}, "user-2"); err != nil {
		t.Fatalf("specialist access should be allowed: %v", err)
	}
}
