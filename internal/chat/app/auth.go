package app

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	perrors "github.com/peerline/peerline/internal/platform/errors"
)

// identityHeader carries the caller identity when JWT auth is disabled
// (empty secret). Test and development use only.
const identityHeader = "X-Peerline-User"

const tokenTTL = 24 * time.Hour

// identity is the authenticated caller of an HTTP or websocket request.
type identity struct {
	UserID string
	Role   string
}

func (id identity) specialist() bool {
	return id.Role == "specialist"
}

// authenticator resolves request identities from bearer tokens.
type authenticator struct {
	secret []byte
}

func newAuthenticator(secret string) *authenticator {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &authenticator{}
	}
	return &authenticator{secret: []byte(secret)}
}

// MintToken issues a signed bearer token for a user. Exposed for the smoke
// client and tests.
func (a *authenticator) MintToken(userID, role string) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("jwt secret is not configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"iat":  now.Unix(),
		"exp":  now.Add(tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	// Browser websocket clients cannot set headers; they pass the token in
	// the query string instead.
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// authenticate resolves the caller identity. With no secret configured, the
// identity header is trusted as-is.
func (a *authenticator) authenticate(r *http.Request) (identity, error) {
	if len(a.secret) == 0 {
		userID := strings.TrimSpace(r.Header.Get(identityHeader))
		if userID == "" {
			return identity{}, perrors.New(perrors.CodeUnauthenticated, "authentication required")
		}
		return identity{UserID: userID, Role: strings.TrimSpace(r.Header.Get(identityHeader + "-Role"))}, nil
	}

	raw := bearerToken(r)
	if raw == "" {
		return identity{}, perrors.New(perrors.CodeUnauthenticated, "authentication required")
	}

	token, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return identity{}, perrors.Wrap(perrors.CodeUnauthenticated, "invalid token", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return identity{}, perrors.New(perrors.CodeUnauthenticated, "invalid token claims")
	}
	subject, _ := claims["sub"].(string)
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return identity{}, perrors.New(perrors.CodeUnauthenticated, "token has no subject")
	}
	role, _ := claims["role"].(string)
	return identity{UserID: subject, Role: strings.TrimSpace(role)}, nil
}

// authorizeUser checks that the caller may act as the given user.
// Specialists may act on any user's session.
func authorizeUser(caller identity, userID string) error {
	if caller.specialist() || caller.UserID == strings.TrimSpace(userID) {
		return nil
	}
	return perrors.New(perrors.CodeForbidden, "cannot act for another user")
}
