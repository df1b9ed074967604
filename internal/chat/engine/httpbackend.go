package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/peerline/peerline/internal/chat/domain"
	"github.com/peerline/peerline/internal/chat/ops"
	"github.com/peerline/peerline/internal/chat/wire"
	perrors "github.com/peerline/peerline/internal/platform/errors"
	"github.com/peerline/peerline/internal/platform/timeouts"
)

// HTTPBackend implements Backend and RecordStore against a remote sync
// server's HTTP API. Every response is a wire.Envelope; server error codes
// round-trip into domain errors so callers branch on codes, not transports.
type HTTPBackend struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPBackend creates a backend for the given server. The token, when
// set, is sent as a bearer Authorization header.
func NewHTTPBackend(baseURL, token string) *HTTPBackend {
	return &HTTPBackend{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:   strings.TrimSpace(token),
		client:  &http.Client{Timeout: timeouts.HTTPRequest},
	}
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := b.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if b.token != "" {
		request.Header.Set("Authorization", "Bearer "+b.token)
	}

	response, err := b.client.Do(request)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
	}()

	var envelope wire.Envelope
	if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response (status %d): %w", path, response.StatusCode, err)
	}
	if !envelope.Success {
		code := perrors.Code(envelope.ErrorCode)
		if code == "" {
			code = perrors.CodeUnknown
		}
		return perrors.New(code, envelope.ErrorMessage)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", path, err)
	}
	return nil
}

func (b *HTTPBackend) StartOrReuseSession(ctx context.Context, userID string, forceNew bool) (domain.ChatSession, error) {
	var session wire.Session
	err := b.do(ctx, http.MethodPost, "/api/session/start", nil, wire.StartSessionRequest{
		UserID:   userID,
		ForceNew: forceNew,
	}, &session)
	if err != nil {
		return domain.ChatSession{}, err
	}
	return session.ToSession(), nil
}

func (b *HTTPBackend) SendMessage(ctx context.Context, req ops.SendRequest) (ops.SendResult, error) {
	var result wire.SendMessageResult
	err := b.do(ctx, http.MethodPost, "/api/message/send", nil, wire.SendMessageRequest{
		SessionID:       req.SessionID,
		SenderID:        req.SenderID,
		SenderRole:      string(req.SenderRole),
		Kind:            string(req.Kind),
		Content:         req.Content,
		Metadata:        req.Metadata,
		ClientMessageID: req.ClientMessageID,
	}, &result)
	if err != nil {
		return ops.SendResult{}, err
	}

	out := ops.SendResult{Message: result.Message.ToMessage()}
	if result.Session != nil {
		session := result.Session.ToSession()
		out.Session = &session
	}
	return out, nil
}

func (b *HTTPBackend) EndSession(ctx context.Context, sessionID, userID string, reason domain.EndReason) (domain.ChatSession, error) {
	var session wire.Session
	err := b.do(ctx, http.MethodPost, "/api/session/end", nil, wire.EndSessionRequest{
		SessionID: sessionID,
		UserID:    userID,
		Reason:    string(reason),
	}, &session)
	if err != nil {
		return domain.ChatSession{}, err
	}
	return session.ToSession(), nil
}

func (b *HTTPBackend) OpenSession(ctx context.Context, userID string) (domain.ChatSession, error) {
	var session wire.Session
	query := url.Values{"user_id": {userID}}
	if err := b.do(ctx, http.MethodGet, "/api/session/open", query, nil, &session); err != nil {
		return domain.ChatSession{}, err
	}
	return session.ToSession(), nil
}

func (b *HTTPBackend) Session(ctx context.Context, sessionID string) (domain.ChatSession, error) {
	var session wire.Session
	query := url.Values{"session_id": {sessionID}}
	if err := b.do(ctx, http.MethodGet, "/api/session", query, nil, &session); err != nil {
		return domain.ChatSession{}, err
	}
	return session.ToSession(), nil
}

func (b *HTTPBackend) Messages(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	var rows []wire.Message
	query := url.Values{"session_id": {sessionID}}
	if err := b.do(ctx, http.MethodGet, "/api/session/messages", query, nil, &rows); err != nil {
		return nil, err
	}
	messages := make([]domain.ChatMessage, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.ToMessage())
	}
	return messages, nil
}

// Register implements RecordStore.
func (b *HTTPBackend) Register(ctx context.Context, userID, sessionToken, deviceInfo string) (domain.ActiveSessionRecord, error) {
	var device wire.Device
	err := b.do(ctx, http.MethodPost, "/api/device/register", nil, wire.RegisterDeviceRequest{
		UserID:       userID,
		SessionToken: sessionToken,
		DeviceInfo:   deviceInfo,
	}, &device)
	if err != nil {
		return domain.ActiveSessionRecord{}, err
	}
	return device.ToDevice(), nil
}

// Current implements RecordStore.
func (b *HTTPBackend) Current(ctx context.Context, userID string) (domain.ActiveSessionRecord, error) {
	var device wire.Device
	query := url.Values{"user_id": {userID}}
	if err := b.do(ctx, http.MethodGet, "/api/device/current", query, nil, &device); err != nil {
		return domain.ActiveSessionRecord{}, err
	}
	return device.ToDevice(), nil
}

// Release implements RecordStore.
func (b *HTTPBackend) Release(ctx context.Context, userID, sessionToken string) error {
	return b.do(ctx, http.MethodPost, "/api/device/logout", nil, wire.LogoutRequest{
		UserID:       userID,
		SessionToken: sessionToken,
	}, nil)
}
