// Package wire defines the JSON shapes shared by the backend operations,
// the realtime change feed, and the sync engine's remote backend. Rows carry
// the protocol fields only; no bit-exact format beyond that is prescribed.
package wire

import (
	"encoding/json"
	"time"

	"github.com/peerline/peerline/internal/chat/domain"
)

// Table names used in change events and subscription specs.
const (
	TableSessions   = "chat_sessions"
	TableMessages   = "chat_messages"
	TablePhoneCalls = "phone_call_requests"
)

// SessionChannel returns the pub/sub channel key carrying all change events
// scoped to one session.
func SessionChannel(sessionID string) string {
	return "session:" + sessionID
}

// Envelope is the tagged result of every atomic operation.
type Envelope struct {
	Success      bool            `json:"success"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Session is the wire form of a chat session row.
type Session struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	SpecialistID   string     `json:"specialist_id,omitempty"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	LastActivityAt time.Time  `json:"last_activity_at"`
}

// FromSession converts a domain session to its wire form.
func FromSession(s domain.ChatSession) Session {
	return Session{
		ID:             s.ID,
		UserID:         s.UserID,
		SpecialistID:   s.SpecialistID,
		Status:         string(s.Status),
		StartedAt:      s.StartedAt,
		EndedAt:        s.EndedAt,
		LastActivityAt: s.LastActivityAt,
	}
}

// ToSession converts a wire session back to its domain form.
func (s Session) ToSession() domain.ChatSession {
	return domain.ChatSession{
		ID:             s.ID,
		UserID:         s.UserID,
		SpecialistID:   s.SpecialistID,
		Status:         domain.SessionStatus(s.Status),
		StartedAt:      s.StartedAt,
		EndedAt:        s.EndedAt,
		LastActivityAt: s.LastActivityAt,
	}
}

// Message is the wire form of a chat message row. Confirmed rows echo the
// client correlation id so placeholders can be promoted without heuristics.
type Message struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"session_id"`
	SenderID        string         `json:"sender_id"`
	SenderRole      string         `json:"sender_role"`
	Kind            string         `json:"kind"`
	Content         string         `json:"content"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ClientMessageID string         `json:"client_message_id,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	IsRead          bool           `json:"is_read"`
}

// FromMessage converts a domain message to its wire form.
func FromMessage(m domain.ChatMessage) Message {
	return Message{
		ID:              m.ID,
		SessionID:       m.SessionID,
		SenderID:        m.SenderID,
		SenderRole:      string(m.SenderRole),
		Kind:            string(m.Kind),
		Content:         m.Content,
		Metadata:        m.Metadata,
		ClientMessageID: m.ClientMessageID,
		CreatedAt:       m.CreatedAt,
		IsRead:          m.IsRead,
	}
}

// ToMessage converts a wire message back to its domain form. Wire messages
// are always server-confirmed, never pending.
func (m Message) ToMessage() domain.ChatMessage {
	return domain.ChatMessage{
		ID:              m.ID,
		SessionID:       m.SessionID,
		SenderID:        m.SenderID,
		SenderRole:      domain.SenderRole(m.SenderRole),
		Kind:            domain.MessageKind(m.Kind),
		Content:         m.Content,
		Metadata:        m.Metadata,
		ClientMessageID: m.ClientMessageID,
		CreatedAt:       m.CreatedAt,
		IsRead:          m.IsRead,
	}
}

// PhoneCall is the wire form of a phone-call request row.
type PhoneCall struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	RequesterID string     `json:"requester_id"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
	InitiatedAt *time.Time `json:"initiated_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// FromPhoneCall converts a domain phone-call request to its wire form.
func FromPhoneCall(r domain.PhoneCallRequest) PhoneCall {
	return PhoneCall{
		ID:          r.ID,
		SessionID:   r.SessionID,
		RequesterID: r.RequesterID,
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
		RespondedAt: r.RespondedAt,
		InitiatedAt: r.InitiatedAt,
		CompletedAt: r.CompletedAt,
	}
}

// ToPhoneCall converts a wire phone-call request back to its domain form.
func (r PhoneCall) ToPhoneCall() domain.PhoneCallRequest {
	return domain.PhoneCallRequest{
		ID:          r.ID,
		SessionID:   r.SessionID,
		RequesterID: r.RequesterID,
		Status:      domain.PhoneCallStatus(r.Status),
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
		RespondedAt: r.RespondedAt,
		InitiatedAt: r.InitiatedAt,
		CompletedAt: r.CompletedAt,
	}
}

// Device is the wire form of an active-session arbitration record.
type Device struct {
	UserID       string    `json:"user_id"`
	SessionToken string    `json:"session_token"`
	DeviceInfo   string    `json:"device_info,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// FromDevice converts a domain record to its wire form.
func FromDevice(r domain.ActiveSessionRecord) Device {
	return Device{
		UserID:       r.UserID,
		SessionToken: r.SessionToken,
		DeviceInfo:   r.DeviceInfo,
		UpdatedAt:    r.UpdatedAt,
	}
}

// ToDevice converts a wire record back to its domain form.
func (d Device) ToDevice() domain.ActiveSessionRecord {
	return domain.ActiveSessionRecord{
		UserID:       d.UserID,
		SessionToken: d.SessionToken,
		DeviceInfo:   d.DeviceInfo,
		UpdatedAt:    d.UpdatedAt,
	}
}

// StartSessionRequest starts or reuses the caller's open session.
type StartSessionRequest struct {
	UserID   string `json:"user_id"`
	ForceNew bool   `json:"force_new,omitempty"`
}

// SendMessageRequest submits one message to a session.
type SendMessageRequest struct {
	SessionID       string         `json:"session_id"`
	SenderID        string         `json:"sender_id"`
	SenderRole      string         `json:"sender_role"`
	Kind            string         `json:"kind"`
	Content         string         `json:"content"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ClientMessageID string         `json:"client_message_id,omitempty"`
}

// SendMessageResult carries the confirmed message and, when the send changed
// session state (e.g. a specialist's first reply flipped waiting to active),
// the updated session snapshot.
type SendMessageResult struct {
	Message Message  `json:"message"`
	Session *Session `json:"session,omitempty"`
}

// EndSessionRequest closes a session.
type EndSessionRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Reason    string `json:"reason,omitempty"`
}

// MarkReadRequest marks counterpart messages in a session as read.
type MarkReadRequest struct {
	SessionID string `json:"session_id"`
	ReaderID  string `json:"reader_id"`
}

// PhoneCallCreateRequest opens a phone-call handshake on a session.
type PhoneCallCreateRequest struct {
	SessionID   string `json:"session_id"`
	RequesterID string `json:"requester_id"`
}

// PhoneCallRespondRequest resolves a pending phone-call handshake.
type PhoneCallRespondRequest struct {
	RequestID string `json:"request_id"`
	Accept    bool   `json:"accept"`
}

// RegisterDeviceRequest claims single-session ownership for a browsing context.
type RegisterDeviceRequest struct {
	UserID       string `json:"user_id"`
	SessionToken string `json:"session_token"`
	DeviceInfo   string `json:"device_info,omitempty"`
}

// LogoutRequest releases single-session ownership if the caller still holds it.
type LogoutRequest struct {
	UserID       string `json:"user_id"`
	SessionToken string `json:"session_token"`
}
