package domain

import "time"

// SenderRole identifies who authored a message.
type SenderRole string

const (
	RoleUser       SenderRole = "user"
	RoleSpecialist SenderRole = "specialist"
	RoleSystem     SenderRole = "system"
)

// ValidRole reports whether r is a known sender role.
func ValidRole(r SenderRole) bool {
	switch r {
	case RoleUser, RoleSpecialist, RoleSystem:
		return true
	}
	return false
}

// MessageKind identifies the payload shape of a message.
type MessageKind string

const (
	KindText             MessageKind = "text"
	KindQuickAction      MessageKind = "quick_action"
	KindSystem           MessageKind = "system"
	KindPhoneCallRequest MessageKind = "phone_call_request"
)

// ValidKind reports whether k is a known message kind.
func ValidKind(k MessageKind) bool {
	switch k {
	case KindText, KindQuickAction, KindSystem, KindPhoneCallRequest:
		return true
	}
	return false
}

// ChatMessage is one message within a session.
//
// A message is either pending (a local placeholder created optimistically
// before the backend confirmed the send) or confirmed (server-assigned ID,
// server timestamp). Pending is the tag: reconciliation treats the two
// variants explicitly and a placeholder is consumed at most once.
type ChatMessage struct {
	ID              string
	SessionID       string
	SenderID        string
	SenderRole      SenderRole
	Kind            MessageKind
	Content         string
	Metadata        map[string]any
	ClientMessageID string // client-generated correlation id echoed by the server
	CreatedAt       time.Time
	IsRead          bool
	Pending         bool
}
