package domain

import "time"

// PhoneCallStatus identifies one phone-call handshake state.
type PhoneCallStatus string

const (
	PhoneCallPending  PhoneCallStatus = "pending"
	PhoneCallAccepted PhoneCallStatus = "accepted"
	PhoneCallDeclined PhoneCallStatus = "declined"
	PhoneCallExpired  PhoneCallStatus = "expired"
)

// DefaultPhoneCallTTL bounds how long a phone-call request stays actionable.
const DefaultPhoneCallTTL = 2 * time.Minute

// PhoneCallRequest is the secondary handshake entity for escalating a chat
// session to a phone call. At most one pending, non-expired request per
// session is actionable at a time.
type PhoneCallRequest struct {
	ID          string
	SessionID   string
	RequesterID string
	Status      PhoneCallStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
	RespondedAt *time.Time
	InitiatedAt *time.Time
	CompletedAt *time.Time
}

// Expired reports whether the request's deadline has passed at now.
// Expiry is a pure function of now > ExpiresAt; clients may propose expiry
// locally but the backend remains the arbiter of terminal transitions.
func (r PhoneCallRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Actionable reports whether the request can still be accepted or declined.
func (r PhoneCallRequest) Actionable(now time.Time) bool {
	return r.Status == PhoneCallPending && !r.Expired(now)
}
