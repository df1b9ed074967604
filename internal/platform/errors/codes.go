// Package errors provides structured error handling for the sync subsystem.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Session errors
	CodeSessionUserMissing Code = "SESSION_USER_MISSING"
	CodeSessionNotFound    Code = "SESSION_NOT_FOUND"
	CodeSessionEnded       Code = "SESSION_ENDED"
	CodeNoOpenSession      Code = "NO_OPEN_SESSION"

	// Message errors
	CodeMessageEmptyContent  Code = "MESSAGE_EMPTY_CONTENT"
	CodeMessageInvalidKind   Code = "MESSAGE_INVALID_KIND"
	CodeMessageInvalidRole   Code = "MESSAGE_INVALID_ROLE"
	CodeMessageSenderMissing Code = "MESSAGE_SENDER_MISSING"

	// Phone-call handshake errors
	CodePhoneCallPendingExists Code = "PHONE_CALL_PENDING_EXISTS"
	CodePhoneCallNotFound      Code = "PHONE_CALL_NOT_FOUND"
	CodePhoneCallNotActionable Code = "PHONE_CALL_NOT_ACTIONABLE"
	CodePhoneCallExpired       Code = "PHONE_CALL_EXPIRED"

	// Device arbitration errors
	CodeDeviceUserMissing  Code = "DEVICE_USER_MISSING"
	CodeDeviceTokenMissing Code = "DEVICE_TOKEN_MISSING"
	CodeDeviceNotFound     Code = "DEVICE_NOT_FOUND"

	// Auth errors
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeForbidden       Code = "FORBIDDEN"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
	CodeConflict Code = "CONFLICT"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeSessionUserMissing,
		CodeMessageEmptyContent,
		CodeMessageInvalidKind,
		CodeMessageInvalidRole,
		CodeMessageSenderMissing,
		CodeDeviceUserMissing,
		CodeDeviceTokenMissing:
		return codes.InvalidArgument

	// NotFound - missing records
	case CodeSessionNotFound,
		CodeNoOpenSession,
		CodePhoneCallNotFound,
		CodeDeviceNotFound,
		CodeNotFound:
		return codes.NotFound

	// FailedPrecondition - state disallows the operation
	case CodeSessionEnded,
		CodePhoneCallNotActionable,
		CodePhoneCallExpired:
		return codes.FailedPrecondition

	// AlreadyExists - uniqueness conflicts
	case CodePhoneCallPendingExists,
		CodeConflict:
		return codes.AlreadyExists

	case CodeUnauthenticated:
		return codes.Unauthenticated
	case CodeForbidden:
		return codes.PermissionDenied

	default:
		return codes.Internal
	}
}
