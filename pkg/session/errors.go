package session

import (
	"errors"
	"fmt"
)

// Error is a session error with a stable code.
//
// Errors compare by code, so a copy returned by WithDetails still matches
// its sentinel under errors.Is.
type Error struct {
	Code    string // Error code (e.g., "BQ-SESS-4001")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func newError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details string) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *Error) WithCause(cause error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsError reports whether err is a session Error with the given code.
// An empty code matches any session Error.
func IsError(err error, code string) bool {
	var se *Error
	if errors.As(err, &se) {
		if code == "" {
			return true
		}
		return se.Code == code
	}
	return false
}

// ErrorCode extracts the code from a session Error, or "".
func ErrorCode(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// ============================================================================
// Configuration errors, surfaced to the caller immediately.
// ============================================================================

var (
	// ErrInvalidEncryptionKey indicates an encryption key that is not 16, 24
	// or 32 bytes long, or that the configured cipher does not accept.
	ErrInvalidEncryptionKey = newError("BQ-SESS-4001", "invalid encryption key")

	// ErrInvalidEnvironment indicates an environment outside the allow-list.
	ErrInvalidEnvironment = newError("BQ-SESS-4002", "invalid environment")

	// ErrNoEncryptionKey indicates an operation that needs the encryption
	// key ran before one was configured.
	ErrNoEncryptionKey = newError("BQ-SESS-4003", "no encryption key set")
)

// ============================================================================
// State errors
// ============================================================================

var (
	// ErrNoUserInfo indicates user data was requested before a session
	// was created.
	ErrNoUserInfo = newError("BQ-SESS-4004", "no user info present on this session")

	// ErrUnknownUserKind indicates user info that is neither a person nor
	// a company.
	ErrUnknownUserKind = newError("BQ-SESS-4005", "unknown user kind")

	// ErrHandshakeOrder indicates a handshake result applied before its
	// prerequisite step.
	ErrHandshakeOrder = newError("BQ-SESS-4006", "handshake step out of order")

	// ErrNoKeypair indicates an operation that needs the client keypair
	// ran before one was generated or loaded.
	ErrNoKeypair = newError("BQ-SESS-4007", "no client keypair")
)
