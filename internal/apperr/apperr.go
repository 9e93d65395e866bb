// Package apperr defines the caller-facing error taxonomy shared by the auth, session, verification,
// revocation and access packages. Each sentinel carries a stable code that the HTTP layer maps to a status.
package apperr

import (
	"errors"
	"fmt"
)

// Error is a sentinel with a stable machine-readable code.
type Error struct {
	code string
	msg  string
}

func (e *Error) Error() string { return e.msg }

// Code returns the stable error code (e.g. "invalid_credentials").
func (e *Error) Code() string { return e.code }

func newError(code, msg string) *Error { return &Error{code: code, msg: msg} }

var (
	ErrInvalidCredentials     = newError("invalid_credentials", "invalid credentials")
	ErrUnverifiedIdentity     = newError("unverified_identity", "identity is not verified")
	ErrTokenRevoked           = newError("token_revoked", "token has been revoked")
	ErrTokenInvalidOrExpired  = newError("token_invalid_or_expired", "token is invalid or expired")
	ErrInvalidOrExpiredCode   = newError("invalid_or_expired_code", "verification code is invalid or expired")
	ErrDuplicateIdentifier    = newError("duplicate_identifier", "identifier already in use")
	ErrModuleAccessDenied     = newError("module_access_denied", "module access denied")
	ErrLimitExceeded          = newError("limit_exceeded", "limit exceeded")
	ErrCyclicParentAssignment = newError("cyclic_parent_assignment", "parent assignment would create a cycle")
	ErrStorageUnavailable     = newError("storage_unavailable", "storage unavailable")
)

// CodeUnknown is returned by Code for errors outside the taxonomy.
const CodeUnknown = "internal"

// Code returns the taxonomy code of err or any error it wraps. Returns CodeUnknown when none matches.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return CodeUnknown
}

// storageError wraps a driver/transport failure so it matches ErrStorageUnavailable while keeping the cause.
type storageError struct {
	op    string
	cause error
}

func (e *storageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.op, ErrStorageUnavailable.msg, e.cause)
}

func (e *storageError) Unwrap() []error { return []error{ErrStorageUnavailable, e.cause} }

// Storage wraps err as a storage failure for op. Returns nil when err is nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return &storageError{op: op, cause: err}
}

// Detail wraps a taxonomy sentinel with caller-facing detail (e.g. which identifier collided).
func Detail(sentinel *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
