// Package errs provides the unified error type used across all of dbwhisper.
//
// Every subsystem (database, schema, vector, llm, …) wraps its native errors
// into *errs.Error before returning them to callers. Callers use the Is*
// predicates to handle errors without importing driver-specific packages.
//
// Usage:
//
//	// In a driver, wrap native errors:
//	return errs.Wrap(errs.ErrKindTimeout, "catalog query timed out", pgErr)
//
//	// In a caller, check error kind:
//	if errs.IsConfiguration(err) {
//	    log.Fatal(err.Error())
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
// All backends (Postgres, MySQL, the vector index, the completion
// providers, …) map their native errors to one of these kinds, giving
// callers a single consistent API.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindNotFound                 // no rows, no table, no index
	ErrKindConnectionFailed         // cannot reach the backend
	ErrKindTimeout                  // context deadline / cancellation
	ErrKindIntrospection            // catalog unreachable or schema unreadable
	ErrKindRetrieval                // vector index unavailable or malformed response
	ErrKindGeneration               // completion backend failure
	ErrKindConfiguration            // missing credential, unknown provider, bad config file
	ErrKindQueryFailed              // SQL or storage operation error
	ErrKindInvalidInput             // bad arguments from the caller
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindIntrospection:
		return "introspection_failed"
	case ErrKindRetrieval:
		return "retrieval_failed"
	case ErrKindGeneration:
		return "generation_failed"
	case ErrKindConfiguration:
		return "configuration_error"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all dbwhisper subsystems.
// Drivers produce it; callers inspect it via the Is* predicates below.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// IsNotFound reports whether err represents a "not found" result
// (no rows, missing table, an index that was never built, …).
func IsNotFound(err error) bool {
	return kindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return kindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return kindOf(err) == ErrKindConnectionFailed
}

// IsIntrospection reports whether err came from schema extraction
// (catalog unreachable, zero recoverable tables, …).
func IsIntrospection(err error) bool {
	return kindOf(err) == ErrKindIntrospection
}

// IsRetrieval reports whether err came from the vector index
// (store unavailable, embedding backend unreachable, …).
func IsRetrieval(err error) bool {
	return kindOf(err) == ErrKindRetrieval
}

// IsGeneration reports whether err came from the completion backend.
func IsGeneration(err error) bool {
	return kindOf(err) == ErrKindGeneration
}

// IsConfiguration reports whether err is a construction-time
// misconfiguration (missing credential, unknown provider identifier).
// These are fatal and surface before any request is served.
func IsConfiguration(err error) bool {
	return kindOf(err) == ErrKindConfiguration
}

// IsQueryFailed reports whether err is a backend operation failure
// (SQL execution error, storage I/O error, …).
func IsQueryFailed(err error) bool {
	return kindOf(err) == ErrKindQueryFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return kindOf(err) == ErrKindInvalidInput
}

// kindOf extracts the ErrKind from any error in the chain.
func kindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
