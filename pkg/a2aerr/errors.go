// Package a2aerr defines the typed error kinds shared across the A2A memory
// coordination core, so callers can branch on failure class with errors.Is
// instead of string matching.
package a2aerr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error classes the core can surface.
type Kind string

const (
	InvalidConfig       Kind = "invalid_config"
	Forbidden           Kind = "forbidden"
	NotFound            Kind = "not_found"
	Backpressure        Kind = "backpressure"
	Timeout             Kind = "timeout"
	Cancelled           Kind = "cancelled"
	MalformedClock      Kind = "malformed_clock"
	CorruptBlob         Kind = "corrupt_blob"
	InvalidDelta        Kind = "invalid_delta"
	UnknownAlgorithm    Kind = "unknown_algorithm"
	QuorumUnavailable   Kind = "quorum_unavailable"
	ShardMissing        Kind = "shard_missing"
	MigrationFailed     Kind = "migration_failed"
	ConflictNeedsReview Kind = "conflict_needs_review"
	TransportError      Kind = "transport_error"
	Internal            Kind = "internal"
)

// Error is the concrete error type returned by the core. It carries a Kind so
// callers can dispatch on failure class, plus an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, a2aerr.New(kind, "")) match on Kind alone.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err, or Internal if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
