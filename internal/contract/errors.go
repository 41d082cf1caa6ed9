package contract

import (
	"errors"
	"fmt"
)

// Error is the structured error crossing every component boundary in the
// harness. Engine-internal failures must be mapped to one of these kinds
// before leaving the adapter; raw internals never leak through the contract.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Message is a human-readable description.
	Message string

	// Field names the offending request field (validation errors).
	Field string

	// Engine identifies the adapter (scope violations).
	Engine string

	// RunID identifies the affected run (not-found, duplicate-id).
	RunID string

	// SnapshotID identifies the affected snapshot (not-found).
	SnapshotID string
}

// Kind categorizes contract errors.
type Kind string

const (
	// KindValidation indicates a malformed request or result. Never
	// retried automatically.
	KindValidation Kind = "VALIDATION"

	// KindScopeViolation indicates an adapter cannot legally handle the
	// request shape. Surfaced, not retried, never silently degraded.
	KindScopeViolation Kind = "SCOPE_VIOLATION"

	// KindNotFound indicates a missing run id, snapshot id, or experiment.
	KindNotFound Kind = "NOT_FOUND"

	// KindDuplicateRunID indicates a write-once violation.
	KindDuplicateRunID Kind = "DUPLICATE_RUN_ID"

	// KindStructuralMismatch indicates two results cannot be compared at
	// all. Distinct from a normal non-equivalent verdict.
	KindStructuralMismatch Kind = "STRUCTURAL_MISMATCH"
)

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("%s: %s (field=%s)", e.Kind, e.Message, e.Field)
	case e.Engine != "":
		return fmt.Sprintf("%s: %s (engine=%s)", e.Kind, e.Message, e.Engine)
	case e.RunID != "":
		return fmt.Sprintf("%s: %s (run_id=%s)", e.Kind, e.Message, e.RunID)
	case e.SnapshotID != "":
		return fmt.Sprintf("%s: %s (snapshot_id=%s)", e.Kind, e.Message, e.SnapshotID)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

// NewValidationError creates a validation error for a request field.
func NewValidationError(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

// NewScopeViolationError creates a scope violation for an adapter.
func NewScopeViolationError(engine, message string) *Error {
	return &Error{Kind: KindScopeViolation, Engine: engine, Message: message}
}

// NewRunNotFoundError creates a not-found error for a run id.
func NewRunNotFoundError(runID string) *Error {
	return &Error{Kind: KindNotFound, RunID: runID, Message: "run not found"}
}

// NewSnapshotNotFoundError creates a not-found error for a snapshot id.
func NewSnapshotNotFoundError(snapshotID string) *Error {
	return &Error{Kind: KindNotFound, SnapshotID: snapshotID, Message: "snapshot not found"}
}

// NewDuplicateRunIDError creates a write-once violation error. The existing
// record is unaffected; the caller must pick a new id or treat the run as
// already saved.
func NewDuplicateRunIDError(runID string) *Error {
	return &Error{Kind: KindDuplicateRunID, RunID: runID, Message: "run id already exists"}
}

// NewStructuralMismatchError creates a harness-level incomparability error.
func NewStructuralMismatchError(message string) *Error {
	return &Error{Kind: KindStructuralMismatch, Message: message}
}

// KindOf returns the contract error kind, or "" for other errors.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// IsValidationError reports whether err is a validation error.
func IsValidationError(err error) bool {
	return KindOf(err) == KindValidation
}

// IsScopeViolation reports whether err is a scope violation.
func IsScopeViolation(err error) bool {
	return KindOf(err) == KindScopeViolation
}

// IsNotFound reports whether err is a missing run, snapshot, or experiment.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsDuplicateRunID reports whether err is a write-once violation.
func IsDuplicateRunID(err error) bool {
	return KindOf(err) == KindDuplicateRunID
}

// IsStructuralMismatch reports whether err marks incomparable results.
func IsStructuralMismatch(err error) bool {
	return KindOf(err) == KindStructuralMismatch
}
