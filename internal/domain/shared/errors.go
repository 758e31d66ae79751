// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
// Every precondition failure surfaced by the engine carries exactly one of
// these kinds.
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrConflict is the kind for duplicate active applications, duplicate
	// week reports and duplicate evaluations.
	ErrConflict = ErrAlreadyExists

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")
	ErrIneligible      = errors.New("not eligible")

	// Authorization errors
	ErrForbidden = errors.New("forbidden")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrOptimisticLock         = errors.New("optimistic lock failure") // stale version on a guarded update
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "placement", "training", "evaluation"
	Op      string // Operation that failed, e.g., "Apply", "Verify"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// Errorf creates a domain error with a formatted message.
func Errorf(domain, op string, kind error, format string, args ...any) *DomainError {
	return NewDomainError(domain, op, kind, fmt.Sprintf(format, args...))
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Company directory errors
var (
	ErrCompanyNotFound    = NewDomainError("company", "Find", ErrNotFound, "company not found")
	ErrCompanyRefRequired = NewDomainError("company", "Resolve", ErrValidation, "company id or name is required")
	ErrCompanyReferenced  = NewDomainError("company", "Delete", ErrConflict, "company is still referenced by job applications")
	ErrSelfMerge          = NewDomainError("company", "Merge", ErrValidation, "cannot merge a company into itself")
)

// Training ledger errors
var (
	ErrTrainingNotFound = NewDomainError("training", "Find", ErrNotFound, "training record not found")
)

// Placement engine errors
var (
	ErrPlacementNotFound   = NewDomainError("placement", "Find", ErrNotFound, "job application not found")
	ErrActivePlacement     = NewDomainError("placement", "Apply", ErrConflict, "active application exists")
	ErrAlreadyPlaced       = NewDomainError("placement", "Verify", ErrConflict, "student already holds an approved application")
	ErrAlreadyCancelled    = NewDomainError("placement", "Cancel", ErrInvalidState, "application already cancelled")
	ErrCancelAfterEvaluate = NewDomainError("placement", "Cancel", ErrInvalidState, "application already evaluated")
)

// Report log errors
var (
	ErrReportNotFound     = NewDomainError("report", "Find", ErrNotFound, "weekly report not found")
	ErrPlacementNotActive = NewDomainError("report", "Submit", ErrIneligible, "placement is not active")
	ErrWeekSubmitted      = NewDomainError("report", "Submit", ErrConflict, "week already submitted")
	ErrReportLocked       = NewDomainError("report", "Acknowledge", ErrInvalidState, "report already acknowledged")
)

// Evaluation ledger errors
var (
	ErrEvaluationNotFound  = NewDomainError("evaluation", "Find", ErrNotFound, "evaluation not found")
	ErrAlreadyEvaluated    = NewDomainError("evaluation", "Create", ErrConflict, "already evaluated")
	ErrEvaluationLocked    = NewDomainError("evaluation", "Update", ErrForbidden, "already acknowledged by faculty")
	ErrEvaluationIsDraft   = NewDomainError("evaluation", "Acknowledge", ErrInvalidState, "evaluation has not been submitted")
	ErrPlacementNotOngoing = NewDomainError("evaluation", "Create", ErrInvalidState, "placement is not in progress")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsConflict checks if the error is a conflict error.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsForbidden checks if the error is an authorization error.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsIneligible checks if the error is an eligibility error.
func IsIneligible(err error) bool {
	return errors.Is(err, ErrIneligible)
}

// IsInvalidState checks if the error is an illegal state or transition.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState) || errors.Is(err, ErrStateTransition)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsRetryable checks if the operation can be retried by the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrOptimisticLock)
}

// KindOf names the error kind of err for collaborator layers that map kinds
// onto protocol codes. Unknown errors map to "Internal".
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case IsNotFound(err):
		return "NotFound"
	case IsForbidden(err):
		return "Forbidden"
	case IsIneligible(err):
		return "IneligibleError"
	case IsConflict(err):
		return "ConflictError"
	case IsInvalidState(err):
		return "InvalidStateError"
	case IsValidation(err):
		return "ValidationError"
	case IsRetryable(err):
		return "ConcurrentModification"
	default:
		return "Internal"
	}
}
