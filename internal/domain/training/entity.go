// Package training owns pre-internship training records and the approved
// hour aggregate that gates placement eligibility.
package training

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coophub/coop-engine/internal/domain/shared"
)

// DefaultRequiredHours is the approved-hour threshold for applying to a job.
const DefaultRequiredHours = 30

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Status of a training record.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// transitions lists the faculty decisions legal from each status. Decided
// records may be decided again.
var transitions = map[Status]map[Status]bool{
	StatusPending:  {StatusApproved: true, StatusRejected: true},
	StatusApproved: {StatusApproved: true, StatusRejected: true},
	StatusRejected: {StatusApproved: true, StatusRejected: true},
}

// CanTransition reports whether a record in from may be verified to to.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record is one training activity logged by a student.
type Record struct {
	ID             string           `json:"id"`
	StudentID      shared.StudentID `json:"student_id"`
	Topic          string           `json:"topic"`
	RequestedHours int              `json:"requested_hours"`
	ApprovedHours  int              `json:"approved_hours"`
	Status         Status           `json:"status"`
	ProofRef       string           `json:"proof_ref"`
	TeacherNote    string           `json:"teacher_note"`
	SubmittedAt    time.Time        `json:"submitted_at"`
	CheckedAt      *time.Time       `json:"checked_at,omitempty"`
}

// NewRecord creates a PENDING record with no approved hours.
func NewRecord(studentID shared.StudentID, topic string, requestedHours int, proofRef string, now time.Time) (*Record, error) {
	const op = "Submit"
	if !studentID.IsValid() {
		return nil, shared.NewDomainError("training", op, shared.ErrEmptyValue, "student id is required")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, shared.NewDomainError("training", op, shared.ErrEmptyValue, "topic is required")
	}
	if requestedHours <= 0 {
		return nil, shared.NewDomainError("training", op, shared.ErrNegativeValue, "requested hours must be positive")
	}
	proofRef = strings.TrimSpace(proofRef)
	if proofRef == "" {
		return nil, shared.NewDomainError("training", op, shared.ErrEmptyValue, "proof reference is required")
	}
	return &Record{
		ID:             shared.NewID(),
		StudentID:      studentID,
		Topic:          topic,
		RequestedHours: requestedHours,
		ApprovedHours:  0,
		Status:         StatusPending,
		ProofRef:       proofRef,
		SubmittedAt:    now,
	}, nil
}

// VerifyOptions tune verification.
type VerifyOptions struct {
	// EnforceCeiling rejects approved hours above the requested hours.
	EnforceCeiling bool
}

// Verify applies a faculty decision. APPROVED credits approvedHours when
// given, otherwise the requested hours. REJECTED always credits zero.
func (r *Record) Verify(decision Status, approvedHours *int, note string, opts VerifyOptions, now time.Time) error {
	const op = "Verify"
	if decision != StatusApproved && decision != StatusRejected {
		return shared.Errorf("training", op, shared.ErrValidation, "decision must be APPROVED or REJECTED, got %q", decision)
	}
	if !CanTransition(r.Status, decision) {
		return shared.Errorf("training", op, shared.ErrStateTransition, "cannot move record from %s to %s", r.Status, decision)
	}

	hours := 0
	if decision == StatusApproved {
		hours = r.RequestedHours
		if approvedHours != nil {
			hours = *approvedHours
		}
		if hours < 0 {
			return shared.NewDomainError("training", op, shared.ErrNegativeValue, "approved hours cannot be negative")
		}
		if opts.EnforceCeiling && hours > r.RequestedHours {
			return shared.Errorf("training", op, shared.ErrValueOutOfRange,
				"approved hours %d exceed requested hours %d", hours, r.RequestedHours)
		}
	}

	r.Status = decision
	r.ApprovedHours = hours
	r.TeacherNote = strings.TrimSpace(note)
	r.CheckedAt = &now
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ELIGIBILITY
// ══════════════════════════════════════════════════════════════════════════════

// Shortfall returns how many approved hours are still missing.
func Shortfall(approved, required int) int {
	if approved >= required {
		return 0
	}
	return required - approved
}

// CheckEligibility fails with ErrIneligible when approved is below required.
func CheckEligibility(approved, required int) error {
	if missing := Shortfall(approved, required); missing > 0 {
		return shared.NewDomainError("training", "Eligibility", shared.ErrIneligible,
			fmt.Sprintf("%d more hours needed", missing))
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository is the storage contract for training records.
type Repository interface {
	Create(ctx context.Context, r *Record) error

	// GetByID returns ErrTrainingNotFound when absent.
	GetByID(ctx context.Context, id string) (*Record, error)

	// GetForUpdate is GetByID holding a row lock until the transaction ends.
	GetForUpdate(ctx context.Context, id string) (*Record, error)

	// Update persists status, approved hours, note and checked_at.
	Update(ctx context.Context, r *Record) error

	// ApprovedHourSum sums approved_hours over APPROVED records only.
	ApprovedHourSum(ctx context.Context, studentID shared.StudentID) (int, error)

	// ListByStudent returns a student's records, newest first.
	ListByStudent(ctx context.Context, studentID shared.StudentID) ([]*Record, error)

	// ListByStatus returns records across all students, oldest first. An
	// empty status lists every record.
	ListByStatus(ctx context.Context, status Status) ([]*Record, error)
}
