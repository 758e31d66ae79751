// Package placement owns job applications: the one-live-placement rule, the
// status table and the academic-year stamp.
package placement

import (
	"context"
	"strings"
	"time"

	"github.com/coophub/coop-engine/internal/domain/shared"
	"github.com/coophub/coop-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: APPLICATION
// ══════════════════════════════════════════════════════════════════════════════

// Details are the student-supplied placement fields.
type Details struct {
	Position              string    `json:"position"`
	Location              string    `json:"location"`
	SupervisorName        string    `json:"supervisor_name"`
	SupervisorPhone       string    `json:"supervisor_phone"`
	StartDate             time.Time `json:"start_date"`
	EndDate               time.Time `json:"end_date"`
	Semester              string    `json:"semester"`
	Accommodation         string    `json:"accommodation"`
	EmergencyContactName  string    `json:"emergency_contact_name"`
	EmergencyContactPhone string    `json:"emergency_contact_phone"`
}

// Validate checks the required fields and the date range.
func (d Details) Validate() error {
	const op = "Apply"
	switch {
	case strings.TrimSpace(d.Position) == "":
		return shared.NewDomainError("placement", op, shared.ErrEmptyValue, "position is required")
	case strings.TrimSpace(d.Location) == "":
		return shared.NewDomainError("placement", op, shared.ErrEmptyValue, "location is required")
	case strings.TrimSpace(d.SupervisorName) == "":
		return shared.NewDomainError("placement", op, shared.ErrEmptyValue, "supervisor name is required")
	case d.StartDate.IsZero() || d.EndDate.IsZero():
		return shared.NewDomainError("placement", op, shared.ErrEmptyValue, "start and end dates are required")
	case d.EndDate.Before(d.StartDate):
		return shared.NewDomainError("placement", op, shared.ErrValueOutOfRange, "end date is before start date")
	}
	return nil
}

// Application is one internship attempt by one student.
//
// CompanyID follows the live directory row and becomes nil if that row is
// removed. CompanyNameSnapshot is fixed at creation.
type Application struct {
	ID                  string            `json:"id"`
	StudentID           shared.StudentID  `json:"student_id"`
	CompanyID           *shared.CompanyID `json:"company_id,omitempty"`
	CompanyNameSnapshot string            `json:"company_name_snapshot"`
	Details
	AcademicYear int       `json:"academic_year"`
	Status       Status    `json:"status"`
	TeacherNote  string    `json:"teacher_note"`
	CancelReason string    `json:"cancel_reason"`
	Version      int       `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewApplication creates a PENDING application at the given company. The
// academic year is derived from the start date once and never recomputed.
func NewApplication(studentID shared.StudentID, companyID shared.CompanyID, companyName string, d Details, cal timeutil.AcademicCalendar, now time.Time) (*Application, error) {
	if !studentID.IsValid() {
		return nil, shared.NewDomainError("placement", "Apply", shared.ErrEmptyValue, "student id is required")
	}
	if !d.StartDate.IsZero() {
		d.StartDate = timeutil.StartOfDay(d.StartDate)
	}
	if !d.EndDate.IsZero() {
		d.EndDate = timeutil.StartOfDay(d.EndDate)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	d.Position = strings.TrimSpace(d.Position)
	d.Location = strings.TrimSpace(d.Location)
	d.SupervisorName = strings.TrimSpace(d.SupervisorName)
	d.SupervisorPhone = strings.TrimSpace(d.SupervisorPhone)

	var cid *shared.CompanyID
	if companyID.IsValid() {
		cid = &companyID
	}
	return &Application{
		ID:                  shared.NewID(),
		StudentID:           studentID,
		CompanyID:           cid,
		CompanyNameSnapshot: companyName,
		Details:             d,
		AcademicYear:        cal.Year(d.StartDate),
		Status:              StatusPending,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

// DurationDays is the length of the placement in calendar days, both ends
// included.
func (a *Application) DurationDays() int {
	return timeutil.DaysBetween(a.StartDate, a.EndDate) + 1
}

// IsLive reports whether the application counts toward the live limit.
func (a *Application) IsLive() bool {
	return a.Status.IsLive()
}

// BelongsTo reports whether the application is at company id.
func (a *Application) BelongsTo(id shared.CompanyID) bool {
	return a.CompanyID != nil && *a.CompanyID == id
}

func (a *Application) apply(act Action, now time.Time) error {
	to, err := Next(a.Status, act)
	if err != nil {
		return err
	}
	a.Status = to
	a.UpdatedAt = now
	return nil
}

// Verify records a faculty decision. The note replaces any previous note.
// The caller checks the other-approved-row precondition.
func (a *Application) Verify(decision Status, note string, now time.Time) error {
	act, err := DecisionAction(decision)
	if err != nil {
		return err
	}
	if err := a.apply(act, now); err != nil {
		return shared.WrapError("placement", "Verify", shared.ErrInvalidState, "application is "+string(a.Status), err)
	}
	a.TeacherNote = strings.TrimSpace(note)
	return nil
}

// Cancel withdraws the application. hasEvaluation reports whether an
// evaluation row already exists for it.
func (a *Application) Cancel(reason string, hasEvaluation bool, now time.Time) error {
	if a.Status == StatusCancelled {
		return shared.ErrAlreadyCancelled
	}
	if hasEvaluation {
		return shared.ErrCancelAfterEvaluate
	}
	if err := a.apply(ActionCancel, now); err != nil {
		return shared.WrapError("placement", "Cancel", shared.ErrInvalidState, "application is "+string(a.Status), err)
	}
	reason = strings.TrimSpace(reason)
	a.CancelReason = reason
	if reason != "" {
		a.TeacherNote = shared.AppendNote(a.TeacherNote, "Cancelled by student: "+reason)
	}
	return nil
}

// CompleteOnEvaluationAck is the cascade run when faculty acknowledge the
// placement's evaluation: APPROVED moves to COMPLETED, any other status is
// left alone. It reports whether the status changed.
func (a *Application) CompleteOnEvaluationAck(now time.Time) bool {
	if a.Status != StatusApproved {
		return false
	}
	return a.apply(ActionComplete, now) == nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository is the storage contract for job applications.
type Repository interface {
	// LockStudent serializes placement writes for one student until the
	// transaction ends.
	LockStudent(ctx context.Context, studentID shared.StudentID) error

	// Create inserts a. Returns ErrActivePlacement if the storage-level live
	// uniqueness guard fires.
	Create(ctx context.Context, a *Application) error

	// GetByID returns ErrPlacementNotFound when absent.
	GetByID(ctx context.Context, id string) (*Application, error)

	// GetForUpdate is GetByID holding a row lock.
	GetForUpdate(ctx context.Context, id string) (*Application, error)

	// Update writes a when the stored version still equals a.Version and
	// bumps a.Version. A stale version yields ErrOptimisticLock.
	Update(ctx context.Context, a *Application) error

	// FindLive returns the student's PENDING or APPROVED application, or
	// ErrPlacementNotFound.
	FindLive(ctx context.Context, studentID shared.StudentID) (*Application, error)

	// HasOtherApproved reports whether the student holds an APPROVED
	// application other than excludeID.
	HasOtherApproved(ctx context.Context, studentID shared.StudentID, excludeID string) (bool, error)

	// Current returns the newest non-cancelled application, or ErrPlacementNotFound.
	Current(ctx context.Context, studentID shared.StudentID) (*Application, error)

	// ListByStudent returns all of a student's applications, newest first.
	ListByStudent(ctx context.Context, studentID shared.StudentID) ([]*Application, error)

	// ListByCompany returns applications at a company with the given status.
	ListByCompany(ctx context.Context, companyID shared.CompanyID, status Status) ([]*Application, error)

	// ListByStatus returns applications across all students, newest first.
	// An empty status lists every application.
	ListByStatus(ctx context.Context, status Status) ([]*Application, error)

	// ReassignCompany re-points every application from one company to another
	// and returns how many rows moved. Snapshots are untouched.
	ReassignCompany(ctx context.Context, from, to shared.CompanyID) (int64, error)
}
