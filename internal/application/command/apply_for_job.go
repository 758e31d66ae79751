package command

import (
	"context"
	"time"

	"github.com/coophub/coop-engine/internal/application/uow"
	"github.com/coophub/coop-engine/internal/domain/access"
	"github.com/coophub/coop-engine/internal/domain/company"
	"github.com/coophub/coop-engine/internal/domain/placement"
	"github.com/coophub/coop-engine/internal/domain/shared"
	"github.com/coophub/coop-engine/internal/domain/training"
	"github.com/coophub/coop-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLY FOR JOB COMMAND
// Creates a PENDING placement. Eligibility, the live-application check, the
// company resolution and the insert all run in one transaction under the
// student's placement lock.
// ══════════════════════════════════════════════════════════════════════════════

// ApplyForJobCommand asks for a placement at a company given by id or name.
type ApplyForJobCommand struct {
	Actor       access.Actor     `json:"-"`
	CompanyID   shared.CompanyID `json:"company_id"`
	CompanyName string           `json:"company_name" validate:"max=255"`

	Position              string    `json:"position" validate:"required,max=255"`
	Location              string    `json:"location" validate:"required,max=500"`
	SupervisorName        string    `json:"supervisor_name" validate:"required,max=255"`
	SupervisorPhone       string    `json:"supervisor_phone" validate:"max=50"`
	StartDate             time.Time `json:"start_date" validate:"required"`
	EndDate               time.Time `json:"end_date" validate:"required,gtefield=StartDate"`
	Semester              string    `json:"semester" validate:"max=20"`
	Accommodation         string    `json:"accommodation" validate:"max=500"`
	EmergencyContactName  string    `json:"emergency_contact_name" validate:"max=255"`
	EmergencyContactPhone string    `json:"emergency_contact_phone" validate:"max=50"`
}

func (c ApplyForJobCommand) details() placement.Details {
	return placement.Details{
		Position:              c.Position,
		Location:              c.Location,
		SupervisorName:        c.SupervisorName,
		SupervisorPhone:       c.SupervisorPhone,
		StartDate:             c.StartDate,
		EndDate:               c.EndDate,
		Semester:              c.Semester,
		Accommodation:         c.Accommodation,
		EmergencyContactName:  c.EmergencyContactName,
		EmergencyContactPhone: c.EmergencyContactPhone,
	}
}

// ApplyForJobResult contains the new application and its company.
type ApplyForJobResult struct {
	Application    *placement.Application
	Company        *company.Company
	CompanyCreated bool
	ApprovedHours  int
	Events         []shared.Event
}

// ApplyForJobHandler handles ApplyForJobCommand.
type ApplyForJobHandler struct {
	handler
}

// NewApplyForJobHandler creates a new ApplyForJobHandler.
func NewApplyForJobHandler(d Deps) *ApplyForJobHandler {
	return &ApplyForJobHandler{handler: newHandler(d, "apply_for_job")}
}

// Handle executes the command.
func (h *ApplyForJobHandler) Handle(ctx context.Context, cmd ApplyForJobCommand) (*ApplyForJobResult, error) {
	actor := cmd.Actor
	if err := access.Authorize(actor, access.CapApplyForJob, access.OwnedByStudent(actor.StudentID)); err != nil {
		return nil, h.reject(actor, err)
	}
	if err := validateCommand("placement", "Apply", cmd); err != nil {
		return nil, h.reject(actor, err)
	}
	ref := company.Reference{ID: cmd.CompanyID, Name: cmd.CompanyName}
	if ref.IsZero() {
		return nil, h.reject(actor, shared.ErrCompanyRefRequired)
	}
	details := cmd.details()

	studentID := actor.StudentID
	result := &ApplyForJobResult{}
	err := h.store.Atomic(ctx, func(ctx context.Context, repos uow.Repositories) error {
		if err := repos.Placements.LockStudent(ctx, studentID); err != nil {
			return err
		}

		hours, err := repos.Training.ApprovedHourSum(ctx, studentID)
		if err != nil {
			return err
		}
		if err := training.CheckEligibility(hours, h.settings.RequiredHours); err != nil {
			return err
		}

		if _, err := repos.Placements.FindLive(ctx, studentID); err == nil {
			return shared.ErrActivePlacement
		} else if !shared.IsNotFound(err) {
			return err
		}

		now := h.now()
		co, created, err := company.Resolve(ctx, repos.Companies, ref, company.Contact{
			Address:       details.Location,
			ContactPerson: details.SupervisorName,
			ContactPhone:  details.SupervisorPhone,
		}, now)
		if err != nil {
			return err
		}

		app, err := placement.NewApplication(studentID, co.ID, co.Name, details, h.settings.Calendar, now)
		if err != nil {
			return err
		}
		if err := repos.Placements.Create(ctx, app); err != nil {
			return err
		}

		result.Application = app
		result.Company = co
		result.CompanyCreated = created
		result.ApprovedHours = hours
		return nil
	})
	if err != nil {
		return nil, h.reject(actor, err)
	}

	app := result.Application
	if result.CompanyCreated {
		result.Events = append(result.Events, shared.NewCompanyEvent(shared.EventCompanyCreated, result.Company.ID.String(), result.Company.Name))
	}
	result.Events = append(result.Events, shared.NewPlacementEvent(
		shared.EventPlacementApplied, app.ID, app.StudentID.String(), result.Company.ID.String(), "", string(app.Status)))
	h.publish(result.Events)

	h.log.Info("job application created",
		logger.StudentID(studentID.String()),
		logger.PlacementID(app.ID),
		logger.CompanyID(result.Company.ID.String()),
		logger.Bool("company_created", result.CompanyCreated),
		logger.Int("academic_year", app.AcademicYear),
	)
	return result, nil
}
