package command

import (
	"context"

	"github.com/coophub/coop-engine/internal/application/uow"
	"github.com/coophub/coop-engine/internal/domain/access"
	"github.com/coophub/coop-engine/internal/domain/placement"
	"github.com/coophub/coop-engine/internal/domain/shared"
	"github.com/coophub/coop-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// VERIFY JOB COMMAND
// Faculty approve or reject a PENDING application. Approval fails while the
// student already holds another APPROVED application.
// ══════════════════════════════════════════════════════════════════════════════

// VerifyJobCommand records a faculty decision on an application.
type VerifyJobCommand struct {
	Actor         access.Actor     `json:"-"`
	ApplicationID string           `json:"application_id" validate:"required"`
	Decision      placement.Status `json:"decision" validate:"required,oneof=APPROVED REJECTED"`
	Note          string           `json:"note" validate:"max=2000"`
}

// VerifyJobResult contains the updated application.
type VerifyJobResult struct {
	Application *placement.Application
	Events      []shared.Event
}

// VerifyJobHandler handles VerifyJobCommand.
type VerifyJobHandler struct {
	handler
}

// NewVerifyJobHandler creates a new VerifyJobHandler.
func NewVerifyJobHandler(d Deps) *VerifyJobHandler {
	return &VerifyJobHandler{handler: newHandler(d, "verify_job")}
}

// Handle executes the command.
func (h *VerifyJobHandler) Handle(ctx context.Context, cmd VerifyJobCommand) (*VerifyJobResult, error) {
	if err := access.Authorize(cmd.Actor, access.CapVerifyJob); err != nil {
		return nil, h.reject(cmd.Actor, err)
	}
	if err := validateCommand("placement", "Verify", cmd); err != nil {
		return nil, h.reject(cmd.Actor, err)
	}

	var (
		app  *placement.Application
		from placement.Status
	)
	err := h.store.Atomic(ctx, func(ctx context.Context, repos uow.Repositories) error {
		peek, err := repos.Placements.GetByID(ctx, cmd.ApplicationID)
		if err != nil {
			return err
		}
		if err := repos.Placements.LockStudent(ctx, peek.StudentID); err != nil {
			return err
		}
		a, err := repos.Placements.GetForUpdate(ctx, cmd.ApplicationID)
		if err != nil {
			return err
		}

		if cmd.Decision == placement.StatusApproved {
			other, err := repos.Placements.HasOtherApproved(ctx, a.StudentID, a.ID)
			if err != nil {
				return err
			}
			if other {
				return shared.ErrAlreadyPlaced
			}
		}

		from = a.Status
		if err := a.Verify(cmd.Decision, cmd.Note, h.now()); err != nil {
			return err
		}
		if err := repos.Placements.Update(ctx, a); err != nil {
			return err
		}
		app = a
		return nil
	})
	if err != nil {
		return nil, h.reject(cmd.Actor, err)
	}

	result := &VerifyJobResult{
		Application: app,
		Events: []shared.Event{
			shared.NewPlacementEvent(shared.EventPlacementVerified, app.ID, app.StudentID.String(),
				companyIDString(app), string(from), string(app.Status)).WithNote(app.TeacherNote),
		},
	}
	h.publish(result.Events)

	h.log.Info("job application verified",
		logger.StudentID(app.StudentID.String()),
		logger.PlacementID(app.ID),
		logger.String("status", string(app.Status)),
	)
	return result, nil
}

func companyIDString(a *placement.Application) string {
	if a.CompanyID == nil {
		return ""
	}
	return a.CompanyID.String()
}
