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
// CANCEL JOB COMMAND
// The owning student withdraws a live application that has no evaluation.
// ══════════════════════════════════════════════════════════════════════════════

// CancelJobCommand cancels an application.
type CancelJobCommand struct {
	Actor         access.Actor `json:"-"`
	ApplicationID string       `json:"application_id" validate:"required"`
	Reason        string       `json:"reason" validate:"max=1000"`
}

// CancelJobResult contains the cancelled application.
type CancelJobResult struct {
	Application *placement.Application
	Events      []shared.Event
}

// CancelJobHandler handles CancelJobCommand.
type CancelJobHandler struct {
	handler
}

// NewCancelJobHandler creates a new CancelJobHandler.
func NewCancelJobHandler(d Deps) *CancelJobHandler {
	return &CancelJobHandler{handler: newHandler(d, "cancel_job")}
}

// Handle executes the command.
func (h *CancelJobHandler) Handle(ctx context.Context, cmd CancelJobCommand) (*CancelJobResult, error) {
	if err := access.Authorize(cmd.Actor, access.CapCancelJob); err != nil {
		return nil, h.reject(cmd.Actor, err)
	}
	if err := validateCommand("placement", "Cancel", cmd); err != nil {
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
		if err := access.Authorize(cmd.Actor, access.CapCancelJob, access.OwnedByStudent(peek.StudentID)); err != nil {
			return err
		}
		if err := repos.Placements.LockStudent(ctx, peek.StudentID); err != nil {
			return err
		}
		a, err := repos.Placements.GetForUpdate(ctx, cmd.ApplicationID)
		if err != nil {
			return err
		}

		evaluated, err := repos.Evaluations.ExistsForApplication(ctx, a.ID)
		if err != nil {
			return err
		}
		from = a.Status
		if err := a.Cancel(cmd.Reason, evaluated, h.now()); err != nil {
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

	result := &CancelJobResult{
		Application: app,
		Events: []shared.Event{
			shared.NewPlacementEvent(shared.EventPlacementCancelled, app.ID, app.StudentID.String(),
				companyIDString(app), string(from), string(app.Status)).WithNote(app.CancelReason),
		},
	}
	h.publish(result.Events)

	h.log.Info("job application cancelled",
		logger.StudentID(app.StudentID.String()),
		logger.PlacementID(app.ID),
		logger.String("from_status", string(from)),
	)
	return result, nil
}
