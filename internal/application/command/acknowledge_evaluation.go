package command

import (
	"context"

	"github.com/coophub/coop-engine/internal/application/uow"
	"github.com/coophub/coop-engine/internal/domain/access"
	"github.com/coophub/coop-engine/internal/domain/evaluation"
	"github.com/coophub/coop-engine/internal/domain/placement"
	"github.com/coophub/coop-engine/internal/domain/shared"
	"github.com/coophub/coop-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACKNOWLEDGE EVALUATION COMMAND
// Faculty acknowledgment locks the evaluation and, in the same transaction,
// completes the placement it belongs to.
// ══════════════════════════════════════════════════════════════════════════════

// AcknowledgeEvaluationCommand finalises an evaluation.
type AcknowledgeEvaluationCommand struct {
	Actor        access.Actor `json:"-"`
	EvaluationID string       `json:"evaluation_id" validate:"required"`
}

// AcknowledgeEvaluationResult contains the evaluation and, when the cascade
// ran, the completed application.
type AcknowledgeEvaluationResult struct {
	Evaluation *evaluation.Evaluation
	// Application is nil when the evaluation was already acknowledged.
	Application *placement.Application
	// Changed is false for a repeated acknowledgment.
	Changed   bool
	Completed bool
	Events    []shared.Event
}

// AcknowledgeEvaluationHandler handles AcknowledgeEvaluationCommand.
type AcknowledgeEvaluationHandler struct {
	handler
}

// NewAcknowledgeEvaluationHandler creates a new AcknowledgeEvaluationHandler.
func NewAcknowledgeEvaluationHandler(d Deps) *AcknowledgeEvaluationHandler {
	return &AcknowledgeEvaluationHandler{handler: newHandler(d, "acknowledge_evaluation")}
}

// Handle executes the command.
func (h *AcknowledgeEvaluationHandler) Handle(ctx context.Context, cmd AcknowledgeEvaluationCommand) (*AcknowledgeEvaluationResult, error) {
	if err := access.Authorize(cmd.Actor, access.CapAcknowledgeEvaluation); err != nil {
		return nil, h.reject(cmd.Actor, err)
	}
	if err := validateCommand("evaluation", "Acknowledge", cmd); err != nil {
		return nil, h.reject(cmd.Actor, err)
	}

	result := &AcknowledgeEvaluationResult{}
	err := h.store.Atomic(ctx, func(ctx context.Context, repos uow.Repositories) error {
		e, err := repos.Evaluations.GetForUpdate(ctx, cmd.EvaluationID)
		if err != nil {
			return err
		}
		now := h.now()
		changed, err := e.Acknowledge(now)
		if err != nil {
			return err
		}
		result.Evaluation = e
		if !changed {
			return nil
		}

		app, err := repos.Placements.GetForUpdate(ctx, e.ApplicationID)
		if err != nil {
			return err
		}
		if err := repos.Evaluations.Update(ctx, e); err != nil {
			return err
		}
		if app.CompleteOnEvaluationAck(now) {
			if err := repos.Placements.Update(ctx, app); err != nil {
				return err
			}
			result.Completed = true
		}
		result.Application = app
		result.Changed = true
		return nil
	})
	if err != nil {
		return nil, h.reject(cmd.Actor, err)
	}
	if !result.Changed {
		h.log.Debug("evaluation already acknowledged", logger.EvaluationID(result.Evaluation.ID))
		return result, nil
	}

	ev, app := result.Evaluation, result.Application
	result.Events = append(result.Events, shared.NewEvaluationEvent(
		shared.EventEvaluationAcknowledged, ev.ID, ev.ApplicationID, companyIDString(app), string(ev.Status), ev.TotalScore))
	if result.Completed {
		result.Events = append(result.Events, shared.NewPlacementEvent(
			shared.EventPlacementCompleted, app.ID, app.StudentID.String(), companyIDString(app),
			string(placement.StatusApproved), string(app.Status)))
	}
	h.publish(result.Events)

	h.log.Info("evaluation acknowledged",
		logger.EvaluationID(ev.ID),
		logger.PlacementID(app.ID),
		logger.Bool("placement_completed", result.Completed),
	)
	return result, nil
}
