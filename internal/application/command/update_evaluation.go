package command

import (
	"context"

	"github.com/coophub/coop-engine/internal/application/uow"
	"github.com/coophub/coop-engine/internal/domain/access"
	"github.com/coophub/coop-engine/internal/domain/evaluation"
	"github.com/coophub/coop-engine/internal/domain/shared"
	"github.com/coophub/coop-engine/pkg/logger"
)

// UpdateEvaluationCommand edits an evaluation still open for the company.
// Nil fields and absent criteria are left as stored.
type UpdateEvaluationCommand struct {
	Actor           access.Actor   `json:"-"`
	EvaluationID    string         `json:"evaluation_id" validate:"required"`
	Scores          map[string]int `json:"scores" validate:"dive,keys,required,endkeys,gte=0,lte=5"`
	Strengths       *string        `json:"strengths" validate:"omitempty,max=5000"`
	Weaknesses      *string        `json:"weaknesses" validate:"omitempty,max=5000"`
	Comments        *string        `json:"comments" validate:"omitempty,max=5000"`
	SectionComments map[int]string `json:"section_comments"`

	// Submit promotes a DRAFT to SUBMITTED.
	Submit bool `json:"submit"`
}

// UpdateEvaluationResult contains the updated evaluation.
type UpdateEvaluationResult struct {
	Evaluation *evaluation.Evaluation
	Events     []shared.Event
}

// UpdateEvaluationHandler handles UpdateEvaluationCommand.
type UpdateEvaluationHandler struct {
	handler
}

// NewUpdateEvaluationHandler creates a new UpdateEvaluationHandler.
func NewUpdateEvaluationHandler(d Deps) *UpdateEvaluationHandler {
	return &UpdateEvaluationHandler{handler: newHandler(d, "update_evaluation")}
}

// Handle executes the command.
func (h *UpdateEvaluationHandler) Handle(ctx context.Context, cmd UpdateEvaluationCommand) (*UpdateEvaluationResult, error) {
	if err := access.Authorize(cmd.Actor, access.CapUpdateEvaluation); err != nil {
		return nil, h.reject(cmd.Actor, err)
	}
	if err := validateCommand("evaluation", "Update", cmd); err != nil {
		return nil, h.reject(cmd.Actor, err)
	}

	var (
		ev        *evaluation.Evaluation
		companyID string
	)
	err := h.store.Atomic(ctx, func(ctx context.Context, repos uow.Repositories) error {
		e, err := repos.Evaluations.GetForUpdate(ctx, cmd.EvaluationID)
		if err != nil {
			return err
		}
		app, err := repos.Placements.GetByID(ctx, e.ApplicationID)
		if err != nil {
			return err
		}
		if err := access.Authorize(cmd.Actor, access.CapUpdateEvaluation, access.OwnedByCompany(app.CompanyID)); err != nil {
			return err
		}

		patch := evaluation.NarrativePatch{
			Strengths:       cmd.Strengths,
			Weaknesses:      cmd.Weaknesses,
			Comments:        cmd.Comments,
			SectionComments: cmd.SectionComments,
		}
		if err := e.Update(cmd.Scores, patch, cmd.Submit, h.now()); err != nil {
			return err
		}
		if err := repos.Evaluations.Update(ctx, e); err != nil {
			return err
		}
		ev = e
		companyID = companyIDString(app)
		return nil
	})
	if err != nil {
		return nil, h.reject(cmd.Actor, err)
	}

	result := &UpdateEvaluationResult{
		Evaluation: ev,
		Events: []shared.Event{
			shared.NewEvaluationEvent(shared.EventEvaluationUpdated, ev.ID, ev.ApplicationID, companyID, string(ev.Status), ev.TotalScore),
		},
	}
	h.publish(result.Events)

	h.log.Info("evaluation updated",
		logger.EvaluationID(ev.ID),
		logger.String("status", string(ev.Status)),
		logger.Int("total_score", ev.TotalScore),
	)
	return result, nil
}
