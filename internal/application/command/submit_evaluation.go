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
// SUBMIT EVALUATION COMMAND
// The company hosting an APPROVED placement files its single evaluation.
// total_score is always computed from the rubric.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitEvaluationCommand creates the evaluation of an application.
type SubmitEvaluationCommand struct {
	Actor           access.Actor                `json:"-"`
	ApplicationID   string                      `json:"application_id" validate:"required"`
	Scores          map[string]int              `json:"scores" validate:"dive,keys,required,endkeys,gte=0,lte=5"`
	Strengths       string                      `json:"strengths" validate:"max=5000"`
	Weaknesses      string                      `json:"weaknesses" validate:"max=5000"`
	Comments        string                      `json:"comments" validate:"max=5000"`
	SectionComments [evaluation.Sections]string `json:"section_comments"`

	// Draft saves without submitting.
	Draft bool `json:"draft"`
}

// SubmitEvaluationResult contains the created evaluation.
type SubmitEvaluationResult struct {
	Evaluation *evaluation.Evaluation
	Events     []shared.Event
}

// SubmitEvaluationHandler handles SubmitEvaluationCommand.
type SubmitEvaluationHandler struct {
	handler
}

// NewSubmitEvaluationHandler creates a new SubmitEvaluationHandler.
func NewSubmitEvaluationHandler(d Deps) *SubmitEvaluationHandler {
	return &SubmitEvaluationHandler{handler: newHandler(d, "submit_evaluation")}
}

// Handle executes the command.
func (h *SubmitEvaluationHandler) Handle(ctx context.Context, cmd SubmitEvaluationCommand) (*SubmitEvaluationResult, error) {
	if err := access.Authorize(cmd.Actor, access.CapCreateEvaluation); err != nil {
		return nil, h.reject(cmd.Actor, err)
	}
	if err := validateCommand("evaluation", "Create", cmd); err != nil {
		return nil, h.reject(cmd.Actor, err)
	}

	var (
		ev        *evaluation.Evaluation
		companyID string
	)
	err := h.store.Atomic(ctx, func(ctx context.Context, repos uow.Repositories) error {
		app, err := repos.Placements.GetForUpdate(ctx, cmd.ApplicationID)
		if err != nil {
			return err
		}
		if err := access.Authorize(cmd.Actor, access.CapCreateEvaluation, access.OwnedByCompany(app.CompanyID)); err != nil {
			return err
		}
		exists, err := repos.Evaluations.ExistsForApplication(ctx, app.ID)
		if err != nil {
			return err
		}
		if exists {
			return shared.ErrAlreadyEvaluated
		}
		if app.Status != placement.StatusApproved {
			return shared.ErrPlacementNotOngoing
		}

		e, err := evaluation.NewEvaluation(app.ID, cmd.Actor.UserID, cmd.Scores, evaluation.Narrative{
			Strengths:       cmd.Strengths,
			Weaknesses:      cmd.Weaknesses,
			Comments:        cmd.Comments,
			SectionComments: cmd.SectionComments,
		}, cmd.Draft, h.now())
		if err != nil {
			return err
		}
		if err := repos.Evaluations.Create(ctx, e); err != nil {
			return err
		}
		ev = e
		companyID = companyIDString(app)
		return nil
	})
	if err != nil {
		return nil, h.reject(cmd.Actor, err)
	}

	result := &SubmitEvaluationResult{
		Evaluation: ev,
		Events: []shared.Event{
			shared.NewEvaluationEvent(shared.EventEvaluationSubmitted, ev.ID, ev.ApplicationID, companyID, string(ev.Status), ev.TotalScore),
		},
	}
	h.publish(result.Events)

	h.log.Info("evaluation created",
		logger.PlacementID(ev.ApplicationID),
		logger.EvaluationID(ev.ID),
		logger.CompanyID(companyID),
		logger.String("status", string(ev.Status)),
		logger.Int("total_score", ev.TotalScore),
	)
	return result, nil
}
