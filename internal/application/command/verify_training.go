package command

import (
	"context"

	"github.com/coophub/coop-engine/internal/application/uow"
	"github.com/coophub/coop-engine/internal/domain/access"
	"github.com/coophub/coop-engine/internal/domain/shared"
	"github.com/coophub/coop-engine/internal/domain/training"
	"github.com/coophub/coop-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// VERIFY TRAINING COMMAND
// Faculty approve or reject a training record. Decided records may be
// decided again; the approved hour sum follows the latest decision.
// ══════════════════════════════════════════════════════════════════════════════

// VerifyTrainingCommand records a faculty decision on a training record.
type VerifyTrainingCommand struct {
	Actor    access.Actor    `json:"-"`
	RecordID string          `json:"record_id" validate:"required"`
	Decision training.Status `json:"decision" validate:"required,oneof=APPROVED REJECTED"`

	// ApprovedHours overrides the credited hours on approval. Nil credits
	// the requested hours.
	ApprovedHours *int   `json:"approved_hours" validate:"omitempty,gte=0"`
	Note          string `json:"note" validate:"max=2000"`
}

// VerifyTrainingResult contains the updated record.
type VerifyTrainingResult struct {
	Record *training.Record
	Events []shared.Event
}

// VerifyTrainingHandler handles VerifyTrainingCommand.
type VerifyTrainingHandler struct {
	handler
}

// NewVerifyTrainingHandler creates a new VerifyTrainingHandler.
func NewVerifyTrainingHandler(d Deps) *VerifyTrainingHandler {
	return &VerifyTrainingHandler{handler: newHandler(d, "verify_training")}
}

// Handle executes the command.
func (h *VerifyTrainingHandler) Handle(ctx context.Context, cmd VerifyTrainingCommand) (*VerifyTrainingResult, error) {
	if err := access.Authorize(cmd.Actor, access.CapVerifyTraining); err != nil {
		return nil, h.reject(cmd.Actor, err)
	}
	if err := validateCommand("training", "Verify", cmd); err != nil {
		return nil, h.reject(cmd.Actor, err)
	}

	opts := training.VerifyOptions{EnforceCeiling: h.settings.EnforceHourCeiling}
	var record *training.Record
	err := h.store.Atomic(ctx, func(ctx context.Context, repos uow.Repositories) error {
		r, err := repos.Training.GetForUpdate(ctx, cmd.RecordID)
		if err != nil {
			return err
		}
		if err := r.Verify(cmd.Decision, cmd.ApprovedHours, cmd.Note, opts, h.now()); err != nil {
			return err
		}
		if err := repos.Training.Update(ctx, r); err != nil {
			return err
		}
		record = r
		return nil
	})
	if err != nil {
		return nil, h.reject(cmd.Actor, err)
	}

	result := &VerifyTrainingResult{
		Record: record,
		Events: []shared.Event{
			shared.NewTrainingVerifiedEvent(record.ID, record.StudentID.String(), string(record.Status), record.ApprovedHours),
		},
	}
	h.publish(result.Events)

	h.log.Info("training verified",
		logger.StudentID(record.StudentID.String()),
		logger.String("training_id", record.ID),
		logger.String("status", string(record.Status)),
		logger.Int("approved_hours", record.ApprovedHours),
	)
	return result, nil
}
