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
// SUBMIT TRAINING COMMAND
// A student logs a training activity; it waits for faculty verification.
// ══════════════════════════════════════════════════════════════════════════════

// SubmitTrainingCommand logs a training record for the calling student.
type SubmitTrainingCommand struct {
	Actor          access.Actor `json:"-"`
	Topic          string       `json:"topic" validate:"required,max=255"`
	RequestedHours int          `json:"requested_hours" validate:"gt=0"`
	ProofRef       string       `json:"proof_ref" validate:"required,max=1024"`
}

// SubmitTrainingResult contains the created record.
type SubmitTrainingResult struct {
	Record *training.Record
	Events []shared.Event
}

// SubmitTrainingHandler handles SubmitTrainingCommand.
type SubmitTrainingHandler struct {
	handler
}

// NewSubmitTrainingHandler creates a new SubmitTrainingHandler.
func NewSubmitTrainingHandler(d Deps) *SubmitTrainingHandler {
	return &SubmitTrainingHandler{handler: newHandler(d, "submit_training")}
}

// Handle executes the command.
func (h *SubmitTrainingHandler) Handle(ctx context.Context, cmd SubmitTrainingCommand) (*SubmitTrainingResult, error) {
	actor := cmd.Actor
	if err := access.Authorize(actor, access.CapSubmitTraining, access.OwnedByStudent(actor.StudentID)); err != nil {
		return nil, h.reject(actor, err)
	}
	if err := validateCommand("training", "Submit", cmd); err != nil {
		return nil, h.reject(actor, err)
	}

	record, err := training.NewRecord(actor.StudentID, cmd.Topic, cmd.RequestedHours, cmd.ProofRef, h.now())
	if err != nil {
		return nil, h.reject(actor, err)
	}

	err = h.store.Atomic(ctx, func(ctx context.Context, repos uow.Repositories) error {
		return repos.Training.Create(ctx, record)
	})
	if err != nil {
		return nil, h.reject(actor, err)
	}

	result := &SubmitTrainingResult{
		Record: record,
		Events: []shared.Event{
			shared.NewTrainingSubmittedEvent(record.ID, record.StudentID.String(), record.Topic, record.RequestedHours),
		},
	}
	h.publish(result.Events)

	h.log.Info("training submitted",
		logger.StudentID(record.StudentID.String()),
		logger.String("training_id", record.ID),
		logger.Int("requested_hours", record.RequestedHours),
	)
	return result, nil
}
