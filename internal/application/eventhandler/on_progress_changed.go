// Package eventhandler contains subscribers that react to committed domain
// events. Handlers only touch derived state such as caches; they never
// change workflow state.
package eventhandler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coophub/coop-engine/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON PROGRESS CHANGED HANDLER
// Drops a student's cached training progress whenever a training record or
// one of their applications changes.
// ═══════════════════════════════════════════════════════════════════════════

// ProgressInvalidator is the slice of the progress cache this handler needs.
type ProgressInvalidator interface {
	InvalidateProgress(ctx context.Context, studentID string) error
}

// ProgressEvents are the event types that change a student's progress view.
var ProgressEvents = []shared.EventType{
	shared.EventTrainingSubmitted,
	shared.EventTrainingVerified,
	shared.EventPlacementApplied,
	shared.EventPlacementVerified,
	shared.EventPlacementCancelled,
	shared.EventPlacementCompleted,
}

// OnProgressChangedHandler invalidates cached progress.
type OnProgressChangedHandler struct {
	cache   ProgressInvalidator
	logger  *slog.Logger
	timeout time.Duration
}

// NewOnProgressChangedHandler creates the handler.
func NewOnProgressChangedHandler(cache ProgressInvalidator, logger *slog.Logger) *OnProgressChangedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnProgressChangedHandler{
		cache:   cache,
		logger:  logger.With("handler", "on_progress_changed"),
		timeout: 2 * time.Second,
	}
}

// Register subscribes the handler to every progress-affecting event.
func (h *OnProgressChangedHandler) Register(bus shared.EventSubscriber) error {
	for _, t := range ProgressEvents {
		if err := bus.Subscribe(t, h.Handle); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
	}
	return nil
}

// Handle implements shared.EventHandler. Events reconstructed from the
// Redis bus only carry a payload, so the student id is read from there.
func (h *OnProgressChangedHandler) Handle(event shared.Event) error {
	studentID, _ := event.Payload()["student_id"].(string)
	if studentID == "" {
		h.logger.Warn("event without student_id",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
		)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.cache.InvalidateProgress(ctx, studentID); err != nil {
		h.logger.Error("failed to invalidate progress",
			"student_id", studentID,
			"event_type", event.EventType(),
			"error", err,
		)
		return fmt.Errorf("invalidate progress: %w", err)
	}

	h.logger.Debug("progress invalidated",
		"student_id", studentID,
		"event_type", event.EventType(),
	)
	return nil
}
