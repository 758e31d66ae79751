package command

import (
	"context"

	"github.com/coophub/coop-engine/internal/application/uow"
	"github.com/coophub/coop-engine/internal/domain/access"
	"github.com/coophub/coop-engine/internal/domain/report"
	"github.com/coophub/coop-engine/internal/domain/shared"
	"github.com/coophub/coop-engine/pkg/logger"
)

// AcknowledgeReportCommand records that faculty read a weekly report.
type AcknowledgeReportCommand struct {
	Actor    access.Actor `json:"-"`
	ReportID string       `json:"report_id" validate:"required"`
	Comment  string       `json:"comment" validate:"max=5000"`
}

// AcknowledgeReportResult contains the updated report.
type AcknowledgeReportResult struct {
	Report *report.WeeklyReport
	Events []shared.Event
}

// AcknowledgeReportHandler handles AcknowledgeReportCommand.
type AcknowledgeReportHandler struct {
	handler
}

// NewAcknowledgeReportHandler creates a new AcknowledgeReportHandler.
func NewAcknowledgeReportHandler(d Deps) *AcknowledgeReportHandler {
	return &AcknowledgeReportHandler{handler: newHandler(d, "acknowledge_report")}
}

// Handle executes the command. Acknowledging again overwrites the comment
// unless reports are locked after acknowledgment.
func (h *AcknowledgeReportHandler) Handle(ctx context.Context, cmd AcknowledgeReportCommand) (*AcknowledgeReportResult, error) {
	if err := access.Authorize(cmd.Actor, access.CapAcknowledgeReport); err != nil {
		return nil, h.reject(cmd.Actor, err)
	}
	if err := validateCommand("report", "Acknowledge", cmd); err != nil {
		return nil, h.reject(cmd.Actor, err)
	}

	var rep *report.WeeklyReport
	err := h.store.Atomic(ctx, func(ctx context.Context, repos uow.Repositories) error {
		r, err := repos.Reports.GetForUpdate(ctx, cmd.ReportID)
		if err != nil {
			return err
		}
		if err := r.Acknowledge(cmd.Comment, h.settings.LockReportAfterAck, h.now()); err != nil {
			return err
		}
		if err := repos.Reports.Update(ctx, r); err != nil {
			return err
		}
		rep = r
		return nil
	})
	if err != nil {
		return nil, h.reject(cmd.Actor, err)
	}

	result := &AcknowledgeReportResult{
		Report: rep,
		Events: []shared.Event{
			shared.NewReportEvent(shared.EventReportAcknowledged, rep.ID, rep.ApplicationID, rep.WeekNumber),
		},
	}
	h.publish(result.Events)

	h.log.Info("weekly report acknowledged",
		logger.PlacementID(rep.ApplicationID),
		logger.ReportID(rep.ID),
	)
	return result, nil
}
