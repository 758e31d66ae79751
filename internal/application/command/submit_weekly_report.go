package command

import (
	"context"

	"github.com/coophub/coop-engine/internal/application/uow"
	"github.com/coophub/coop-engine/internal/domain/access"
	"github.com/coophub/coop-engine/internal/domain/placement"
	"github.com/coophub/coop-engine/internal/domain/report"
	"github.com/coophub/coop-engine/internal/domain/shared"
	"github.com/coophub/coop-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUBMIT WEEKLY REPORT COMMAND
// ══════════════════════════════════════════════════════════════════════════════

// SubmitWeeklyReportCommand logs one week of an APPROVED placement.
type SubmitWeeklyReportCommand struct {
	Actor              access.Actor `json:"-"`
	ApplicationID      string       `json:"application_id" validate:"required"`
	WeekNumber         int          `json:"week_number" validate:"gt=0,lte=104"`
	WorkSummary        string       `json:"work_summary" validate:"required,max=10000"`
	Problems           string       `json:"problems" validate:"max=10000"`
	KnowledgeGained    string       `json:"knowledge_gained" validate:"max=10000"`
	SupervisorFeedback string       `json:"supervisor_feedback" validate:"max=10000"`
}

// SubmitWeeklyReportResult contains the created report.
type SubmitWeeklyReportResult struct {
	Report *report.WeeklyReport
	Events []shared.Event
}

// SubmitWeeklyReportHandler handles SubmitWeeklyReportCommand.
type SubmitWeeklyReportHandler struct {
	handler
}

// NewSubmitWeeklyReportHandler creates a new SubmitWeeklyReportHandler.
func NewSubmitWeeklyReportHandler(d Deps) *SubmitWeeklyReportHandler {
	return &SubmitWeeklyReportHandler{handler: newHandler(d, "submit_weekly_report")}
}

// Handle executes the command.
func (h *SubmitWeeklyReportHandler) Handle(ctx context.Context, cmd SubmitWeeklyReportCommand) (*SubmitWeeklyReportResult, error) {
	if err := access.Authorize(cmd.Actor, access.CapSubmitReport); err != nil {
		return nil, h.reject(cmd.Actor, err)
	}
	if err := validateCommand("report", "Submit", cmd); err != nil {
		return nil, h.reject(cmd.Actor, err)
	}

	var rep *report.WeeklyReport
	err := h.store.Atomic(ctx, func(ctx context.Context, repos uow.Repositories) error {
		app, err := repos.Placements.GetForUpdate(ctx, cmd.ApplicationID)
		if err != nil {
			return err
		}
		if err := access.Authorize(cmd.Actor, access.CapSubmitReport, access.OwnedByStudent(app.StudentID)); err != nil {
			return err
		}
		if app.Status != placement.StatusApproved {
			return shared.ErrPlacementNotActive
		}

		exists, err := repos.Reports.ExistsForWeek(ctx, app.ID, cmd.WeekNumber)
		if err != nil {
			return err
		}
		if exists {
			return shared.ErrWeekSubmitted
		}

		r, err := report.NewWeeklyReport(app.ID, cmd.WeekNumber, report.Content{
			WorkSummary:        cmd.WorkSummary,
			Problems:           cmd.Problems,
			KnowledgeGained:    cmd.KnowledgeGained,
			SupervisorFeedback: cmd.SupervisorFeedback,
		}, h.now())
		if err != nil {
			return err
		}
		if err := repos.Reports.Create(ctx, r); err != nil {
			return err
		}
		rep = r
		return nil
	})
	if err != nil {
		return nil, h.reject(cmd.Actor, err)
	}

	result := &SubmitWeeklyReportResult{
		Report: rep,
		Events: []shared.Event{
			shared.NewReportEvent(shared.EventReportSubmitted, rep.ID, rep.ApplicationID, rep.WeekNumber),
		},
	}
	h.publish(result.Events)

	h.log.Info("weekly report submitted",
		logger.PlacementID(rep.ApplicationID),
		logger.ReportID(rep.ID),
		logger.Int("week", rep.WeekNumber),
	)
	return result, nil
}
