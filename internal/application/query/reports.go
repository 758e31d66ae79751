package query

import (
	"context"
	"fmt"

	"github.com/coophub/coop-engine/internal/application/uow"
	"github.com/coophub/coop-engine/internal/domain/access"
	"github.com/coophub/coop-engine/internal/domain/evaluation"
	"github.com/coophub/coop-engine/internal/domain/placement"
	"github.com/coophub/coop-engine/internal/domain/report"
	"github.com/coophub/coop-engine/internal/domain/shared"
)

// ListReportsQuery returns the weekly log of one placement. The owning
// student, the host company and faculty may read it.
type ListReportsQuery struct {
	Actor         access.Actor
	ApplicationID string
}

// PlacementReportsDTO is a placement with its reports and evaluation.
type PlacementReportsDTO struct {
	Application *placement.Application `json:"application"`
	Reports     []*report.WeeklyReport `json:"reports"`
	Stats       report.Stats           `json:"stats"`
	Evaluation  *evaluation.Evaluation `json:"evaluation,omitempty"`
}

// ListReportsHandler handles ListReportsQuery.
type ListReportsHandler struct {
	store uow.Store
}

// NewListReportsHandler creates a new ListReportsHandler.
func NewListReportsHandler(store uow.Store) *ListReportsHandler {
	return &ListReportsHandler{store: store}
}

// Handle executes the query.
func (h *ListReportsHandler) Handle(ctx context.Context, q ListReportsQuery) (*PlacementReportsDTO, error) {
	if err := access.Authorize(q.Actor, access.CapListReports); err != nil {
		return nil, err
	}
	repos := h.store.Reader()
	app, err := repos.Placements.GetByID(ctx, q.ApplicationID)
	if err != nil {
		return nil, err
	}
	owner := access.AnyOf(access.OwnedByStudent(app.StudentID), access.OwnedByCompany(app.CompanyID))
	if err := access.Authorize(q.Actor, access.CapListReports, owner); err != nil {
		return nil, err
	}

	reports, err := repos.Reports.ListByApplication(ctx, app.ID)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	dto := &PlacementReportsDTO{Application: app, Reports: reports}
	for _, r := range reports {
		dto.Stats.Total++
		if r.Status == report.StatusPending {
			dto.Stats.Pending++
		}
	}

	ev, err := repos.Evaluations.GetByApplication(ctx, app.ID)
	switch {
	case err == nil:
		dto.Evaluation = ev
	case !shared.IsNotFound(err):
		return nil, fmt.Errorf("load evaluation: %w", err)
	}
	return dto, nil
}
