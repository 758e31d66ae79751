package command

import (
	"context"

	"github.com/coophub/coop-engine/internal/application/uow"
	"github.com/coophub/coop-engine/internal/domain/access"
	"github.com/coophub/coop-engine/internal/domain/company"
	"github.com/coophub/coop-engine/internal/domain/shared"
	"github.com/coophub/coop-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPANY DIRECTORY COMMANDS
// Faculty-only maintenance of the directory: private notes and merging
// duplicate rows. Application snapshots are never touched.
// ══════════════════════════════════════════════════════════════════════════════

// UpdateCompanyNotesCommand replaces the faculty notes on a company.
type UpdateCompanyNotesCommand struct {
	Actor     access.Actor     `json:"-"`
	CompanyID shared.CompanyID `json:"company_id" validate:"required"`
	Comments  string           `json:"comments" validate:"max=10000"`
}

// UpdateCompanyNotesHandler handles UpdateCompanyNotesCommand.
type UpdateCompanyNotesHandler struct {
	handler
}

// NewUpdateCompanyNotesHandler creates a new UpdateCompanyNotesHandler.
func NewUpdateCompanyNotesHandler(d Deps) *UpdateCompanyNotesHandler {
	return &UpdateCompanyNotesHandler{handler: newHandler(d, "update_company_notes")}
}

// Handle executes the command.
func (h *UpdateCompanyNotesHandler) Handle(ctx context.Context, cmd UpdateCompanyNotesCommand) (*company.Company, error) {
	if err := access.Authorize(cmd.Actor, access.CapEditCompanyNotes); err != nil {
		return nil, h.reject(cmd.Actor, err)
	}
	if err := validateCommand("company", "UpdateNotes", cmd); err != nil {
		return nil, h.reject(cmd.Actor, err)
	}

	var co *company.Company
	err := h.store.Atomic(ctx, func(ctx context.Context, repos uow.Repositories) error {
		c, err := repos.Companies.GetByID(ctx, cmd.CompanyID)
		if err != nil {
			return err
		}
		c.SetTeacherComments(cmd.Comments, h.now())
		if err := repos.Companies.UpdateTeacherComments(ctx, c); err != nil {
			return err
		}
		co = c
		return nil
	})
	if err != nil {
		return nil, h.reject(cmd.Actor, err)
	}

	h.publish([]shared.Event{shared.NewCompanyEvent(shared.EventCompanyNotesUpdated, co.ID.String(), co.Name)})
	h.log.Info("company notes updated", logger.CompanyID(co.ID.String()))
	return co, nil
}

// MergeCompaniesCommand folds a duplicate company into a canonical one.
type MergeCompaniesCommand struct {
	Actor    access.Actor     `json:"-"`
	SourceID shared.CompanyID `json:"source_id" validate:"required"`
	TargetID shared.CompanyID `json:"target_id" validate:"required"`
}

// MergeCompaniesResult reports the surviving company and how many
// applications were re-pointed.
type MergeCompaniesResult struct {
	Target *company.Company
	Moved  int64
	Events []shared.Event
}

// MergeCompaniesHandler handles MergeCompaniesCommand.
type MergeCompaniesHandler struct {
	handler
}

// NewMergeCompaniesHandler creates a new MergeCompaniesHandler.
func NewMergeCompaniesHandler(d Deps) *MergeCompaniesHandler {
	return &MergeCompaniesHandler{handler: newHandler(d, "merge_companies")}
}

// Handle executes the command.
func (h *MergeCompaniesHandler) Handle(ctx context.Context, cmd MergeCompaniesCommand) (*MergeCompaniesResult, error) {
	if err := access.Authorize(cmd.Actor, access.CapMergeCompanies); err != nil {
		return nil, h.reject(cmd.Actor, err)
	}
	if err := validateCommand("company", "Merge", cmd); err != nil {
		return nil, h.reject(cmd.Actor, err)
	}
	if cmd.SourceID == cmd.TargetID {
		return nil, h.reject(cmd.Actor, shared.ErrSelfMerge)
	}

	result := &MergeCompaniesResult{}
	err := h.store.Atomic(ctx, func(ctx context.Context, repos uow.Repositories) error {
		if _, err := repos.Companies.GetByID(ctx, cmd.SourceID); err != nil {
			return err
		}
		target, err := repos.Companies.GetByID(ctx, cmd.TargetID)
		if err != nil {
			return err
		}
		moved, err := repos.Placements.ReassignCompany(ctx, cmd.SourceID, cmd.TargetID)
		if err != nil {
			return err
		}
		if err := repos.Companies.Delete(ctx, cmd.SourceID); err != nil {
			return err
		}
		result.Target = target
		result.Moved = moved
		return nil
	})
	if err != nil {
		return nil, h.reject(cmd.Actor, err)
	}

	result.Events = []shared.Event{
		shared.NewCompanyMergedEvent(result.Target.ID.String(), result.Target.Name, cmd.SourceID.String()),
	}
	h.publish(result.Events)

	h.log.Info("companies merged",
		logger.CompanyID(result.Target.ID.String()),
		logger.String("merged_id", cmd.SourceID.String()),
		logger.Int64("applications_moved", result.Moved),
	)
	return result, nil
}
