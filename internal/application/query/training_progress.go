// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/coophub/coop-engine/internal/application/uow"
	"github.com/coophub/coop-engine/internal/domain/access"
	"github.com/coophub/coop-engine/internal/domain/placement"
	"github.com/coophub/coop-engine/internal/domain/shared"
	"github.com/coophub/coop-engine/internal/domain/training"
	"github.com/coophub/coop-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRAINING PROGRESS QUERY
// How far a student is from the approved-hour threshold, plus a summary of
// their current placement. Served from the progress cache when one is wired.
// ══════════════════════════════════════════════════════════════════════════════

// GetTrainingProgressQuery asks for one student's progress.
type GetTrainingProgressQuery struct {
	Actor     access.Actor
	StudentID shared.StudentID

	// IncludeRecords lists the student's training records. Record lists are
	// never cached.
	IncludeRecords bool
}

// PlacementSummaryDTO is the short form of a student's current application.
type PlacementSummaryDTO struct {
	ID                  string           `json:"id"`
	CompanyNameSnapshot string           `json:"company_name"`
	Position            string           `json:"position"`
	Status              placement.Status `json:"status"`
	AcademicYear        int              `json:"academic_year"`
	StartDate           time.Time        `json:"start_date"`
	EndDate             time.Time        `json:"end_date"`
	DurationDays        int              `json:"duration_days"`
}

func summarize(app *placement.Application) *PlacementSummaryDTO {
	return &PlacementSummaryDTO{
		ID:                  app.ID,
		CompanyNameSnapshot: app.CompanyNameSnapshot,
		Position:            app.Position,
		Status:              app.Status,
		AcademicYear:        app.AcademicYear,
		StartDate:           app.StartDate,
		EndDate:             app.EndDate,
		DurationDays:        app.DurationDays(),
	}
}

// ProgressDTO is the training progress read model.
type ProgressDTO struct {
	StudentID     string               `json:"student_id"`
	ApprovedHours int                  `json:"approved_hours"`
	RequiredHours int                  `json:"required_hours"`
	Percent       int                  `json:"percent"`
	Qualified     bool                 `json:"qualified"`
	Shortfall     int                  `json:"shortfall"`
	Message       string               `json:"message"`
	Placement     *PlacementSummaryDTO `json:"placement,omitempty"`
	ComputedAt    time.Time            `json:"computed_at"`

	Records []*training.Record `json:"records,omitempty"`
}

// ProgressCache stores computed progress between writes.
type ProgressCache interface {
	GetProgress(ctx context.Context, studentID string) (*ProgressDTO, error)
	SetProgress(ctx context.Context, p *ProgressDTO) error
	InvalidateProgress(ctx context.Context, studentID string) error
}

// GetTrainingProgressHandler handles GetTrainingProgressQuery.
type GetTrainingProgressHandler struct {
	store         uow.Store
	cache         ProgressCache
	requiredHours int
	log           *logger.Logger
}

// NewGetTrainingProgressHandler creates a handler. cache may be nil.
func NewGetTrainingProgressHandler(store uow.Store, cache ProgressCache, requiredHours int, log *logger.Logger) *GetTrainingProgressHandler {
	if requiredHours <= 0 {
		requiredHours = training.DefaultRequiredHours
	}
	if log == nil {
		log = logger.Default()
	}
	return &GetTrainingProgressHandler{
		store:         store,
		cache:         cache,
		requiredHours: requiredHours,
		log:           log.With(logger.Component("query"), logger.Operation("training_progress")),
	}
}

// Handle executes the query.
func (h *GetTrainingProgressHandler) Handle(ctx context.Context, q GetTrainingProgressQuery) (*ProgressDTO, error) {
	studentID := q.StudentID
	if !studentID.IsValid() && q.Actor.Role == access.RoleStudent {
		studentID = q.Actor.StudentID
	}
	if err := access.Authorize(q.Actor, access.CapViewProgress, access.OwnedByStudent(studentID)); err != nil {
		return nil, err
	}
	if !studentID.IsValid() {
		return nil, shared.NewDomainError("training", "Progress", shared.ErrValidation, "student id is required")
	}

	var dto *ProgressDTO
	if h.cache != nil {
		cached, err := h.cache.GetProgress(ctx, studentID.String())
		if err == nil && cached != nil {
			dto = cached
		} else if err != nil {
			h.log.Debug("progress cache miss", logger.StudentID(studentID.String()), logger.Err(err))
		}
	}

	repos := h.store.Reader()
	if dto == nil {
		computed, err := h.compute(ctx, repos, studentID)
		if err != nil {
			return nil, err
		}
		dto = computed
		if h.cache != nil {
			if err := h.cache.SetProgress(ctx, dto); err != nil {
				h.log.Warn("progress cache write failed", logger.StudentID(studentID.String()), logger.Err(err))
			}
		}
	}

	if q.IncludeRecords {
		records, err := repos.Training.ListByStudent(ctx, studentID)
		if err != nil {
			return nil, fmt.Errorf("list training records: %w", err)
		}
		out := *dto
		out.Records = records
		return &out, nil
	}
	return dto, nil
}

func (h *GetTrainingProgressHandler) compute(ctx context.Context, repos uow.Repositories, studentID shared.StudentID) (*ProgressDTO, error) {
	hours, err := repos.Training.ApprovedHourSum(ctx, studentID)
	if err != nil {
		return nil, fmt.Errorf("sum approved hours: %w", err)
	}

	dto := &ProgressDTO{
		StudentID:     studentID.String(),
		ApprovedHours: hours,
		RequiredHours: h.requiredHours,
		Percent:       Percent(hours, h.requiredHours),
		Shortfall:     training.Shortfall(hours, h.requiredHours),
		ComputedAt:    time.Now().UTC(),
	}
	dto.Qualified = dto.Shortfall == 0
	if dto.Qualified {
		dto.Message = "training requirement met"
	} else {
		dto.Message = fmt.Sprintf("%d more hours needed", dto.Shortfall)
	}

	app, err := repos.Placements.Current(ctx, studentID)
	switch {
	case err == nil:
		dto.Placement = summarize(app)
	case !shared.IsNotFound(err):
		return nil, fmt.Errorf("load current placement: %w", err)
	}
	return dto, nil
}

// Percent is approved over required as a whole percentage, capped at 100.
func Percent(approved, required int) int {
	if required <= 0 {
		return 100
	}
	p := approved * 100 / required
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}
