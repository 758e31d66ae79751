package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/coophub/coop-engine/internal/application/uow"
	"github.com/coophub/coop-engine/internal/domain/access"
	"github.com/coophub/coop-engine/internal/domain/company"
	"github.com/coophub/coop-engine/internal/domain/evaluation"
	"github.com/coophub/coop-engine/internal/domain/placement"
	"github.com/coophub/coop-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPANY DIRECTORY QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// Search limits.
const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
)

// SearchCompaniesQuery is a case-insensitive substring search on name.
type SearchCompaniesQuery struct {
	Actor access.Actor
	Query string
	Limit int

	// WithCounts attaches placement counts to every row.
	WithCounts bool
}

func (q *SearchCompaniesQuery) normalize() {
	q.Query = strings.TrimSpace(q.Query)
	if q.Limit <= 0 {
		q.Limit = DefaultSearchLimit
	}
	if q.Limit > MaxSearchLimit {
		q.Limit = MaxSearchLimit
	}
}

// CompanyDTO is a directory row as shown to a caller. Faculty notes are only
// included for faculty.
type CompanyDTO struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Address          string `json:"address"`
	ContactPerson    string `json:"contact_person"`
	ContactPhone     string `json:"contact_phone"`
	TeacherComments  string `json:"teacher_comments,omitempty"`
	ActivePlacements *int   `json:"active_placements,omitempty"`
	TotalPlacements  *int   `json:"total_placements,omitempty"`
}

func toCompanyDTO(c *company.Company, faculty bool) CompanyDTO {
	dto := CompanyDTO{
		ID:            c.ID.String(),
		Name:          c.Name,
		Address:       c.Address,
		ContactPerson: c.ContactPerson,
		ContactPhone:  c.ContactPhone,
	}
	if faculty {
		dto.TeacherComments = c.TeacherComments
	}
	return dto
}

// SearchCompaniesHandler handles SearchCompaniesQuery.
type SearchCompaniesHandler struct {
	store uow.Store
}

// NewSearchCompaniesHandler creates a new SearchCompaniesHandler.
func NewSearchCompaniesHandler(store uow.Store) *SearchCompaniesHandler {
	return &SearchCompaniesHandler{store: store}
}

// Handle executes the query.
func (h *SearchCompaniesHandler) Handle(ctx context.Context, q SearchCompaniesQuery) ([]CompanyDTO, error) {
	if err := access.Authorize(q.Actor, access.CapSearchCompanies); err != nil {
		return nil, err
	}
	q.normalize()
	faculty := q.Actor.Role.IsFaculty()
	repo := h.store.Reader().Companies

	if !q.WithCounts {
		rows, err := repo.Search(ctx, q.Query, q.Limit)
		if err != nil {
			return nil, fmt.Errorf("search companies: %w", err)
		}
		out := make([]CompanyDTO, 0, len(rows))
		for _, c := range rows {
			out = append(out, toCompanyDTO(c, faculty))
		}
		return out, nil
	}

	rows, err := repo.Summaries(ctx, q.Query, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("summarise companies: %w", err)
	}
	out := make([]CompanyDTO, 0, len(rows))
	for _, s := range rows {
		dto := toCompanyDTO(s.Company, faculty)
		active, total := s.ActivePlacements, s.TotalPlacements
		dto.ActivePlacements = &active
		dto.TotalPlacements = &total
		out = append(out, dto)
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPANY INTERNS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// ListCompanyInternsQuery lists the APPROVED placements at a company. A
// company actor always sees its own company.
type ListCompanyInternsQuery struct {
	Actor     access.Actor
	CompanyID shared.CompanyID
}

// InternDTO is one current intern with report and evaluation state.
type InternDTO struct {
	ApplicationID    string            `json:"application_id"`
	StudentID        string            `json:"student_id"`
	Position         string            `json:"position"`
	StartDate        string            `json:"start_date"`
	EndDate          string            `json:"end_date"`
	ReportsTotal     int               `json:"reports_total"`
	ReportsUnread    int               `json:"reports_unread"`
	Evaluated        bool              `json:"evaluated"`
	EvaluationID     string            `json:"evaluation_id,omitempty"`
	EvaluationStatus evaluation.Status `json:"evaluation_status,omitempty"`
}

// ListCompanyInternsHandler handles ListCompanyInternsQuery.
type ListCompanyInternsHandler struct {
	store uow.Store
}

// NewListCompanyInternsHandler creates a new ListCompanyInternsHandler.
func NewListCompanyInternsHandler(store uow.Store) *ListCompanyInternsHandler {
	return &ListCompanyInternsHandler{store: store}
}

// Handle executes the query.
func (h *ListCompanyInternsHandler) Handle(ctx context.Context, q ListCompanyInternsQuery) ([]InternDTO, error) {
	companyID := q.CompanyID
	if q.Actor.Role == access.RoleCompany && !companyID.IsValid() {
		companyID = q.Actor.CompanyID
	}
	if err := access.Authorize(q.Actor, access.CapListInterns, access.OwnedByCompany(&companyID)); err != nil {
		return nil, err
	}
	if !companyID.IsValid() {
		return nil, shared.NewDomainError("company", "Interns", shared.ErrValidation, "company id is required")
	}

	repos := h.store.Reader()
	if _, err := repos.Companies.GetByID(ctx, companyID); err != nil {
		return nil, err
	}
	apps, err := repos.Placements.ListByCompany(ctx, companyID, placement.StatusApproved)
	if err != nil {
		return nil, fmt.Errorf("list placements: %w", err)
	}

	out := make([]InternDTO, 0, len(apps))
	for _, a := range apps {
		stats, err := repos.Reports.Stats(ctx, a.ID)
		if err != nil {
			return nil, fmt.Errorf("report stats: %w", err)
		}
		dto := InternDTO{
			ApplicationID: a.ID,
			StudentID:     a.StudentID.String(),
			Position:      a.Position,
			StartDate:     a.StartDate.Format("2006-01-02"),
			EndDate:       a.EndDate.Format("2006-01-02"),
			ReportsTotal:  stats.Total,
			ReportsUnread: stats.Pending,
		}
		ev, err := repos.Evaluations.GetByApplication(ctx, a.ID)
		switch {
		case err == nil:
			dto.Evaluated = true
			dto.EvaluationID = ev.ID
			dto.EvaluationStatus = ev.Status
		case !shared.IsNotFound(err):
			return nil, fmt.Errorf("load evaluation: %w", err)
		}
		out = append(out, dto)
	}
	return out, nil
}
