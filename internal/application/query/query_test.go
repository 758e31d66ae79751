package query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coophub/coop-engine/internal/domain/access"
	"github.com/coophub/coop-engine/internal/domain/company"
	"github.com/coophub/coop-engine/internal/domain/evaluation"
	"github.com/coophub/coop-engine/internal/domain/placement"
	"github.com/coophub/coop-engine/internal/domain/report"
	"github.com/coophub/coop-engine/internal/domain/shared"
	"github.com/coophub/coop-engine/internal/domain/training"
	"github.com/coophub/coop-engine/internal/infrastructure/persistence/sqlite"
	"github.com/coophub/coop-engine/pkg/logger"
	"github.com/coophub/coop-engine/pkg/timeutil"
)

var (
	now     = time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)
	teacher = access.Actor{UserID: "t1", Role: access.RoleTeacher}
)

func studentActor(id string) access.Actor {
	return access.Actor{UserID: "u-" + id, Role: access.RoleStudent, StudentID: shared.StudentID(id)}
}

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func approve(t *testing.T, s *sqlite.Store, studentID string, hours int) {
	t.Helper()
	ctx := context.Background()
	rec, err := training.NewRecord(shared.StudentID(studentID), "Safety", hours, "cert.pdf", now)
	require.NoError(t, err)
	require.NoError(t, s.Reader().Training.Create(ctx, rec))
	require.NoError(t, rec.Verify(training.StatusApproved, nil, "", training.VerifyOptions{}, now))
	require.NoError(t, s.Reader().Training.Update(ctx, rec))
}

func seedPlacement(t *testing.T, s *sqlite.Store, studentID, companyName string, status placement.Status) (*company.Company, *placement.Application) {
	t.Helper()
	ctx := context.Background()
	c, err := company.NewCompany(companyName, company.Contact{Address: "Bangkok"}, now)
	require.NoError(t, err)
	c, _, err = s.Reader().Companies.InsertOrGet(ctx, c)
	require.NoError(t, err)

	app, err := placement.NewApplication(shared.StudentID(studentID), c.ID, c.Name, placement.Details{
		Position:       "Intern",
		Location:       "Bangkok",
		SupervisorName: "Somchai",
		StartDate:      timeutil.Date(2025, 6, 1),
		EndDate:        timeutil.Date(2025, 9, 30),
	}, timeutil.DefaultAcademicCalendar(), now)
	require.NoError(t, err)
	require.NoError(t, s.Reader().Placements.Create(ctx, app))
	if status == placement.StatusApproved {
		require.NoError(t, app.Verify(placement.StatusApproved, "", now))
		require.NoError(t, s.Reader().Placements.Update(ctx, app))
	}
	return c, app
}

type memCache struct {
	mu    sync.Mutex
	items map[string]*ProgressDTO
	sets  int
	fail  bool
}

func newMemCache() *memCache { return &memCache{items: map[string]*ProgressDTO{}} }

func (m *memCache) GetProgress(_ context.Context, id string) (*ProgressDTO, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, errors.New("cache down")
	}
	p, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return p, nil
}

func (m *memCache) SetProgress(_ context.Context, p *ProgressDTO) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("cache down")
	}
	m.sets++
	m.items[p.StudentID] = p
	return nil
}

func (m *memCache) InvalidateProgress(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// TRAINING PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

func TestPercent(t *testing.T) {
	assert.Equal(t, 33, Percent(10, 30))
	assert.Equal(t, 100, Percent(45, 30))
	assert.Equal(t, 0, Percent(0, 30))
	assert.Equal(t, 100, Percent(0, 0))
}

func TestTrainingProgress_ShortfallMessage(t *testing.T) {
	s := newStore(t)
	approve(t, s, "s1", 6)
	approve(t, s, "s1", 4)

	h := NewGetTrainingProgressHandler(s, nil, 30, logger.Nop())
	dto, err := h.Handle(context.Background(), GetTrainingProgressQuery{Actor: studentActor("s1")})
	require.NoError(t, err)
	assert.Equal(t, "s1", dto.StudentID)
	assert.Equal(t, 10, dto.ApprovedHours)
	assert.Equal(t, 20, dto.Shortfall)
	assert.False(t, dto.Qualified)
	assert.Equal(t, "20 more hours needed", dto.Message)
	assert.Nil(t, dto.Placement)
}

func TestTrainingProgress_QualifiedWithPlacement(t *testing.T) {
	s := newStore(t)
	approve(t, s, "s1", 30)
	_, app := seedPlacement(t, s, "s1", "Acme Corp", placement.StatusApproved)

	h := NewGetTrainingProgressHandler(s, nil, 30, logger.Nop())
	dto, err := h.Handle(context.Background(), GetTrainingProgressQuery{Actor: teacher, StudentID: "s1", IncludeRecords: true})
	require.NoError(t, err)
	assert.True(t, dto.Qualified)
	assert.Equal(t, "training requirement met", dto.Message)
	require.NotNil(t, dto.Placement)
	assert.Equal(t, app.ID, dto.Placement.ID)
	assert.Equal(t, placement.StatusApproved, dto.Placement.Status)
	assert.Len(t, dto.Records, 1)
}

func TestTrainingProgress_OtherStudentForbidden(t *testing.T) {
	s := newStore(t)
	h := NewGetTrainingProgressHandler(s, nil, 30, logger.Nop())
	_, err := h.Handle(context.Background(), GetTrainingProgressQuery{Actor: studentActor("s1"), StudentID: "s2"})
	assert.True(t, shared.IsForbidden(err))
}

func TestTrainingProgress_UsesCache(t *testing.T) {
	s := newStore(t)
	approve(t, s, "s1", 12)
	cache := newMemCache()
	h := NewGetTrainingProgressHandler(s, cache, 30, logger.Nop())
	ctx := context.Background()

	first, err := h.Handle(ctx, GetTrainingProgressQuery{Actor: studentActor("s1")})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.sets)

	// A write the cache has not been told about stays invisible until invalidation.
	approve(t, s, "s1", 18)
	second, err := h.Handle(ctx, GetTrainingProgressQuery{Actor: studentActor("s1"), IncludeRecords: true})
	require.NoError(t, err)
	assert.Equal(t, first.ApprovedHours, second.ApprovedHours)
	assert.Len(t, second.Records, 2)
	assert.Nil(t, cache.items["s1"].Records)

	require.NoError(t, cache.InvalidateProgress(ctx, "s1"))
	third, err := h.Handle(ctx, GetTrainingProgressQuery{Actor: studentActor("s1")})
	require.NoError(t, err)
	assert.Equal(t, 30, third.ApprovedHours)
}

func TestTrainingProgress_CacheFailureFallsBack(t *testing.T) {
	s := newStore(t)
	approve(t, s, "s1", 30)
	cache := newMemCache()
	cache.fail = true

	dto, err := NewGetTrainingProgressHandler(s, cache, 30, logger.Nop()).
		Handle(context.Background(), GetTrainingProgressQuery{Actor: studentActor("s1")})
	require.NoError(t, err)
	assert.True(t, dto.Qualified)
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPANY DIRECTORY
// ══════════════════════════════════════════════════════════════════════════════

func TestSearchCompanies(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	c, _ := seedPlacement(t, s, "s1", "Acme Corp", placement.StatusApproved)
	c.SetTeacherComments("pays stipend", now)
	require.NoError(t, s.Reader().Companies.UpdateTeacherComments(ctx, c))
	seedPlacement(t, s, "s2", "Blue Ocean Ltd", placement.StatusPending)

	h := NewSearchCompaniesHandler(s)

	rows, err := h.Handle(ctx, SearchCompaniesQuery{Actor: teacher, Query: "acme"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "pays stipend", rows[0].TeacherComments)
	assert.Nil(t, rows[0].ActivePlacements)

	rows, err = h.Handle(ctx, SearchCompaniesQuery{Actor: studentActor("s3"), Query: "acme", WithCounts: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Empty(t, rows[0].TeacherComments)
	require.NotNil(t, rows[0].ActivePlacements)
	assert.Equal(t, 1, *rows[0].ActivePlacements)
	assert.Equal(t, 1, *rows[0].TotalPlacements)

	rows, err = h.Handle(ctx, SearchCompaniesQuery{Actor: teacher, Limit: 1000})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestListCompanyInterns(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	c, app := seedPlacement(t, s, "s1", "Acme Corp", placement.StatusApproved)

	r, err := report.NewWeeklyReport(app.ID, 1, report.Content{WorkSummary: "setup"}, now)
	require.NoError(t, err)
	require.NoError(t, s.Reader().Reports.Create(ctx, r))

	scores := map[string]int{}
	for _, k := range evaluation.Criteria {
		scores[k] = 3
	}
	ev, err := evaluation.NewEvaluation(app.ID, "hr", scores, evaluation.Narrative{}, false, now)
	require.NoError(t, err)
	require.NoError(t, s.Reader().Evaluations.Create(ctx, ev))

	h := NewListCompanyInternsHandler(s)
	hr := access.Actor{UserID: "hr", Role: access.RoleCompany, CompanyID: c.ID}
	interns, err := h.Handle(ctx, ListCompanyInternsQuery{Actor: hr})
	require.NoError(t, err)
	require.Len(t, interns, 1)
	assert.Equal(t, "s1", interns[0].StudentID)
	assert.Equal(t, "2025-06-01", interns[0].StartDate)
	assert.Equal(t, 1, interns[0].ReportsUnread)
	assert.True(t, interns[0].Evaluated)
	assert.Equal(t, evaluation.StatusSubmitted, interns[0].EvaluationStatus)

	other := access.Actor{UserID: "x", Role: access.RoleCompany, CompanyID: "other"}
	_, err = h.Handle(ctx, ListCompanyInternsQuery{Actor: other, CompanyID: c.ID})
	assert.True(t, shared.IsForbidden(err))

	_, err = h.Handle(ctx, ListCompanyInternsQuery{Actor: studentActor("s1"), CompanyID: c.ID})
	assert.True(t, shared.IsForbidden(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// REPORTS
// ══════════════════════════════════════════════════════════════════════════════

func TestListReports(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	c, app := seedPlacement(t, s, "s1", "Acme Corp", placement.StatusApproved)
	for week := 1; week <= 2; week++ {
		r, err := report.NewWeeklyReport(app.ID, week, report.Content{WorkSummary: "work"}, now)
		require.NoError(t, err)
		require.NoError(t, s.Reader().Reports.Create(ctx, r))
		if week == 1 {
			require.NoError(t, r.Acknowledge("ok", false, now))
			require.NoError(t, s.Reader().Reports.Update(ctx, r))
		}
	}

	h := NewListReportsHandler(s)
	for _, actor := range []access.Actor{
		studentActor("s1"),
		teacher,
		{UserID: "hr", Role: access.RoleCompany, CompanyID: c.ID},
	} {
		dto, err := h.Handle(ctx, ListReportsQuery{Actor: actor, ApplicationID: app.ID})
		require.NoError(t, err, actor.String())
		assert.Equal(t, report.Stats{Total: 2, Pending: 1}, dto.Stats)
		assert.Equal(t, 1, dto.Reports[0].WeekNumber)
		assert.Nil(t, dto.Evaluation)
	}

	_, err := h.Handle(ctx, ListReportsQuery{Actor: studentActor("s2"), ApplicationID: app.ID})
	assert.True(t, shared.IsForbidden(err))

	_, err = h.Handle(ctx, ListReportsQuery{Actor: teacher, ApplicationID: "missing"})
	assert.True(t, shared.IsNotFound(err))
}
