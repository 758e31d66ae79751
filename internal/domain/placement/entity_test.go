package placement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coophub/coop-engine/internal/domain/shared"
	"github.com/coophub/coop-engine/pkg/timeutil"
)

func validDetails() Details {
	return Details{
		Position:       "Backend intern",
		Location:       "Bangkok",
		SupervisorName: "Somchai",
		StartDate:      timeutil.Date(2025, 6, 2),
		EndDate:        timeutil.Date(2025, 9, 26),
	}
}

func newPending(t *testing.T) *Application {
	t.Helper()
	a, err := NewApplication("s1", "c1", "Acme Corp", validDetails(), timeutil.DefaultAcademicCalendar(), time.Now())
	require.NoError(t, err)
	return a
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from Status
		act  Action
		to   Status
		ok   bool
	}{
		{StatusPending, ActionApprove, StatusApproved, true},
		{StatusPending, ActionReject, StatusRejected, true},
		{StatusPending, ActionCancel, StatusCancelled, true},
		{StatusPending, ActionComplete, "", false},
		{StatusApproved, ActionApprove, "", false},
		{StatusApproved, ActionReject, "", false},
		{StatusApproved, ActionCancel, StatusCancelled, true},
		{StatusApproved, ActionComplete, StatusCompleted, true},
		{StatusRejected, ActionCancel, "", false},
		{StatusCancelled, ActionApprove, "", false},
		{StatusCompleted, ActionCancel, "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.act), func(t *testing.T) {
			to, err := Next(tt.from, tt.act)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, to)
			} else {
				assert.True(t, shared.IsInvalidState(err))
			}
		})
	}

	assert.True(t, StatusCompleted.IsTerminal())
	assert.False(t, StatusApproved.IsTerminal())
}

func TestNewApplication(t *testing.T) {
	a := newPending(t)
	assert.Equal(t, StatusPending, a.Status)
	assert.Equal(t, 2568, a.AcademicYear)
	assert.Equal(t, "Acme Corp", a.CompanyNameSnapshot)
	require.NotNil(t, a.CompanyID)
	assert.True(t, a.BelongsTo("c1"))
	assert.Equal(t, 1, a.Version)

	d := validDetails()
	d.StartDate = timeutil.Date(2026, 3, 1)
	d.EndDate = timeutil.Date(2026, 4, 1)
	early, err := NewApplication("s1", "c1", "Acme Corp", d, timeutil.DefaultAcademicCalendar(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2568, early.AcademicYear)
}

func TestNewApplication_StoresCampusCalendarDates(t *testing.T) {
	d := validDetails()
	// 22:30 and 08:00 on June 1st in the campus zone.
	d.StartDate = time.Date(2025, 6, 1, 15, 30, 0, 0, time.UTC)
	d.EndDate = time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC)
	a, err := NewApplication("s1", "c1", "Acme Corp", d, timeutil.DefaultAcademicCalendar(), time.Now())
	require.NoError(t, err)
	assert.True(t, a.StartDate.Equal(timeutil.Date(2025, 6, 1)))
	assert.True(t, a.EndDate.Equal(timeutil.Date(2025, 6, 1)))
	assert.Equal(t, 1, a.DurationDays())

	d.StartDate = timeutil.Date(2025, 6, 1)
	d.EndDate = timeutil.Date(2025, 9, 30)
	a, err = NewApplication("s1", "c1", "Acme Corp", d, timeutil.DefaultAcademicCalendar(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 122, a.DurationDays())
}

func TestNewApplication_Validation(t *testing.T) {
	cal := timeutil.DefaultAcademicCalendar()
	mutations := map[string]func(*Details){
		"position":         func(d *Details) { d.Position = " " },
		"location":         func(d *Details) { d.Location = "" },
		"supervisor":       func(d *Details) { d.SupervisorName = "" },
		"missing start":    func(d *Details) { d.StartDate = time.Time{} },
		"end before start": func(d *Details) { d.EndDate = d.StartDate.AddDate(0, 0, -1) },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			d := validDetails()
			mutate(&d)
			_, err := NewApplication("s1", "c1", "Acme", d, cal, time.Now())
			assert.True(t, shared.IsValidation(err), "got %v", err)
		})
	}
}

func TestVerify(t *testing.T) {
	a := newPending(t)
	require.NoError(t, a.Verify(StatusApproved, "welcome", time.Now()))
	assert.Equal(t, StatusApproved, a.Status)
	assert.Equal(t, "welcome", a.TeacherNote)

	err := a.Verify(StatusRejected, "late", time.Now())
	assert.True(t, shared.IsInvalidState(err))
	assert.Equal(t, StatusApproved, a.Status)

	assert.True(t, shared.IsValidation(newPending(t).Verify(StatusCompleted, "", time.Now())))
}

func TestCancel(t *testing.T) {
	a := newPending(t)
	require.NoError(t, a.Cancel("changed mind", false, time.Now()))
	assert.Equal(t, StatusCancelled, a.Status)
	assert.Contains(t, a.TeacherNote, "changed mind")
	assert.Equal(t, "changed mind", a.CancelReason)

	err := a.Cancel("again", false, time.Now())
	assert.True(t, shared.IsInvalidState(err))

	b := newPending(t)
	require.NoError(t, b.Verify(StatusApproved, "approved on interview", time.Now()))
	err = b.Cancel("x", true, time.Now())
	assert.True(t, shared.IsInvalidState(err))
	assert.Contains(t, err.Error(), "already evaluated")

	require.NoError(t, b.Cancel("family", false, time.Now()))
	assert.Equal(t, "approved on interview\nCancelled by student: family", b.TeacherNote)

	c := newPending(t)
	require.NoError(t, c.Verify(StatusRejected, "", time.Now()))
	assert.True(t, shared.IsInvalidState(c.Cancel("x", false, time.Now())))
}

func TestCompleteOnEvaluationAck(t *testing.T) {
	a := newPending(t)
	assert.False(t, a.CompleteOnEvaluationAck(time.Now()))
	assert.Equal(t, StatusPending, a.Status)

	require.NoError(t, a.Verify(StatusApproved, "", time.Now()))
	assert.True(t, a.CompleteOnEvaluationAck(time.Now()))
	assert.Equal(t, StatusCompleted, a.Status)
	assert.False(t, a.CompleteOnEvaluationAck(time.Now()))
}
