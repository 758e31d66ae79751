package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coophub/coop-engine/internal/domain/access"
	"github.com/coophub/coop-engine/internal/domain/evaluation"
	"github.com/coophub/coop-engine/internal/domain/placement"
	"github.com/coophub/coop-engine/internal/domain/shared"
	"github.com/coophub/coop-engine/internal/domain/training"
	"github.com/coophub/coop-engine/internal/infrastructure/persistence/sqlite"
	"github.com/coophub/coop-engine/pkg/logger"
	"github.com/coophub/coop-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

var (
	fixedNow = time.Date(2025, 6, 2, 3, 0, 0, 0, time.UTC)
	teacher  = access.Actor{UserID: "t1", Role: access.RoleTeacher}
)

func student(id string) access.Actor {
	return access.Actor{UserID: "u-" + id, Role: access.RoleStudent, StudentID: shared.StudentID(id)}
}

func companyActor(id shared.CompanyID) access.Actor {
	return access.Actor{UserID: "hr@" + id.String(), Role: access.RoleCompany, CompanyID: id}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []shared.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]shared.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType())
	}
	return out
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *sqlite.Store
	pub   *recordingPublisher
	deps  Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pub := &recordingPublisher{}
	return &fixture{
		t:     t,
		ctx:   ctx,
		store: store,
		pub:   pub,
		deps: Deps{
			Store:     store,
			Publisher: pub,
			Logger:    logger.Nop(),
			Settings:  DefaultSettings(),
			Clock:     func() time.Time { return fixedNow },
		},
	}
}

// approvedHours submits and approves one record per entry.
func (f *fixture) approvedHours(s access.Actor, hours ...int) {
	f.t.Helper()
	submit := NewSubmitTrainingHandler(f.deps)
	verify := NewVerifyTrainingHandler(f.deps)
	for _, h := range hours {
		res, err := submit.Handle(f.ctx, SubmitTrainingCommand{Actor: s, Topic: "Safety", RequestedHours: h, ProofRef: "cert.pdf"})
		require.NoError(f.t, err)
		_, err = verify.Handle(f.ctx, VerifyTrainingCommand{Actor: teacher, RecordID: res.Record.ID, Decision: training.StatusApproved})
		require.NoError(f.t, err)
	}
}

func applyCmd(s access.Actor, companyName string) ApplyForJobCommand {
	return ApplyForJobCommand{
		Actor:          s,
		CompanyName:    companyName,
		Position:       "Backend intern",
		Location:       "Bangkok",
		SupervisorName: "Somchai",
		StartDate:      timeutil.Date(2025, 6, 1),
		EndDate:        timeutil.Date(2025, 9, 30),
	}
}

// placed returns an APPROVED application for a fresh eligible student.
func (f *fixture) placed(id, companyName string) *ApplyForJobResult {
	f.t.Helper()
	s := student(id)
	f.approvedHours(s, 30)
	res, err := NewApplyForJobHandler(f.deps).Handle(f.ctx, applyCmd(s, companyName))
	require.NoError(f.t, err)
	_, err = NewVerifyJobHandler(f.deps).Handle(f.ctx, VerifyJobCommand{
		Actor: teacher, ApplicationID: res.Application.ID, Decision: placement.StatusApproved,
	})
	require.NoError(f.t, err)
	return res
}

func fullScores(v int) map[string]int {
	m := make(map[string]int, evaluation.CriteriaCount)
	for _, k := range evaluation.Criteria {
		m[k] = v
	}
	return m
}

// ══════════════════════════════════════════════════════════════════════════════
// TRAINING
// ══════════════════════════════════════════════════════════════════════════════

func TestSubmitTraining_StudentOnly(t *testing.T) {
	f := newFixture(t)
	_, err := NewSubmitTrainingHandler(f.deps).Handle(f.ctx, SubmitTrainingCommand{
		Actor: teacher, Topic: "Safety", RequestedHours: 6, ProofRef: "cert.pdf",
	})
	assert.True(t, shared.IsForbidden(err))

	_, err = NewSubmitTrainingHandler(f.deps).Handle(f.ctx, SubmitTrainingCommand{
		Actor: student("s1"), Topic: "Safety", RequestedHours: 0, ProofRef: "cert.pdf",
	})
	assert.True(t, shared.IsValidation(err))
}

func TestVerifyTraining_RedecisionMovesHourSum(t *testing.T) {
	f := newFixture(t)
	s := student("s1")
	res, err := NewSubmitTrainingHandler(f.deps).Handle(f.ctx, SubmitTrainingCommand{
		Actor: s, Topic: "First aid", RequestedHours: 8, ProofRef: "cert.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, training.StatusPending, res.Record.Status)

	verify := NewVerifyTrainingHandler(f.deps)
	six := 6
	_, err = verify.Handle(f.ctx, VerifyTrainingCommand{Actor: teacher, RecordID: res.Record.ID, Decision: training.StatusApproved, ApprovedHours: &six})
	require.NoError(t, err)

	sum, err := f.store.Reader().Training.ApprovedHourSum(f.ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 6, sum)

	_, err = verify.Handle(f.ctx, VerifyTrainingCommand{Actor: teacher, RecordID: res.Record.ID, Decision: training.StatusRejected, Note: "blurry scan"})
	require.NoError(t, err)

	sum, err = f.store.Reader().Training.ApprovedHourSum(f.ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, sum)

	_, err = verify.Handle(f.ctx, VerifyTrainingCommand{Actor: student("s1"), RecordID: res.Record.ID, Decision: training.StatusApproved})
	assert.True(t, shared.IsForbidden(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// PLACEMENT
// ══════════════════════════════════════════════════════════════════════════════

func TestApplyForJob_EligibilityGate(t *testing.T) {
	f := newFixture(t)
	s := student("s1")
	f.approvedHours(s, 6, 4)

	apply := NewApplyForJobHandler(f.deps)
	_, err := apply.Handle(f.ctx, applyCmd(s, "Acme Corp"))
	require.Error(t, err)
	assert.True(t, shared.IsIneligible(err))
	assert.Contains(t, err.Error(), "20 more hours needed")

	f.approvedHours(s, 20)
	res, err := apply.Handle(f.ctx, applyCmd(s, "Acme Corp"))
	require.NoError(t, err)
	assert.Equal(t, placement.StatusPending, res.Application.Status)
	assert.Equal(t, 30, res.ApprovedHours)
	assert.Equal(t, 2568, res.Application.AcademicYear)
	assert.True(t, res.CompanyCreated)
	assert.Contains(t, f.pub.types(), shared.EventPlacementApplied)
}

func TestApplyForJob_ReusesCompanyByNameAndID(t *testing.T) {
	f := newFixture(t)
	apply := NewApplyForJobHandler(f.deps)

	s1 := student("s1")
	f.approvedHours(s1, 30)
	first, err := apply.Handle(f.ctx, applyCmd(s1, "Acme Corp"))
	require.NoError(t, err)

	s2 := student("s2")
	f.approvedHours(s2, 30)
	second, err := apply.Handle(f.ctx, applyCmd(s2, "  acme corp"))
	require.NoError(t, err)
	assert.False(t, second.CompanyCreated)
	assert.Equal(t, first.Company.ID, second.Company.ID)

	s3 := student("s3")
	f.approvedHours(s3, 30)
	cmd := applyCmd(s3, "")
	cmd.CompanyID = first.Company.ID
	third, err := apply.Handle(f.ctx, cmd)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", third.Application.CompanyNameSnapshot)

	all, err := f.store.Reader().Companies.Summaries(f.ctx, "", 100)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestApplyForJob_ReusesNonASCIICompanyName(t *testing.T) {
	f := newFixture(t)
	apply := NewApplyForJobHandler(f.deps)

	s1 := student("s1")
	f.approvedHours(s1, 30)
	first, err := apply.Handle(f.ctx, applyCmd(s1, "Électricité Co"))
	require.NoError(t, err)
	assert.True(t, first.CompanyCreated)

	s2 := student("s2")
	f.approvedHours(s2, 30)
	second, err := apply.Handle(f.ctx, applyCmd(s2, "Électricité Co"))
	require.NoError(t, err)
	assert.False(t, second.CompanyCreated)
	assert.Equal(t, first.Company.ID, second.Company.ID)
}

func TestApplyForJob_Rejections(t *testing.T) {
	f := newFixture(t)
	s := student("s1")
	f.approvedHours(s, 30)
	apply := NewApplyForJobHandler(f.deps)

	_, err := apply.Handle(f.ctx, applyCmd(s, ""))
	assert.True(t, shared.IsValidation(err))

	cmd := applyCmd(s, "")
	cmd.CompanyID = "missing"
	_, err = apply.Handle(f.ctx, cmd)
	assert.True(t, shared.IsNotFound(err))

	bad := applyCmd(s, "Acme Corp")
	bad.EndDate = bad.StartDate.AddDate(0, 0, -1)
	_, err = apply.Handle(f.ctx, bad)
	assert.True(t, shared.IsValidation(err))

	_, err = apply.Handle(f.ctx, applyCmd(s, "Acme Corp"))
	require.NoError(t, err)
	_, err = apply.Handle(f.ctx, applyCmd(s, "Other Co"))
	assert.ErrorIs(t, err, shared.ErrActivePlacement)
	assert.True(t, shared.IsConflict(err))
}

func TestApplyForJob_ConcurrentAppliesLeaveOneLive(t *testing.T) {
	f := newFixture(t)
	s := student("s1")
	f.approvedHours(s, 30)
	apply := NewApplyForJobHandler(f.deps)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = apply.Handle(f.ctx, applyCmd(s, "Acme Corp"))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.True(t, shared.IsConflict(err), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, ok)

	apps, err := f.store.Reader().Placements.ListByStudent(f.ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, apps, 1)
}

func TestVerifyJob_Transitions(t *testing.T) {
	f := newFixture(t)
	s := student("s1")
	f.approvedHours(s, 30)
	res, err := NewApplyForJobHandler(f.deps).Handle(f.ctx, applyCmd(s, "Acme Corp"))
	require.NoError(t, err)

	verify := NewVerifyJobHandler(f.deps)
	out, err := verify.Handle(f.ctx, VerifyJobCommand{
		Actor: teacher, ApplicationID: res.Application.ID, Decision: placement.StatusApproved, Note: "good fit",
	})
	require.NoError(t, err)
	assert.Equal(t, placement.StatusApproved, out.Application.Status)
	assert.Equal(t, "good fit", out.Application.TeacherNote)

	_, err = verify.Handle(f.ctx, VerifyJobCommand{
		Actor: teacher, ApplicationID: res.Application.ID, Decision: placement.StatusRejected,
	})
	assert.True(t, shared.IsInvalidState(err))

	_, err = verify.Handle(f.ctx, VerifyJobCommand{
		Actor: s, ApplicationID: res.Application.ID, Decision: placement.StatusApproved,
	})
	assert.True(t, shared.IsForbidden(err))
}

func TestCancelJob(t *testing.T) {
	f := newFixture(t)
	s := student("s1")
	f.approvedHours(s, 30)
	res, err := NewApplyForJobHandler(f.deps).Handle(f.ctx, applyCmd(s, "Acme Corp"))
	require.NoError(t, err)

	cancel := NewCancelJobHandler(f.deps)
	_, err = cancel.Handle(f.ctx, CancelJobCommand{Actor: student("s2"), ApplicationID: res.Application.ID})
	assert.True(t, shared.IsForbidden(err))

	out, err := cancel.Handle(f.ctx, CancelJobCommand{Actor: s, ApplicationID: res.Application.ID, Reason: "found a closer company"})
	require.NoError(t, err)
	assert.Equal(t, placement.StatusCancelled, out.Application.Status)
	assert.Contains(t, out.Application.TeacherNote, "Cancelled by student: found a closer company")

	_, err = cancel.Handle(f.ctx, CancelJobCommand{Actor: s, ApplicationID: res.Application.ID})
	assert.True(t, shared.IsInvalidState(err))

	// A cancelled application frees the student to apply again.
	_, err = NewApplyForJobHandler(f.deps).Handle(f.ctx, applyCmd(s, "Other Co"))
	assert.NoError(t, err)
}

func TestCancelJob_AfterEvaluationFails(t *testing.T) {
	f := newFixture(t)
	res := f.placed("s1", "Acme Corp")

	_, err := NewSubmitEvaluationHandler(f.deps).Handle(f.ctx, SubmitEvaluationCommand{
		Actor: companyActor(res.Company.ID), ApplicationID: res.Application.ID, Scores: fullScores(3),
	})
	require.NoError(t, err)

	_, err = NewCancelJobHandler(f.deps).Handle(f.ctx, CancelJobCommand{Actor: student("s1"), ApplicationID: res.Application.ID})
	assert.ErrorIs(t, err, shared.ErrCancelAfterEvaluate)
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY REPORTS
// ══════════════════════════════════════════════════════════════════════════════

func TestWeeklyReports(t *testing.T) {
	f := newFixture(t)
	s := student("s1")
	f.approvedHours(s, 30)
	pending, err := NewApplyForJobHandler(f.deps).Handle(f.ctx, applyCmd(s, "Acme Corp"))
	require.NoError(t, err)

	submit := NewSubmitWeeklyReportHandler(f.deps)
	cmd := SubmitWeeklyReportCommand{Actor: s, ApplicationID: pending.Application.ID, WeekNumber: 1, WorkSummary: "onboarding"}
	_, err = submit.Handle(f.ctx, cmd)
	assert.True(t, shared.IsIneligible(err), "pending placement must not accept reports")

	_, err = NewVerifyJobHandler(f.deps).Handle(f.ctx, VerifyJobCommand{
		Actor: teacher, ApplicationID: pending.Application.ID, Decision: placement.StatusApproved,
	})
	require.NoError(t, err)

	out, err := submit.Handle(f.ctx, cmd)
	require.NoError(t, err)

	_, err = submit.Handle(f.ctx, cmd)
	assert.ErrorIs(t, err, shared.ErrWeekSubmitted)
	assert.True(t, shared.IsConflict(err))

	ack := NewAcknowledgeReportHandler(f.deps)
	acked, err := ack.Handle(f.ctx, AcknowledgeReportCommand{Actor: teacher, ReportID: out.Report.ID, Comment: "fine"})
	require.NoError(t, err)
	assert.Equal(t, "fine", acked.Report.TeacherComment)

	acked, err = ack.Handle(f.ctx, AcknowledgeReportCommand{Actor: teacher, ReportID: out.Report.ID, Comment: "revised"})
	require.NoError(t, err)
	assert.Equal(t, "revised", acked.Report.TeacherComment)

	locked := f.deps
	locked.Settings.LockReportAfterAck = true
	_, err = NewAcknowledgeReportHandler(locked).Handle(f.ctx, AcknowledgeReportCommand{Actor: teacher, ReportID: out.Report.ID})
	assert.ErrorIs(t, err, shared.ErrReportLocked)
}

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATIONS
// ══════════════════════════════════════════════════════════════════════════════

func TestEvaluationLifecycle(t *testing.T) {
	f := newFixture(t)
	res := f.placed("s1", "Acme Corp")
	hr := companyActor(res.Company.ID)

	_, err := NewSubmitEvaluationHandler(f.deps).Handle(f.ctx, SubmitEvaluationCommand{
		Actor: companyActor("someone-else"), ApplicationID: res.Application.ID, Scores: fullScores(4),
	})
	assert.True(t, shared.IsForbidden(err))

	created, err := NewSubmitEvaluationHandler(f.deps).Handle(f.ctx, SubmitEvaluationCommand{
		Actor: hr, ApplicationID: res.Application.ID, Scores: fullScores(4), Strengths: "reliable",
	})
	require.NoError(t, err)
	assert.Equal(t, 60, created.Evaluation.TotalScore)

	_, err = NewSubmitEvaluationHandler(f.deps).Handle(f.ctx, SubmitEvaluationCommand{
		Actor: hr, ApplicationID: res.Application.ID, Scores: fullScores(5),
	})
	assert.ErrorIs(t, err, shared.ErrAlreadyEvaluated)

	comments := "solid term"
	updated, err := NewUpdateEvaluationHandler(f.deps).Handle(f.ctx, UpdateEvaluationCommand{
		Actor: hr, EvaluationID: created.Evaluation.ID, Scores: map[string]int{"q1_1": 1}, Comments: &comments,
	})
	require.NoError(t, err)
	assert.Equal(t, 57, updated.Evaluation.TotalScore)
	assert.Equal(t, updated.Evaluation.Scores.Total(), updated.Evaluation.TotalScore)
	assert.Equal(t, "reliable", updated.Evaluation.Strengths)

	ack := NewAcknowledgeEvaluationHandler(f.deps)
	first, err := ack.Handle(f.ctx, AcknowledgeEvaluationCommand{Actor: teacher, EvaluationID: created.Evaluation.ID})
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.True(t, first.Completed)
	assert.Equal(t, placement.StatusCompleted, first.Application.Status)

	again, err := ack.Handle(f.ctx, AcknowledgeEvaluationCommand{Actor: teacher, EvaluationID: created.Evaluation.ID})
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Empty(t, again.Events)

	completed := 0
	for _, typ := range f.pub.types() {
		if typ == shared.EventPlacementCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)

	_, err = NewUpdateEvaluationHandler(f.deps).Handle(f.ctx, UpdateEvaluationCommand{
		Actor: hr, EvaluationID: created.Evaluation.ID, Scores: map[string]int{"q1_1": 5},
	})
	assert.ErrorIs(t, err, shared.ErrEvaluationLocked)
}

func TestSubmitEvaluation_RequiresApprovedPlacement(t *testing.T) {
	f := newFixture(t)
	s := student("s1")
	f.approvedHours(s, 30)
	res, err := NewApplyForJobHandler(f.deps).Handle(f.ctx, applyCmd(s, "Acme Corp"))
	require.NoError(t, err)

	_, err = NewSubmitEvaluationHandler(f.deps).Handle(f.ctx, SubmitEvaluationCommand{
		Actor: companyActor(res.Company.ID), ApplicationID: res.Application.ID, Scores: fullScores(2),
	})
	assert.ErrorIs(t, err, shared.ErrPlacementNotOngoing)
}

func TestAcknowledgeEvaluation_DraftRejected(t *testing.T) {
	f := newFixture(t)
	res := f.placed("s1", "Acme Corp")

	draft, err := NewSubmitEvaluationHandler(f.deps).Handle(f.ctx, SubmitEvaluationCommand{
		Actor: companyActor(res.Company.ID), ApplicationID: res.Application.ID, Scores: fullScores(1), Draft: true,
	})
	require.NoError(t, err)
	assert.Equal(t, evaluation.StatusDraft, draft.Evaluation.Status)

	_, err = NewAcknowledgeEvaluationHandler(f.deps).Handle(f.ctx, AcknowledgeEvaluationCommand{Actor: teacher, EvaluationID: draft.Evaluation.ID})
	assert.ErrorIs(t, err, shared.ErrEvaluationIsDraft)
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPANY DIRECTORY
// ══════════════════════════════════════════════════════════════════════════════

func TestCompanyNotesAndMerge(t *testing.T) {
	f := newFixture(t)
	a := f.placed("s1", "Acme Corp")
	b := f.placed("s2", "ACME Corporation")

	co, err := NewUpdateCompanyNotesHandler(f.deps).Handle(f.ctx, UpdateCompanyNotesCommand{
		Actor: teacher, CompanyID: a.Company.ID, Comments: "  pays stipend  ",
	})
	require.NoError(t, err)
	assert.Equal(t, "pays stipend", co.TeacherComments)

	_, err = NewUpdateCompanyNotesHandler(f.deps).Handle(f.ctx, UpdateCompanyNotesCommand{
		Actor: companyActor(a.Company.ID), CompanyID: a.Company.ID, Comments: "x",
	})
	assert.True(t, shared.IsForbidden(err))

	merge := NewMergeCompaniesHandler(f.deps)
	_, err = merge.Handle(f.ctx, MergeCompaniesCommand{Actor: teacher, SourceID: a.Company.ID, TargetID: a.Company.ID})
	assert.ErrorIs(t, err, shared.ErrSelfMerge)

	out, err := merge.Handle(f.ctx, MergeCompaniesCommand{Actor: teacher, SourceID: b.Company.ID, TargetID: a.Company.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 1, out.Moved)

	moved, err := f.store.Reader().Placements.GetByID(f.ctx, b.Application.ID)
	require.NoError(t, err)
	require.NotNil(t, moved.CompanyID)
	assert.Equal(t, a.Company.ID, *moved.CompanyID)
	assert.Equal(t, "ACME Corporation", moved.CompanyNameSnapshot)

	_, err = f.store.Reader().Companies.GetByID(f.ctx, b.Company.ID)
	assert.True(t, shared.IsNotFound(err))
}
