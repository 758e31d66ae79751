package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/coophub/coop-engine/internal/application/uow"
	"github.com/coophub/coop-engine/internal/domain/access"
	"github.com/coophub/coop-engine/internal/domain/evaluation"
	"github.com/coophub/coop-engine/internal/domain/placement"
	"github.com/coophub/coop-engine/internal/domain/report"
	"github.com/coophub/coop-engine/internal/domain/shared"
	"github.com/coophub/coop-engine/internal/domain/training"
)

// ══════════════════════════════════════════════════════════════════════════════
// FACULTY STUDENT LIST
// Every student the engine knows of, i.e. anyone with a training record or a
// job application.
// ══════════════════════════════════════════════════════════════════════════════

// StudentFilter narrows the student list.
type StudentFilter string

const (
	FilterAll               StudentFilter = "ALL"
	FilterTrainingNotPassed StudentFilter = "TRAINING_NOT_PASS"
	FilterJobWaiting        StudentFilter = "JOB_WAITING"
	FilterJobApproved       StudentFilter = "JOB_APPROVED"
)

// JobStatusNone is the job status of a student without a current application.
const JobStatusNone = "NONE"

// ListStudentsQuery lists students with their hours and current job.
type ListStudentsQuery struct {
	Actor  access.Actor
	Filter StudentFilter

	// Search matches student ids by case-insensitive substring.
	Search string
}

// StudentRowDTO is one line of the faculty student list.
type StudentRowDTO struct {
	StudentID     string               `json:"student_id"`
	ApprovedHours int                  `json:"approved_hours"`
	Passed        bool                 `json:"is_passed"`
	JobStatus     string               `json:"job_status"`
	Job           *PlacementSummaryDTO `json:"job,omitempty"`
}

func (r StudentRowDTO) matches(f StudentFilter) bool {
	switch f {
	case FilterTrainingNotPassed:
		return !r.Passed
	case FilterJobWaiting:
		return r.JobStatus == string(placement.StatusPending)
	case FilterJobApproved:
		return r.JobStatus == string(placement.StatusApproved)
	default:
		return true
	}
}

// ListStudentsHandler handles ListStudentsQuery.
type ListStudentsHandler struct {
	store         uow.Store
	requiredHours int
}

// NewListStudentsHandler creates a new ListStudentsHandler.
func NewListStudentsHandler(store uow.Store, requiredHours int) *ListStudentsHandler {
	if requiredHours <= 0 {
		requiredHours = training.DefaultRequiredHours
	}
	return &ListStudentsHandler{store: store, requiredHours: requiredHours}
}

// Handle executes the query. Rows are ordered by student id.
func (h *ListStudentsHandler) Handle(ctx context.Context, q ListStudentsQuery) ([]StudentRowDTO, error) {
	if err := access.Authorize(q.Actor, access.CapViewStudents); err != nil {
		return nil, err
	}
	filter := StudentFilter(strings.ToUpper(strings.TrimSpace(string(q.Filter))))
	switch filter {
	case "":
		filter = FilterAll
	case FilterAll, FilterTrainingNotPassed, FilterJobWaiting, FilterJobApproved:
	default:
		return nil, shared.Errorf("student", "List", shared.ErrValidation, "unknown filter %q", q.Filter)
	}

	repos := h.store.Reader()
	records, err := repos.Training.ListByStatus(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list training records: %w", err)
	}
	apps, err := repos.Placements.ListByStatus(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}

	rows := make(map[shared.StudentID]*StudentRowDTO)
	row := func(id shared.StudentID) *StudentRowDTO {
		r, ok := rows[id]
		if !ok {
			r = &StudentRowDTO{StudentID: id.String(), JobStatus: JobStatusNone}
			rows[id] = r
		}
		return r
	}
	for _, rec := range records {
		r := row(rec.StudentID)
		if rec.Status == training.StatusApproved {
			r.ApprovedHours += rec.ApprovedHours
		}
	}
	// apps are newest first, so the first live one seen is current.
	for _, a := range apps {
		r := row(a.StudentID)
		if r.Job == nil && a.Status != placement.StatusCancelled {
			r.Job = summarize(a)
			r.JobStatus = string(a.Status)
		}
	}

	search := strings.ToLower(strings.TrimSpace(q.Search))
	out := make([]StudentRowDTO, 0, len(rows))
	for _, r := range rows {
		r.Passed = training.Shortfall(r.ApprovedHours, h.requiredHours) == 0
		if search != "" && !strings.Contains(strings.ToLower(r.StudentID), search) {
			continue
		}
		if r.matches(filter) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FACULTY STUDENT DETAIL
// ══════════════════════════════════════════════════════════════════════════════

// GetStudentDetailQuery asks for one student's full history.
type GetStudentDetailQuery struct {
	Actor     access.Actor
	StudentID shared.StudentID
}

// StudentDetailDTO is everything faculty see about one student. Reports and
// evaluation belong to the current application.
type StudentDetailDTO struct {
	StudentID     string                   `json:"student_id"`
	ApprovedHours int                      `json:"total_approved_hours"`
	Passed        bool                     `json:"is_passed"`
	Training      []*training.Record       `json:"training_records"`
	Jobs          []*placement.Application `json:"job_history"`
	Current       *PlacementSummaryDTO     `json:"current_job,omitempty"`
	Reports       []*report.WeeklyReport   `json:"weekly_reports"`
	Evaluation    *evaluation.Evaluation   `json:"evaluation,omitempty"`
}

// GetStudentDetailHandler handles GetStudentDetailQuery.
type GetStudentDetailHandler struct {
	store         uow.Store
	requiredHours int
}

// NewGetStudentDetailHandler creates a new GetStudentDetailHandler.
func NewGetStudentDetailHandler(store uow.Store, requiredHours int) *GetStudentDetailHandler {
	if requiredHours <= 0 {
		requiredHours = training.DefaultRequiredHours
	}
	return &GetStudentDetailHandler{store: store, requiredHours: requiredHours}
}

// Handle executes the query. A student with no records at all is not found.
func (h *GetStudentDetailHandler) Handle(ctx context.Context, q GetStudentDetailQuery) (*StudentDetailDTO, error) {
	if err := access.Authorize(q.Actor, access.CapViewStudents); err != nil {
		return nil, err
	}
	if !q.StudentID.IsValid() {
		return nil, shared.NewDomainError("student", "Detail", shared.ErrInvalidID, "student id is required")
	}

	repos := h.store.Reader()
	records, err := repos.Training.ListByStudent(ctx, q.StudentID)
	if err != nil {
		return nil, fmt.Errorf("list training records: %w", err)
	}
	jobs, err := repos.Placements.ListByStudent(ctx, q.StudentID)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	if len(records) == 0 && len(jobs) == 0 {
		return nil, shared.Errorf("student", "Detail", shared.ErrNotFound, "no records for student %s", q.StudentID)
	}

	dto := &StudentDetailDTO{
		StudentID: q.StudentID.String(),
		Training:  records,
		Jobs:      jobs,
		Reports:   []*report.WeeklyReport{},
	}
	for _, rec := range records {
		if rec.Status == training.StatusApproved {
			dto.ApprovedHours += rec.ApprovedHours
		}
	}
	dto.Passed = training.Shortfall(dto.ApprovedHours, h.requiredHours) == 0

	var current *placement.Application
	for _, a := range jobs {
		if a.Status != placement.StatusCancelled {
			current = a
			break
		}
	}
	if current == nil {
		return dto, nil
	}
	dto.Current = summarize(current)

	reports, err := repos.Reports.ListByApplication(ctx, current.ID)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	if reports != nil {
		dto.Reports = reports
	}
	ev, err := repos.Evaluations.GetByApplication(ctx, current.ID)
	switch {
	case err == nil:
		dto.Evaluation = ev
	case !shared.IsNotFound(err):
		return nil, fmt.Errorf("load evaluation: %w", err)
	}
	return dto, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FACULTY WORK QUEUES
// Items waiting on a faculty decision, one queue per kind.
// ══════════════════════════════════════════════════════════════════════════════

// QueueKind selects a work queue.
type QueueKind string

const (
	QueueTraining    QueueKind = "training"
	QueueJobs        QueueKind = "jobs"
	QueueReports     QueueKind = "reports"
	QueueEvaluations QueueKind = "evaluations"
)

// WorkQueueQuery lists one queue. Only open items are listed unless All is
// set: PENDING training, jobs and reports, and unread evaluations.
type WorkQueueQuery struct {
	Actor     access.Actor
	Kind      QueueKind
	All       bool
	StudentID shared.StudentID
}

// QueueItemDTO is one queue entry. Exactly one of the payload fields is set,
// and Job carries the application context for reports and evaluations.
type QueueItemDTO struct {
	Kind        QueueKind              `json:"kind"`
	ID          string                 `json:"id"`
	StudentID   string                 `json:"student_id"`
	Status      string                 `json:"status"`
	SubmittedAt time.Time              `json:"submitted_at"`
	Job         *PlacementSummaryDTO   `json:"job,omitempty"`
	Training    *training.Record       `json:"training,omitempty"`
	Application *placement.Application `json:"application,omitempty"`
	Report      *report.WeeklyReport   `json:"report,omitempty"`
	Evaluation  *evaluation.Evaluation `json:"evaluation,omitempty"`
}

// WorkQueueHandler handles WorkQueueQuery.
type WorkQueueHandler struct {
	store uow.Store
}

// NewWorkQueueHandler creates a new WorkQueueHandler.
func NewWorkQueueHandler(store uow.Store) *WorkQueueHandler {
	return &WorkQueueHandler{store: store}
}

// Handle executes the query.
func (h *WorkQueueHandler) Handle(ctx context.Context, q WorkQueueQuery) ([]QueueItemDTO, error) {
	if err := access.Authorize(q.Actor, access.CapViewWorkQueue); err != nil {
		return nil, err
	}
	repos := h.store.Reader()
	var (
		items []QueueItemDTO
		err   error
	)
	switch q.Kind {
	case QueueTraining:
		items, err = trainingQueue(ctx, repos, q.All)
	case QueueJobs:
		items, err = jobQueue(ctx, repos, q.All)
	case QueueReports:
		items, err = reportQueue(ctx, repos, q.All)
	case QueueEvaluations:
		items, err = evaluationQueue(ctx, repos, q.All)
	default:
		return nil, shared.Errorf("queue", "List", shared.ErrValidation, "unknown queue %q", q.Kind)
	}
	if err != nil {
		return nil, err
	}

	if q.StudentID == "" {
		return items, nil
	}
	out := items[:0]
	for _, it := range items {
		if it.StudentID == q.StudentID.String() {
			out = append(out, it)
		}
	}
	return out, nil
}

func trainingQueue(ctx context.Context, repos uow.Repositories, all bool) ([]QueueItemDTO, error) {
	status := training.StatusPending
	if all {
		status = ""
	}
	records, err := repos.Training.ListByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list training records: %w", err)
	}
	out := make([]QueueItemDTO, 0, len(records))
	for _, rec := range records {
		out = append(out, QueueItemDTO{
			Kind:        QueueTraining,
			ID:          rec.ID,
			StudentID:   rec.StudentID.String(),
			Status:      string(rec.Status),
			SubmittedAt: rec.SubmittedAt,
			Training:    rec,
		})
	}
	return out, nil
}

func jobQueue(ctx context.Context, repos uow.Repositories, all bool) ([]QueueItemDTO, error) {
	status := placement.StatusPending
	if all {
		status = ""
	}
	apps, err := repos.Placements.ListByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	out := make([]QueueItemDTO, 0, len(apps))
	for _, a := range apps {
		out = append(out, QueueItemDTO{
			Kind:        QueueJobs,
			ID:          a.ID,
			StudentID:   a.StudentID.String(),
			Status:      string(a.Status),
			SubmittedAt: a.CreatedAt,
			Application: a,
		})
	}
	return out, nil
}

func reportQueue(ctx context.Context, repos uow.Repositories, all bool) ([]QueueItemDTO, error) {
	status := report.StatusPending
	if all {
		status = ""
	}
	reports, err := repos.Reports.ListByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	jobs := jobLookup(repos)
	out := make([]QueueItemDTO, 0, len(reports))
	for _, r := range reports {
		app, err := jobs(ctx, r.ApplicationID)
		if err != nil {
			return nil, err
		}
		out = append(out, QueueItemDTO{
			Kind:        QueueReports,
			ID:          r.ID,
			StudentID:   app.StudentID.String(),
			Status:      string(r.Status),
			SubmittedAt: r.SubmittedAt,
			Job:         summarize(app),
			Report:      r,
		})
	}
	return out, nil
}

func evaluationQueue(ctx context.Context, repos uow.Repositories, all bool) ([]QueueItemDTO, error) {
	ack := evaluation.AckUnread
	if all {
		ack = ""
	}
	evals, err := repos.Evaluations.ListByAck(ctx, ack)
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	jobs := jobLookup(repos)
	out := make([]QueueItemDTO, 0, len(evals))
	for _, e := range evals {
		app, err := jobs(ctx, e.ApplicationID)
		if err != nil {
			return nil, err
		}
		out = append(out, QueueItemDTO{
			Kind:        QueueEvaluations,
			ID:          e.ID,
			StudentID:   app.StudentID.String(),
			Status:      string(e.AckStatus),
			SubmittedAt: e.EvaluatedAt,
			Job:         summarize(app),
			Evaluation:  e,
		})
	}
	return out, nil
}

// jobLookup memoizes application reads for one queue listing.
func jobLookup(repos uow.Repositories) func(context.Context, string) (*placement.Application, error) {
	seen := make(map[string]*placement.Application)
	return func(ctx context.Context, id string) (*placement.Application, error) {
		if app, ok := seen[id]; ok {
			return app, nil
		}
		app, err := repos.Placements.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load application %s: %w", id, err)
		}
		seen[id] = app
		return app, nil
	}
}
