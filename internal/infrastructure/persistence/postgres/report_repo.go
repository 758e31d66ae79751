package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/coophub/coop-engine/internal/domain/report"
	"github.com/coophub/coop-engine/internal/domain/shared"
)

// ReportRepository implements report.Repository for PostgreSQL.
type ReportRepository struct {
	q Querier
}

var _ report.Repository = (*ReportRepository)(nil)

const reportColumns = `id, job_application_id, week_number, work_summary, problems, knowledge_gained,
	supervisor_feedback, status, teacher_comment, submitted_at, checked_at`

// Create inserts a report.
func (r *ReportRepository) Create(ctx context.Context, rep *report.WeeklyReport) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO weekly_reports (`+reportColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rep.ID, rep.ApplicationID, rep.WeekNumber, rep.WorkSummary, rep.Problems, rep.KnowledgeGained,
		rep.SupervisorFeedback, string(rep.Status), rep.TeacherComment, rep.SubmittedAt, rep.CheckedAt)
	if IsConstraintViolation(err, "weekly_reports_job_week_key") {
		return shared.ErrWeekSubmitted
	}
	if err != nil {
		return fmt.Errorf("insert weekly report: %w", err)
	}
	return nil
}

// GetByID returns a report by id.
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*report.WeeklyReport, error) {
	return scanReport(r.q.QueryRow(ctx, `SELECT `+reportColumns+` FROM weekly_reports WHERE id = $1`, id))
}

// GetForUpdate returns a report and locks its row.
func (r *ReportRepository) GetForUpdate(ctx context.Context, id string) (*report.WeeklyReport, error) {
	return scanReport(r.q.QueryRow(ctx, `SELECT `+reportColumns+` FROM weekly_reports WHERE id = $1 FOR UPDATE`, id))
}

// ExistsForWeek reports whether the week is already logged.
func (r *ReportRepository) ExistsForWeek(ctx context.Context, applicationID string, week int) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM weekly_reports WHERE job_application_id = $1 AND week_number = $2)
	`, applicationID, week).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check report week: %w", err)
	}
	return exists, nil
}

// Update persists the acknowledgment.
func (r *ReportRepository) Update(ctx context.Context, rep *report.WeeklyReport) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE weekly_reports SET status = $2, teacher_comment = $3, checked_at = $4 WHERE id = $1
	`, rep.ID, string(rep.Status), rep.TeacherComment, rep.CheckedAt)
	if err != nil {
		return fmt.Errorf("update weekly report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrReportNotFound
	}
	return nil
}

// ListByApplication returns reports ordered by week.
func (r *ReportRepository) ListByApplication(ctx context.Context, applicationID string) ([]*report.WeeklyReport, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+reportColumns+` FROM weekly_reports WHERE job_application_id = $1 ORDER BY week_number
	`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list weekly reports: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*report.WeeklyReport, error) {
		return scanReport(row)
	})
}

// ListByStatus returns reports in one status, newest submission first.
func (r *ReportRepository) ListByStatus(ctx context.Context, status report.Status) ([]*report.WeeklyReport, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+reportColumns+`
		FROM weekly_reports
		WHERE $1::text = '' OR status = $1
		ORDER BY submitted_at DESC, id
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list weekly reports: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*report.WeeklyReport, error) {
		return scanReport(row)
	})
}

// Stats counts total and pending reports.
func (r *ReportRepository) Stats(ctx context.Context, applicationID string) (report.Stats, error) {
	var s report.Stats
	err := r.q.QueryRow(ctx, `
		SELECT count(*)::int, (count(*) FILTER (WHERE status = 'PENDING'))::int
		FROM weekly_reports WHERE job_application_id = $1
	`, applicationID).Scan(&s.Total, &s.Pending)
	if err != nil {
		return report.Stats{}, fmt.Errorf("report stats: %w", err)
	}
	return s, nil
}

func scanReport(row pgx.Row) (*report.WeeklyReport, error) {
	var rep report.WeeklyReport
	var status string
	err := row.Scan(&rep.ID, &rep.ApplicationID, &rep.WeekNumber, &rep.WorkSummary, &rep.Problems,
		&rep.KnowledgeGained, &rep.SupervisorFeedback, &status, &rep.TeacherComment, &rep.SubmittedAt, &rep.CheckedAt)
	if IsNoRows(err) {
		return nil, shared.ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan weekly report: %w", err)
	}
	rep.Status = report.Status(status)
	return &rep, nil
}
