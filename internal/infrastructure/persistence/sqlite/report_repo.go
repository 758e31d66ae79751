package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/coophub/coop-engine/internal/domain/report"
	"github.com/coophub/coop-engine/internal/domain/shared"
)

// ReportRepository implements report.Repository for SQLite.
type ReportRepository struct {
	q querier
}

var _ report.Repository = (*ReportRepository)(nil)

const reportColumns = `id, job_application_id, week_number, work_summary, problems, knowledge_gained,
	supervisor_feedback, status, teacher_comment, submitted_at, checked_at`

// Create inserts a report.
func (r *ReportRepository) Create(ctx context.Context, rep *report.WeeklyReport) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO weekly_reports (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rep.ID, rep.ApplicationID, rep.WeekNumber, rep.WorkSummary, rep.Problems, rep.KnowledgeGained,
		rep.SupervisorFeedback, string(rep.Status), rep.TeacherComment, toMillis(rep.SubmittedAt), nullMillis(rep.CheckedAt))
	if isUniqueViolation(err, "weekly_reports.week_number") {
		return shared.ErrWeekSubmitted
	}
	if err != nil {
		return fmt.Errorf("insert weekly report: %w", err)
	}
	return nil
}

// GetByID returns a report by id.
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*report.WeeklyReport, error) {
	return scanReport(r.q.QueryRowContext(ctx, `SELECT `+reportColumns+` FROM weekly_reports WHERE id = ?`, id))
}

// GetForUpdate is GetByID under the transaction's write lock.
func (r *ReportRepository) GetForUpdate(ctx context.Context, id string) (*report.WeeklyReport, error) {
	return r.GetByID(ctx, id)
}

// ExistsForWeek reports whether the week is already logged.
func (r *ReportRepository) ExistsForWeek(ctx context.Context, applicationID string, week int) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM weekly_reports WHERE job_application_id = ? AND week_number = ?)`,
		applicationID, week).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check report week: %w", err)
	}
	return exists, nil
}

// Update persists the acknowledgment.
func (r *ReportRepository) Update(ctx context.Context, rep *report.WeeklyReport) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE weekly_reports SET status = ?, teacher_comment = ?, checked_at = ? WHERE id = ?`,
		string(rep.Status), rep.TeacherComment, nullMillis(rep.CheckedAt), rep.ID)
	if err != nil {
		return fmt.Errorf("update weekly report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrReportNotFound
	}
	return nil
}

// ListByApplication returns reports ordered by week.
func (r *ReportRepository) ListByApplication(ctx context.Context, applicationID string) ([]*report.WeeklyReport, error) {
	return r.list(ctx,
		`SELECT `+reportColumns+` FROM weekly_reports WHERE job_application_id = ? ORDER BY week_number`, applicationID)
}

// ListByStatus returns reports in one status, newest submission first.
func (r *ReportRepository) ListByStatus(ctx context.Context, status report.Status) ([]*report.WeeklyReport, error) {
	return r.list(ctx, `
		SELECT `+reportColumns+`
		FROM weekly_reports
		WHERE ? = '' OR status = ?
		ORDER BY submitted_at DESC, id
	`, string(status), string(status))
}

func (r *ReportRepository) list(ctx context.Context, query string, args ...any) ([]*report.WeeklyReport, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list weekly reports: %w", err)
	}
	defer rows.Close()

	var out []*report.WeeklyReport
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

// Stats counts total and pending reports.
func (r *ReportRepository) Stats(ctx context.Context, applicationID string) (report.Stats, error) {
	var s report.Stats
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'PENDING' THEN 1 ELSE 0 END), 0)
		FROM weekly_reports WHERE job_application_id = ?
	`, applicationID).Scan(&s.Total, &s.Pending)
	if err != nil {
		return report.Stats{}, fmt.Errorf("report stats: %w", err)
	}
	return s, nil
}

func scanReport(row rowScanner) (*report.WeeklyReport, error) {
	var rep report.WeeklyReport
	var status string
	var submitted int64
	var checked sql.NullInt64
	err := row.Scan(&rep.ID, &rep.ApplicationID, &rep.WeekNumber, &rep.WorkSummary, &rep.Problems,
		&rep.KnowledgeGained, &rep.SupervisorFeedback, &status, &rep.TeacherComment, &submitted, &checked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan weekly report: %w", err)
	}
	rep.Status = report.Status(status)
	rep.SubmittedAt = fromMillis(submitted)
	rep.CheckedAt = fromNullMillis(checked)
	return &rep, nil
}
