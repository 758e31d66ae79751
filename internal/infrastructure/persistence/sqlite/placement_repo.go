package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coophub/coop-engine/internal/domain/placement"
	"github.com/coophub/coop-engine/internal/domain/shared"
	"github.com/coophub/coop-engine/pkg/timeutil"
)

// PlacementRepository implements placement.Repository for SQLite. Start and
// end dates are stored as campus calendar dates (YYYY-MM-DD).
type PlacementRepository struct {
	q querier
}

var _ placement.Repository = (*PlacementRepository)(nil)

const placementColumns = `id, student_id, company_id, company_name_snapshot, position, location,
	supervisor_name, supervisor_phone, start_date, end_date, academic_year, semester,
	accommodation, emergency_contact_name, emergency_contact_phone, status, teacher_note,
	cancel_reason, version, created_at, updated_at`

// LockStudent is a no-op: the IMMEDIATE transaction is already the only
// writer.
func (r *PlacementRepository) LockStudent(context.Context, shared.StudentID) error {
	return nil
}

// Create inserts a new application.
func (r *PlacementRepository) Create(ctx context.Context, a *placement.Application) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO job_applications (`+placementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, string(a.StudentID), companyIDArg(a.CompanyID), a.CompanyNameSnapshot, a.Position, a.Location,
		a.SupervisorName, a.SupervisorPhone, timeutil.FormatDateStr(a.StartDate), timeutil.FormatDateStr(a.EndDate),
		a.AcademicYear, a.Semester, a.Accommodation, a.EmergencyContactName, a.EmergencyContactPhone,
		string(a.Status), a.TeacherNote, a.CancelReason, a.Version, toMillis(a.CreatedAt), toMillis(a.UpdatedAt))
	if isUniqueViolation(err, "job_applications.student_id") {
		return shared.ErrActivePlacement
	}
	if err != nil {
		return fmt.Errorf("insert job application: %w", err)
	}
	return nil
}

// GetByID returns an application by id.
func (r *PlacementRepository) GetByID(ctx context.Context, id string) (*placement.Application, error) {
	return scanPlacement(r.q.QueryRowContext(ctx, `SELECT `+placementColumns+` FROM job_applications WHERE id = ?`, id))
}

// GetForUpdate is GetByID under the transaction's write lock.
func (r *PlacementRepository) GetForUpdate(ctx context.Context, id string) (*placement.Application, error) {
	return r.GetByID(ctx, id)
}

// Update writes mutable fields guarded by the version column.
func (r *PlacementRepository) Update(ctx context.Context, a *placement.Application) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE job_applications
		SET status = ?, teacher_note = ?, cancel_reason = ?, company_id = ?,
		    updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, string(a.Status), a.TeacherNote, a.CancelReason, companyIDArg(a.CompanyID),
		toMillis(a.UpdatedAt), a.ID, a.Version)
	if isUniqueViolation(err, "job_applications.student_id") {
		return shared.ErrActivePlacement
	}
	if err != nil {
		return fmt.Errorf("update job application: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.WrapError("placement", "Update", shared.ErrOptimisticLock,
			"job application changed concurrently", fmt.Errorf("id=%s version=%d", a.ID, a.Version))
	}
	a.Version++
	return nil
}

// FindLive returns the student's PENDING or APPROVED application.
func (r *PlacementRepository) FindLive(ctx context.Context, studentID shared.StudentID) (*placement.Application, error) {
	return scanPlacement(r.q.QueryRowContext(ctx, `
		SELECT `+placementColumns+`
		FROM job_applications
		WHERE student_id = ? AND status IN ('PENDING', 'APPROVED')
		ORDER BY created_at DESC
		LIMIT 1
	`, string(studentID)))
}

// HasOtherApproved reports another APPROVED application for the student.
func (r *PlacementRepository) HasOtherApproved(ctx context.Context, studentID shared.StudentID, excludeID string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM job_applications
			WHERE student_id = ? AND status = 'APPROVED' AND id <> ?
		)
	`, string(studentID), excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check approved applications: %w", err)
	}
	return exists, nil
}

// Current returns the newest non-cancelled application.
func (r *PlacementRepository) Current(ctx context.Context, studentID shared.StudentID) (*placement.Application, error) {
	return scanPlacement(r.q.QueryRowContext(ctx, `
		SELECT `+placementColumns+`
		FROM job_applications
		WHERE student_id = ? AND status <> 'CANCELLED'
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, string(studentID)))
}

// ListByStudent returns a student's applications, newest first.
func (r *PlacementRepository) ListByStudent(ctx context.Context, studentID shared.StudentID) ([]*placement.Application, error) {
	return r.list(ctx, `
		SELECT `+placementColumns+`
		FROM job_applications
		WHERE student_id = ?
		ORDER BY created_at DESC, rowid DESC
	`, string(studentID))
}

// ListByCompany returns applications at a company in one status.
func (r *PlacementRepository) ListByCompany(ctx context.Context, companyID shared.CompanyID, status placement.Status) ([]*placement.Application, error) {
	return r.list(ctx, `
		SELECT `+placementColumns+`
		FROM job_applications
		WHERE company_id = ? AND status = ?
		ORDER BY start_date, student_id
	`, string(companyID), string(status))
}

// ListByStatus returns applications in one status, newest first.
func (r *PlacementRepository) ListByStatus(ctx context.Context, status placement.Status) ([]*placement.Application, error) {
	return r.list(ctx, `
		SELECT `+placementColumns+`
		FROM job_applications
		WHERE ? = '' OR status = ?
		ORDER BY created_at DESC, rowid DESC
	`, string(status), string(status))
}

// ReassignCompany re-points applications from one company to another.
func (r *PlacementRepository) ReassignCompany(ctx context.Context, from, to shared.CompanyID) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE job_applications
		SET company_id = ?, version = version + 1, updated_at = ?
		WHERE company_id = ?
	`, string(to), toMillis(time.Now()), string(from))
	if err != nil {
		return 0, fmt.Errorf("reassign applications: %w", err)
	}
	return res.RowsAffected()
}

func (r *PlacementRepository) list(ctx context.Context, query string, args ...any) ([]*placement.Application, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list job applications: %w", err)
	}
	defer rows.Close()

	var out []*placement.Application
	for rows.Next() {
		a, err := scanPlacement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func companyIDArg(id *shared.CompanyID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func scanPlacement(row rowScanner) (*placement.Application, error) {
	var a placement.Application
	var studentID, status, start, end string
	var companyID sql.NullString
	var created, updated int64
	err := row.Scan(&a.ID, &studentID, &companyID, &a.CompanyNameSnapshot, &a.Position, &a.Location,
		&a.SupervisorName, &a.SupervisorPhone, &start, &end, &a.AcademicYear, &a.Semester,
		&a.Accommodation, &a.EmergencyContactName, &a.EmergencyContactPhone, &status, &a.TeacherNote,
		&a.CancelReason, &a.Version, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrPlacementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job application: %w", err)
	}
	if a.StartDate, err = timeutil.ParseDate(start); err != nil {
		return nil, fmt.Errorf("scan job application: %w", err)
	}
	if a.EndDate, err = timeutil.ParseDate(end); err != nil {
		return nil, fmt.Errorf("scan job application: %w", err)
	}
	a.StudentID = shared.StudentID(studentID)
	a.Status = placement.Status(status)
	a.CreatedAt, a.UpdatedAt = fromMillis(created), fromMillis(updated)
	if companyID.Valid {
		id := shared.CompanyID(companyID.String)
		a.CompanyID = &id
	}
	return &a, nil
}
