package postgres

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgx/v5"

	"github.com/coophub/coop-engine/internal/domain/placement"
	"github.com/coophub/coop-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PLACEMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// PlacementRepository implements placement.Repository for PostgreSQL.
type PlacementRepository struct {
	q Querier
}

var _ placement.Repository = (*PlacementRepository)(nil)

const placementColumns = `id, student_id, company_id, company_name_snapshot, position, location,
	supervisor_name, supervisor_phone, start_date, end_date, academic_year, semester,
	accommodation, emergency_contact_name, emergency_contact_phone, status, teacher_note,
	cancel_reason, version, created_at, updated_at`

// placementLockSpace namespaces the per-student advisory locks.
const placementLockSpace int32 = 0x434f4f50

// LockStudent takes a transaction-scoped advisory lock on the student.
func (r *PlacementRepository) LockStudent(ctx context.Context, studentID shared.StudentID) error {
	h := fnv.New32a()
	_, _ = h.Write([]byte(studentID))
	if _, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, placementLockSpace, int32(h.Sum32())); err != nil {
		return fmt.Errorf("lock student placements: %w", err)
	}
	return nil
}

// Create inserts a new application.
func (r *PlacementRepository) Create(ctx context.Context, a *placement.Application) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO job_applications (`+placementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, a.ID, string(a.StudentID), companyIDArg(a.CompanyID), a.CompanyNameSnapshot, a.Position, a.Location,
		a.SupervisorName, a.SupervisorPhone, a.StartDate, a.EndDate, a.AcademicYear, a.Semester,
		a.Accommodation, a.EmergencyContactName, a.EmergencyContactPhone, string(a.Status), a.TeacherNote,
		a.CancelReason, a.Version, a.CreatedAt, a.UpdatedAt)
	if IsConstraintViolation(err, "job_applications_one_live") {
		return shared.ErrActivePlacement
	}
	if err != nil {
		return fmt.Errorf("insert job application: %w", err)
	}
	return nil
}

// GetByID returns an application by id.
func (r *PlacementRepository) GetByID(ctx context.Context, id string) (*placement.Application, error) {
	return scanPlacement(r.q.QueryRow(ctx, `SELECT `+placementColumns+` FROM job_applications WHERE id = $1`, id))
}

// GetForUpdate returns an application and locks its row.
func (r *PlacementRepository) GetForUpdate(ctx context.Context, id string) (*placement.Application, error) {
	return scanPlacement(r.q.QueryRow(ctx, `SELECT `+placementColumns+` FROM job_applications WHERE id = $1 FOR UPDATE`, id))
}

// Update writes mutable fields guarded by the version column.
func (r *PlacementRepository) Update(ctx context.Context, a *placement.Application) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE job_applications
		SET status = $3, teacher_note = $4, cancel_reason = $5, company_id = $6,
		    updated_at = $7, version = version + 1
		WHERE id = $1 AND version = $2
	`, a.ID, a.Version, string(a.Status), a.TeacherNote, a.CancelReason, companyIDArg(a.CompanyID), a.UpdatedAt)
	if IsConstraintViolation(err, "job_applications_one_live") {
		return shared.ErrActivePlacement
	}
	if err != nil {
		return fmt.Errorf("update job application: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.WrapError("placement", "Update", shared.ErrOptimisticLock,
			"job application changed concurrently", fmt.Errorf("id=%s version=%d", a.ID, a.Version))
	}
	a.Version++
	return nil
}

// FindLive returns the student's PENDING or APPROVED application.
func (r *PlacementRepository) FindLive(ctx context.Context, studentID shared.StudentID) (*placement.Application, error) {
	return scanPlacement(r.q.QueryRow(ctx, `
		SELECT `+placementColumns+`
		FROM job_applications
		WHERE student_id = $1 AND status IN ('PENDING', 'APPROVED')
		ORDER BY created_at DESC
		LIMIT 1
	`, string(studentID)))
}

// HasOtherApproved reports another APPROVED application for the student.
func (r *PlacementRepository) HasOtherApproved(ctx context.Context, studentID shared.StudentID, excludeID string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM job_applications
			WHERE student_id = $1 AND status = 'APPROVED' AND id <> $2
		)
	`, string(studentID), excludeID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check approved applications: %w", err)
	}
	return exists, nil
}

// Current returns the newest non-cancelled application.
func (r *PlacementRepository) Current(ctx context.Context, studentID shared.StudentID) (*placement.Application, error) {
	return scanPlacement(r.q.QueryRow(ctx, `
		SELECT `+placementColumns+`
		FROM job_applications
		WHERE student_id = $1 AND status <> 'CANCELLED'
		ORDER BY created_at DESC
		LIMIT 1
	`, string(studentID)))
}

// ListByStudent returns a student's applications, newest first.
func (r *PlacementRepository) ListByStudent(ctx context.Context, studentID shared.StudentID) ([]*placement.Application, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+placementColumns+`
		FROM job_applications
		WHERE student_id = $1
		ORDER BY created_at DESC
	`, string(studentID))
	if err != nil {
		return nil, fmt.Errorf("list student applications: %w", err)
	}
	return collectPlacements(rows)
}

// ListByCompany returns applications at a company in one status.
func (r *PlacementRepository) ListByCompany(ctx context.Context, companyID shared.CompanyID, status placement.Status) ([]*placement.Application, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+placementColumns+`
		FROM job_applications
		WHERE company_id = $1 AND status = $2
		ORDER BY start_date, student_id
	`, string(companyID), string(status))
	if err != nil {
		return nil, fmt.Errorf("list company applications: %w", err)
	}
	return collectPlacements(rows)
}

// ListByStatus returns applications in one status, newest first.
func (r *PlacementRepository) ListByStatus(ctx context.Context, status placement.Status) ([]*placement.Application, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+placementColumns+`
		FROM job_applications
		WHERE $1::text = '' OR status = $1
		ORDER BY created_at DESC, id
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	return collectPlacements(rows)
}

// ReassignCompany re-points applications from one company to another.
func (r *PlacementRepository) ReassignCompany(ctx context.Context, from, to shared.CompanyID) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE job_applications
		SET company_id = $2, version = version + 1, updated_at = NOW()
		WHERE company_id = $1
	`, string(from), string(to))
	if err != nil {
		return 0, fmt.Errorf("reassign applications: %w", err)
	}
	return tag.RowsAffected(), nil
}

func companyIDArg(id *shared.CompanyID) *string {
	if id == nil {
		return nil
	}
	s := string(*id)
	return &s
}

func collectPlacements(rows pgx.Rows) ([]*placement.Application, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*placement.Application, error) {
		return scanPlacement(row)
	})
}

func scanPlacement(row pgx.Row) (*placement.Application, error) {
	var a placement.Application
	var studentID, status string
	var companyID *string
	err := row.Scan(&a.ID, &studentID, &companyID, &a.CompanyNameSnapshot, &a.Position, &a.Location,
		&a.SupervisorName, &a.SupervisorPhone, &a.StartDate, &a.EndDate, &a.AcademicYear, &a.Semester,
		&a.Accommodation, &a.EmergencyContactName, &a.EmergencyContactPhone, &status, &a.TeacherNote,
		&a.CancelReason, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if IsNoRows(err) {
		return nil, shared.ErrPlacementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job application: %w", err)
	}
	a.StudentID = shared.StudentID(studentID)
	a.Status = placement.Status(status)
	if companyID != nil {
		id := shared.CompanyID(*companyID)
		a.CompanyID = &id
	}
	return &a, nil
}
