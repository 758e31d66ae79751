package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/coophub/coop-engine/internal/domain/shared"
	"github.com/coophub/coop-engine/internal/domain/training"
)

// TrainingRepository implements training.Repository for SQLite.
type TrainingRepository struct {
	q querier
}

var _ training.Repository = (*TrainingRepository)(nil)

const trainingColumns = `id, student_id, topic, requested_hours, approved_hours, status, proof_ref, teacher_note, submitted_at, checked_at`

// Create inserts a new record.
func (r *TrainingRepository) Create(ctx context.Context, rec *training.Record) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO training_records (`+trainingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, string(rec.StudentID), rec.Topic, rec.RequestedHours, rec.ApprovedHours,
		string(rec.Status), rec.ProofRef, rec.TeacherNote, toMillis(rec.SubmittedAt), nullMillis(rec.CheckedAt))
	if err != nil {
		return fmt.Errorf("insert training record: %w", err)
	}
	return nil
}

// GetByID returns a record by id.
func (r *TrainingRepository) GetByID(ctx context.Context, id string) (*training.Record, error) {
	return scanTraining(r.q.QueryRowContext(ctx, `SELECT `+trainingColumns+` FROM training_records WHERE id = ?`, id))
}

// GetForUpdate is GetByID; the IMMEDIATE transaction already holds the
// write lock.
func (r *TrainingRepository) GetForUpdate(ctx context.Context, id string) (*training.Record, error) {
	return r.GetByID(ctx, id)
}

// Update persists the verification outcome.
func (r *TrainingRepository) Update(ctx context.Context, rec *training.Record) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE training_records
		SET status = ?, approved_hours = ?, teacher_note = ?, checked_at = ?
		WHERE id = ?
	`, string(rec.Status), rec.ApprovedHours, rec.TeacherNote, nullMillis(rec.CheckedAt), rec.ID)
	if err != nil {
		return fmt.Errorf("update training record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrTrainingNotFound
	}
	return nil
}

// ApprovedHourSum sums approved hours over APPROVED rows.
func (r *TrainingRepository) ApprovedHourSum(ctx context.Context, studentID shared.StudentID) (int, error) {
	var sum int
	err := r.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(approved_hours), 0)
		FROM training_records
		WHERE student_id = ? AND status = 'APPROVED'
	`, string(studentID)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum approved hours: %w", err)
	}
	return sum, nil
}

// ListByStudent returns a student's records, newest first.
func (r *TrainingRepository) ListByStudent(ctx context.Context, studentID shared.StudentID) ([]*training.Record, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+trainingColumns+`
		FROM training_records
		WHERE student_id = ?
		ORDER BY submitted_at DESC, id
	`, string(studentID))
	if err != nil {
		return nil, fmt.Errorf("list training records: %w", err)
	}
	defer rows.Close()

	var out []*training.Record
	for rows.Next() {
		rec, err := scanTraining(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListByStatus returns records in one status, oldest first.
func (r *TrainingRepository) ListByStatus(ctx context.Context, status training.Status) ([]*training.Record, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+trainingColumns+`
		FROM training_records
		WHERE ? = '' OR status = ?
		ORDER BY submitted_at, id
	`, string(status), string(status))
	if err != nil {
		return nil, fmt.Errorf("list training records: %w", err)
	}
	defer rows.Close()

	var out []*training.Record
	for rows.Next() {
		rec, err := scanTraining(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanTraining(row rowScanner) (*training.Record, error) {
	var rec training.Record
	var studentID, status string
	var submitted int64
	var checked sql.NullInt64
	err := row.Scan(&rec.ID, &studentID, &rec.Topic, &rec.RequestedHours, &rec.ApprovedHours,
		&status, &rec.ProofRef, &rec.TeacherNote, &submitted, &checked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrTrainingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan training record: %w", err)
	}
	rec.StudentID = shared.StudentID(studentID)
	rec.Status = training.Status(status)
	rec.SubmittedAt = fromMillis(submitted)
	rec.CheckedAt = fromNullMillis(checked)
	return &rec, nil
}
