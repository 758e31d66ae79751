package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/coophub/coop-engine/internal/domain/shared"
	"github.com/coophub/coop-engine/internal/domain/training"
)

// TrainingRepository implements training.Repository for PostgreSQL.
type TrainingRepository struct {
	q Querier
}

var _ training.Repository = (*TrainingRepository)(nil)

const trainingColumns = `id, student_id, topic, requested_hours, approved_hours, status, proof_ref, teacher_note, submitted_at, checked_at`

// Create inserts a new record.
func (r *TrainingRepository) Create(ctx context.Context, rec *training.Record) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO training_records (`+trainingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, string(rec.StudentID), rec.Topic, rec.RequestedHours, rec.ApprovedHours,
		string(rec.Status), rec.ProofRef, rec.TeacherNote, rec.SubmittedAt, rec.CheckedAt)
	if err != nil {
		return fmt.Errorf("insert training record: %w", err)
	}
	return nil
}

// GetByID returns a record by id.
func (r *TrainingRepository) GetByID(ctx context.Context, id string) (*training.Record, error) {
	return scanTraining(r.q.QueryRow(ctx, `SELECT `+trainingColumns+` FROM training_records WHERE id = $1`, id))
}

// GetForUpdate returns a record and locks its row.
func (r *TrainingRepository) GetForUpdate(ctx context.Context, id string) (*training.Record, error) {
	return scanTraining(r.q.QueryRow(ctx, `SELECT `+trainingColumns+` FROM training_records WHERE id = $1 FOR UPDATE`, id))
}

// Update persists the verification outcome.
func (r *TrainingRepository) Update(ctx context.Context, rec *training.Record) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE training_records
		SET status = $2, approved_hours = $3, teacher_note = $4, checked_at = $5
		WHERE id = $1
	`, rec.ID, string(rec.Status), rec.ApprovedHours, rec.TeacherNote, rec.CheckedAt)
	if err != nil {
		return fmt.Errorf("update training record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrTrainingNotFound
	}
	return nil
}

// ApprovedHourSum sums approved hours over APPROVED rows.
func (r *TrainingRepository) ApprovedHourSum(ctx context.Context, studentID shared.StudentID) (int, error) {
	var sum int
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(approved_hours), 0)::int
		FROM training_records
		WHERE student_id = $1 AND status = 'APPROVED'
	`, string(studentID)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum approved hours: %w", err)
	}
	return sum, nil
}

// ListByStudent returns a student's records, newest first.
func (r *TrainingRepository) ListByStudent(ctx context.Context, studentID shared.StudentID) ([]*training.Record, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+trainingColumns+`
		FROM training_records
		WHERE student_id = $1
		ORDER BY submitted_at DESC, id
	`, string(studentID))
	if err != nil {
		return nil, fmt.Errorf("list training records: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*training.Record, error) {
		return scanTraining(row)
	})
}

// ListByStatus returns records in one status, oldest first.
func (r *TrainingRepository) ListByStatus(ctx context.Context, status training.Status) ([]*training.Record, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+trainingColumns+`
		FROM training_records
		WHERE $1::text = '' OR status = $1
		ORDER BY submitted_at, id
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list training records: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*training.Record, error) {
		return scanTraining(row)
	})
}

func scanTraining(row pgx.Row) (*training.Record, error) {
	var rec training.Record
	var studentID, status string
	err := row.Scan(&rec.ID, &studentID, &rec.Topic, &rec.RequestedHours, &rec.ApprovedHours,
		&status, &rec.ProofRef, &rec.TeacherNote, &rec.SubmittedAt, &rec.CheckedAt)
	if IsNoRows(err) {
		return nil, shared.ErrTrainingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan training record: %w", err)
	}
	rec.StudentID = shared.StudentID(studentID)
	rec.Status = training.Status(status)
	return &rec, nil
}
