package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/coophub/coop-engine/internal/domain/evaluation"
	"github.com/coophub/coop-engine/internal/domain/shared"
)

// EvaluationRepository implements evaluation.Repository for SQLite. Scores
// and section comments are stored as JSON text.
type EvaluationRepository struct {
	q querier
}

var _ evaluation.Repository = (*EvaluationRepository)(nil)

const evaluationColumns = `id, job_application_id, evaluator_id, scores, total_score, strengths, weaknesses,
	comments, section_comments, status, teacher_ack_status, version, evaluated_at, updated_at, acknowledged_at`

// Create inserts an evaluation.
func (r *EvaluationRepository) Create(ctx context.Context, e *evaluation.Evaluation) error {
	scores, sections, err := encodeEvaluation(e)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO evaluations (`+evaluationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.ApplicationID, e.EvaluatorID, scores, e.TotalScore, e.Strengths, e.Weaknesses,
		e.Comments, sections, string(e.Status), string(e.AckStatus), e.Version,
		toMillis(e.EvaluatedAt), toMillis(e.UpdatedAt), nullMillis(e.AcknowledgedAt))
	if isUniqueViolation(err, "evaluations.job_application_id") {
		return shared.ErrAlreadyEvaluated
	}
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

// GetByID returns an evaluation by id.
func (r *EvaluationRepository) GetByID(ctx context.Context, id string) (*evaluation.Evaluation, error) {
	return scanEvaluation(r.q.QueryRowContext(ctx, `SELECT `+evaluationColumns+` FROM evaluations WHERE id = ?`, id))
}

// GetForUpdate is GetByID under the transaction's write lock.
func (r *EvaluationRepository) GetForUpdate(ctx context.Context, id string) (*evaluation.Evaluation, error) {
	return r.GetByID(ctx, id)
}

// GetByApplication returns the evaluation of an application.
func (r *EvaluationRepository) GetByApplication(ctx context.Context, applicationID string) (*evaluation.Evaluation, error) {
	return scanEvaluation(r.q.QueryRowContext(ctx,
		`SELECT `+evaluationColumns+` FROM evaluations WHERE job_application_id = ?`, applicationID))
}

// ExistsForApplication reports whether the application has an evaluation.
func (r *EvaluationRepository) ExistsForApplication(ctx context.Context, applicationID string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM evaluations WHERE job_application_id = ?)`, applicationID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check evaluation: %w", err)
	}
	return exists, nil
}

// Update writes e guarded by the version column.
func (r *EvaluationRepository) Update(ctx context.Context, e *evaluation.Evaluation) error {
	scores, sections, err := encodeEvaluation(e)
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE evaluations
		SET scores = ?, total_score = ?, strengths = ?, weaknesses = ?, comments = ?,
		    section_comments = ?, status = ?, teacher_ack_status = ?, updated_at = ?,
		    acknowledged_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`, scores, e.TotalScore, e.Strengths, e.Weaknesses, e.Comments, sections,
		string(e.Status), string(e.AckStatus), toMillis(e.UpdatedAt), nullMillis(e.AcknowledgedAt), e.ID, e.Version)
	if err != nil {
		return fmt.Errorf("update evaluation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.WrapError("evaluation", "Update", shared.ErrOptimisticLock,
			"evaluation changed concurrently", fmt.Errorf("id=%s version=%d", e.ID, e.Version))
	}
	e.Version++
	return nil
}

// ListByAck returns submitted and approved evaluations, newest first.
func (r *EvaluationRepository) ListByAck(ctx context.Context, ack evaluation.AckStatus) ([]*evaluation.Evaluation, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+evaluationColumns+`
		FROM evaluations
		WHERE status <> 'DRAFT' AND (? = '' OR teacher_ack_status = ?)
		ORDER BY evaluated_at DESC, id
	`, string(ack), string(ack))
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	defer rows.Close()

	var out []*evaluation.Evaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func encodeEvaluation(e *evaluation.Evaluation) (string, string, error) {
	scores, err := json.Marshal(e.Scores)
	if err != nil {
		return "", "", fmt.Errorf("encode scores: %w", err)
	}
	sections, err := json.Marshal(e.SectionComments)
	if err != nil {
		return "", "", fmt.Errorf("encode section comments: %w", err)
	}
	return string(scores), string(sections), nil
}

func scanEvaluation(row rowScanner) (*evaluation.Evaluation, error) {
	var e evaluation.Evaluation
	var scores, sections, status, ack string
	var evaluated, updated int64
	var acked sql.NullInt64
	err := row.Scan(&e.ID, &e.ApplicationID, &e.EvaluatorID, &scores, &e.TotalScore, &e.Strengths,
		&e.Weaknesses, &e.Comments, &sections, &status, &ack, &e.Version, &evaluated, &updated, &acked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrEvaluationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan evaluation: %w", err)
	}
	if err := json.Unmarshal([]byte(scores), &e.Scores); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	if err := json.Unmarshal([]byte(sections), &e.SectionComments); err != nil {
		return nil, fmt.Errorf("decode section comments: %w", err)
	}
	e.Status = evaluation.Status(status)
	e.AckStatus = evaluation.AckStatus(ack)
	e.EvaluatedAt, e.UpdatedAt = fromMillis(evaluated), fromMillis(updated)
	e.AcknowledgedAt = fromNullMillis(acked)
	return &e, nil
}
