package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/coophub/coop-engine/internal/domain/evaluation"
	"github.com/coophub/coop-engine/internal/domain/shared"
)

// EvaluationRepository implements evaluation.Repository for PostgreSQL.
// Scores and section comments are stored as JSONB.
type EvaluationRepository struct {
	q Querier
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
	_, err = r.q.Exec(ctx, `
		INSERT INTO evaluations (`+evaluationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, e.ID, e.ApplicationID, e.EvaluatorID, scores, e.TotalScore, e.Strengths, e.Weaknesses,
		e.Comments, sections, string(e.Status), string(e.AckStatus), e.Version, e.EvaluatedAt, e.UpdatedAt, e.AcknowledgedAt)
	if IsConstraintViolation(err, "evaluations_job_key") {
		return shared.ErrAlreadyEvaluated
	}
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

// GetByID returns an evaluation by id.
func (r *EvaluationRepository) GetByID(ctx context.Context, id string) (*evaluation.Evaluation, error) {
	return scanEvaluation(r.q.QueryRow(ctx, `SELECT `+evaluationColumns+` FROM evaluations WHERE id = $1`, id))
}

// GetForUpdate returns an evaluation and locks its row.
func (r *EvaluationRepository) GetForUpdate(ctx context.Context, id string) (*evaluation.Evaluation, error) {
	return scanEvaluation(r.q.QueryRow(ctx, `SELECT `+evaluationColumns+` FROM evaluations WHERE id = $1 FOR UPDATE`, id))
}

// GetByApplication returns the evaluation of an application.
func (r *EvaluationRepository) GetByApplication(ctx context.Context, applicationID string) (*evaluation.Evaluation, error) {
	return scanEvaluation(r.q.QueryRow(ctx, `SELECT `+evaluationColumns+` FROM evaluations WHERE job_application_id = $1`, applicationID))
}

// ExistsForApplication reports whether the application has an evaluation.
func (r *EvaluationRepository) ExistsForApplication(ctx context.Context, applicationID string) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM evaluations WHERE job_application_id = $1)`, applicationID).Scan(&exists)
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
	tag, err := r.q.Exec(ctx, `
		UPDATE evaluations
		SET scores = $3, total_score = $4, strengths = $5, weaknesses = $6, comments = $7,
		    section_comments = $8, status = $9, teacher_ack_status = $10, updated_at = $11,
		    acknowledged_at = $12, version = version + 1
		WHERE id = $1 AND version = $2
	`, e.ID, e.Version, scores, e.TotalScore, e.Strengths, e.Weaknesses, e.Comments,
		sections, string(e.Status), string(e.AckStatus), e.UpdatedAt, e.AcknowledgedAt)
	if err != nil {
		return fmt.Errorf("update evaluation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.WrapError("evaluation", "Update", shared.ErrOptimisticLock,
			"evaluation changed concurrently", fmt.Errorf("id=%s version=%d", e.ID, e.Version))
	}
	e.Version++
	return nil
}

// ListByAck returns submitted and approved evaluations, newest first.
func (r *EvaluationRepository) ListByAck(ctx context.Context, ack evaluation.AckStatus) ([]*evaluation.Evaluation, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+evaluationColumns+`
		FROM evaluations
		WHERE status <> 'DRAFT' AND ($1::text = '' OR teacher_ack_status = $1)
		ORDER BY evaluated_at DESC, id
	`, string(ack))
	if err != nil {
		return nil, fmt.Errorf("list evaluations: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*evaluation.Evaluation, error) {
		return scanEvaluation(row)
	})
}

func encodeEvaluation(e *evaluation.Evaluation) ([]byte, []byte, error) {
	scores, err := json.Marshal(e.Scores)
	if err != nil {
		return nil, nil, fmt.Errorf("encode scores: %w", err)
	}
	sections, err := json.Marshal(e.SectionComments)
	if err != nil {
		return nil, nil, fmt.Errorf("encode section comments: %w", err)
	}
	return scores, sections, nil
}

func scanEvaluation(row pgx.Row) (*evaluation.Evaluation, error) {
	var e evaluation.Evaluation
	var scores, sections []byte
	var status, ack string
	err := row.Scan(&e.ID, &e.ApplicationID, &e.EvaluatorID, &scores, &e.TotalScore, &e.Strengths,
		&e.Weaknesses, &e.Comments, &sections, &status, &ack, &e.Version, &e.EvaluatedAt, &e.UpdatedAt, &e.AcknowledgedAt)
	if IsNoRows(err) {
		return nil, shared.ErrEvaluationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan evaluation: %w", err)
	}
	if err := json.Unmarshal(scores, &e.Scores); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	if len(sections) > 0 {
		if err := json.Unmarshal(sections, &e.SectionComments); err != nil {
			return nil, fmt.Errorf("decode section comments: %w", err)
		}
	}
	e.Status = evaluation.Status(status)
	e.AckStatus = evaluation.AckStatus(ack)
	return &e, nil
}
