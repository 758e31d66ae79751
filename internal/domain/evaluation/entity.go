// Package evaluation owns the employer's rubric evaluation of a placement and
// its faculty acknowledgment.
package evaluation

import (
	"context"
	"strings"
	"time"

	"github.com/coophub/coop-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Status of an evaluation. APPROVED means acknowledged by faculty and is final.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSubmitted Status = "SUBMITTED"
	StatusApproved  Status = "APPROVED"
)

// IsEditable reports whether the owning company may still change the
// evaluation.
func (s Status) IsEditable() bool {
	return s == StatusDraft || s == StatusSubmitted
}

// AckStatus mirrors whether faculty have read the evaluation.
type AckStatus string

const (
	AckUnread       AckStatus = "UNREAD"
	AckAcknowledged AckStatus = "ACKNOWLEDGED"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: EVALUATION
// ══════════════════════════════════════════════════════════════════════════════

// Narrative is the free-text part of an evaluation.
type Narrative struct {
	Strengths       string           `json:"strengths"`
	Weaknesses      string           `json:"weaknesses"`
	Comments        string           `json:"comments"`
	SectionComments [Sections]string `json:"section_comments"`
}

// NarrativePatch updates only the fields that are set.
type NarrativePatch struct {
	Strengths       *string
	Weaknesses      *string
	Comments        *string
	SectionComments map[int]string // 1-based section
}

// Evaluation is the single employer evaluation of a job application.
type Evaluation struct {
	ID            string `json:"id"`
	ApplicationID string `json:"job_application_id"`
	EvaluatorID   string `json:"evaluator_id"`
	Scores        Rubric `json:"scores"`
	TotalScore    int    `json:"total_score"`
	Narrative
	Status         Status     `json:"status"`
	AckStatus      AckStatus  `json:"teacher_ack_status"`
	Version        int        `json:"version"`
	EvaluatedAt    time.Time  `json:"evaluated_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
}

// ScoreMap exposes the rubric keyed by criterion.
func (e *Evaluation) ScoreMap() map[string]int {
	return e.Scores.Map()
}

// NewEvaluation creates an evaluation, SUBMITTED unless draft is set.
func NewEvaluation(applicationID, evaluatorID string, scores map[string]int, n Narrative, draft bool, now time.Time) (*Evaluation, error) {
	rubric, err := ParseScores(scores)
	if err != nil {
		return nil, err
	}
	status := StatusSubmitted
	if draft {
		status = StatusDraft
	}
	e := &Evaluation{
		ID:            shared.NewID(),
		ApplicationID: applicationID,
		EvaluatorID:   evaluatorID,
		Scores:        rubric,
		Narrative:     trimNarrative(n),
		Status:        status,
		AckStatus:     AckUnread,
		Version:       1,
		EvaluatedAt:   now,
		UpdatedAt:     now,
	}
	e.recompute()
	return e, nil
}

func (e *Evaluation) recompute() {
	e.TotalScore = e.Scores.Total()
}

// Update merges the supplied scores and narrative into the evaluation and
// recomputes the total. submit moves a DRAFT to SUBMITTED.
func (e *Evaluation) Update(scores map[string]int, n NarrativePatch, submit bool, now time.Time) error {
	if !e.Status.IsEditable() {
		return shared.ErrEvaluationLocked
	}
	merged, err := e.Scores.Merge(scores)
	if err != nil {
		return err
	}
	for sec := range n.SectionComments {
		if sec < 1 || sec > Sections {
			return shared.Errorf("evaluation", "Update", shared.ErrValueOutOfRange, "section %d out of range", sec)
		}
	}

	e.Scores = merged
	if n.Strengths != nil {
		e.Strengths = strings.TrimSpace(*n.Strengths)
	}
	if n.Weaknesses != nil {
		e.Weaknesses = strings.TrimSpace(*n.Weaknesses)
	}
	if n.Comments != nil {
		e.Comments = strings.TrimSpace(*n.Comments)
	}
	for sec, text := range n.SectionComments {
		e.SectionComments[sec-1] = strings.TrimSpace(text)
	}
	if submit && e.Status == StatusDraft {
		e.Status = StatusSubmitted
	}
	e.UpdatedAt = now
	e.recompute()
	return nil
}

// Acknowledge finalises the evaluation. It reports false without error when
// the evaluation was already acknowledged.
func (e *Evaluation) Acknowledge(now time.Time) (bool, error) {
	switch e.Status {
	case StatusApproved:
		return false, nil
	case StatusDraft:
		return false, shared.ErrEvaluationIsDraft
	}
	e.Status = StatusApproved
	e.AckStatus = AckAcknowledged
	e.AcknowledgedAt = &now
	e.UpdatedAt = now
	return true, nil
}

func trimNarrative(n Narrative) Narrative {
	n.Strengths = strings.TrimSpace(n.Strengths)
	n.Weaknesses = strings.TrimSpace(n.Weaknesses)
	n.Comments = strings.TrimSpace(n.Comments)
	for i := range n.SectionComments {
		n.SectionComments[i] = strings.TrimSpace(n.SectionComments[i])
	}
	return n
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository is the storage contract for evaluations.
type Repository interface {
	// Create returns ErrAlreadyEvaluated if the application already has one.
	Create(ctx context.Context, e *Evaluation) error

	// GetByID returns ErrEvaluationNotFound when absent.
	GetByID(ctx context.Context, id string) (*Evaluation, error)

	// GetForUpdate is GetByID holding a row lock.
	GetForUpdate(ctx context.Context, id string) (*Evaluation, error)

	// GetByApplication returns ErrEvaluationNotFound when absent.
	GetByApplication(ctx context.Context, applicationID string) (*Evaluation, error)

	// ExistsForApplication reports whether the application has an evaluation.
	ExistsForApplication(ctx context.Context, applicationID string) (bool, error)

	// Update writes e when the stored version equals e.Version and bumps it.
	// A stale version yields ErrOptimisticLock.
	Update(ctx context.Context, e *Evaluation) error

	// ListByAck returns non-draft evaluations, newest first. An empty ack
	// lists all of them.
	ListByAck(ctx context.Context, ack AckStatus) ([]*Evaluation, error)
}
