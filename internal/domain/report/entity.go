// Package report owns the weekly progress log of an approved placement.
package report

import (
	"context"
	"strings"
	"time"

	"github.com/coophub/coop-engine/internal/domain/shared"
)

// Status of a weekly report.
type Status string

const (
	StatusPending      Status = "PENDING"
	StatusAcknowledged Status = "ACKNOWLEDGED"
)

// Content is the student-written body of a report.
type Content struct {
	WorkSummary        string `json:"work_summary"`
	Problems           string `json:"problems"`
	KnowledgeGained    string `json:"knowledge_gained"`
	SupervisorFeedback string `json:"supervisor_feedback"`
}

// WeeklyReport is one week's entry for one job application.
type WeeklyReport struct {
	ID            string `json:"id"`
	ApplicationID string `json:"job_application_id"`
	WeekNumber    int    `json:"week_number"`
	Content
	Status         Status     `json:"status"`
	TeacherComment string     `json:"teacher_comment"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	CheckedAt      *time.Time `json:"checked_at,omitempty"`
}

// NewWeeklyReport creates a PENDING report. Placement state is checked by
// the caller.
func NewWeeklyReport(applicationID string, week int, c Content, now time.Time) (*WeeklyReport, error) {
	if week <= 0 {
		return nil, shared.NewDomainError("report", "Submit", shared.ErrNegativeValue, "week number must be positive")
	}
	c.WorkSummary = strings.TrimSpace(c.WorkSummary)
	if c.WorkSummary == "" {
		return nil, shared.NewDomainError("report", "Submit", shared.ErrEmptyValue, "work summary is required")
	}
	return &WeeklyReport{
		ID:            shared.NewID(),
		ApplicationID: applicationID,
		WeekNumber:    week,
		Content:       c,
		Status:        StatusPending,
		SubmittedAt:   now,
	}, nil
}

// Acknowledge marks the report as read by faculty and stores the comment.
// Acknowledging again overwrites the comment unless lockAfterAck is set.
func (r *WeeklyReport) Acknowledge(comment string, lockAfterAck bool, now time.Time) error {
	if lockAfterAck && r.Status == StatusAcknowledged {
		return shared.ErrReportLocked
	}
	r.Status = StatusAcknowledged
	r.TeacherComment = strings.TrimSpace(comment)
	r.CheckedAt = &now
	return nil
}

// Stats summarises the reports of one application.
type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
}

// Repository is the storage contract for weekly reports.
type Repository interface {
	// Create returns ErrWeekSubmitted if (application, week) already exists.
	Create(ctx context.Context, r *WeeklyReport) error

	// GetByID returns ErrReportNotFound when absent.
	GetByID(ctx context.Context, id string) (*WeeklyReport, error)

	// GetForUpdate is GetByID holding a row lock.
	GetForUpdate(ctx context.Context, id string) (*WeeklyReport, error)

	// ExistsForWeek reports whether the week is already logged.
	ExistsForWeek(ctx context.Context, applicationID string, week int) (bool, error)

	// Update persists status, comment and checked_at.
	Update(ctx context.Context, r *WeeklyReport) error

	// ListByApplication returns reports ordered by week.
	ListByApplication(ctx context.Context, applicationID string) ([]*WeeklyReport, error)

	// Stats counts total and pending reports for an application.
	Stats(ctx context.Context, applicationID string) (Stats, error)

	// ListByStatus returns reports across all applications, newest
	// submission first. An empty status lists every report.
	ListByStatus(ctx context.Context, status Status) ([]*WeeklyReport, error)
}
