package placement

import (
	"github.com/coophub/coop-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATUS
// ══════════════════════════════════════════════════════════════════════════════

// Status of a job application.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
)

// LiveStatuses are the statuses that count toward the one-live-placement rule.
var LiveStatuses = []Status{StatusPending, StatusApproved}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled, StatusCompleted:
		return true
	default:
		return false
	}
}

// IsLive reports whether s is PENDING or APPROVED.
func (s Status) IsLive() bool {
	return s == StatusPending || s == StatusApproved
}

// IsTerminal reports whether no action can leave s.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITIONS
// ══════════════════════════════════════════════════════════════════════════════

// Action is something that can happen to an application.
type Action string

const (
	ActionApprove  Action = "approve"
	ActionReject   Action = "reject"
	ActionCancel   Action = "cancel"
	ActionComplete Action = "complete"
)

// transitions is the state × action table. Missing entries are illegal.
var transitions = map[Status]map[Action]Status{
	StatusPending: {
		ActionApprove: StatusApproved,
		ActionReject:  StatusRejected,
		ActionCancel:  StatusCancelled,
	},
	StatusApproved: {
		ActionCancel:   StatusCancelled,
		ActionComplete: StatusCompleted,
	},
	StatusRejected:  {},
	StatusCancelled: {},
	StatusCompleted: {},
}

// Next returns the status reached by applying a to s, or an ErrStateTransition
// domain error when the table has no entry.
func Next(s Status, a Action) (Status, error) {
	if to, ok := transitions[s][a]; ok {
		return to, nil
	}
	return "", shared.Errorf("placement", string(a), shared.ErrStateTransition, "cannot %s an application that is %s", a, s)
}

// DecisionAction maps a faculty decision onto the table.
func DecisionAction(decision Status) (Action, error) {
	switch decision {
	case StatusApproved:
		return ActionApprove, nil
	case StatusRejected:
		return ActionReject, nil
	default:
		return "", shared.Errorf("placement", "Verify", shared.ErrValidation, "decision must be APPROVED or REJECTED, got %q", decision)
	}
}
