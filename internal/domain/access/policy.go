// Package access models the caller identity handed to the engine by the
// identity collaborator and the single capability check every intent runs
// before touching state.
package access

import (
	"fmt"

	"github.com/coophub/coop-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROLES
// ══════════════════════════════════════════════════════════════════════════════

// Role is the caller's role as asserted by the identity collaborator.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleTeacher Role = "TEACHER"
	RoleCompany Role = "COMPANY"
	RoleAdmin   Role = "ADMIN"
)

// IsValid reports whether r is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleTeacher, RoleCompany, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsFaculty reports whether r carries faculty rights. ADMIN is faculty.
func (r Role) IsFaculty() bool {
	return r == RoleTeacher || r == RoleAdmin
}

// ParseRole parses a role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", shared.Errorf("access", "ParseRole", shared.ErrValidation, "unknown role %q", s)
	}
	return r, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTOR
// ══════════════════════════════════════════════════════════════════════════════

// Actor is the identity of one call. StudentID is set for students and
// CompanyID for company accounts; faculty carry neither.
type Actor struct {
	UserID    string           `json:"user_id"`
	Role      Role             `json:"role"`
	StudentID shared.StudentID `json:"student_id,omitempty"`
	CompanyID shared.CompanyID `json:"company_id,omitempty"`
}

// String renders the actor for logs.
func (a Actor) String() string {
	switch a.Role {
	case RoleStudent:
		return fmt.Sprintf("%s(student=%s)", a.Role, a.StudentID)
	case RoleCompany:
		return fmt.Sprintf("%s(company=%s)", a.Role, a.CompanyID)
	default:
		return fmt.Sprintf("%s(user=%s)", a.Role, a.UserID)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CAPABILITIES
// ══════════════════════════════════════════════════════════════════════════════

// Capability names one engine intent.
type Capability string

const (
	CapSubmitTraining        Capability = "training.submit"
	CapVerifyTraining        Capability = "training.verify"
	CapViewProgress          Capability = "training.progress"
	CapApplyForJob           Capability = "placement.apply"
	CapVerifyJob             Capability = "placement.verify"
	CapCancelJob             Capability = "placement.cancel"
	CapSubmitReport          Capability = "report.submit"
	CapAcknowledgeReport     Capability = "report.acknowledge"
	CapListReports           Capability = "report.list"
	CapCreateEvaluation      Capability = "evaluation.create"
	CapUpdateEvaluation      Capability = "evaluation.update"
	CapAcknowledgeEvaluation Capability = "evaluation.acknowledge"
	CapEditCompanyNotes      Capability = "company.notes"
	CapMergeCompanies        Capability = "company.merge"
	CapSearchCompanies       Capability = "company.search"
	CapListInterns           Capability = "company.interns"
	CapViewStudents          Capability = "faculty.students"
	CapViewWorkQueue         Capability = "faculty.queue"
)

var (
	studentOnly = []Role{RoleStudent}
	facultyOnly = []Role{RoleTeacher, RoleAdmin}
	companyOnly = []Role{RoleCompany}
	anyone      = []Role{RoleStudent, RoleTeacher, RoleCompany, RoleAdmin}
)

// policy maps each capability to the roles allowed to exercise it.
var policy = map[Capability][]Role{
	CapSubmitTraining:        studentOnly,
	CapVerifyTraining:        facultyOnly,
	CapViewProgress:          {RoleStudent, RoleTeacher, RoleAdmin},
	CapApplyForJob:           studentOnly,
	CapVerifyJob:             facultyOnly,
	CapCancelJob:             studentOnly,
	CapSubmitReport:          studentOnly,
	CapAcknowledgeReport:     facultyOnly,
	CapListReports:           anyone,
	CapCreateEvaluation:      companyOnly,
	CapUpdateEvaluation:      companyOnly,
	CapAcknowledgeEvaluation: facultyOnly,
	CapEditCompanyNotes:      facultyOnly,
	CapMergeCompanies:        facultyOnly,
	CapSearchCompanies:       anyone,
	CapListInterns:           {RoleCompany, RoleTeacher, RoleAdmin},
	CapViewStudents:          facultyOnly,
	CapViewWorkQueue:         facultyOnly,
}

// Allows reports whether role r may exercise capability c, ignoring ownership.
func Allows(r Role, c Capability) bool {
	for _, allowed := range policy[c] {
		if allowed == r {
			return true
		}
	}
	return false
}

// ══════════════════════════════════════════════════════════════════════════════
// OWNERSHIP
// ══════════════════════════════════════════════════════════════════════════════

// Ownership is a predicate over the actor evaluated after the role check.
// Faculty pass every ownership predicate.
type Ownership func(a Actor) bool

// OwnedByStudent holds when the actor is the given student.
func OwnedByStudent(id shared.StudentID) Ownership {
	return func(a Actor) bool {
		if a.Role.IsFaculty() {
			return true
		}
		return a.Role == RoleStudent && a.StudentID.IsValid() && a.StudentID == id
	}
}

// OwnedByCompany holds when the actor is the given company. A nil company
// reference never matches a company actor.
func OwnedByCompany(id *shared.CompanyID) Ownership {
	return func(a Actor) bool {
		if a.Role.IsFaculty() {
			return true
		}
		return a.Role == RoleCompany && id != nil && a.CompanyID.IsValid() && a.CompanyID == *id
	}
}

// AnyOf holds when at least one of owns holds.
func AnyOf(owns ...Ownership) Ownership {
	return func(a Actor) bool {
		for _, own := range owns {
			if own(a) {
				return true
			}
		}
		return false
	}
}

// Authorize is the single entry check for every intent: the role must be
// allowed by the policy table and every ownership predicate must hold.
func Authorize(a Actor, c Capability, owns ...Ownership) error {
	if !a.Role.IsValid() {
		return shared.Errorf("access", string(c), shared.ErrForbidden, "unknown role %q", a.Role)
	}
	if !Allows(a.Role, c) {
		return shared.Errorf("access", string(c), shared.ErrForbidden, "role %s may not perform %s", a.Role, c)
	}
	for _, own := range owns {
		if !own(a) {
			return shared.Errorf("access", string(c), shared.ErrForbidden, "%s does not own this resource", a)
		}
	}
	return nil
}
