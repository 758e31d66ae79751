package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coophub/coop-engine/internal/domain/shared"
)

func TestAuthorize_RoleTable(t *testing.T) {
	student := Actor{UserID: "u1", Role: RoleStudent, StudentID: "s1"}
	teacher := Actor{UserID: "u2", Role: RoleTeacher}
	admin := Actor{UserID: "u3", Role: RoleAdmin}
	company := Actor{UserID: "u4", Role: RoleCompany, CompanyID: "c1"}

	tests := []struct {
		name  string
		actor Actor
		cap   Capability
		ok    bool
	}{
		{"student submits training", student, CapSubmitTraining, true},
		{"teacher cannot submit training", teacher, CapSubmitTraining, false},
		{"teacher verifies training", teacher, CapVerifyTraining, true},
		{"admin verifies training", admin, CapVerifyTraining, true},
		{"student cannot verify training", student, CapVerifyTraining, false},
		{"company cannot apply", company, CapApplyForJob, false},
		{"company creates evaluation", company, CapCreateEvaluation, true},
		{"teacher cannot create evaluation", teacher, CapCreateEvaluation, false},
		{"admin acknowledges evaluation", admin, CapAcknowledgeEvaluation, true},
		{"company cannot merge", company, CapMergeCompanies, false},
		{"teacher views students", teacher, CapViewStudents, true},
		{"student cannot view students", student, CapViewStudents, false},
		{"company cannot view work queue", company, CapViewWorkQueue, false},
		{"unknown capability", teacher, Capability("nope"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.actor, tt.cap)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, shared.IsForbidden(err), "expected forbidden, got %v", err)
			}
		})
	}
}

func TestAuthorize_Ownership(t *testing.T) {
	s1 := Actor{Role: RoleStudent, StudentID: "s1"}
	assert.NoError(t, Authorize(s1, CapCancelJob, OwnedByStudent("s1")))
	assert.True(t, shared.IsForbidden(Authorize(s1, CapCancelJob, OwnedByStudent("s2"))))

	anon := Actor{Role: RoleStudent}
	assert.True(t, shared.IsForbidden(Authorize(anon, CapCancelJob, OwnedByStudent(""))))

	c1 := shared.CompanyID("c1")
	c2 := shared.CompanyID("c2")
	company := Actor{Role: RoleCompany, CompanyID: c1}
	assert.NoError(t, Authorize(company, CapCreateEvaluation, OwnedByCompany(&c1)))
	assert.True(t, shared.IsForbidden(Authorize(company, CapCreateEvaluation, OwnedByCompany(&c2))))
	assert.True(t, shared.IsForbidden(Authorize(company, CapCreateEvaluation, OwnedByCompany(nil))))

	teacher := Actor{Role: RoleTeacher}
	assert.NoError(t, Authorize(teacher, CapListInterns, OwnedByCompany(nil)))

	either := AnyOf(OwnedByStudent("s1"), OwnedByCompany(&c1))
	assert.NoError(t, Authorize(s1, CapListReports, either))
	assert.NoError(t, Authorize(company, CapListReports, either))
	assert.True(t, shared.IsForbidden(Authorize(Actor{Role: RoleCompany, CompanyID: c2}, CapListReports, either)))
}

func TestAuthorize_UnknownRole(t *testing.T) {
	err := Authorize(Actor{Role: "GUEST"}, CapSearchCompanies)
	require.Error(t, err)
	assert.True(t, shared.IsForbidden(err))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("TEACHER")
	require.NoError(t, err)
	assert.True(t, r.IsFaculty())

	_, err = ParseRole("teacher")
	assert.True(t, shared.IsValidation(err))
}
