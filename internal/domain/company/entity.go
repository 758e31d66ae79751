// Package company owns the canonical employer directory (CompanyMaster) and
// the rule for turning a textual company reference into a directory row.
package company

import (
	"context"
	"strings"
	"time"

	"github.com/coophub/coop-engine/internal/domain/shared"
)

// MaxNameLength bounds company names accepted from applications.
const MaxNameLength = 255

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: COMPANY
// ══════════════════════════════════════════════════════════════════════════════

// Company is a canonical employer record. Address and contact fields are the
// baseline captured when the row was first created and are never refreshed
// from later applications.
type Company struct {
	ID              shared.CompanyID `json:"id"`
	Name            string           `json:"name"`
	Address         string           `json:"address"`
	ContactPerson   string           `json:"contact_person"`
	ContactPhone    string           `json:"contact_phone"`
	TeacherComments string           `json:"teacher_comments"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Contact carries the placement fields used to seed a new directory row.
type Contact struct {
	Address       string
	ContactPerson string
	ContactPhone  string
}

// Reference points at a company either by id or by name. ID wins when both
// are set.
type Reference struct {
	ID   shared.CompanyID `json:"company_id,omitempty"`
	Name string           `json:"company_name,omitempty"`
}

// IsZero reports whether neither id nor name is set.
func (r Reference) IsZero() bool {
	return !r.ID.IsValid() && NormalizeName(r.Name) == ""
}

// NormalizeName trims surrounding whitespace from a company name.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}

// MatchKey is the case-insensitive key names are matched on.
func MatchKey(name string) string {
	return strings.ToLower(NormalizeName(name))
}

// NewCompany creates a directory row seeded from contact.
func NewCompany(name string, contact Contact, now time.Time) (*Company, error) {
	name = NormalizeName(name)
	if name == "" {
		return nil, shared.NewDomainError("company", "New", shared.ErrEmptyValue, "company name is required")
	}
	if len(name) > MaxNameLength {
		return nil, shared.Errorf("company", "New", shared.ErrValueOutOfRange, "company name exceeds %d characters", MaxNameLength)
	}
	return &Company{
		ID:            shared.CompanyID(shared.NewID()),
		Name:          name,
		Address:       strings.TrimSpace(contact.Address),
		ContactPerson: strings.TrimSpace(contact.ContactPerson),
		ContactPhone:  strings.TrimSpace(contact.ContactPhone),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// SetTeacherComments replaces the faculty-only notes.
func (c *Company) SetTeacherComments(comments string, now time.Time) {
	c.TeacherComments = strings.TrimSpace(comments)
	c.UpdatedAt = now
}

// Summary is a directory row together with its current placement load.
type Summary struct {
	Company          *Company `json:"company"`
	ActivePlacements int      `json:"active_placements"`
	TotalPlacements  int      `json:"total_placements"`
}

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// Repository is the storage contract for the directory. Implementations run
// inside the caller's transaction.
type Repository interface {
	// GetByID returns ErrCompanyNotFound when absent.
	GetByID(ctx context.Context, id shared.CompanyID) (*Company, error)

	// FindByName matches case-insensitively on the whole name.
	// Returns ErrCompanyNotFound when absent.
	FindByName(ctx context.Context, name string) (*Company, error)

	// InsertOrGet inserts c unless a row with the same match key exists, in
	// which case the existing row is returned and created is false.
	InsertOrGet(ctx context.Context, c *Company) (stored *Company, created bool, err error)

	// UpdateTeacherComments persists c.TeacherComments and c.UpdatedAt.
	UpdateTeacherComments(ctx context.Context, c *Company) error

	// Delete removes a row. Returns ErrCompanyReferenced while any job
	// application still points at it.
	Delete(ctx context.Context, id shared.CompanyID) error

	// Search matches a case-insensitive substring of the name, ordered by name.
	Search(ctx context.Context, query string, limit int) ([]*Company, error)

	// Summaries is Search with placement counts attached.
	Summaries(ctx context.Context, query string, limit int) ([]Summary, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESOLUTION
// ══════════════════════════════════════════════════════════════════════════════

// Resolve turns ref into a directory row. An id must exist. A name is matched
// case-insensitively and a new row seeded from contact is created when there
// is no match. Existing rows are returned untouched. created reports whether
// a row was inserted by this call.
func Resolve(ctx context.Context, repo Repository, ref Reference, contact Contact, now time.Time) (c *Company, created bool, err error) {
	switch {
	case ref.ID.IsValid():
		c, err = repo.GetByID(ctx, ref.ID)
		return c, false, err
	case NormalizeName(ref.Name) != "":
		c, err = repo.FindByName(ctx, ref.Name)
		if err == nil {
			return c, false, nil
		}
		if !shared.IsNotFound(err) {
			return nil, false, err
		}
		fresh, err := NewCompany(ref.Name, contact, now)
		if err != nil {
			return nil, false, err
		}
		return repo.InsertOrGet(ctx, fresh)
	default:
		return nil, false, shared.ErrCompanyRefRequired
	}
}
