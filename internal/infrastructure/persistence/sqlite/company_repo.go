package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/coophub/coop-engine/internal/domain/company"
	"github.com/coophub/coop-engine/internal/domain/shared"
)

// CompanyRepository implements company.Repository for SQLite.
type CompanyRepository struct {
	q querier
}

var _ company.Repository = (*CompanyRepository)(nil)

const companyColumns = `id, name, address, contact_person, contact_phone, teacher_comments, created_at, updated_at`

// GetByID returns a company by id.
func (r *CompanyRepository) GetByID(ctx context.Context, id shared.CompanyID) (*company.Company, error) {
	return scanCompany(r.q.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = ?`, string(id)))
}

// FindByName matches the trimmed name case-insensitively.
func (r *CompanyRepository) FindByName(ctx context.Context, name string) (*company.Company, error) {
	return scanCompany(r.q.QueryRowContext(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE name_key = ?`, company.MatchKey(name)))
}

// InsertOrGet inserts c, or returns the row that already holds its name.
func (r *CompanyRepository) InsertOrGet(ctx context.Context, c *company.Company) (*company.Company, bool, error) {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO companies (`+companyColumns+`, name_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, string(c.ID), c.Name, c.Address, c.ContactPerson, c.ContactPhone, c.TeacherComments,
		toMillis(c.CreatedAt), toMillis(c.UpdatedAt), company.MatchKey(c.Name))
	if err != nil {
		return nil, false, fmt.Errorf("insert company: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return r.reload(ctx, c.ID)
	}

	existing, err := r.FindByName(ctx, c.Name)
	if err != nil {
		return nil, false, fmt.Errorf("load existing company: %w", err)
	}
	return existing, false, nil
}

func (r *CompanyRepository) reload(ctx context.Context, id shared.CompanyID) (*company.Company, bool, error) {
	stored, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return stored, true, nil
}

// UpdateTeacherComments persists the faculty notes.
func (r *CompanyRepository) UpdateTeacherComments(ctx context.Context, c *company.Company) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE companies SET teacher_comments = ?, updated_at = ? WHERE id = ?`,
		c.TeacherComments, toMillis(c.UpdatedAt), string(c.ID))
	if err != nil {
		return fmt.Errorf("update company notes: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrCompanyNotFound
	}
	return nil
}

// Delete removes an unreferenced company.
func (r *CompanyRepository) Delete(ctx context.Context, id shared.CompanyID) error {
	var referenced bool
	if err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM job_applications WHERE company_id = ?)`, string(id)).Scan(&referenced); err != nil {
		return fmt.Errorf("check company references: %w", err)
	}
	if referenced {
		return shared.ErrCompanyReferenced
	}

	res, err := r.q.ExecContext(ctx, `DELETE FROM companies WHERE id = ?`, string(id))
	if isForeignKeyViolation(err) {
		return shared.ErrCompanyReferenced
	}
	if err != nil {
		return fmt.Errorf("delete company: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrCompanyNotFound
	}
	return nil
}

// Search returns companies whose name contains query, ordered by name.
func (r *CompanyRepository) Search(ctx context.Context, query string, limit int) ([]*company.Company, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+companyColumns+`
		FROM companies
		WHERE name_key LIKE ? ESCAPE '\'
		ORDER BY name_key
		LIMIT ?
	`, likePattern(company.MatchKey(query)), limit)
	if err != nil {
		return nil, fmt.Errorf("search companies: %w", err)
	}
	defer rows.Close()

	var out []*company.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Summaries is Search with APPROVED and total placement counts.
func (r *CompanyRepository) Summaries(ctx context.Context, query string, limit int) ([]company.Summary, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT c.id, c.name, c.address, c.contact_person, c.contact_phone, c.teacher_comments, c.created_at, c.updated_at,
		       COALESCE(SUM(CASE WHEN j.status = 'APPROVED' THEN 1 ELSE 0 END), 0) AS active,
		       COUNT(j.id) AS total
		FROM companies c
		LEFT JOIN job_applications j ON j.company_id = c.id
		WHERE c.name_key LIKE ? ESCAPE '\'
		GROUP BY c.id
		ORDER BY active DESC, c.name_key
		LIMIT ?
	`, likePattern(company.MatchKey(query)), limit)
	if err != nil {
		return nil, fmt.Errorf("summarise companies: %w", err)
	}
	defer rows.Close()

	var out []company.Summary
	for rows.Next() {
		var c company.Company
		var id string
		var created, updated int64
		var active, total int
		if err := rows.Scan(&id, &c.Name, &c.Address, &c.ContactPerson, &c.ContactPhone,
			&c.TeacherComments, &created, &updated, &active, &total); err != nil {
			return nil, fmt.Errorf("scan company summary: %w", err)
		}
		c.ID = shared.CompanyID(id)
		c.CreatedAt, c.UpdatedAt = fromMillis(created), fromMillis(updated)
		out = append(out, company.Summary{Company: &c, ActivePlacements: active, TotalPlacements: total})
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCompany(row rowScanner) (*company.Company, error) {
	var c company.Company
	var id string
	var created, updated int64
	err := row.Scan(&id, &c.Name, &c.Address, &c.ContactPerson, &c.ContactPhone, &c.TeacherComments, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrCompanyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan company: %w", err)
	}
	c.ID = shared.CompanyID(id)
	c.CreatedAt, c.UpdatedAt = fromMillis(created), fromMillis(updated)
	return &c, nil
}
