package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/coophub/coop-engine/internal/domain/company"
	"github.com/coophub/coop-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPANY REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// CompanyRepository implements company.Repository for PostgreSQL.
type CompanyRepository struct {
	q Querier
}

var _ company.Repository = (*CompanyRepository)(nil)

const companyColumns = `id, name, address, contact_person, contact_phone, teacher_comments, created_at, updated_at`

// GetByID returns a company by id.
func (r *CompanyRepository) GetByID(ctx context.Context, id shared.CompanyID) (*company.Company, error) {
	row := r.q.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, string(id))
	return scanCompany(row)
}

// FindByName matches the trimmed name case-insensitively.
func (r *CompanyRepository) FindByName(ctx context.Context, name string) (*company.Company, error) {
	row := r.q.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE name_key = $1`, company.MatchKey(name))
	return scanCompany(row)
}

// InsertOrGet inserts c, or returns the row that already holds its name.
func (r *CompanyRepository) InsertOrGet(ctx context.Context, c *company.Company) (*company.Company, bool, error) {
	row := r.q.QueryRow(ctx, `
		INSERT INTO companies (id, name, address, contact_person, contact_phone, teacher_comments, created_at, updated_at, name_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name_key) DO NOTHING
		RETURNING `+companyColumns,
		string(c.ID), c.Name, c.Address, c.ContactPerson, c.ContactPhone, c.TeacherComments, c.CreatedAt, c.UpdatedAt,
		company.MatchKey(c.Name),
	)
	stored, err := scanCompany(row)
	if err == nil {
		return stored, true, nil
	}
	if !shared.IsNotFound(err) {
		return nil, false, fmt.Errorf("insert company: %w", err)
	}

	existing, err := r.FindByName(ctx, c.Name)
	if err != nil {
		return nil, false, fmt.Errorf("load existing company: %w", err)
	}
	return existing, false, nil
}

// UpdateTeacherComments persists the faculty notes.
func (r *CompanyRepository) UpdateTeacherComments(ctx context.Context, c *company.Company) error {
	tag, err := r.q.Exec(ctx,
		`UPDATE companies SET teacher_comments = $2, updated_at = $3 WHERE id = $1`,
		string(c.ID), c.TeacherComments, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update company notes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrCompanyNotFound
	}
	return nil
}

// Delete removes an unreferenced company.
func (r *CompanyRepository) Delete(ctx context.Context, id shared.CompanyID) error {
	var referenced bool
	if err := r.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM job_applications WHERE company_id = $1)`, string(id),
	).Scan(&referenced); err != nil {
		return fmt.Errorf("check company references: %w", err)
	}
	if referenced {
		return shared.ErrCompanyReferenced
	}

	tag, err := r.q.Exec(ctx, `DELETE FROM companies WHERE id = $1`, string(id))
	if IsForeignKeyViolation(err) {
		return shared.ErrCompanyReferenced
	}
	if err != nil {
		return fmt.Errorf("delete company: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrCompanyNotFound
	}
	return nil
}

// Search returns companies whose name contains query, ordered by name.
func (r *CompanyRepository) Search(ctx context.Context, query string, limit int) ([]*company.Company, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+companyColumns+`
		FROM companies
		WHERE name_key LIKE $1
		ORDER BY name_key
		LIMIT $2
	`, likePattern(company.MatchKey(query)), limit)
	if err != nil {
		return nil, fmt.Errorf("search companies: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*company.Company, error) {
		return scanCompany(row)
	})
}

// Summaries is Search with APPROVED and total placement counts.
func (r *CompanyRepository) Summaries(ctx context.Context, query string, limit int) ([]company.Summary, error) {
	rows, err := r.q.Query(ctx, `
		SELECT c.id, c.name, c.address, c.contact_person, c.contact_phone, c.teacher_comments, c.created_at, c.updated_at,
		       count(j.id) FILTER (WHERE j.status = 'APPROVED') AS active,
		       count(j.id) AS total
		FROM companies c
		LEFT JOIN job_applications j ON j.company_id = c.id
		WHERE c.name_key LIKE $1
		GROUP BY c.id
		ORDER BY active DESC, c.name_key
		LIMIT $2
	`, likePattern(company.MatchKey(query)), limit)
	if err != nil {
		return nil, fmt.Errorf("summarise companies: %w", err)
	}
	defer rows.Close()

	var out []company.Summary
	for rows.Next() {
		var c company.Company
		var id string
		var active, total int
		if err := rows.Scan(&id, &c.Name, &c.Address, &c.ContactPerson, &c.ContactPhone,
			&c.TeacherComments, &c.CreatedAt, &c.UpdatedAt, &active, &total); err != nil {
			return nil, fmt.Errorf("scan company summary: %w", err)
		}
		c.ID = shared.CompanyID(id)
		out = append(out, company.Summary{Company: &c, ActivePlacements: active, TotalPlacements: total})
	}
	return out, rows.Err()
}

func scanCompany(row pgx.Row) (*company.Company, error) {
	var c company.Company
	var id string
	err := row.Scan(&id, &c.Name, &c.Address, &c.ContactPerson, &c.ContactPhone,
		&c.TeacherComments, &c.CreatedAt, &c.UpdatedAt)
	if IsNoRows(err) {
		return nil, shared.ErrCompanyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan company: %w", err)
	}
	c.ID = shared.CompanyID(id)
	return &c, nil
}
