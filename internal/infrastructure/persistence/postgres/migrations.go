package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies the embedded schema migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.conn.Pool().Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName))
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Pool().Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
// It returns the number of migrations applied.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.ensureTable(ctx); err != nil {
		return 0, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, mig := range m.migrations {
		if _, ok := applied[mig.Version]; ok {
			continue
		}
		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx, fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName), mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return n, fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
		n++
	}
	return n, nil
}

// Rollback rolls back the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	var last int
	for v := range applied {
		if v > last {
			last = v
		}
	}
	if last == 0 {
		return nil
	}

	var migration *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last {
			migration = &m.migrations[i]
			break
		}
	}
	if migration == nil || migration.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, last)
	}

	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, migration.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", last, err)
		}
		_, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName), last)
		return err
	})
}

// Status lists every known migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)
	for i := range result {
		if at, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = at
		}
	}
	return result, nil
}

// GetMigrations returns all embedded migrations in order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_companies_and_training", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_job_applications", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_reports_and_evaluations", UpSQL: migration003Up, DownSQL: migration003Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: COMPANIES AND TRAINING RECORDS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS companies (
    id TEXT PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    name_key VARCHAR(255) NOT NULL,
    address TEXT NOT NULL DEFAULT '',
    contact_person VARCHAR(255) NOT NULL DEFAULT '',
    contact_phone VARCHAR(50) NOT NULL DEFAULT '',
    teacher_comments TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

-- name_key is company.MatchKey(name), computed by the application so the
-- match does not depend on the database collation.
CREATE UNIQUE INDEX IF NOT EXISTS companies_name_key ON companies (name_key);

CREATE TABLE IF NOT EXISTS training_records (
    id TEXT PRIMARY KEY,
    student_id TEXT NOT NULL,
    topic VARCHAR(255) NOT NULL,
    requested_hours INTEGER NOT NULL,
    approved_hours INTEGER NOT NULL DEFAULT 0,
    status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
    proof_ref TEXT NOT NULL,
    teacher_note TEXT NOT NULL DEFAULT '',
    submitted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    checked_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT training_valid_status CHECK (status IN ('PENDING', 'APPROVED', 'REJECTED')),
    CONSTRAINT training_requested_positive CHECK (requested_hours > 0),
    CONSTRAINT training_approved_non_negative CHECK (approved_hours >= 0)
);

CREATE INDEX IF NOT EXISTS idx_training_student ON training_records(student_id, submitted_at DESC);
CREATE INDEX IF NOT EXISTS idx_training_student_approved ON training_records(student_id) WHERE status = 'APPROVED';
`

const migration001Down = `
DROP TABLE IF EXISTS training_records;
DROP TABLE IF EXISTS companies;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: JOB APPLICATIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS job_applications (
    id TEXT PRIMARY KEY,
    student_id TEXT NOT NULL,
    company_id TEXT REFERENCES companies(id) ON DELETE RESTRICT,
    company_name_snapshot VARCHAR(255) NOT NULL,
    position VARCHAR(255) NOT NULL,
    location TEXT NOT NULL,
    supervisor_name VARCHAR(255) NOT NULL,
    supervisor_phone VARCHAR(50) NOT NULL DEFAULT '',
    start_date DATE NOT NULL,
    end_date DATE NOT NULL,
    academic_year INTEGER NOT NULL,
    semester VARCHAR(20) NOT NULL DEFAULT '',
    accommodation TEXT NOT NULL DEFAULT '',
    emergency_contact_name VARCHAR(255) NOT NULL DEFAULT '',
    emergency_contact_phone VARCHAR(50) NOT NULL DEFAULT '',
    status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
    teacher_note TEXT NOT NULL DEFAULT '',
    cancel_reason TEXT NOT NULL DEFAULT '',
    version INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT job_valid_status CHECK (status IN ('PENDING', 'APPROVED', 'REJECTED', 'CANCELLED', 'COMPLETED')),
    CONSTRAINT job_valid_dates CHECK (end_date >= start_date)
);

-- At most one live application per student.
CREATE UNIQUE INDEX IF NOT EXISTS job_applications_one_live
    ON job_applications(student_id) WHERE status IN ('PENDING', 'APPROVED');

CREATE INDEX IF NOT EXISTS idx_job_student ON job_applications(student_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_job_company_status ON job_applications(company_id, status);
`

const migration002Down = `
DROP TABLE IF EXISTS job_applications;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: WEEKLY REPORTS AND EVALUATIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS weekly_reports (
    id TEXT PRIMARY KEY,
    job_application_id TEXT NOT NULL REFERENCES job_applications(id) ON DELETE CASCADE,
    week_number INTEGER NOT NULL,
    work_summary TEXT NOT NULL,
    problems TEXT NOT NULL DEFAULT '',
    knowledge_gained TEXT NOT NULL DEFAULT '',
    supervisor_feedback TEXT NOT NULL DEFAULT '',
    status VARCHAR(20) NOT NULL DEFAULT 'PENDING',
    teacher_comment TEXT NOT NULL DEFAULT '',
    submitted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    checked_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT weekly_reports_job_week_key UNIQUE (job_application_id, week_number),
    CONSTRAINT report_valid_status CHECK (status IN ('PENDING', 'ACKNOWLEDGED')),
    CONSTRAINT report_week_positive CHECK (week_number > 0)
);

CREATE TABLE IF NOT EXISTS evaluations (
    id TEXT PRIMARY KEY,
    job_application_id TEXT NOT NULL REFERENCES job_applications(id) ON DELETE CASCADE,
    evaluator_id TEXT NOT NULL,
    scores JSONB NOT NULL,
    total_score INTEGER NOT NULL,
    strengths TEXT NOT NULL DEFAULT '',
    weaknesses TEXT NOT NULL DEFAULT '',
    comments TEXT NOT NULL DEFAULT '',
    section_comments JSONB NOT NULL DEFAULT '[]'::jsonb,
    status VARCHAR(20) NOT NULL DEFAULT 'SUBMITTED',
    teacher_ack_status VARCHAR(20) NOT NULL DEFAULT 'UNREAD',
    version INTEGER NOT NULL DEFAULT 1,
    evaluated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    acknowledged_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT evaluations_job_key UNIQUE (job_application_id),
    CONSTRAINT evaluation_valid_status CHECK (status IN ('DRAFT', 'SUBMITTED', 'APPROVED')),
    CONSTRAINT evaluation_valid_ack CHECK (teacher_ack_status IN ('UNREAD', 'ACKNOWLEDGED')),
    CONSTRAINT evaluation_total_range CHECK (total_score BETWEEN 0 AND 75)
);
`

const migration003Down = `
DROP TABLE IF EXISTS evaluations;
DROP TABLE IF EXISTS weekly_reports;
`
