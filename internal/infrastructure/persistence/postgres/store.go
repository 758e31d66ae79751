package postgres

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/coophub/coop-engine/internal/application/uow"
)

// Store implements uow.Store on a PostgreSQL pool.
type Store struct {
	conn *Connection
}

var _ uow.Store = (*Store)(nil)

// NewStore wraps an open connection.
func NewStore(conn *Connection) *Store {
	return &Store{conn: conn}
}

// Open connects, pings and returns a Store.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	conn, err := NewConnection(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewStore(conn), nil
}

// Atomic runs fn in one READ COMMITTED transaction.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, repos uow.Repositories) error) error {
	return s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		return fn(ctx, repositories(tx))
	})
}

// Reader returns repositories bound to the pool.
func (s *Store) Reader() uow.Repositories {
	return repositories(s.conn.Pool())
}

// Migrate applies pending schema migrations.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	return NewMigrator(s.conn).Migrate(ctx)
}

// Connection exposes the pool for health checks.
func (s *Store) Connection() *Connection {
	return s.conn
}

// Close closes the pool.
func (s *Store) Close() error {
	s.conn.Close()
	return nil
}

func repositories(q Querier) uow.Repositories {
	return uow.Repositories{
		Companies:   &CompanyRepository{q: q},
		Training:    &TrainingRepository{q: q},
		Placements:  &PlacementRepository{q: q},
		Reports:     &ReportRepository{q: q},
		Evaluations: &EvaluationRepository{q: q},
	}
}

// likePattern turns free text into a substring LIKE pattern.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.TrimSpace(s)) + "%"
}
