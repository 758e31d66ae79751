// Package uow defines the transactional boundary command handlers run in.
package uow

import (
	"context"

	"github.com/coophub/coop-engine/internal/domain/company"
	"github.com/coophub/coop-engine/internal/domain/evaluation"
	"github.com/coophub/coop-engine/internal/domain/placement"
	"github.com/coophub/coop-engine/internal/domain/report"
	"github.com/coophub/coop-engine/internal/domain/training"
)

// Repositories is the set of repositories bound to one transaction, or to
// the plain connection when returned by Store.Reader.
type Repositories struct {
	Companies   company.Repository
	Training    training.Repository
	Placements  placement.Repository
	Reports     report.Repository
	Evaluations evaluation.Repository
}

// Store runs work atomically against the engine's storage.
type Store interface {
	// Atomic runs fn in one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	Atomic(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error

	// Reader returns repositories for non-transactional reads.
	Reader() Repositories

	// Close releases the underlying connection.
	Close() error
}
