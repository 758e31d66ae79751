package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/coophub/coop-engine/internal/application/query"
	"github.com/coophub/coop-engine/pkg/circuitbreaker"
)

// GuardedProgressCache puts a circuit breaker in front of a progress cache.
// While the circuit is open reads come back as misses and writes fail fast,
// so the query handler falls back to the database. Invalidations always
// reach the inner cache, and one that succeeds closes the circuit.
type GuardedProgressCache struct {
	inner   query.ProgressCache
	breaker *circuitbreaker.CircuitBreaker
}

var _ query.ProgressCache = (*GuardedProgressCache)(nil)

// NewGuardedProgressCache wraps inner. A nil breaker gets CacheBreaker.
func NewGuardedProgressCache(inner query.ProgressCache, breaker *circuitbreaker.CircuitBreaker) *GuardedProgressCache {
	if breaker == nil {
		breaker = circuitbreaker.CacheBreaker(IsCacheFailure, nil)
	}
	return &GuardedProgressCache{inner: inner, breaker: breaker}
}

// IsCacheFailure reports whether err means the cache is unhealthy.
// Misses and caller mistakes do not count.
func IsCacheFailure(err error) bool {
	return !errors.Is(err, ErrCacheMiss) &&
		!errors.Is(err, ErrCacheNilValue) &&
		!errors.Is(err, ErrCacheKeyEmpty) &&
		!errors.Is(err, ErrCacheInvalidTTL) &&
		!errors.Is(err, context.Canceled)
}

// GetProgress reads through the breaker. A rejected read is reported as a
// miss that still matches circuitbreaker.ErrCircuitOpen.
func (g *GuardedProgressCache) GetProgress(ctx context.Context, studentID string) (*query.ProgressDTO, error) {
	var dto *query.ProgressDTO
	err := g.breaker.ExecuteWithFallback(ctx, func(ctx context.Context) error {
		var err error
		dto, err = g.inner.GetProgress(ctx, studentID)
		return err
	}, func(rejected error) error {
		return fmt.Errorf("%w: %w", ErrCacheMiss, rejected)
	})
	return dto, err
}

// SetProgress writes through the breaker.
func (g *GuardedProgressCache) SetProgress(ctx context.Context, dto *query.ProgressDTO) error {
	return g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.inner.SetProgress(ctx, dto)
	})
}

// InvalidateProgress bypasses the breaker.
func (g *GuardedProgressCache) InvalidateProgress(ctx context.Context, studentID string) error {
	if err := g.inner.InvalidateProgress(ctx, studentID); err != nil {
		return err
	}
	if g.breaker.State() != circuitbreaker.StateClosed {
		g.breaker.Reset()
	}
	return nil
}

// Breaker exposes the breaker for health reporting.
func (g *GuardedProgressCache) Breaker() *circuitbreaker.CircuitBreaker {
	return g.breaker
}
