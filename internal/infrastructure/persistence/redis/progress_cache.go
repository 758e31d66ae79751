package redis

import (
	"context"
	"time"

	"github.com/coophub/coop-engine/internal/application/query"
)

// ProgressCache implements query.ProgressCache on Redis.
type ProgressCache struct {
	cache *Cache
	ttl   time.Duration
}

var _ query.ProgressCache = (*ProgressCache)(nil)

// NewProgressCache creates a ProgressCache. ttl <= 0 uses TTLProgress.
func NewProgressCache(cache *Cache, ttl time.Duration) *ProgressCache {
	if ttl <= 0 {
		ttl = TTLProgress
	}
	return &ProgressCache{cache: cache, ttl: ttl}
}

// GetProgress returns ErrCacheMiss when nothing is cached.
func (p *ProgressCache) GetProgress(ctx context.Context, studentID string) (*query.ProgressDTO, error) {
	var dto query.ProgressDTO
	if err := p.cache.Get(ctx, ProgressKey(studentID), &dto); err != nil {
		return nil, err
	}
	return &dto, nil
}

// SetProgress stores dto without its record list.
func (p *ProgressCache) SetProgress(ctx context.Context, dto *query.ProgressDTO) error {
	if dto == nil {
		return ErrCacheNilValue
	}
	stored := *dto
	stored.Records = nil
	return p.cache.Set(ctx, ProgressKey(dto.StudentID), &stored, p.ttl)
}

// InvalidateProgress drops the cached progress of one student.
func (p *ProgressCache) InvalidateProgress(ctx context.Context, studentID string) error {
	return p.cache.Delete(ctx, ProgressKey(studentID))
}

// InvalidateAll drops every cached progress entry.
func (p *ProgressCache) InvalidateAll(ctx context.Context) error {
	return p.cache.DeleteByPattern(ctx, PrefixProgress+"*")
}
