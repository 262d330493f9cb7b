// Package schedulecache wraps a ScheduleRepository with a read-through cache.
// Schedule definitions are immutable once created, so cached entries never go
// stale; the TTL only bounds memory on rarely used schedules.
package schedulecache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/mwombeki/opensrp-server/internal/model"
	"github.com/mwombeki/opensrp-server/internal/repository"
)

const (
	defaultTTL      = 1 * time.Hour
	cleanupInterval = 10 * time.Minute
)

type Repository struct {
	inner repository.ScheduleRepository
	cache *gocache.Cache
}

func New(inner repository.ScheduleRepository) *Repository {
	return &Repository{
		inner: inner,
		cache: gocache.New(defaultTTL, cleanupInterval),
	}
}

func (r *Repository) Create(ctx context.Context, schedule *model.Schedule) error {
	if err := r.inner.Create(ctx, schedule); err != nil {
		return err
	}
	r.cache.Set(schedule.Name, schedule, gocache.DefaultExpiration)
	return nil
}

func (r *Repository) GetByName(ctx context.Context, name string) (*model.Schedule, error) {
	if cached, ok := r.cache.Get(name); ok {
		return cached.(*model.Schedule), nil
	}

	schedule, err := r.inner.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	r.cache.Set(name, schedule, gocache.DefaultExpiration)
	return schedule, nil
}

func (r *Repository) List(ctx context.Context) ([]*model.Schedule, error) {
	return r.inner.List(ctx)
}
