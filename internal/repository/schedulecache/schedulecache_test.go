package schedulecache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwombeki/opensrp-server/internal/model"
	"github.com/mwombeki/opensrp-server/internal/repository"
)

type countingRepo struct {
	schedules map[string]*model.Schedule
	gets      int
}

func (r *countingRepo) Create(_ context.Context, s *model.Schedule) error {
	r.schedules[s.Name] = s
	return nil
}

func (r *countingRepo) GetByName(_ context.Context, name string) (*model.Schedule, error) {
	r.gets++
	s, ok := r.schedules[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s, nil
}

func (r *countingRepo) List(_ context.Context) ([]*model.Schedule, error) {
	var out []*model.Schedule
	for _, s := range r.schedules {
		out = append(out, s)
	}
	return out, nil
}

func TestGetByNameCachesAfterFirstRead(t *testing.T) {
	inner := &countingRepo{schedules: map[string]*model.Schedule{
		"ANC": {Name: "ANC"},
	}}
	cached := New(inner)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s, err := cached.GetByName(ctx, "ANC")
		require.NoError(t, err)
		assert.Equal(t, "ANC", s.Name)
	}

	assert.Equal(t, 1, inner.gets)
}

func TestCreatePrimesCache(t *testing.T) {
	inner := &countingRepo{schedules: map[string]*model.Schedule{}}
	cached := New(inner)
	ctx := context.Background()

	require.NoError(t, cached.Create(ctx, &model.Schedule{Name: "PNC"}))

	s, err := cached.GetByName(ctx, "PNC")
	require.NoError(t, err)
	assert.Equal(t, "PNC", s.Name)
	assert.Zero(t, inner.gets)
}

func TestMissIsNotCached(t *testing.T) {
	inner := &countingRepo{schedules: map[string]*model.Schedule{}}
	cached := New(inner)
	ctx := context.Background()

	_, err := cached.GetByName(ctx, "GHOST")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	inner.schedules["GHOST"] = &model.Schedule{Name: "GHOST"}
	s, err := cached.GetByName(ctx, "GHOST")
	require.NoError(t, err)
	assert.Equal(t, "GHOST", s.Name)
}
