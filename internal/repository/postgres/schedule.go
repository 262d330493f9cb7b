package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mwombeki/opensrp-server/internal/model"
	"github.com/mwombeki/opensrp-server/internal/repository"
)

func (r *scheduleRepository) Create(ctx context.Context, schedule *model.Schedule) error {
	query := `
		INSERT INTO schedules (
			id, name, milestones, created_at
		) VALUES ($1, $2, $3, $4)
	`
	schedule.ID = uuid.New()
	schedule.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		schedule.ID,
		schedule.Name,
		schedule.Milestones,
		schedule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

func (r *scheduleRepository) GetByName(ctx context.Context, name string) (*model.Schedule, error) {
	query := `
		SELECT id, name, milestones, created_at
		FROM schedules
		WHERE name = $1
	`
	var schedule model.Schedule
	err := r.db.GetContext(ctx, &schedule, query, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule %q: %w", name, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return &schedule, nil
}

func (r *scheduleRepository) List(ctx context.Context) ([]*model.Schedule, error) {
	query := `
		SELECT id, name, milestones, created_at
		FROM schedules
		ORDER BY name ASC
	`
	var schedules []*model.Schedule
	if err := r.db.SelectContext(ctx, &schedules, query); err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return schedules, nil
}
