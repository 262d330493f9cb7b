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

func (r *scheduleLogRepository) Save(ctx context.Context, log *model.ScheduleLog) error {
	query := `
		INSERT INTO schedule_logs (
			id, ts, beneficiary_id, beneficiary_type, provider, instance_id,
			schedule_name, visit_code, current_window, window_start, window_end,
			active, track_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	log.ID = uuid.New()
	log.CreatedAt = time.Now()
	log.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.Timestamp,
		log.BeneficiaryID,
		log.BeneficiaryType,
		log.Provider,
		log.InstanceID,
		log.ScheduleName,
		log.VisitCode,
		log.CurrentWindow,
		log.WindowStart,
		log.WindowEnd,
		log.Active,
		log.TrackID,
		log.CreatedAt,
		log.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule log: %w", err)
	}
	return nil
}

func (r *scheduleLogRepository) Update(ctx context.Context, log *model.ScheduleLog) error {
	query := `
		UPDATE schedule_logs
		SET active = $1, closed_by = $2, close_date = $3, track_id = $4, updated_at = $5
		WHERE id = $6
	`
	log.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		log.Active,
		log.ClosedBy,
		log.CloseDate,
		log.TrackID,
		log.UpdatedAt,
		log.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update schedule log: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("schedule log %s: %w", log.ID, repository.ErrNotFound)
	}
	return nil
}

func (r *scheduleLogRepository) FindByTimestamp(ctx context.Context, timestamp int64, beneficiaryID, scheduleName string) (*model.ScheduleLog, error) {
	query := `
		SELECT id, ts, beneficiary_id, beneficiary_type, provider, instance_id,
			   schedule_name, visit_code, current_window, window_start, window_end,
			   active, closed_by, close_date, track_id, created_at, updated_at
		FROM schedule_logs
		WHERE ts = $1 AND beneficiary_id = $2 AND schedule_name = $3
	`
	var log model.ScheduleLog
	err := r.db.GetContext(ctx, &log, query, timestamp, beneficiaryID, scheduleName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule log ts=%d beneficiary=%s: %w", timestamp, beneficiaryID, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find schedule log: %w", err)
	}
	return &log, nil
}

func (r *scheduleLogRepository) FindByInstanceID(ctx context.Context, instanceID, beneficiaryID, scheduleName string) (*model.ScheduleLog, error) {
	query := `
		SELECT id, ts, beneficiary_id, beneficiary_type, provider, instance_id,
			   schedule_name, visit_code, current_window, window_start, window_end,
			   active, closed_by, close_date, track_id, created_at, updated_at
		FROM schedule_logs
		WHERE instance_id = $1 AND beneficiary_id = $2 AND schedule_name = $3
		ORDER BY ts DESC
		LIMIT 1
	`
	var log model.ScheduleLog
	err := r.db.GetContext(ctx, &log, query, instanceID, beneficiaryID, scheduleName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule log instance=%s beneficiary=%s: %w", instanceID, beneficiaryID, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find schedule log: %w", err)
	}
	return &log, nil
}
