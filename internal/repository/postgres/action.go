package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mwombeki/opensrp-server/internal/model"
	"github.com/mwombeki/opensrp-server/internal/repository"
)

// CreateOrUpdateAlert inserts the alert and assigns its correlation
// timestamp. The timestamp is owned by this store; callers obtain it by
// re-querying FindOpenAlerts after the write. The assignment is monotonic
// per (beneficiary, schedule): two creates within the same millisecond
// still get distinct ts values, keeping FindByTimestamp unambiguous.
func (r *actionRepository) CreateOrUpdateAlert(ctx context.Context, alert *model.Alert) error {
	query := `
		INSERT INTO alert_actions (
			id, beneficiary_id, beneficiary_type, provider, schedule_name,
			visit_code, status, start_date, expiry_date, ts,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
			GREATEST(
				$10,
				(SELECT COALESCE(MAX(ts), 0) + 1 FROM alert_actions
				 WHERE beneficiary_id = $2 AND schedule_name = $5)
			),
			$11, $12)
		RETURNING ts
	`
	alert.ID = uuid.New()
	alert.CreatedAt = time.Now()
	alert.UpdatedAt = time.Now()

	err := r.db.QueryRowxContext(ctx, query,
		alert.ID,
		alert.BeneficiaryID,
		alert.BeneficiaryType,
		alert.Provider,
		alert.ScheduleName,
		alert.VisitCode,
		alert.Status,
		alert.StartDate,
		alert.ExpiryDate,
		time.Now().UnixMilli(),
		alert.CreatedAt,
		alert.UpdatedAt,
	).Scan(&alert.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

// FindOpenAlerts returns open alerts for the triple, most recent first, so
// that lookups after a partial close failure prefer the newest alert.
func (r *actionRepository) FindOpenAlerts(ctx context.Context, provider, beneficiaryID, scheduleName string) ([]*model.Alert, error) {
	query := `
		SELECT id, beneficiary_id, beneficiary_type, provider, schedule_name,
			   visit_code, status, start_date, expiry_date, ts,
			   completion_date, created_at, updated_at
		FROM alert_actions
		WHERE provider = $1 AND beneficiary_id = $2 AND schedule_name = $3
		  AND status NOT IN ($4, $5)
		ORDER BY ts DESC
	`
	var alerts []*model.Alert
	err := r.db.SelectContext(ctx, &alerts, query,
		provider, beneficiaryID, scheduleName,
		model.AlertStatusClosed, model.AlertStatusExpired,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find open alerts: %w", err)
	}
	return alerts, nil
}

func (r *actionRepository) FindAlerts(ctx context.Context, provider, beneficiaryID, scheduleName string) ([]*model.Alert, error) {
	query := `
		SELECT id, beneficiary_id, beneficiary_type, provider, schedule_name,
			   visit_code, status, start_date, expiry_date, ts,
			   completion_date, created_at, updated_at
		FROM alert_actions
		WHERE provider = $1 AND beneficiary_id = $2 AND schedule_name = $3
		ORDER BY ts DESC
	`
	var alerts []*model.Alert
	err := r.db.SelectContext(ctx, &alerts, query, provider, beneficiaryID, scheduleName)
	if err != nil {
		return nil, fmt.Errorf("failed to find alerts: %w", err)
	}
	return alerts, nil
}

func (r *actionRepository) CloseAlert(ctx context.Context, id uuid.UUID, completionDate time.Time) error {
	return r.finishAlert(ctx, id, model.AlertStatusClosed, completionDate)
}

func (r *actionRepository) ExpireAlert(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.finishAlert(ctx, id, model.AlertStatusExpired, at)
}

func (r *actionRepository) finishAlert(ctx context.Context, id uuid.UUID, status model.AlertStatus, at time.Time) error {
	query := `
		UPDATE alert_actions
		SET status = $1, completion_date = $2, updated_at = $3
		WHERE id = $4
	`
	result, err := r.db.ExecContext(ctx, query, status, at, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update alert status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("alert %s: %w", id, repository.ErrNotFound)
	}
	return nil
}

func (r *actionRepository) FindExpiredOpen(ctx context.Context, cutoff time.Time, limit int) ([]*model.Alert, error) {
	query := `
		SELECT id, beneficiary_id, beneficiary_type, provider, schedule_name,
			   visit_code, status, start_date, expiry_date, ts,
			   completion_date, created_at, updated_at
		FROM alert_actions
		WHERE expiry_date < $1 AND status NOT IN ($2, $3)
		ORDER BY expiry_date ASC
		LIMIT $4
	`
	var alerts []*model.Alert
	err := r.db.SelectContext(ctx, &alerts, query,
		cutoff, model.AlertStatusClosed, model.AlertStatusExpired, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired alerts: %w", err)
	}
	return alerts, nil
}
