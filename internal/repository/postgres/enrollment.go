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

func (r *enrollmentRepository) Create(ctx context.Context, enrollment *model.Enrollment) error {
	query := `
		INSERT INTO enrollments (
			id, beneficiary_id, beneficiary_type, schedule_name,
			current_milestone, reference_date, enrolled_on,
			preferred_alert_hour, preferred_alert_minute,
			status, fulfillments, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	enrollment.ID = uuid.New()
	enrollment.CreatedAt = time.Now()
	enrollment.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		enrollment.ID,
		enrollment.BeneficiaryID,
		enrollment.BeneficiaryType,
		enrollment.ScheduleName,
		enrollment.CurrentMilestone,
		enrollment.ReferenceDate,
		enrollment.EnrolledOn,
		enrollment.PreferredAlertHour,
		enrollment.PreferredAlertMinute,
		enrollment.Status,
		enrollment.Fulfillments,
		enrollment.CreatedAt,
		enrollment.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create enrollment: %w", err)
	}
	return nil
}

func (r *enrollmentRepository) Update(ctx context.Context, enrollment *model.Enrollment) error {
	query := `
		UPDATE enrollments
		SET current_milestone = $1, status = $2, fulfillments = $3, updated_at = $4
		WHERE id = $5
	`
	enrollment.UpdatedAt = time.Now()

	result, err := r.db.ExecContext(ctx, query,
		enrollment.CurrentMilestone,
		enrollment.Status,
		enrollment.Fulfillments,
		enrollment.UpdatedAt,
		enrollment.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update enrollment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("enrollment %s: %w", enrollment.ID, repository.ErrNotFound)
	}
	return nil
}

func (r *enrollmentRepository) FindOpen(ctx context.Context, beneficiaryID, scheduleName string) (*model.Enrollment, error) {
	query := `
		SELECT id, beneficiary_id, beneficiary_type, schedule_name,
			   current_milestone, reference_date, enrolled_on,
			   preferred_alert_hour, preferred_alert_minute,
			   status, fulfillments, created_at, updated_at
		FROM enrollments
		WHERE beneficiary_id = $1 AND schedule_name = $2 AND status = $3
	`
	var enrollment model.Enrollment
	err := r.db.GetContext(ctx, &enrollment, query, beneficiaryID, scheduleName, model.EnrollmentStatusActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("beneficiary %s schedule %s: %w", beneficiaryID, scheduleName, repository.ErrNotEnrolled)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find enrollment: %w", err)
	}
	return &enrollment, nil
}

func (r *enrollmentRepository) FindByBeneficiary(ctx context.Context, beneficiaryID string) ([]*model.Enrollment, error) {
	query := `
		SELECT id, beneficiary_id, beneficiary_type, schedule_name,
			   current_milestone, reference_date, enrolled_on,
			   preferred_alert_hour, preferred_alert_minute,
			   status, fulfillments, created_at, updated_at
		FROM enrollments
		WHERE beneficiary_id = $1
		ORDER BY enrolled_on ASC
	`
	var enrollments []*model.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, beneficiaryID); err != nil {
		return nil, fmt.Errorf("failed to list enrollments: %w", err)
	}
	return enrollments, nil
}
