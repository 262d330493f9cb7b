package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/mwombeki/opensrp-server/internal/repository"
)

type scheduleRepository struct {
	db *sqlx.DB
}

type enrollmentRepository struct {
	db *sqlx.DB
}

type actionRepository struct {
	db *sqlx.DB
}

type scheduleLogRepository struct {
	db *sqlx.DB
}

type outboxRepository struct {
	db *sqlx.DB
}

func NewScheduleRepository(db *sqlx.DB) repository.ScheduleRepository {
	return &scheduleRepository{db: db}
}

func NewEnrollmentRepository(db *sqlx.DB) repository.EnrollmentRepository {
	return &enrollmentRepository{db: db}
}

func NewActionRepository(db *sqlx.DB) repository.ActionRepository {
	return &actionRepository{db: db}
}

func NewScheduleLogRepository(db *sqlx.DB) repository.ScheduleLogRepository {
	return &scheduleLogRepository{db: db}
}

func NewOutboxRepository(db *sqlx.DB) repository.OutboxRepository {
	return &outboxRepository{db: db}
}
