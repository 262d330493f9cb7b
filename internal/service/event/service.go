// Package event stages alert lifecycle events in the outbox for broker
// publication. Writing to the outbox keeps event emission in the same store
// as the alert state it describes; the worker drains it asynchronously.
package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mwombeki/opensrp-server/internal/model"
	"github.com/mwombeki/opensrp-server/internal/repository"
)

type Service struct {
	outboxRepo repository.OutboxRepository
}

func NewService(outboxRepo repository.OutboxRepository) *Service {
	return &Service{outboxRepo: outboxRepo}
}

// EmitAlertEvent queues one alert lifecycle event.
func (s *Service) EmitAlertEvent(ctx context.Context, eventType string, alert *model.Alert) error {
	payload, err := json.Marshal(model.AlertEvent{
		BeneficiaryID: alert.BeneficiaryID,
		Provider:      alert.Provider,
		ScheduleName:  alert.ScheduleName,
		VisitCode:     alert.VisitCode,
		Status:        alert.Status,
		Timestamp:     alert.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	event := &model.OutboxEvent{
		EventType: eventType,
		Payload:   payload,
	}
	if err := s.outboxRepo.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}
	return nil
}
