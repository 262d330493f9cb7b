// Package worker holds the background jobs run by cmd/worker.
package worker

import (
	"context"
	"time"

	"github.com/mwombeki/opensrp-server/internal/model"
	"github.com/mwombeki/opensrp-server/internal/repository"
	"github.com/mwombeki/opensrp-server/internal/service/scheduling"
	"github.com/mwombeki/opensrp-server/pkg/logger"
	"github.com/mwombeki/opensrp-server/pkg/metrics"
)

// AlertExpirer closes out a single alert whose window has passed.
type AlertExpirer interface {
	ExpireAlert(ctx context.Context, alert *model.Alert) scheduling.Outcome
}

// ExpirySweeper auto-closes alerts whose window has ended. It is the
// periodic trigger behind window-expiry closure; each expired alert goes
// through the lifecycle engine so its schedule log closes with it.
type ExpirySweeper struct {
	actions   repository.ActionRepository
	engine    AlertExpirer
	interval  time.Duration
	batchSize int
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewExpirySweeper(
	actions repository.ActionRepository,
	engine AlertExpirer,
	interval time.Duration,
	batchSize int,
	log *logger.Logger,
	m *metrics.Metrics,
) *ExpirySweeper {
	return &ExpirySweeper{
		actions:   actions,
		engine:    engine,
		interval:  interval,
		batchSize: batchSize,
		logger:    log,
		metrics:   m,
	}
}

func (w *ExpirySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("starting expiry sweeper")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("shutting down expiry sweeper")
			return
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil {
				w.logger.Error(err, "expiry sweep failed")
			}
		}
	}
}

func (w *ExpirySweeper) sweep(ctx context.Context) error {
	expired, err := w.actions.FindExpiredOpen(ctx, time.Now(), w.batchSize)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}

	closed := 0
	for _, alert := range expired {
		if out := w.engine.ExpireAlert(ctx, alert); out == scheduling.OutcomeApplied {
			closed++
			if w.metrics != nil {
				w.metrics.AlertsExpired.Inc()
			}
		}
	}
	if w.metrics != nil {
		w.metrics.OpenAlerts.Set(float64(len(expired) - closed))
	}

	w.logger.Info("expiry sweep finished",
		"candidates", len(expired),
		"closed", closed,
	)
	return nil
}
