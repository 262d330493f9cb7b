package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/mwombeki/opensrp-server/config"
	"github.com/mwombeki/opensrp-server/internal/repository/postgres"
	"github.com/mwombeki/opensrp-server/internal/service/enrollment"
	eventService "github.com/mwombeki/opensrp-server/internal/service/event"
	"github.com/mwombeki/opensrp-server/internal/service/reporting"
	"github.com/mwombeki/opensrp-server/internal/service/scheduling"
	expiryWorker "github.com/mwombeki/opensrp-server/internal/worker"
	"github.com/mwombeki/opensrp-server/pkg/logger"
	"github.com/mwombeki/opensrp-server/pkg/messaging/redis"
	"github.com/mwombeki/opensrp-server/pkg/metrics"
	"github.com/mwombeki/opensrp-server/pkg/worker"
)

// workerOverrides are environment-only knobs for deployments that run
// several workers off one shared config file.
type workerOverrides struct {
	HealthAddr    string        `envconfig:"WORKER_HEALTH_ADDR" default:":8081"`
	BatchSize     int           `envconfig:"WORKER_BATCH_SIZE"`
	PollInterval  time.Duration `envconfig:"WORKER_POLL_INTERVAL"`
	SweepInterval time.Duration `envconfig:"WORKER_SWEEP_INTERVAL"`
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	var overrides workerOverrides
	if err := envconfig.Process("", &overrides); err != nil {
		log.Fatal().Err(err).Msg("failed to read worker environment")
	}
	if overrides.BatchSize > 0 {
		cfg.Outbox.BatchSize = overrides.BatchSize
	}
	if overrides.PollInterval > 0 {
		cfg.Outbox.PollInterval = overrides.PollInterval
	}
	if overrides.SweepInterval > 0 {
		cfg.Expiry.SweepInterval = overrides.SweepInterval
	}

	appLogger := logger.NewLogger(nil)
	m := metrics.NewMetrics("opensrp", "worker")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(cfg.ToBrokerConfig(), &log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create redis broker")
	}
	defer broker.Close()

	// Repositories
	scheduleRepo := postgres.NewScheduleRepository(db)
	enrollmentRepo := postgres.NewEnrollmentRepository(db)
	actionRepo := postgres.NewActionRepository(db)
	scheduleLogRepo := postgres.NewScheduleLogRepository(db)
	outboxRepo := postgres.NewOutboxRepository(db)

	// The sweeper closes logs and alerts through the engine; the tracker is
	// not involved here, so tracking stays disabled whatever the config says.
	trackingCfg := cfg.Tracking
	trackingCfg.Enabled = false

	eventSvc := eventService.NewService(outboxRepo)
	reportingSvc := reporting.NewService(scheduleLogRepo, enrollmentRepo, scheduleRepo, appLogger)
	enrollmentSvc := enrollment.NewService(enrollmentRepo, scheduleRepo, appLogger)
	engine := scheduling.NewService(
		enrollmentRepo,
		actionRepo,
		scheduleLogRepo,
		reportingSvc,
		enrollmentSvc,
		nil,
		eventSvc,
		appLogger,
		m,
		trackingCfg,
	)

	processor := worker.NewOutboxProcessor(
		outboxRepo,
		broker,
		cfg.Outbox.ToWorkerConfig(),
		appLogger,
		m,
	)
	sweeper := expiryWorker.NewExpirySweeper(
		actionRepo,
		engine,
		cfg.Expiry.SweepInterval,
		cfg.Expiry.BatchSize,
		appLogger,
		m,
	)

	setupHealthCheck(overrides.HealthAddr, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("shutting down worker")
		cancel()
	}()

	go sweeper.Start(ctx)
	processor.Start(ctx)
}

func setupHealthCheck(addr string, appLogger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			appLogger.Error(err, "health check server failed")
			os.Exit(1)
		}
	}()
}
