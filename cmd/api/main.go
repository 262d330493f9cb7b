package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mwombeki/opensrp-server/config"
	"github.com/mwombeki/opensrp-server/internal/handler"
	enrollmentHandler "github.com/mwombeki/opensrp-server/internal/handler/enrollment"
	scheduleHandler "github.com/mwombeki/opensrp-server/internal/handler/schedule"
	visitHandler "github.com/mwombeki/opensrp-server/internal/handler/visit"
	"github.com/mwombeki/opensrp-server/internal/repository/postgres"
	"github.com/mwombeki/opensrp-server/internal/repository/schedulecache"
	"github.com/mwombeki/opensrp-server/internal/router"
	enrollmentService "github.com/mwombeki/opensrp-server/internal/service/enrollment"
	eventService "github.com/mwombeki/opensrp-server/internal/service/event"
	reportingService "github.com/mwombeki/opensrp-server/internal/service/reporting"
	"github.com/mwombeki/opensrp-server/internal/service/scheduling"
	"github.com/mwombeki/opensrp-server/internal/tracking"
	"github.com/mwombeki/opensrp-server/pkg/keylock"
	"github.com/mwombeki/opensrp-server/pkg/logger"
	"github.com/mwombeki/opensrp-server/pkg/metrics"
	"github.com/mwombeki/opensrp-server/pkg/validator"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)
	m := metrics.NewMetrics("opensrp", "engine")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Repositories
	scheduleRepo := schedulecache.New(postgres.NewScheduleRepository(db))
	enrollmentRepo := postgres.NewEnrollmentRepository(db)
	actionRepo := postgres.NewActionRepository(db)
	scheduleLogRepo := postgres.NewScheduleLogRepository(db)
	outboxRepo := postgres.NewOutboxRepository(db)

	// Services
	eventSvc := eventService.NewService(outboxRepo)
	reportingSvc := reportingService.NewService(scheduleLogRepo, enrollmentRepo, scheduleRepo, appLogger)
	enrollmentSvc := enrollmentService.NewService(enrollmentRepo, scheduleRepo, appLogger)

	var tracker tracking.Client
	if cfg.Tracking.Enabled {
		tracker = tracking.NewHTTPClient(cfg.Tracking, appLogger, m)
	}

	engine := scheduling.NewService(
		enrollmentRepo,
		actionRepo,
		scheduleLogRepo,
		reportingSvc,
		enrollmentSvc,
		tracker,
		eventSvc,
		appLogger,
		m,
		cfg.Tracking,
	)

	// Handlers
	v := validator.New()
	locks := keylock.New()
	h := handler.NewHandler()
	scheduleH := scheduleHandler.NewHandler(scheduleRepo, v)
	enrollmentH := enrollmentHandler.NewHandler(enrollmentSvc, engine, scheduleRepo, v, locks, appLogger)
	visitH := visitHandler.NewHandler(engine, enrollmentSvc, scheduleRepo, v, locks, appLogger)

	r := router.NewRouter(h, scheduleH, enrollmentH, visitH, cfg)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		appLogger.Info("starting server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	appLogger.Info("server exited properly")
}
