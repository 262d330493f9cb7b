package router

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/mwombeki/opensrp-server/config"
	"github.com/mwombeki/opensrp-server/internal/handler"
	"github.com/mwombeki/opensrp-server/internal/handler/enrollment"
	"github.com/mwombeki/opensrp-server/internal/handler/schedule"
	"github.com/mwombeki/opensrp-server/internal/handler/visit"
	"github.com/mwombeki/opensrp-server/internal/middleware"
)

type Router struct {
	engine      *gin.Engine
	h           *handler.Handler
	scheduleH   *schedule.Handler
	enrollmentH *enrollment.Handler
	visitH      *visit.Handler
	cfg         *config.Config
}

func NewRouter(
	h *handler.Handler,
	scheduleH *schedule.Handler,
	enrollmentH *enrollment.Handler,
	visitH *visit.Handler,
	cfg *config.Config,
) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Logger(),
		middleware.Timeout(middleware.TimeoutConfig{Duration: cfg.Server.RequestTimeout}),
	)

	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  rate.Limit(cfg.RateLimit.RequestsPerSecond),
			Burst: cfg.RateLimit.Burst,
		})
		engine.Use(limiter.RateLimit())
	}

	return &Router{
		engine:      engine,
		h:           h,
		scheduleH:   scheduleH,
		enrollmentH: enrollmentH,
		visitH:      visitH,
		cfg:         cfg,
	}
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	r.setupHealthCheck(api)
	if r.cfg.Monitoring.PrometheusEnabled {
		r.engine.GET(r.cfg.Monitoring.MetricsPath, r.h.MetricsHandler)
	}

	schedules := api.Group("/schedules")
	{
		schedules.POST("", r.scheduleH.CreateSchedule)
		schedules.GET("", r.scheduleH.ListSchedules)
		schedules.GET("/:name", r.scheduleH.GetSchedule)
	}

	enrollments := api.Group("/enrollments")
	{
		enrollments.POST("", r.enrollmentH.Enroll)
		enrollments.DELETE("", r.enrollmentH.Unenroll)
		enrollments.GET("/:beneficiaryID", r.enrollmentH.ListEnrollments)
	}

	visits := api.Group("/visits")
	{
		visits.POST("", r.visitH.RecordVisit)
		visits.POST("/escalations", r.visitH.CreateEscalation)
		visits.POST("/resolutions", r.visitH.ResolveEscalation)
	}

	api.POST("/cases/:beneficiaryID/close", r.visitH.CloseCase)
	api.GET("/alerts", r.visitH.ListOpenAlerts)
}

func (r *Router) setupHealthCheck(rg *gin.RouterGroup) {
	health := rg.Group("/health")
	{
		health.GET("/live", r.h.LivenessCheck)
		health.GET("/ready", r.h.ReadinessCheck)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
