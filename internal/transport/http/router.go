package httptransport

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"

	"github.com/podworks/podworks/internal/transport/http/handler"
	"github.com/podworks/podworks/internal/transport/http/middleware"
)

func NewRouter(logger *slog.Logger, jobHandler *handler.JobHandler, systemHandler *handler.SystemHandler, eventsHandler *handler.EventsHandler, jwtKey []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	// Operational endpoints stay open: probes and dashboards don't carry
	// tokens.
	r.GET("/healthz", systemHandler.Health)
	r.GET("/metricsz", systemHandler.Metrics)

	authMW := middleware.Auth(jwtKey)

	jobs := r.Group("/jobs", authMW)
	jobs.GET("", jobHandler.List)
	jobs.POST("", jobHandler.Create)
	jobs.GET("/:id", jobHandler.GetByID)
	jobs.POST("/:id/cancel", jobHandler.Cancel)
	jobs.POST("/:id/retry", jobHandler.Retry)
	jobs.POST("/cleanup", jobHandler.Cleanup)

	r.GET("/events", authMW, eventsHandler.Stream)

	return r
}
