package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/podworks/podworks/internal/health"
	"github.com/podworks/podworks/internal/metrics"
)

// SystemHandler serves the operational endpoints: liveness with
// dependency detail on /healthz and a JSON metrics snapshot on /metricsz
// (the Prometheus exposition lives on its own listener).
type SystemHandler struct {
	checker  *health.Checker
	reporter *metrics.Reporter
	logger   *slog.Logger
}

func NewSystemHandler(checker *health.Checker, reporter *metrics.Reporter, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{checker: checker, reporter: reporter, logger: logger.With("component", "system_handler")}
}

func (h *SystemHandler) Health(ctx *gin.Context) {
	result := h.checker.Check(ctx.Request.Context())

	code := http.StatusOK
	if result.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	ctx.JSON(code, result)
}

func (h *SystemHandler) Metrics(ctx *gin.Context) {
	snap, err := h.reporter.Snapshot(ctx.Request.Context())
	if err != nil {
		h.logger.Error("metrics snapshot", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	ctx.JSON(http.StatusOK, snap)
}
