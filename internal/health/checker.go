package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/podworks/podworks/internal/breaker"
	"github.com/podworks/podworks/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerInfo describes one dependency's isolation state. Critical
// dependencies (image backend, storage) take the whole system unhealthy
// when open; a publish platform only degrades it.
type BreakerInfo struct {
	Dependency string
	State      breaker.State
	Critical   bool
}

// BreakerSource is implemented by the pipeline dependency registry.
type BreakerSource interface {
	Breakers() []BreakerInfo
}

// Snapshotter is implemented by *metrics.Reporter.
type Snapshotter interface {
	Snapshot(ctx context.Context) (metrics.Snapshot, error)
}

// Result is the GET /healthz response body.
type Result struct {
	Status        string           `json:"status"`
	UptimeSeconds float64          `json:"uptime_seconds"`
	Metrics       metrics.Snapshot `json:"metrics"`
	Services      map[string]bool  `json:"services"`
}

type Checker struct {
	db        Pinger
	deps      BreakerSource
	snap      Snapshotter
	floor     float64
	logger    *slog.Logger
	gauge     *prometheus.GaugeVec
	startedAt time.Time
}

// NewChecker creates a health checker and registers its Prometheus gauge.
func NewChecker(db Pinger, deps BreakerSource, snap Snapshotter, successRateFloor float64, logger *slog.Logger, reg prometheus.Registerer) *Checker {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pod",
		Name:      "health_check_up",
		Help:      "Whether a dependency is usable. 1 = up, 0 = down.",
	}, []string{"dependency"})
	reg.MustRegister(gauge)

	return &Checker{
		db:        db,
		deps:      deps,
		snap:      snap,
		floor:     successRateFloor,
		logger:    logger.With("component", "health"),
		gauge:     gauge,
		startedAt: time.Now(),
	}
}

// Check evaluates dependency breakers, the job store, and the success rate.
func (c *Checker) Check(ctx context.Context) Result {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result := Result{
		Status:        StatusHealthy,
		UptimeSeconds: time.Since(c.startedAt).Seconds(),
		Services:      make(map[string]bool),
	}

	if err := c.db.Ping(checkCtx); err != nil {
		c.logger.Warn("job store health check failed", "error", err)
		result.Status = StatusUnhealthy
		result.Services["postgres"] = false
		c.gauge.WithLabelValues("postgres").Set(0)
	} else {
		result.Services["postgres"] = true
		c.gauge.WithLabelValues("postgres").Set(1)
	}

	for _, b := range c.deps.Breakers() {
		up := b.State != breaker.StateOpen
		result.Services[b.Dependency] = up
		metrics.BreakerState.WithLabelValues(b.Dependency).Set(float64(b.State))
		if up {
			c.gauge.WithLabelValues(b.Dependency).Set(1)
			continue
		}
		c.gauge.WithLabelValues(b.Dependency).Set(0)
		if b.Critical {
			result.Status = StatusUnhealthy
		} else if result.Status == StatusHealthy {
			result.Status = StatusDegraded
		}
	}

	snap, err := c.snap.Snapshot(checkCtx)
	if err != nil {
		c.logger.Warn("metrics snapshot for health check failed", "error", err)
	} else {
		result.Metrics = snap
		if snap.CompletedJobs+snap.FailedJobs > 0 && snap.SuccessRate < c.floor {
			result.Status = StatusUnhealthy
		}
	}

	return result
}
