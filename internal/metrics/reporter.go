package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/podworks/podworks/internal/events"
	"github.com/podworks/podworks/internal/repository"
)

// Snapshot is the aggregate view served by GET /metricsz and pushed on the
// event bus.
type Snapshot struct {
	TotalJobs      int     `json:"total_jobs"`
	PendingJobs    int     `json:"pending_jobs"`
	RunningJobs    int     `json:"running_jobs"`
	CompletedJobs  int     `json:"completed_jobs"`
	FailedJobs     int     `json:"failed_jobs"`
	CancelledJobs  int     `json:"cancelled_jobs"`
	SuccessRate    float64 `json:"success_rate"`
	AverageJobTime float64 `json:"average_job_time_seconds"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// Reporter periodically recomputes the snapshot from the job store,
// refreshes the snapshot gauges, and publishes a metrics event.
type Reporter struct {
	store     repository.JobStore
	bus       *events.Bus
	logger    *slog.Logger
	interval  time.Duration
	startedAt time.Time
}

func NewReporter(store repository.JobStore, bus *events.Bus, logger *slog.Logger, interval time.Duration) *Reporter {
	return &Reporter{
		store:     store,
		bus:       bus,
		logger:    logger.With("component", "metrics_reporter"),
		interval:  interval,
		startedAt: time.Now(),
	}
}

// Snapshot computes the current aggregate view on demand.
func (r *Reporter) Snapshot(ctx context.Context) (Snapshot, error) {
	stats, err := r.store.Stats(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	s := Snapshot{
		TotalJobs:      stats.Total,
		PendingJobs:    stats.Pending,
		RunningJobs:    stats.Running,
		CompletedJobs:  stats.Completed,
		FailedJobs:     stats.Failed,
		CancelledJobs:  stats.Cancelled,
		AverageJobTime: stats.AvgJobTime.Seconds(),
		UptimeSeconds:  time.Since(r.startedAt).Seconds(),
	}
	if finished := stats.Completed + stats.Failed; finished > 0 {
		s.SuccessRate = float64(stats.Completed) / float64(finished)
	} else {
		s.SuccessRate = 1
	}
	return s, nil
}

func (r *Reporter) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("metrics reporter started", "interval", r.interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("metrics reporter shut down")
			return
		case <-ticker.C:
			r.report(ctx)
		}
	}
}

func (r *Reporter) report(ctx context.Context) {
	s, err := r.Snapshot(ctx)
	if err != nil {
		r.logger.Error("compute metrics snapshot", "error", err)
		return
	}

	JobsByStatus.WithLabelValues("pending").Set(float64(s.PendingJobs))
	JobsByStatus.WithLabelValues("running").Set(float64(s.RunningJobs))
	JobsByStatus.WithLabelValues("completed").Set(float64(s.CompletedJobs))
	JobsByStatus.WithLabelValues("failed").Set(float64(s.FailedJobs))
	JobsByStatus.WithLabelValues("cancelled").Set(float64(s.CancelledJobs))
	SuccessRate.Set(s.SuccessRate)
	AverageJobTime.Set(s.AverageJobTime)

	r.bus.Publish(events.Event{Type: events.TypeMetrics, Data: s})
}
