// Package scheduler admits queued jobs into a bounded worker pool and
// drives each job through its handler to a terminal status.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/podworks/podworks/internal/domain"
	"github.com/podworks/podworks/internal/events"
	"github.com/podworks/podworks/internal/metrics"
	"github.com/podworks/podworks/internal/pipeline"
	"github.com/podworks/podworks/internal/queue"
	"github.com/podworks/podworks/internal/repository"
	"github.com/podworks/podworks/internal/retry"
)

// Executor runs one job to completion. Implemented by *pipeline.Engine.
type Executor interface {
	Execute(ctx context.Context, job *domain.Job, rep pipeline.Reporter) (*domain.Result, error)
}

// Notifier is told about terminal failures. Implemented by *notify.Notifier.
type Notifier interface {
	JobFailed(ctx context.Context, job *domain.Job, reason string)
}

type Options struct {
	MaxConcurrentJobs int
	PollInterval      time.Duration
	JobTimeout        time.Duration
	// Retry shapes the delay between automatic re-executions of a failed
	// job (the whole-job retry, distinct from per-call retries inside
	// the pipeline).
	Retry retry.Options
}

type Pool struct {
	store    repository.JobStore
	queue    *queue.Queue
	executor Executor
	bus      *events.Bus
	notifier Notifier
	logger   *slog.Logger
	opts     Options

	sem  chan struct{}
	wake chan struct{}
}

func NewPool(store repository.JobStore, executor Executor, bus *events.Bus, notifier Notifier, opts Options, logger *slog.Logger) *Pool {
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = 3
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Pool{
		store:    store,
		queue:    queue.New(),
		executor: executor,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With("component", "scheduler"),
		opts:     opts,
		sem:      make(chan struct{}, opts.MaxConcurrentJobs),
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue admits a pending job into the priority queue.
func (p *Pool) Enqueue(job *domain.Job) {
	p.queue.Push(job)
	metrics.QueueDepth.Set(float64(p.queue.Len()))
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Dequeue removes a pending job from the queue before a worker claims it.
func (p *Pool) Dequeue(id string) bool {
	ok := p.queue.Remove(id)
	if ok {
		metrics.QueueDepth.Set(float64(p.queue.Len()))
	}
	return ok
}

// Resume reloads jobs that were pending when the previous process exited.
// The caller runs the store's ReconcileRunning first, so nothing here is
// in a half-executed state.
func (p *Pool) Resume(ctx context.Context) error {
	jobs, err := p.store.List(ctx, repository.ListJobsInput{
		Status:      domain.StatusPending,
		Limit:       10000,
		OldestFirst: true,
	})
	if err != nil {
		return fmt.Errorf("reload pending jobs: %w", err)
	}
	for _, job := range jobs {
		p.Enqueue(job)
	}
	if len(jobs) > 0 {
		p.logger.Info("requeued pending jobs from previous run", "count", len(jobs))
	}
	return nil
}

func (p *Pool) Start(ctx context.Context) {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	p.logger.Info("worker pool started", "concurrency", p.opts.MaxConcurrentJobs)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker pool shut down")
			return
		case <-p.wake:
			p.admit(ctx)
		case <-ticker.C:
			p.admit(ctx)
		}
	}
}

// admit moves jobs from the queue into free worker slots, highest
// priority first.
func (p *Pool) admit(ctx context.Context) {
	for {
		select {
		case p.sem <- struct{}{}:
		default:
			return // all slots busy
		}

		job := p.queue.Pop()
		if job == nil {
			<-p.sem
			return
		}
		metrics.QueueDepth.Set(float64(p.queue.Len()))

		go func(j *domain.Job) {
			metrics.JobsInFlight.Inc()
			defer metrics.JobsInFlight.Dec()
			defer func() { <-p.sem }()
			p.runJob(ctx, j)
		}(job)
	}
}

func (p *Pool) runJob(ctx context.Context, queued *domain.Job) {
	job, err := p.store.MarkRunning(ctx, queued.ID)
	if err != nil {
		if errors.Is(err, domain.ErrStaleJob) || errors.Is(err, domain.ErrJobNotFound) {
			// Cancelled (or purged) between dequeue and claim.
			p.logger.Info("skipping job no longer pending", "job_id", queued.ID)
			return
		}
		p.logger.Error("mark job running", "job_id", queued.ID, "error", err)
		return
	}

	p.publishUpdate(job.ID, domain.StatusRunning, job.Progress)
	p.log(ctx, job.ID, domain.LogLevelInfo,
		fmt.Sprintf("attempt %d/%d started", job.RetryCount+1, job.MaxRetries+1))

	jobCtx := ctx
	if p.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.opts.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	result, execErr := p.executor.Execute(jobCtx, job, &jobReporter{pool: p, jobID: job.ID})
	duration := time.Since(start)
	metrics.JobDuration.Observe(duration.Seconds())

	if execErr == nil {
		if err := p.store.Complete(ctx, job.ID, result); err != nil {
			p.logger.Error("mark job complete", "job_id", job.ID, "error", err)
			return
		}
		metrics.JobsCompletedTotal.WithLabelValues("success").Inc()
		p.publishUpdate(job.ID, domain.StatusCompleted, 100)
		p.logger.Info("job completed", "job_id", job.ID, "duration", duration)
		return
	}

	msg := execErr.Error()
	if domain.ClassOf(execErr) == domain.ErrClassTimeout && jobCtx.Err() != nil {
		msg = fmt.Sprintf("timeout: job exceeded its %s budget: %v", p.opts.JobTimeout, execErr)
	}
	p.log(ctx, job.ID, domain.LogLevelError, msg)

	// Circuit-open failures are not retried per call, but the whole job is:
	// by the time the retry delay elapses the breaker may have recovered.
	retryable := domain.Retryable(execErr) || domain.ClassOf(execErr) == domain.ErrClassCircuitOpen
	if retryable && job.RetryCount < job.MaxRetries {
		p.requeue(ctx, job, msg)
		return
	}

	if err := p.store.Fail(ctx, job.ID, msg); err != nil {
		p.logger.Error("mark job failed", "job_id", job.ID, "error", err)
		return
	}
	metrics.JobsCompletedTotal.WithLabelValues("failed").Inc()
	p.publishUpdate(job.ID, domain.StatusFailed, job.Progress)
	p.logger.Warn("job permanently failed", "job_id", job.ID, "error", msg)
	if p.notifier != nil {
		p.notifier.JobFailed(ctx, job, msg)
	}
}

// requeue schedules the next automatic attempt after a backoff delay.
func (p *Pool) requeue(ctx context.Context, job *domain.Job, msg string) {
	if err := p.store.Requeue(ctx, job.ID, msg); err != nil {
		p.logger.Error("requeue job", "job_id", job.ID, "error", err)
		return
	}

	delay := retryDelay(p.opts.Retry, job.RetryCount)
	next := *job
	next.Status = domain.StatusPending
	next.RetryCount = job.RetryCount + 1
	next.Progress = 0

	metrics.JobsCompletedTotal.WithLabelValues("retry").Inc()
	p.publishUpdate(job.ID, domain.StatusPending, 0)
	p.logger.Warn("job failed, will retry",
		"job_id", job.ID,
		"error", msg,
		"attempt", job.RetryCount+1,
		"max_retries", job.MaxRetries,
		"delay", delay,
	)

	time.AfterFunc(delay, func() { p.Enqueue(&next) })
}

func (p *Pool) publishUpdate(jobID string, status domain.Status, progress int) {
	p.bus.Publish(events.Event{
		Type: events.TypeJobUpdate,
		Data: events.JobUpdate{JobID: jobID, Status: string(status), Progress: progress},
	})
}

func (p *Pool) log(ctx context.Context, jobID string, level domain.LogLevel, msg string) {
	entry := domain.LogEntry{Timestamp: time.Now(), Level: level, Message: msg}
	if err := p.store.AppendLog(ctx, jobID, entry); err != nil {
		p.logger.Error("append job log", "job_id", jobID, "error", err)
	}
	p.bus.Publish(events.Event{
		Type: events.TypeLog,
		Data: events.LogLine{JobID: jobID, Level: string(level), Message: msg},
	})
}

// jobReporter adapts the pool's store/bus plumbing to pipeline.Reporter.
type jobReporter struct {
	pool  *Pool
	jobID string
}

func (r *jobReporter) Progress(ctx context.Context, pct int) {
	if err := r.pool.store.UpdateProgress(ctx, r.jobID, pct); err != nil {
		r.pool.logger.Error("update progress", "job_id", r.jobID, "error", err)
		return
	}
	r.pool.publishUpdate(r.jobID, domain.StatusRunning, pct)
}

func (r *jobReporter) Log(ctx context.Context, level domain.LogLevel, msg string) {
	r.pool.log(ctx, r.jobID, level, msg)
}

// retryDelay computes the wait before re-running a failed job:
// initial * multiplier^attempt, capped, with ±20% jitter.
func retryDelay(opts retry.Options, retryCount int) time.Duration {
	base := opts.InitialBackoff
	if base <= 0 {
		base = time.Second
	}
	mult := opts.Multiplier
	if mult <= 1 {
		mult = 2
	}

	delay := time.Duration(float64(base) * math.Pow(mult, float64(retryCount)))
	if opts.MaxBackoff > 0 && delay > opts.MaxBackoff {
		delay = opts.MaxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(delay/5)+1)) - delay/10
	return delay + jitter
}
