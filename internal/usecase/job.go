package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/podworks/podworks/internal/domain"
	"github.com/podworks/podworks/internal/events"
	"github.com/podworks/podworks/internal/metrics"
	"github.com/podworks/podworks/internal/repository"
)

const (
	defaultMaxRetries = 3
	maxImagesPerJob   = 10
	maxBatchItems     = 50
)

// Enqueuer is the scheduler surface the usecase needs. Implemented by
// *scheduler.Pool.
type Enqueuer interface {
	Enqueue(job *domain.Job)
	Dequeue(id string) bool
}

type JobUsecase struct {
	store     repository.JobStore
	pool      Enqueuer
	bus       *events.Bus
	platforms []string
}

func NewJobUsecase(store repository.JobStore, pool Enqueuer, bus *events.Bus, platforms []string) *JobUsecase {
	return &JobUsecase{store: store, pool: pool, bus: bus, platforms: platforms}
}

type CreateJobInput struct {
	Type       domain.JobType
	Priority   domain.Priority
	MaxRetries *int
	Request    domain.Request
}

func (u *JobUsecase) CreateJob(ctx context.Context, input CreateJobInput) (*domain.Job, error) {
	if input.Priority == "" {
		input.Priority = domain.PriorityNormal
	}
	maxRetries := defaultMaxRetries
	if input.MaxRetries != nil {
		maxRetries = *input.MaxRetries
	}

	if err := u.validate(input, maxRetries); err != nil {
		return nil, err
	}

	job := &domain.Job{
		ID:         uuid.NewString(),
		Type:       input.Type,
		Status:     domain.StatusPending,
		Priority:   input.Priority,
		Request:    input.Request,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now().UTC(),
	}

	created, err := u.store.Create(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	u.pool.Enqueue(created)
	metrics.JobsSubmittedTotal.WithLabelValues(string(created.Type)).Inc()
	u.publishUpdate(created)

	return created, nil
}

func (u *JobUsecase) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	job, err := u.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (u *JobUsecase) List(ctx context.Context, input repository.ListJobsInput) ([]*domain.Job, error) {
	jobs, err := u.store.List(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// CancelJob cancels a pending job. Running jobs are not interrupted; the
// caller gets domain.ErrJobNotPending and can retry once the job settles.
func (u *JobUsecase) CancelJob(ctx context.Context, id string) (*domain.Job, error) {
	if err := u.store.Cancel(ctx, id); err != nil {
		if errors.Is(err, domain.ErrStaleJob) {
			return nil, domain.ErrJobNotPending
		}
		return nil, err
	}
	// Best effort: the worker re-checks status when it claims the job,
	// so a missed dequeue is harmless.
	u.pool.Dequeue(id)

	job, err := u.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get cancelled job: %w", err)
	}
	u.publishUpdate(job)
	return job, nil
}

// RetryJob resets a failed job to pending and requeues it.
func (u *JobUsecase) RetryJob(ctx context.Context, id string) (*domain.Job, error) {
	job, err := u.store.Retry(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrStaleJob) {
			return nil, domain.ErrJobNotFailed
		}
		return nil, err
	}
	u.pool.Enqueue(job)
	u.publishUpdate(job)
	return job, nil
}

// Cleanup deletes terminal jobs older than maxAge and returns how many
// were removed.
func (u *JobUsecase) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, domain.NewValidationError("", fmt.Errorf("max age must be positive"))
	}
	n, err := u.store.DeleteOlderThan(ctx, maxAge)
	if err != nil {
		return 0, fmt.Errorf("cleanup jobs: %w", err)
	}
	return n, nil
}

func (u *JobUsecase) validate(input CreateJobInput, maxRetries int) error {
	fail := func(format string, args ...any) error {
		return domain.NewValidationError("", fmt.Errorf(format, args...))
	}

	if maxRetries < 0 || maxRetries > 10 {
		return fail("max_retries must be between 0 and 10")
	}

	switch input.Type {
	case domain.JobTypeGenerate:
		if input.Request.Generate == nil || input.Request.Batch != nil || input.Request.Custom != nil {
			return fail("generate jobs require exactly the generate request")
		}
		return u.validateGenerate(*input.Request.Generate)
	case domain.JobTypeBatch:
		if input.Request.Batch == nil || input.Request.Generate != nil || input.Request.Custom != nil {
			return fail("batch jobs require exactly the batch request")
		}
		items := input.Request.Batch.Items
		if len(items) == 0 {
			return fail("batch must contain at least one item")
		}
		if len(items) > maxBatchItems {
			return fail("batch exceeds %d items", maxBatchItems)
		}
		for i, item := range items {
			if err := u.validateGenerate(item); err != nil {
				return fail("item %d: %v", i, err)
			}
		}
		return nil
	case domain.JobTypeCustom:
		if input.Request.Custom == nil || input.Request.Generate != nil || input.Request.Batch != nil {
			return fail("custom jobs require exactly the custom request")
		}
		if input.Request.Custom.Name == "" {
			return fail("custom job name is required")
		}
		return nil
	default:
		return fail("unknown job type %q", input.Type)
	}
}

func (u *JobUsecase) validateGenerate(req domain.GenerateRequest) error {
	fail := func(format string, args ...any) error {
		return domain.NewValidationError("", fmt.Errorf(format, args...))
	}

	if req.Prompt == "" {
		return fail("prompt is required")
	}
	// Zero is allowed and means one image; the pipeline applies the default.
	if req.Count < 0 || req.Count > maxImagesPerJob {
		return fail("count must be between 0 and %d (0 means 1)", maxImagesPerJob)
	}
	for _, p := range req.Platforms {
		if !u.knownPlatform(p) {
			return fail("unknown platform %q", p)
		}
	}
	return nil
}

func (u *JobUsecase) knownPlatform(name string) bool {
	for _, p := range u.platforms {
		if p == name {
			return true
		}
	}
	return false
}

func (u *JobUsecase) publishUpdate(job *domain.Job) {
	u.bus.Publish(events.Event{
		Type: events.TypeJobUpdate,
		At:   time.Now().UTC(),
		Data: events.JobUpdate{JobID: job.ID, Status: string(job.Status), Progress: job.Progress},
	})
}
