package repository

import (
	"context"
	"time"

	"github.com/podworks/podworks/internal/domain"
)

type ListJobsInput struct {
	Status domain.Status // empty = all statuses
	Type   domain.JobType
	Limit  int
	// OldestFirst returns jobs in submission order instead of the default
	// newest-first API ordering. The queue reload depends on it: re-admitting
	// pending jobs newest-first would reverse FIFO within a priority tier.
	OldestFirst bool
}

// StoreStats is the raw material for the metrics snapshot.
type StoreStats struct {
	Total      int
	Pending    int
	Running    int
	Completed  int
	Failed     int
	Cancelled  int
	AvgJobTime time.Duration // over completed jobs
}

// JobStore owns all job records. Workers never mutate a job directly; every
// transition goes through one of the status-guarded methods below, which
// return domain.ErrStaleJob when the job is no longer in the expected state.
type JobStore interface {
	Create(ctx context.Context, job *domain.Job) (*domain.Job, error)
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, input ListJobsInput) ([]*domain.Job, error)

	// MarkRunning transitions pending → running and sets started_at.
	MarkRunning(ctx context.Context, id string) (*domain.Job, error)
	// Complete transitions running → completed with the final result.
	Complete(ctx context.Context, id string, result *domain.Result) error
	// Fail transitions running → failed recording the last error.
	Fail(ctx context.Context, id string, lastError string) error
	// Requeue transitions running → pending with retry_count incremented,
	// used by the scheduler's automatic retry.
	Requeue(ctx context.Context, id string, lastError string) error
	// Cancel transitions pending → cancelled.
	Cancel(ctx context.Context, id string) error
	// Retry transitions failed → pending with retry_count incremented,
	// used by the explicit retry endpoint.
	Retry(ctx context.Context, id string) (*domain.Job, error)

	// UpdateProgress raises progress on a running job; it never lowers it.
	UpdateProgress(ctx context.Context, id string, progress int) error
	AppendLog(ctx context.Context, id string, entry domain.LogEntry) error

	// DeleteOlderThan purges terminal jobs older than maxAge and returns
	// the number removed.
	DeleteOlderThan(ctx context.Context, maxAge time.Duration) (int, error)
	// ReconcileRunning fails every job left running by a previous process;
	// a crashed worker cannot resume mid-pipeline.
	ReconcileRunning(ctx context.Context) (int, error)

	Stats(ctx context.Context) (StoreStats, error)
}
