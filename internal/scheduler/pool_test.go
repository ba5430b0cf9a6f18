package scheduler_test

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/podworks/podworks/internal/domain"
	"github.com/podworks/podworks/internal/events"
	"github.com/podworks/podworks/internal/pipeline"
	"github.com/podworks/podworks/internal/repository"
	"github.com/podworks/podworks/internal/retry"
	"github.com/podworks/podworks/internal/scheduler"
)

// ---- in-memory store fake ----

type memStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]*domain.Job)}
}

func (s *memStore) put(job *domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *memStore) status(id string) domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id].Status
}

func (s *memStore) Create(_ context.Context, job *domain.Job) (*domain.Job, error) {
	s.put(job)
	return job, nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

func (s *memStore) List(_ context.Context, input repository.ListJobsInput) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Job
	for _, j := range s.jobs {
		if input.Status == "" || j.Status == input.Status {
			out = append(out, j)
		}
	}
	// Mirror the repository: newest first unless submission order is asked for.
	sort.Slice(out, func(i, j int) bool {
		if input.OldestFirst {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memStore) MarkRunning(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.Status != domain.StatusPending {
		return nil, domain.ErrStaleJob
	}
	now := time.Now()
	job.Status = domain.StatusRunning
	job.StartedAt = &now
	cp := *job
	return &cp, nil
}

func (s *memStore) Complete(_ context.Context, id string, result *domain.Result) error {
	return s.transition(id, domain.StatusRunning, func(j *domain.Job) {
		now := time.Now()
		j.Status = domain.StatusCompleted
		j.Result = result
		j.Progress = 100
		j.CompletedAt = &now
	})
}

func (s *memStore) Fail(_ context.Context, id string, lastError string) error {
	return s.transition(id, domain.StatusRunning, func(j *domain.Job) {
		now := time.Now()
		j.Status = domain.StatusFailed
		j.LastError = &lastError
		j.CompletedAt = &now
	})
}

func (s *memStore) Requeue(_ context.Context, id string, lastError string) error {
	return s.transition(id, domain.StatusRunning, func(j *domain.Job) {
		j.Status = domain.StatusPending
		j.RetryCount++
		j.LastError = &lastError
		j.Progress = 0
		j.StartedAt = nil
	})
}

func (s *memStore) Cancel(_ context.Context, id string) error {
	return s.transition(id, domain.StatusPending, func(j *domain.Job) {
		j.Status = domain.StatusCancelled
	})
}

func (s *memStore) Retry(_ context.Context, id string) (*domain.Job, error) {
	err := s.transition(id, domain.StatusFailed, func(j *domain.Job) {
		j.Status = domain.StatusPending
		j.RetryCount++
		j.Result = nil
		j.Progress = 0
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(context.Background(), id)
}

func (s *memStore) UpdateProgress(_ context.Context, id string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && j.Status == domain.StatusRunning && j.Progress < progress {
		j.Progress = progress
	}
	return nil
}

func (s *memStore) AppendLog(_ context.Context, id string, entry domain.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Logs = append(j.Logs, entry)
	}
	return nil
}

func (s *memStore) DeleteOlderThan(context.Context, time.Duration) (int, error) { return 0, nil }
func (s *memStore) ReconcileRunning(context.Context) (int, error)               { return 0, nil }

func (s *memStore) Stats(context.Context) (repository.StoreStats, error) {
	return repository.StoreStats{}, nil
}

func (s *memStore) transition(id string, from domain.Status, apply func(*domain.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status != from {
		return domain.ErrStaleJob
	}
	apply(job)
	return nil
}

// ---- executor fakes ----

type fakeExecutor struct {
	mu      sync.Mutex
	order   []string
	active  int
	peak    int
	execute func(ctx context.Context, job *domain.Job) (*domain.Result, error)
}

func (e *fakeExecutor) Execute(ctx context.Context, job *domain.Job, _ pipeline.Reporter) (*domain.Result, error) {
	e.mu.Lock()
	e.order = append(e.order, job.ID)
	e.active++
	if e.active > e.peak {
		e.peak = e.active
	}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	if e.execute != nil {
		return e.execute(ctx, job)
	}
	return &domain.Result{}, nil
}

// ---- helpers ----

func fastRetry() retry.Options {
	return retry.Options{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2,
	}
}

func newPool(store repository.JobStore, exec scheduler.Executor, concurrency int, jobTimeout time.Duration) *scheduler.Pool {
	return scheduler.NewPool(store, exec, events.NewBus(), nil, scheduler.Options{
		MaxConcurrentJobs: concurrency,
		PollInterval:      5 * time.Millisecond,
		JobTimeout:        jobTimeout,
		Retry:             fastRetry(),
	}, slog.Default())
}

func pendingJob(id string, priority domain.Priority, maxRetries int) *domain.Job {
	return &domain.Job{
		ID:         id,
		Type:       domain.JobTypeCustom,
		Status:     domain.StatusPending,
		Priority:   priority,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now(),
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// ---- tests ----

func TestSingleWorkerRunsByPriorityThenFIFO(t *testing.T) {
	store := newMemStore()
	exec := &fakeExecutor{}
	pool := newPool(store, exec, 1, 0)

	jobs := []*domain.Job{
		pendingJob("low", domain.PriorityLow, 0),
		pendingJob("urgent", domain.PriorityUrgent, 0),
		pendingJob("normal", domain.PriorityNormal, 0),
	}
	for _, j := range jobs {
		store.put(j)
		pool.Enqueue(j)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Start(ctx)

	waitFor(t, time.Second, func() bool {
		return store.status("low") == domain.StatusCompleted
	})

	exec.mu.Lock()
	defer exec.mu.Unlock()
	want := []string{"urgent", "normal", "low"}
	for i, id := range want {
		if exec.order[i] != id {
			t.Fatalf("execution order %v, want %v", exec.order, want)
		}
	}
	if exec.peak != 1 {
		t.Fatalf("want at most 1 concurrent job, saw %d", exec.peak)
	}
}

func TestResumePreservesSubmissionOrder(t *testing.T) {
	store := newMemStore()
	exec := &fakeExecutor{}
	pool := newPool(store, exec, 1, 0)

	base := time.Now()
	for i, id := range []string{"first", "second", "third"} {
		j := pendingJob(id, domain.PriorityNormal, 0)
		j.CreatedAt = base.Add(time.Duration(i) * time.Second)
		store.put(j)
	}

	if err := pool.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Start(ctx)

	waitFor(t, time.Second, func() bool {
		return store.status("third") == domain.StatusCompleted
	})

	exec.mu.Lock()
	defer exec.mu.Unlock()
	want := []string{"first", "second", "third"}
	for i, id := range want {
		if exec.order[i] != id {
			t.Fatalf("execution order %v, want %v", exec.order, want)
		}
	}
}

func TestConcurrencyBound(t *testing.T) {
	store := newMemStore()
	block := make(chan struct{})
	exec := &fakeExecutor{
		execute: func(context.Context, *domain.Job) (*domain.Result, error) {
			<-block
			return &domain.Result{}, nil
		},
	}
	pool := newPool(store, exec, 2, 0)

	for _, id := range []string{"a", "b", "c", "d"} {
		j := pendingJob(id, domain.PriorityNormal, 0)
		store.put(j)
		pool.Enqueue(j)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Start(ctx)

	waitFor(t, time.Second, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return exec.active == 2
	})

	// With both slots blocked, nothing else may start.
	time.Sleep(20 * time.Millisecond)
	exec.mu.Lock()
	if exec.peak > 2 {
		exec.mu.Unlock()
		t.Fatalf("concurrency bound exceeded: peak %d", exec.peak)
	}
	exec.mu.Unlock()

	close(block)
	waitFor(t, time.Second, func() bool {
		return store.status("d") == domain.StatusCompleted
	})
}

func TestFailedJobIsRetriedThenCompletes(t *testing.T) {
	store := newMemStore()
	attempts := 0
	var mu sync.Mutex
	exec := &fakeExecutor{
		execute: func(context.Context, *domain.Job) (*domain.Result, error) {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts == 1 {
				return nil, domain.NewTransientError("imagegen", errors.New("flaky"))
			}
			return &domain.Result{}, nil
		},
	}
	pool := newPool(store, exec, 1, 0)

	job := pendingJob("j1", domain.PriorityNormal, 2)
	store.put(job)
	pool.Enqueue(job)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Start(ctx)

	waitFor(t, time.Second, func() bool {
		return store.status("j1") == domain.StatusCompleted
	})

	got, _ := store.GetByID(context.Background(), "j1")
	if got.RetryCount != 1 {
		t.Fatalf("want retryCount 1, got %d", got.RetryCount)
	}
}

func TestRetriesExhaustedEndsFailed(t *testing.T) {
	store := newMemStore()
	exec := &fakeExecutor{
		execute: func(context.Context, *domain.Job) (*domain.Result, error) {
			return nil, domain.NewTransientError("shopify", errors.New("always down"))
		},
	}
	pool := newPool(store, exec, 1, 0)

	job := pendingJob("j1", domain.PriorityNormal, 1)
	store.put(job)
	pool.Enqueue(job)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Start(ctx)

	waitFor(t, time.Second, func() bool {
		return store.status("j1") == domain.StatusFailed
	})

	got, _ := store.GetByID(context.Background(), "j1")
	if got.RetryCount != 1 {
		t.Fatalf("want 1 automatic retry, got %d", got.RetryCount)
	}
	if got.LastError == nil || *got.LastError == "" {
		t.Fatal("terminal failure must record the last error")
	}
}

func TestNonRetryableErrorFailsImmediately(t *testing.T) {
	store := newMemStore()
	exec := &fakeExecutor{
		execute: func(context.Context, *domain.Job) (*domain.Result, error) {
			return nil, domain.NewValidationError("", errors.New("count must be positive"))
		},
	}
	pool := newPool(store, exec, 1, 0)

	job := pendingJob("bad", domain.PriorityNormal, 3)
	store.put(job)
	pool.Enqueue(job)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Start(ctx)

	waitFor(t, time.Second, func() bool {
		return store.status("bad") == domain.StatusFailed
	})

	got, _ := store.GetByID(context.Background(), "bad")
	if got.RetryCount != 0 {
		t.Fatalf("validation failures must not be retried, got retryCount %d", got.RetryCount)
	}
}

func TestJobTimeoutIsRetriedThenFails(t *testing.T) {
	store := newMemStore()
	exec := &fakeExecutor{
		execute: func(ctx context.Context, _ *domain.Job) (*domain.Result, error) {
			<-ctx.Done()
			return nil, domain.NewTimeoutError("imagegen", ctx.Err())
		},
	}
	pool := newPool(store, exec, 1, 20*time.Millisecond)

	job := pendingJob("slow", domain.PriorityNormal, 1)
	store.put(job)
	pool.Enqueue(job)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Start(ctx)

	waitFor(t, 2*time.Second, func() bool {
		return store.status("slow") == domain.StatusFailed
	})

	got, _ := store.GetByID(context.Background(), "slow")
	if got.RetryCount != 1 {
		t.Fatalf("want exactly one retry, got %d", got.RetryCount)
	}

	foundTimeoutLog := false
	for _, entry := range got.Logs {
		if entry.Level == domain.LogLevelError && len(entry.Message) >= 7 && entry.Message[:7] == "timeout" {
			foundTimeoutLog = true
		}
	}
	if !foundTimeoutLog {
		t.Fatalf("expected a timeout log entry, logs: %+v", got.Logs)
	}
}

func TestDequeueRemovesPendingJob(t *testing.T) {
	store := newMemStore()
	pool := newPool(store, &fakeExecutor{}, 1, 0)

	job := pendingJob("j1", domain.PriorityNormal, 0)
	store.put(job)
	pool.Enqueue(job)

	if !pool.Dequeue("j1") {
		t.Fatal("expected dequeue to succeed")
	}
	if pool.Dequeue("j1") {
		t.Fatal("expected second dequeue to fail")
	}
}
