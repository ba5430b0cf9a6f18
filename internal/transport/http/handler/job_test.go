package handler_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/podworks/podworks/internal/domain"
	"github.com/podworks/podworks/internal/events"
	"github.com/podworks/podworks/internal/repository"
	"github.com/podworks/podworks/internal/transport/http/handler"
	"github.com/podworks/podworks/internal/usecase"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memStore struct {
	jobs map[string]*domain.Job
}

func newMemStore() *memStore { return &memStore{jobs: make(map[string]*domain.Job)} }

func (s *memStore) Create(_ context.Context, job *domain.Job) (*domain.Job, error) {
	s.jobs[job.ID] = job
	return job, nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*domain.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return job, nil
}

func (s *memStore) List(_ context.Context, input repository.ListJobsInput) ([]*domain.Job, error) {
	var out []*domain.Job
	for _, j := range s.jobs {
		if input.Status == "" || j.Status == input.Status {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *memStore) MarkRunning(context.Context, string) (*domain.Job, error) {
	return nil, errors.New("not used")
}
func (s *memStore) Complete(context.Context, string, *domain.Result) error {
	return errors.New("not used")
}
func (s *memStore) Fail(context.Context, string, string) error    { return errors.New("not used") }
func (s *memStore) Requeue(context.Context, string, string) error { return errors.New("not used") }

func (s *memStore) Cancel(_ context.Context, id string) error {
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status != domain.StatusPending {
		return domain.ErrStaleJob
	}
	job.Status = domain.StatusCancelled
	return nil
}

func (s *memStore) Retry(_ context.Context, id string) (*domain.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if job.Status != domain.StatusFailed {
		return nil, domain.ErrStaleJob
	}
	job.Status = domain.StatusPending
	job.RetryCount++
	return job, nil
}

func (s *memStore) UpdateProgress(context.Context, string, int) error { return nil }

func (s *memStore) AppendLog(context.Context, string, domain.LogEntry) error { return nil }

func (s *memStore) DeleteOlderThan(context.Context, time.Duration) (int, error) { return 2, nil }

func (s *memStore) ReconcileRunning(context.Context) (int, error) { return 0, nil }

func (s *memStore) Stats(context.Context) (repository.StoreStats, error) {
	return repository.StoreStats{}, nil
}

type noopPool struct{}

func (noopPool) Enqueue(*domain.Job) {}
func (noopPool) Dequeue(string) bool { return true }

func newEngine(store *memStore) *gin.Engine {
	u := usecase.NewJobUsecase(store, noopPool{}, events.NewBus(), []string{"printify", "shopify"})
	h := handler.NewJobHandler(u, slog.Default())

	r := gin.New()
	r.POST("/jobs", h.Create)
	r.GET("/jobs", h.List)
	r.GET("/jobs/:id", h.GetByID)
	r.POST("/jobs/:id/cancel", h.Cancel)
	r.POST("/jobs/:id/retry", h.Retry)
	r.POST("/jobs/cleanup", h.Cleanup)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateJob(t *testing.T) {
	r := newEngine(newMemStore())

	w := do(r, http.MethodPost, "/jobs", `{
		"type": "generate",
		"priority": "high",
		"request": {"generate": {"prompt": "retro sunset", "count": 2}}
	}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	body := w.Body.String()
	if !strings.Contains(body, `"job_id"`) || !strings.Contains(body, `"job"`) {
		t.Fatalf("want {job_id, job} envelope, body = %s", body)
	}
	if !strings.Contains(body, `"status":"pending"`) {
		t.Fatalf("body = %s", body)
	}
}

func TestCreateJobRejectsBadType(t *testing.T) {
	r := newEngine(newMemStore())

	w := do(r, http.MethodPost, "/jobs", `{"type": "sorcery", "request": {}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestCreateJobRejectsEmptyPrompt(t *testing.T) {
	r := newEngine(newMemStore())

	w := do(r, http.MethodPost, "/jobs", `{"type": "generate", "request": {"generate": {"count": 1}}}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
}

func TestGetUnknownJobIs404(t *testing.T) {
	r := newEngine(newMemStore())

	w := do(r, http.MethodGet, "/jobs/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestListRejectsUnknownStatus(t *testing.T) {
	r := newEngine(newMemStore())

	w := do(r, http.MethodGet, "/jobs?status=bogus", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestCancelRunningJobIs409(t *testing.T) {
	store := newMemStore()
	store.jobs["r1"] = &domain.Job{ID: "r1", Status: domain.StatusRunning}
	r := newEngine(store)

	w := do(r, http.MethodPost, "/jobs/r1/cancel", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
}

func TestRetryFailedJob(t *testing.T) {
	store := newMemStore()
	store.jobs["f1"] = &domain.Job{ID: "f1", Status: domain.StatusFailed}
	r := newEngine(store)

	w := do(r, http.MethodPost, "/jobs/f1/retry", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if !strings.Contains(w.Body.String(), `"status":"pending"`) {
		t.Fatalf("body = %s", w.Body)
	}
}

func TestCleanup(t *testing.T) {
	r := newEngine(newMemStore())

	w := do(r, http.MethodPost, "/jobs/cleanup", `{"max_age_hours": 24}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	if !strings.Contains(w.Body.String(), `"removed":2`) {
		t.Fatalf("body = %s", w.Body)
	}
}
