package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/podworks/podworks/internal/domain"
	"github.com/podworks/podworks/internal/repository"
)

const jobColumns = `id, type, status, priority, request, result, progress,
	retry_count, max_retries, last_error, created_at, started_at, completed_at`

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	query := `
		INSERT INTO jobs (id, type, status, priority, request, max_retries)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + jobColumns

	row := r.pool.QueryRow(ctx, query,
		job.ID,
		job.Type,
		domain.StatusPending,
		job.Priority,
		job.Request,
		job.MaxRetries,
	)
	return scanJob(row)
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT ts, level, message FROM job_logs WHERE job_id = $1 ORDER BY id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("load job logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var entry domain.LogEntry
		if err := rows.Scan(&entry.Timestamp, &entry.Level, &entry.Message); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		job.Logs = append(job.Logs, entry)
	}
	return job, rows.Err()
}

func (r *JobRepository) List(ctx context.Context, input repository.ListJobsInput) ([]*domain.Job, error) {
	var args []any
	var where []string

	if input.Status != "" {
		args = append(args, input.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if input.Type != "" {
		args = append(args, input.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if input.Limit <= 0 {
		input.Limit = 100
	}
	args = append(args, input.Limit)

	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}
	order := "DESC"
	if input.OldestFirst {
		order = "ASC"
	}
	query := fmt.Sprintf(`SELECT %s FROM jobs %s ORDER BY created_at %s LIMIT $%d`,
		jobColumns, clause, order, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *JobRepository) MarkRunning(ctx context.Context, id string) (*domain.Job, error) {
	// The status guard makes the transition atomic: if the job was
	// cancelled between dequeue and here, no row matches.
	row := r.pool.QueryRow(ctx, `
		UPDATE jobs
		SET    status = 'running', started_at = NOW()
		WHERE  id = $1 AND status = 'pending'
		RETURNING `+jobColumns, id)

	job, err := scanJob(row)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, r.staleOrMissing(ctx, id)
	}
	return job, err
}

func (r *JobRepository) Complete(ctx context.Context, id string, result *domain.Result) error {
	return r.transition(ctx, id, `
		UPDATE jobs
		SET    status = 'completed', result = $2, progress = 100, completed_at = NOW()
		WHERE  id = $1 AND status = 'running'`, result)
}

func (r *JobRepository) Fail(ctx context.Context, id string, lastError string) error {
	return r.transition(ctx, id, `
		UPDATE jobs
		SET    status = 'failed', last_error = $2, completed_at = NOW()
		WHERE  id = $1 AND status = 'running'`, lastError)
}

func (r *JobRepository) Requeue(ctx context.Context, id string, lastError string) error {
	return r.transition(ctx, id, `
		UPDATE jobs
		SET    status = 'pending', retry_count = retry_count + 1, last_error = $2,
		       progress = 0, started_at = NULL
		WHERE  id = $1 AND status = 'running'`, lastError)
}

func (r *JobRepository) Cancel(ctx context.Context, id string) error {
	return r.transition(ctx, id, `
		UPDATE jobs
		SET    status = 'cancelled', completed_at = NOW()
		WHERE  id = $1 AND status = 'pending'`)
}

func (r *JobRepository) Retry(ctx context.Context, id string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE jobs
		SET    status = 'pending', retry_count = retry_count + 1,
		       progress = 0, result = NULL, started_at = NULL, completed_at = NULL
		WHERE  id = $1 AND status = 'failed'
		RETURNING `+jobColumns, id)

	job, err := scanJob(row)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, r.staleOrMissing(ctx, id)
	}
	return job, err
}

func (r *JobRepository) UpdateProgress(ctx context.Context, id string, progress int) error {
	// progress never decreases; concurrent lower writes are dropped.
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs SET progress = $2
		WHERE id = $1 AND status = 'running' AND progress < $2`, id, progress)
	return err
}

func (r *JobRepository) AppendLog(ctx context.Context, id string, entry domain.LogEntry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO job_logs (job_id, ts, level, message) VALUES ($1, $2, $3, $4)`,
		id, entry.Timestamp, entry.Level, entry.Message)
	return err
}

func (r *JobRepository) DeleteOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed', 'cancelled')
		  AND created_at < NOW() - $1::interval`,
		fmt.Sprintf("%d seconds", int(maxAge.Seconds())))
	return int(tag.RowsAffected()), err
}

func (r *JobRepository) ReconcileRunning(ctx context.Context) (int, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE jobs
		SET    status = 'failed',
		       last_error = 'process restarted while job was running',
		       completed_at = NOW()
		WHERE  status = 'running'
		RETURNING id`)
	if err != nil {
		return 0, fmt.Errorf("reconcile running jobs: %w", err)
	}
	defer rows.Close()

	var count int
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return count, err
		}
		count++
		entry := domain.LogEntry{
			Timestamp: time.Now(),
			Level:     domain.LogLevelError,
			Message:   "job was running when the process restarted; marked failed",
		}
		if err := r.AppendLog(ctx, id, entry); err != nil {
			return count, err
		}
	}
	return count, rows.Err()
}

func (r *JobRepository) Stats(ctx context.Context) (repository.StoreStats, error) {
	var s repository.StoreStats
	row := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'running'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COALESCE(EXTRACT(EPOCH FROM AVG(completed_at - started_at)
				FILTER (WHERE status = 'completed')), 0)
		FROM jobs`)

	var avgSeconds float64
	if err := row.Scan(&s.Total, &s.Pending, &s.Running, &s.Completed,
		&s.Failed, &s.Cancelled, &avgSeconds); err != nil {
		return s, fmt.Errorf("job stats: %w", err)
	}
	s.AvgJobTime = time.Duration(avgSeconds * float64(time.Second))
	return s, nil
}

func (r *JobRepository) transition(ctx context.Context, id, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.staleOrMissing(ctx, id)
	}
	return nil
}

// staleOrMissing distinguishes "no such job" from "job exists but the guard
// did not match", so callers can report a precise conflict.
func (r *JobRepository) staleOrMissing(ctx context.Context, id string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return domain.ErrJobNotFound
	}
	return domain.ErrStaleJob
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	err := row.Scan(
		&j.ID,
		&j.Type,
		&j.Status,
		&j.Priority,
		&j.Request,
		&j.Result,
		&j.Progress,
		&j.RetryCount,
		&j.MaxRetries,
		&j.LastError,
		&j.CreatedAt,
		&j.StartedAt,
		&j.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}
