// Package schedule submits recurring batch jobs on a cron expression,
// e.g. a daily run over a configured prompt list.
package schedule

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/podworks/podworks/internal/domain"
	"github.com/podworks/podworks/internal/usecase"
)

// JobCreator is the usecase surface the cron runner needs.
type JobCreator interface {
	CreateJob(ctx context.Context, input usecase.CreateJobInput) (*domain.Job, error)
}

type Recurring struct {
	cron    *cron.Cron
	creator JobCreator
	prompts []string
	logger  *slog.Logger
}

// New wires the prompt list onto the given cron spec. An empty spec or
// prompt list disables the schedule; callers can still Start/Stop safely.
func New(spec string, prompts []string, creator JobCreator, logger *slog.Logger) (*Recurring, error) {
	r := &Recurring{
		cron:    cron.New(),
		creator: creator,
		prompts: prompts,
		logger:  logger.With("component", "schedule"),
	}
	if spec == "" || len(prompts) == 0 {
		return r, nil
	}
	if _, err := r.cron.AddFunc(spec, r.run); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recurring) Start() { r.cron.Start() }

// Stop halts scheduling and returns a context that is done once any
// in-flight submission finishes.
func (r *Recurring) Stop() context.Context { return r.cron.Stop() }

func (r *Recurring) run() {
	items := make([]domain.GenerateRequest, 0, len(r.prompts))
	for _, p := range r.prompts {
		items = append(items, domain.GenerateRequest{
			Prompt:      p,
			Count:       1,
			AutoPublish: true,
		})
	}

	job, err := r.creator.CreateJob(context.Background(), usecase.CreateJobInput{
		Type:     domain.JobTypeBatch,
		Priority: domain.PriorityLow,
		Request:  domain.Request{Batch: &domain.BatchRequest{Items: items}},
	})
	if err != nil {
		r.logger.Error("submit scheduled batch", "error", err)
		return
	}
	r.logger.Info("scheduled batch submitted", "job_id", job.ID, "items", len(items))
}
