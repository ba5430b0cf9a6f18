// Package pipeline executes job handlers: the staged generate → persist →
// product-creation → publish flow, batch aggregation, and registered
// custom handlers.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/podworks/podworks/internal/domain"
)

// CustomHandler runs a registered custom job. The payload is opaque to
// the engine.
type CustomHandler func(ctx context.Context, payload json.RawMessage, rep Reporter) (json.RawMessage, error)

type Config struct {
	// BatchConcurrency bounds concurrent image generations within one
	// request; PublishConcurrency bounds concurrent platform publishes.
	BatchConcurrency   int
	PublishConcurrency int
}

type Engine struct {
	deps   *Deps
	custom map[string]CustomHandler
	cfg    Config
	logger *slog.Logger
}

func NewEngine(deps *Deps, cfg Config, logger *slog.Logger) *Engine {
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = 3
	}
	if cfg.PublishConcurrency <= 0 {
		cfg.PublishConcurrency = 3
	}
	return &Engine{
		deps:   deps,
		custom: make(map[string]CustomHandler),
		cfg:    cfg,
		logger: logger.With("component", "pipeline"),
	}
}

// RegisterCustom binds a named handler for custom jobs. Registration
// happens at startup, before the worker pool runs.
func (e *Engine) RegisterCustom(name string, h CustomHandler) {
	e.custom[name] = h
}

// Execute dispatches on the job's type. The request union is matched
// exhaustively; a job whose payload does not match its type never left
// admission validation, so the nil checks here are final safety.
func (e *Engine) Execute(ctx context.Context, job *domain.Job, rep Reporter) (*domain.Result, error) {
	switch job.Type {
	case domain.JobTypeGenerate:
		if job.Request.Generate == nil {
			return nil, domain.NewValidationError("", fmt.Errorf("generate job %s has no generate request", job.ID))
		}
		res, err := e.runGenerate(ctx, job.Request.Generate, rep)
		if err != nil {
			return nil, err
		}
		return &domain.Result{Generate: res}, nil

	case domain.JobTypeBatch:
		if job.Request.Batch == nil {
			return nil, domain.NewValidationError("", fmt.Errorf("batch job %s has no batch request", job.ID))
		}
		res, err := e.runBatch(ctx, job.Request.Batch, rep)
		if err != nil {
			return nil, err
		}
		return &domain.Result{Batch: res}, nil

	case domain.JobTypeCustom:
		if job.Request.Custom == nil {
			return nil, domain.NewValidationError("", fmt.Errorf("custom job %s has no custom request", job.ID))
		}
		res, err := e.runCustom(ctx, job.Request.Custom, rep)
		if err != nil {
			return nil, err
		}
		return &domain.Result{Custom: res}, nil

	default:
		return nil, domain.NewValidationError("", fmt.Errorf("unknown job type %q", job.Type))
	}
}

func (e *Engine) runCustom(ctx context.Context, req *domain.CustomRequest, rep Reporter) (*domain.CustomResult, error) {
	h, ok := e.custom[req.Name]
	if !ok {
		return nil, domain.NewValidationError("", fmt.Errorf("no custom handler registered for %q", req.Name))
	}

	rep.Log(ctx, domain.LogLevelInfo, fmt.Sprintf("running custom handler %q", req.Name))
	out, err := h(ctx, req.Payload, rep)
	if err != nil {
		return nil, err
	}
	return &domain.CustomResult{Output: out}, nil
}
