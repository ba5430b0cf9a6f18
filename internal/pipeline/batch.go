package pipeline

import (
	"context"
	"fmt"

	"github.com/podworks/podworks/internal/domain"
)

// runBatch executes the sub-units in submission order. A failed unit is
// recorded and the rest continue; the batch itself only fails when every
// unit failed.
func (e *Engine) runBatch(ctx context.Context, req *domain.BatchRequest, rep Reporter) (*domain.BatchResult, error) {
	total := len(req.Items)
	rep.Log(ctx, domain.LogLevelInfo, fmt.Sprintf("batch of %d design(s)", total))

	result := &domain.BatchResult{Units: make([]domain.BatchUnit, 0, total)}
	succeeded := 0

	for i := range req.Items {
		if err := ctx.Err(); err != nil {
			// Job timeout or shutdown: remaining units are recorded as
			// not attempted rather than silently dropped.
			for j := i; j < total; j++ {
				result.Units = append(result.Units, domain.BatchUnit{
					Index: j,
					Error: fmt.Sprintf("not attempted: %v", err),
				})
			}
			break
		}

		unit := domain.BatchUnit{Index: i}
		res, err := e.runGenerate(ctx, &req.Items[i], noopReporter{})
		if err != nil {
			unit.Error = err.Error()
			rep.Log(ctx, domain.LogLevelWarn, fmt.Sprintf("batch unit %d failed: %v", i, err))
		} else {
			unit.Result = res
			succeeded++
		}
		result.Units = append(result.Units, unit)

		rep.Progress(ctx, (i+1)*100/total)
	}

	if succeeded == 0 {
		return nil, fmt.Errorf("all %d batch units failed", total)
	}
	rep.Log(ctx, domain.LogLevelInfo, fmt.Sprintf("batch finished: %d/%d unit(s) succeeded", succeeded, total))
	return result, nil
}

// noopReporter suppresses per-unit progress so batch progress stays
// monotone across the whole job; unit logs surface through the batch
// reporter instead.
type noopReporter struct{}

func (noopReporter) Progress(context.Context, int)                {}
func (noopReporter) Log(context.Context, domain.LogLevel, string) {}
