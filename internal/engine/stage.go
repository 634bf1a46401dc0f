package engine

import (
	"context"
	"errors"
	"time"

	"github.com/leapstack-labs/listingwh/pkg/adapter"
	"github.com/leapstack-labs/listingwh/pkg/core"
)

// ErrUnknownStage is returned for a stage name that is not part of the graph.
var ErrUnknownStage = errors.New("unknown stage")

// ErrRunFailed is returned when at least one stage of a run failed.
var ErrRunFailed = errors.New("run failed")

// Transformation is the body of a stage: it rebuilds the stage's output
// tables against the warehouse and returns the number of rows written.
type Transformation interface {
	Apply(ctx context.Context, wh adapter.Warehouse) (int64, error)
}

// TransformFunc adapts a function to Transformation.
type TransformFunc func(ctx context.Context, wh adapter.Warehouse) (int64, error)

// Apply calls f.
func (f TransformFunc) Apply(ctx context.Context, wh adapter.Warehouse) (int64, error) {
	return f(ctx, wh)
}

// Stage is a named unit of work with its upstream dependencies.
type Stage struct {
	Name      string
	Upstream  []string
	Transform Transformation
}

// Observer receives stage and run outcomes, typically for metrics.
type Observer interface {
	StageFinished(stage string, status core.StageStatus, attempts int, rows int64, elapsed time.Duration)
	RunFinished(status core.RunStatus, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) StageFinished(string, core.StageStatus, int, int64, time.Duration) {}
func (nopObserver) RunFinished(core.RunStatus, time.Duration)                         {}
