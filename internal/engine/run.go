package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leapstack-labs/listingwh/internal/dag"
	"github.com/leapstack-labs/listingwh/pkg/core"
)

// Run executes the full stage graph.
//
// It returns core.ErrRunActive when another run is active, and an error
// wrapping ErrRunFailed together with the failed run when any stage failed.
func (e *Engine) Run(ctx context.Context, trigger string) (*core.Run, error) {
	return e.execute(ctx, trigger, e.graph)
}

// RunFrom executes stage and everything downstream of it. Upstream tables
// must already exist from an earlier run.
func (e *Engine) RunFrom(ctx context.Context, stage, trigger string) (*core.Run, error) {
	if _, ok := e.graph.Node(stage); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}
	return e.execute(ctx, trigger, e.graph.Subgraph(e.graph.Downstream(stage)))
}

func (e *Engine) execute(ctx context.Context, trigger string, graph *dag.Graph[*Stage]) (*core.Run, error) {
	if !e.runMu.TryLock() {
		return nil, core.ErrRunActive
	}
	defer e.runMu.Unlock()

	if trigger == "" {
		trigger = "manual"
	}

	if err := e.ensureConnected(ctx); err != nil {
		return nil, err
	}

	run, err := e.store.CreateRun(e.pipeline, trigger)
	if err != nil {
		if errors.Is(err, core.ErrRunActive) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	logger := e.logger.With(slog.String("run_id", run.ID))
	logger.Info("starting run", slog.String("trigger", trigger), slog.Int("stages", graph.Len()))
	started := time.Now()

	order, err := graph.TopologicalSort()
	if err != nil {
		_ = e.store.CompleteRun(run.ID, core.RunStatusFailed, err.Error())
		return e.reload(run), err
	}

	stageRuns := make(map[string]*core.StageRun, len(order))
	for _, name := range order {
		sr := &core.StageRun{RunID: run.ID, Stage: name, Status: core.StageStatusPending}
		if err := e.store.RecordStageRun(sr); err != nil {
			_ = e.store.CompleteRun(run.ID, core.RunStatusFailed, err.Error())
			return e.reload(run), fmt.Errorf("failed to record stage %s: %w", name, err)
		}
		stageRuns[name] = sr
	}

	s := &scheduler{
		engine:    e,
		graph:     graph,
		runID:     run.ID,
		stageRuns: stageRuns,
		logger:    logger,
	}
	failed := s.run(ctx)

	status := core.RunStatusSucceeded
	var runErr error
	if len(failed) > 0 {
		status = core.RunStatusFailed
		runErr = fmt.Errorf("%w: stage(s) %s failed", ErrRunFailed, strings.Join(failed, ", "))
	}

	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if err := e.store.CompleteRun(run.ID, status, errMsg); err != nil {
		logger.Error("failed to complete run", slog.String("error", err.Error()))
	}

	elapsed := time.Since(started)
	e.observer.RunFinished(status, elapsed)
	logger.Info("run finished", slog.String("status", string(status)), slog.Duration("elapsed", elapsed))

	return e.reload(run), runErr
}

// reload returns the persisted copy of run, falling back to run itself.
func (e *Engine) reload(run *core.Run) *core.Run {
	if got, err := e.store.GetRun(run.ID); err == nil {
		return got
	}
	return run
}
