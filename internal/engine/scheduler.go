package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/leapstack-labs/listingwh/internal/dag"
	"github.com/leapstack-labs/listingwh/internal/notify"
	"github.com/leapstack-labs/listingwh/pkg/adapter"
	"github.com/leapstack-labs/listingwh/pkg/core"
	"github.com/sethvargo/go-retry"
)

const (
	msgRunCancelled = "run cancelled"
	notifyTimeout   = 30 * time.Second
)

// scheduler executes one run of a stage graph.
type scheduler struct {
	engine    *Engine
	graph     *dag.Graph[*Stage]
	runID     string
	stageRuns map[string]*core.StageRun
	logger    *slog.Logger

	// Owned by the run loop.
	status    map[string]core.StageStatus
	waiting   map[string]int
	failed    []string
	cancelled []string
}

type stageResult struct {
	stage    string
	rows     int64
	attempts int
	err      error
}

// run schedules every stage of the graph and returns the names of stages
// that failed or were cancelled. Blocked downstream stages are not listed.
func (s *scheduler) run(ctx context.Context) []string {
	s.status = make(map[string]core.StageStatus, s.graph.Len())
	s.waiting = make(map[string]int, s.graph.Len())
	for _, name := range s.graph.IDs() {
		s.status[name] = core.StageStatusPending
		s.waiting[name] = len(s.graph.Parents(name))
	}

	pool := pond.NewPool(s.engine.maxPar)
	defer pool.StopAndWait()

	results := make(chan stageResult, s.graph.Len())
	inFlight := 0

	submit := func(name string) {
		st, _ := s.graph.Node(name)
		s.status[name] = core.StageStatusRunning
		inFlight++
		pool.Submit(func() {
			results <- s.runStage(ctx, st)
		})
	}

	for _, name := range s.graph.GetRoots() {
		submit(name)
	}

	done := ctx.Done()
	for inFlight > 0 {
		select {
		case res := <-results:
			inFlight--
			if res.err != nil {
				s.status[res.stage] = core.StageStatusFailed
				s.failed = append(s.failed, res.stage)
				s.blockDownstream(res.stage)
				continue
			}
			s.status[res.stage] = core.StageStatusSucceeded
			for _, child := range s.graph.Children(res.stage) {
				s.waiting[child]--
				if s.waiting[child] == 0 && s.status[child] == core.StageStatusPending {
					submit(child)
				}
			}
		case <-done:
			done = nil
			s.logger.Warn("run cancelled, waiting for in-flight stages")
			s.cancelPending()
		}
	}

	// Unreachable for an acyclic graph; keeps every stage terminal.
	for _, name := range s.graph.IDs() {
		if s.status[name] == core.StageStatusPending {
			s.finishUnexecuted(name, "stage was not scheduled")
		}
	}

	out := append(append([]string{}, s.failed...), s.cancelled...)
	sort.Strings(out)
	return out
}

// blockDownstream fails every pending stage downstream of stage without
// executing it.
func (s *scheduler) blockDownstream(stage string) {
	reason := fmt.Sprintf("upstream stage %s failed", stage)
	for _, name := range s.graph.Downstream(stage) {
		if name != stage && s.status[name] == core.StageStatusPending {
			s.finishUnexecuted(name, reason)
		}
	}
}

func (s *scheduler) cancelPending() {
	for _, name := range s.graph.IDs() {
		if s.status[name] == core.StageStatusPending {
			s.finishUnexecuted(name, msgRunCancelled)
			s.cancelled = append(s.cancelled, name)
		}
	}
}

func (s *scheduler) finishUnexecuted(name, reason string) {
	s.status[name] = core.StageStatusFailed
	s.updateStage(name, core.StageStatusFailed, 0, 0, reason)
	s.engine.observer.StageFinished(name, core.StageStatusFailed, 0, 0, 0)
	s.logger.Debug("stage not executed", slog.String("stage", name), slog.String("reason", reason))
}

func (s *scheduler) updateStage(name string, status core.StageStatus, attempts int, rows int64, errMsg string) {
	sr := s.stageRuns[name]
	if err := s.engine.store.UpdateStageRun(sr.ID, status, attempts, rows, errMsg); err != nil {
		s.logger.Error("failed to update stage run",
			slog.String("stage", name),
			slog.String("error", err.Error()))
	}
}

// runStage executes one stage with retries. It runs on a pool worker.
//
// Each attempt is detached from ctx so an in-flight warehouse call always
// completes; cancellation only stops further attempts.
func (s *scheduler) runStage(ctx context.Context, st *Stage) stageResult {
	e := s.engine
	logger := s.logger.With(slog.String("stage", st.Name))

	s.updateStage(st.Name, core.StageStatusRunning, 0, 0, "")
	logger.Info("stage started")
	started := time.Now()

	res := stageResult{stage: st.Name}
	var lastErr error

	backoff := retry.WithMaxRetries(uint64(e.retries), retry.NewConstant(e.retryDelay)) //nolint:gosec // retries is clamped to >= 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res.attempts++
		rows, err := st.Transform.Apply(context.WithoutCancel(ctx), e.wh)
		if err == nil {
			res.rows = rows
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
		logger.Warn("stage attempt failed",
			slog.Int("attempt", res.attempts),
			slog.Int("max_attempts", e.retries+1),
			slog.String("error", err.Error()))
		return retry.RetryableError(err)
	})
	elapsed := time.Since(started)

	if err == nil {
		s.updateStage(st.Name, core.StageStatusSucceeded, res.attempts, res.rows, "")
		e.observer.StageFinished(st.Name, core.StageStatusSucceeded, res.attempts, res.rows, elapsed)
		logger.Info("stage succeeded",
			slog.Int64("rows", res.rows),
			slog.Int("attempts", res.attempts),
			slog.Duration("elapsed", elapsed))
		return res
	}

	res.err = stageError(err, lastErr, res.attempts)
	s.updateStage(st.Name, core.StageStatusFailed, res.attempts, 0, res.err.Error())
	e.observer.StageFinished(st.Name, core.StageStatusFailed, res.attempts, 0, elapsed)
	logger.Error("stage failed", slog.Int("attempts", res.attempts), slog.String("error", res.err.Error()))

	if res.attempts > 0 {
		s.notify(ctx, st.Name, res)
	}
	return res
}

func (s *scheduler) notify(ctx context.Context, stage string, res stageResult) {
	n := s.engine.notifier
	if n == nil {
		return
	}

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	err := n.Notify(nctx, notify.Failure{
		Pipeline: s.engine.pipeline,
		RunID:    s.runID,
		Stage:    stage,
		Error:    res.err.Error(),
		Attempts: res.attempts,
		At:       time.Now().UTC(),
	})
	if err != nil {
		s.logger.Error("failed to send failure notification",
			slog.String("stage", stage),
			slog.String("error", err.Error()))
	}
}

// isRetryable reports whether a failed attempt may be retried.
// Constraint violations are deterministic and never retried.
func isRetryable(err error) bool {
	var cerr *adapter.ConstraintError
	return !errors.As(err, &cerr)
}

// stageError builds the terminal error of a stage from the retry outcome
// and the last attempt error.
func stageError(err, lastErr error, attempts int) error {
	cancelled := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	switch {
	case cancelled && lastErr == nil:
		return errors.New(msgRunCancelled)
	case cancelled:
		return fmt.Errorf("%s after %d attempt(s): %w", msgRunCancelled, attempts, lastErr)
	default:
		return err
	}
}
