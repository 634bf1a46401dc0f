package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leapstack-labs/listingwh/internal/notify"
	"github.com/leapstack-labs/listingwh/internal/state"
	"github.com/leapstack-labs/listingwh/internal/testutil"
	"github.com/leapstack-labs/listingwh/pkg/adapter"
	"github.com/leapstack-labs/listingwh/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubWarehouse satisfies adapter.Warehouse without doing any work.
type stubWarehouse struct{}

func (stubWarehouse) Connect(context.Context, adapter.Config) error            { return nil }
func (stubWarehouse) Close() error                                             { return nil }
func (stubWarehouse) Exec(context.Context, string) error                       { return nil }
func (stubWarehouse) Query(context.Context, string) (*adapter.Rows, error)     { return nil, nil }
func (stubWarehouse) RefreshExternal(context.Context, adapter.RawSource) error { return nil }
func (stubWarehouse) Materialize(context.Context, string, string) (int64, error) {
	return 0, nil
}
func (stubWarehouse) DeclarePrimaryKey(context.Context, adapter.PrimaryKey) error { return nil }
func (stubWarehouse) DeclareForeignKey(context.Context, adapter.ForeignKey) error { return nil }
func (stubWarehouse) Dialect() adapter.Dialect {
	return adapter.ANSIDialect{DialectName: "stub"}
}

// recorder tracks stage executions across workers.
type recorder struct {
	mu       sync.Mutex
	started  []string
	finished map[string]time.Time
	begun    map[string]time.Time
}

func newRecorder() *recorder {
	return &recorder{finished: map[string]time.Time{}, begun: map[string]time.Time{}}
}

func (r *recorder) stage(name string, upstream ...string) Stage {
	return r.stageFunc(name, func() (int64, error) { return 1, nil }, upstream...)
}

func (r *recorder) stageFunc(name string, fn func() (int64, error), upstream ...string) Stage {
	return Stage{
		Name:     name,
		Upstream: upstream,
		Transform: TransformFunc(func(context.Context, adapter.Warehouse) (int64, error) {
			r.mu.Lock()
			r.started = append(r.started, name)
			r.begun[name] = time.Now()
			r.mu.Unlock()

			rows, err := fn()

			r.mu.Lock()
			r.finished[name] = time.Now()
			r.mu.Unlock()
			return rows, err
		}),
	}
}

func (r *recorder) executed(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.begun[name]
	return ok
}

func newTestStore(t *testing.T) core.Store {
	t.Helper()
	store := state.NewSQLiteStore(testutil.NewTestLogger(t))
	require.NoError(t, store.Open(":memory:"))
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestEngine(t *testing.T, cfg Config, stages []Stage) *Engine {
	t.Helper()
	if cfg.Warehouse == nil {
		cfg.Warehouse = stubWarehouse{}
	}
	if cfg.Store == nil {
		cfg.Store = newTestStore(t)
	}
	if cfg.Retries == 0 {
		cfg.Retries = -1
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	cfg.Logger = testutil.NewTestLogger(t)

	e, err := New(cfg, stages)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func stageRunsByName(t *testing.T, store core.Store, runID string) map[string]*core.StageRun {
	t.Helper()
	runs, err := store.GetStageRunsForRun(runID)
	require.NoError(t, err)
	out := make(map[string]*core.StageRun, len(runs))
	for _, sr := range runs {
		out[sr.Stage] = sr
	}
	return out
}

func TestNew_ValidatesStages(t *testing.T) {
	noop := TransformFunc(func(context.Context, adapter.Warehouse) (int64, error) { return 0, nil })

	tests := []struct {
		name   string
		stages []Stage
		is     error
	}{
		{
			name:   "duplicate name",
			stages: []Stage{{Name: "a", Transform: noop}, {Name: "a", Transform: noop}},
		},
		{
			name:   "unknown upstream",
			stages: []Stage{{Name: "a", Upstream: []string{"missing"}, Transform: noop}},
			is:     ErrUnknownStage,
		},
		{
			name: "cycle",
			stages: []Stage{
				{Name: "a", Upstream: []string{"b"}, Transform: noop},
				{Name: "b", Upstream: []string{"a"}, Transform: noop},
			},
		},
		{
			name:   "missing transformation",
			stages: []Stage{{Name: "a"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Config{Warehouse: stubWarehouse{}, Store: newTestStore(t)}, tt.stages)
			require.Error(t, err)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestEngine_Plan(t *testing.T) {
	r := newRecorder()
	e := newTestEngine(t, Config{}, []Stage{
		r.stage("source"),
		r.stage("staging", "source"),
		r.stage("dim_a", "staging"),
		r.stage("dim_b", "staging"),
		r.stage("fact", "dim_a", "dim_b"),
	})

	levels, err := e.Plan()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"source"}, {"staging"}, {"dim_a", "dim_b"}, {"fact"}}, levels)
	assert.Equal(t, []string{"dim_a", "dim_b"}, e.Upstream("fact"))
	assert.Equal(t, DefaultPipeline, e.Pipeline())
}

func TestEngine_Run_RespectsDependencies(t *testing.T) {
	r := newRecorder()
	e := newTestEngine(t, Config{MaxParallelism: 4}, []Stage{
		r.stage("source"),
		r.stage("staging", "source"),
		r.stage("dim_a", "staging"),
		r.stage("dim_b", "staging"),
		r.stage("dim_c", "staging"),
		r.stage("fact", "dim_a", "dim_b", "dim_c"),
	})

	run, err := e.Run(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusSucceeded, run.Status)
	assert.Equal(t, "test", run.Trigger)
	assert.NotNil(t, run.CompletedAt)

	require.Len(t, r.started, 6)
	deps := map[string][]string{
		"staging": {"source"},
		"dim_a":   {"staging"},
		"dim_b":   {"staging"},
		"dim_c":   {"staging"},
		"fact":    {"dim_a", "dim_b", "dim_c"},
	}
	for stage, ups := range deps {
		for _, up := range ups {
			assert.False(t, r.begun[stage].Before(r.finished[up]), "%s started before %s finished", stage, up)
		}
	}

	srs := stageRunsByName(t, e.Store(), run.ID)
	require.Len(t, srs, 6)
	for name, sr := range srs {
		assert.Equal(t, core.StageStatusSucceeded, sr.Status, name)
		assert.Equal(t, 1, sr.Attempts, name)
		assert.Equal(t, int64(1), sr.RowsAffected, name)
	}
}

func TestEngine_Run_BoundsParallelism(t *testing.T) {
	var current, peak atomic.Int32
	work := func() (int64, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return 0, nil
	}

	r := newRecorder()
	var stages []Stage
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		stages = append(stages, r.stageFunc(name, work))
	}
	e := newTestEngine(t, Config{MaxParallelism: 2}, stages)

	_, err := e.Run(context.Background(), "")
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Len(t, r.started, 8)
}

func TestEngine_Run_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	r := newRecorder()
	e := newTestEngine(t, Config{Retries: 2}, []Stage{
		r.stageFunc("flaky", func() (int64, error) {
			if calls.Add(1) == 1 {
				return 0, errors.New("connection reset")
			}
			return 7, nil
		}),
	})

	run, err := e.Run(context.Background(), "")
	require.NoError(t, err)

	sr := stageRunsByName(t, e.Store(), run.ID)["flaky"]
	assert.Equal(t, core.StageStatusSucceeded, sr.Status)
	assert.Equal(t, 2, sr.Attempts)
	assert.Equal(t, int64(7), sr.RowsAffected)
	assert.Empty(t, sr.Error)
}

func TestEngine_Run_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	r := newRecorder()
	e := newTestEngine(t, Config{Retries: 2}, []Stage{
		r.stageFunc("broken", func() (int64, error) {
			calls.Add(1)
			return 0, errors.New("warehouse unavailable")
		}),
	})

	run, err := e.Run(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunFailed)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, core.RunStatusFailed, run.Status)
	assert.Equal(t, int32(3), calls.Load())

	sr := stageRunsByName(t, e.Store(), run.ID)["broken"]
	assert.Equal(t, core.StageStatusFailed, sr.Status)
	assert.Equal(t, 3, sr.Attempts)
	assert.Contains(t, sr.Error, "warehouse unavailable")
}

func TestNew_RetryDefaults(t *testing.T) {
	tests := []struct {
		name      string
		retries   int
		delay     time.Duration
		wantRetry int
		wantDelay time.Duration
	}{
		{"zero uses defaults", 0, 0, DefaultRetries, DefaultRetryDelay},
		{"negative disables", -1, -1, 0, time.Millisecond},
		{"explicit values kept", 4, time.Second, 4, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(Config{
				Retries:    tt.retries,
				RetryDelay: tt.delay,
				Warehouse:  stubWarehouse{},
				Store:      newTestStore(t),
				Logger:     testutil.NewTestLogger(t),
			}, []Stage{newRecorder().stage("a")})
			require.NoError(t, err)
			t.Cleanup(func() { _ = e.Close() })
			assert.Equal(t, tt.wantRetry, e.retries)
			assert.Equal(t, tt.wantDelay, e.retryDelay)
		})
	}
}

func TestEngine_Run_DefaultRetries(t *testing.T) {
	var calls atomic.Int32
	r := newRecorder()
	e, err := New(Config{
		RetryDelay: time.Millisecond,
		Warehouse:  stubWarehouse{},
		Store:      newTestStore(t),
		Logger:     testutil.NewTestLogger(t),
	}, []Stage{
		r.stageFunc("broken", func() (int64, error) {
			calls.Add(1)
			return 0, errors.New("warehouse unavailable")
		}),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	run, err := e.Run(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, int32(DefaultRetries+1), calls.Load())
	assert.Equal(t, DefaultRetries+1, stageRunsByName(t, e.Store(), run.ID)["broken"].Attempts)
}

func TestEngine_Run_DoesNotRetryConstraintViolation(t *testing.T) {
	var calls atomic.Int32
	r := newRecorder()
	e := newTestEngine(t, Config{Retries: 2}, []Stage{
		r.stageFunc("dim", func() (int64, error) {
			calls.Add(1)
			return 0, &adapter.ConstraintError{
				Kind: adapter.ConstraintPrimaryKey, Name: "pk_dim", Table: "warehouse.dim", Column: "id",
				Violations: 2, Detail: "duplicate key(s)",
			}
		}),
	})

	run, err := e.Run(context.Background(), "")
	require.ErrorIs(t, err, ErrRunFailed)
	assert.Equal(t, int32(1), calls.Load())

	sr := stageRunsByName(t, e.Store(), run.ID)["dim"]
	assert.Equal(t, 1, sr.Attempts)
	assert.Contains(t, sr.Error, "pk_dim")
}

func TestEngine_Run_FailureBlocksDownstreamOnly(t *testing.T) {
	r := newRecorder()
	e := newTestEngine(t, Config{}, []Stage{
		r.stage("root"),
		r.stageFunc("bad", func() (int64, error) { return 0, errors.New("boom") }, "root"),
		r.stage("after_bad", "bad"),
		r.stage("after_after", "after_bad"),
		r.stage("sibling", "root"),
	})

	run, err := e.Run(context.Background(), "")
	require.ErrorIs(t, err, ErrRunFailed)

	assert.False(t, r.executed("after_bad"))
	assert.False(t, r.executed("after_after"))
	assert.True(t, r.executed("sibling"))

	srs := stageRunsByName(t, e.Store(), run.ID)
	assert.Equal(t, core.StageStatusSucceeded, srs["root"].Status)
	assert.Equal(t, core.StageStatusSucceeded, srs["sibling"].Status)
	assert.Equal(t, core.StageStatusFailed, srs["bad"].Status)
	for _, name := range []string{"after_bad", "after_after"} {
		assert.Equal(t, core.StageStatusFailed, srs[name].Status, name)
		assert.Equal(t, 0, srs[name].Attempts, name)
		assert.Equal(t, "upstream stage bad failed", srs[name].Error, name)
	}
}

func TestEngine_Run_SourceFailureFailsRunWithoutDownstream(t *testing.T) {
	r := newRecorder()
	e := newTestEngine(t, Config{}, []Stage{
		r.stageFunc("refresh_source", func() (int64, error) { return 0, errors.New("bucket unreachable") }),
		r.stage("refresh_staging", "refresh_source"),
		r.stage("load_warehouse", "refresh_staging"),
	})

	run, err := e.Run(context.Background(), "")
	require.ErrorIs(t, err, ErrRunFailed)
	assert.Equal(t, core.RunStatusFailed, run.Status)
	assert.Equal(t, []string{"refresh_source"}, r.started)
}

type captureNotifier struct {
	mu       sync.Mutex
	failures []notify.Failure
}

func (c *captureNotifier) Notify(_ context.Context, f notify.Failure) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, f)
	return nil
}

func TestEngine_Run_NotifiesTerminalFailure(t *testing.T) {
	n := &captureNotifier{}
	r := newRecorder()
	e := newTestEngine(t, Config{Pipeline: "nightly", Retries: 1, Notifier: n}, []Stage{
		r.stageFunc("bad", func() (int64, error) { return 0, errors.New("boom") }),
		r.stage("blocked", "bad"),
	})

	run, err := e.Run(context.Background(), "")
	require.Error(t, err)

	require.Len(t, n.failures, 1)
	f := n.failures[0]
	assert.Equal(t, "nightly", f.Pipeline)
	assert.Equal(t, run.ID, f.RunID)
	assert.Equal(t, "bad", f.Stage)
	assert.Equal(t, 2, f.Attempts)
	assert.Contains(t, f.Error, "boom")
	assert.False(t, f.At.IsZero())
}

type countingObserver struct {
	mu     sync.Mutex
	stages map[string]core.StageStatus
	runs   []core.RunStatus
}

func (o *countingObserver) StageFinished(stage string, status core.StageStatus, _ int, _ int64, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages[stage] = status
}

func (o *countingObserver) RunFinished(status core.RunStatus, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs = append(o.runs, status)
}

func TestEngine_Run_ReportsToObserver(t *testing.T) {
	obs := &countingObserver{stages: map[string]core.StageStatus{}}
	r := newRecorder()
	e := newTestEngine(t, Config{Observer: obs}, []Stage{
		r.stage("a"),
		r.stageFunc("b", func() (int64, error) { return 0, errors.New("boom") }, "a"),
		r.stage("c", "b"),
	})

	_, err := e.Run(context.Background(), "")
	require.Error(t, err)

	assert.Equal(t, map[string]core.StageStatus{
		"a": core.StageStatusSucceeded,
		"b": core.StageStatusFailed,
		"c": core.StageStatusFailed,
	}, obs.stages)
	assert.Equal(t, []core.RunStatus{core.RunStatusFailed}, obs.runs)
}

func TestEngine_Run_RejectsConcurrentRun(t *testing.T) {
	t.Run("active run in store", func(t *testing.T) {
		store := newTestStore(t)
		_, err := store.CreateRun(DefaultPipeline, "other-process")
		require.NoError(t, err)

		r := newRecorder()
		e := newTestEngine(t, Config{Store: store}, []Stage{r.stage("a")})

		_, err = e.Run(context.Background(), "")
		assert.ErrorIs(t, err, core.ErrRunActive)
		assert.Empty(t, r.started)
	})

	t.Run("run in progress in process", func(t *testing.T) {
		release := make(chan struct{})
		entered := make(chan struct{})
		r := newRecorder()
		e := newTestEngine(t, Config{}, []Stage{
			r.stageFunc("slow", func() (int64, error) {
				close(entered)
				<-release
				return 0, nil
			}),
		})

		done := make(chan error, 1)
		go func() {
			_, err := e.Run(context.Background(), "")
			done <- err
		}()

		<-entered
		_, err := e.Run(context.Background(), "")
		assert.ErrorIs(t, err, core.ErrRunActive)

		close(release)
		require.NoError(t, <-done)
	})
}

func TestEngine_RunFrom(t *testing.T) {
	r := newRecorder()
	e := newTestEngine(t, Config{}, []Stage{
		r.stage("source"),
		r.stage("staging", "source"),
		r.stage("dim", "staging"),
		r.stage("fact", "dim"),
		r.stage("other", "source"),
	})

	run, err := e.RunFrom(context.Background(), "dim", "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dim", "fact"}, r.started)

	srs := stageRunsByName(t, e.Store(), run.ID)
	assert.Len(t, srs, 2)

	_, err = e.RunFrom(context.Background(), "nope", "")
	assert.ErrorIs(t, err, ErrUnknownStage)
}

func TestEngine_Run_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := newRecorder()
	e := newTestEngine(t, Config{}, []Stage{
		r.stageFunc("first", func() (int64, error) {
			cancel()
			return 1, nil
		}),
		r.stage("second", "first"),
	})

	run, err := e.Run(ctx, "")
	require.ErrorIs(t, err, ErrRunFailed)
	assert.Equal(t, core.RunStatusFailed, run.Status)
	assert.False(t, r.executed("second"))

	srs := stageRunsByName(t, e.Store(), run.ID)
	assert.Equal(t, core.StageStatusSucceeded, srs["first"].Status)
	assert.Equal(t, core.StageStatusFailed, srs["second"].Status)
	assert.Equal(t, msgRunCancelled, srs["second"].Error)

	active, err := e.Store().GetActiveRun(e.Pipeline())
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestEngine_Warehouse(t *testing.T) {
	r := newRecorder()
	e := newTestEngine(t, Config{}, []Stage{r.stage("source")})

	wh, err := e.Warehouse(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stub", wh.Dialect().Name())
}

func TestEngine_Warehouse_UnknownAdapter(t *testing.T) {
	r := newRecorder()
	e, err := New(Config{
		Target: adapter.Config{Type: "nosuchdb"},
		Store:  newTestStore(t),
		Logger: testutil.NewTestLogger(t),
	}, []Stage{r.stage("source")})
	require.NoError(t, err)

	_, err = e.Warehouse(context.Background())
	var unknown *adapter.UnknownAdapterError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "nosuchdb", unknown.Type)
}
