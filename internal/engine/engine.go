// Package engine executes the stage graph: it schedules dependency-satisfied
// stages on a bounded worker pool, retries transient failures, blocks the
// downstream closure of failed stages and records every outcome in the
// state store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leapstack-labs/listingwh/internal/dag"
	"github.com/leapstack-labs/listingwh/internal/notify"
	"github.com/leapstack-labs/listingwh/internal/state"
	"github.com/leapstack-labs/listingwh/pkg/adapter"
	"github.com/leapstack-labs/listingwh/pkg/core"
)

// Defaults applied by New when the corresponding Config field is zero.
const (
	DefaultPipeline       = "listingwh"
	DefaultMaxParallelism = 5
	DefaultRetries        = 2
	DefaultRetryDelay     = 5 * time.Minute
)

// Engine orchestrates the execution of stages.
type Engine struct {
	// Warehouse adapter (lazy connected unless injected)
	wh          adapter.Warehouse
	whConfig    adapter.Config
	whConnected bool
	ownsWh      bool
	whMu        sync.Mutex

	store      core.Store
	ownsStore  bool
	graph      *dag.Graph[*Stage]
	pipeline   string
	maxPar     int
	retries    int
	retryDelay time.Duration
	notifier   notify.Notifier
	observer   Observer
	logger     *slog.Logger

	// runMu is held for the duration of a run.
	runMu sync.Mutex
}

// Config holds engine configuration.
type Config struct {
	// Pipeline names the run lock scope in the state store.
	Pipeline string
	// MaxParallelism bounds concurrently executing stages.
	MaxParallelism int
	// Retries is the number of re-attempts after a failed attempt.
	// Zero uses DefaultRetries, negative disables retries.
	Retries int
	// RetryDelay is the constant delay between attempts.
	// Zero uses DefaultRetryDelay, negative retries immediately.
	RetryDelay time.Duration

	// Target is the warehouse adapter configuration, used when Warehouse is nil.
	Target adapter.Config
	// Warehouse is an already connected adapter (optional).
	Warehouse adapter.Warehouse

	// StatePath is the path of the SQLite state database, used when Store is nil.
	StatePath string
	// Store is an already initialized state store (optional).
	Store core.Store

	// Notifier receives terminal stage failures (optional).
	Notifier notify.Notifier
	// Observer receives stage and run outcomes (optional).
	Observer Observer
	// Logger is the structured logger (optional, uses discard if nil).
	Logger *slog.Logger
}

// New validates stages and creates an engine.
//
// Stage names must be unique, every upstream name must refer to a stage and
// the dependency graph must be acyclic.
func New(cfg Config, stages []Stage) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	graph, err := buildGraph(stages)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		wh:         cfg.Warehouse,
		whConfig:   cfg.Target,
		store:      cfg.Store,
		graph:      graph,
		pipeline:   cfg.Pipeline,
		maxPar:     cfg.MaxParallelism,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		notifier:   cfg.Notifier,
		observer:   cfg.Observer,
		logger:     logger,
	}
	e.whConnected = e.wh != nil

	if e.pipeline == "" {
		e.pipeline = DefaultPipeline
	}
	if e.maxPar <= 0 {
		e.maxPar = DefaultMaxParallelism
	}
	switch {
	case e.retries == 0:
		e.retries = DefaultRetries
	case e.retries < 0:
		e.retries = 0
	}
	switch {
	case e.retryDelay == 0:
		e.retryDelay = DefaultRetryDelay
	case e.retryDelay < 0:
		// go-retry rejects a non-positive constant backoff.
		e.retryDelay = time.Millisecond
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}

	if e.store == nil {
		store := state.NewSQLiteStore(logger)
		if err := store.Open(cfg.StatePath); err != nil {
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
		if err := store.InitSchema(); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize state schema: %w", err)
		}
		e.store = store
		e.ownsStore = true
	}

	logger.Debug("initialized engine",
		slog.String("pipeline", e.pipeline),
		slog.Int("stages", graph.Len()),
		slog.Int("max_parallelism", e.maxPar),
		slog.Int("retries", e.retries))

	return e, nil
}

func buildGraph(stages []Stage) (*dag.Graph[*Stage], error) {
	graph := dag.NewGraph[*Stage]()
	for i := range stages {
		st := &stages[i]
		if st.Transform == nil {
			return nil, fmt.Errorf("stage %q has no transformation", st.Name)
		}
		if err := graph.AddNode(st.Name, st); err != nil {
			return nil, fmt.Errorf("invalid stage graph: %w", err)
		}
	}
	for _, st := range stages {
		for _, up := range st.Upstream {
			if _, ok := graph.Node(up); !ok {
				return nil, fmt.Errorf("stage %q depends on %q: %w", st.Name, up, ErrUnknownStage)
			}
			if err := graph.AddEdge(up, st.Name); err != nil {
				return nil, fmt.Errorf("invalid stage graph: %w", err)
			}
		}
	}
	if err := graph.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stage graph: %w", err)
	}
	return graph, nil
}

// ensureConnected lazily connects to the warehouse.
func (e *Engine) ensureConnected(ctx context.Context) error {
	e.whMu.Lock()
	defer e.whMu.Unlock()

	if e.whConnected {
		return nil
	}

	e.logger.Debug("connecting to warehouse", slog.String("adapter_type", e.whConfig.Type))

	wh, err := adapter.NewAdapter(e.whConfig, e.logger)
	if err != nil {
		return fmt.Errorf("failed to create warehouse adapter: %w", err)
	}
	if err := wh.Connect(ctx, e.whConfig); err != nil {
		return fmt.Errorf("failed to connect to warehouse: %w", err)
	}

	e.wh = wh
	e.whConnected = true
	e.ownsWh = true
	e.logger.Debug("warehouse connected", slog.String("dialect", wh.Dialect().Name()))
	return nil
}

// Close releases the warehouse connection and the state store if the
// engine opened them.
func (e *Engine) Close() error {
	e.logger.Debug("closing engine")

	var errs []error
	e.whMu.Lock()
	if e.ownsWh {
		if err := e.wh.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.whMu.Unlock()
	if e.ownsStore {
		if err := e.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Plan returns stage names grouped by execution level.
func (e *Engine) Plan() ([][]string, error) {
	return e.graph.GetExecutionLevels()
}

// Stages returns the stage names in dependency order.
func (e *Engine) Stages() []string {
	order, _ := e.graph.TopologicalSort()
	return order
}

// Upstream returns the direct dependencies of stage.
func (e *Engine) Upstream(stage string) []string {
	return e.graph.Parents(stage)
}

// Store returns the state store.
func (e *Engine) Store() core.Store {
	return e.store
}

// Pipeline returns the pipeline name runs are recorded under.
func (e *Engine) Pipeline() string {
	return e.pipeline
}

// Warehouse returns the connected warehouse adapter, connecting on first use.
func (e *Engine) Warehouse(ctx context.Context) (adapter.Warehouse, error) {
	if err := e.ensureConnected(ctx); err != nil {
		return nil, err
	}
	return e.wh, nil
}
