package engine

import (
	"context"
	"sort"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	cerror "github.com/kingrea/shellexec/internal/errors"
	"github.com/kingrea/shellexec/internal/executor"
	"github.com/kingrea/shellexec/internal/job"
	"github.com/kingrea/shellexec/internal/metrics"
	"github.com/kingrea/shellexec/internal/report"
	"github.com/kingrea/shellexec/internal/workflow"
	"github.com/kingrea/shellexec/internal/workflow/scheduler"
	"github.com/kingrea/shellexec/internal/workspace"
)

// Engine coordinates the workspace, the executor and the scheduler while
// persisting a summary of each run.
type Engine struct {
	store       *workspace.Store
	repo        StateStore
	clock       clock.Clock
	logger      *zap.Logger
	shell       string
	registry    *prometheus.Registry
	metricsFile string
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLogger overrides the global logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithShell overrides the shell commands run through.
func WithShell(shell string) Option {
	return func(e *Engine) {
		e.shell = shell
	}
}

// WithStateStore overrides where run summaries are kept.
func WithStateStore(repo StateStore) Option {
	return func(e *Engine) {
		if repo != nil {
			e.repo = repo
		}
	}
}

// WithMetrics makes the engine dump registry to textfile after every run.
// The caller registers the collectors with metrics.InitMetrics.
func WithMetrics(registry *prometheus.Registry, textfile string) Option {
	return func(e *Engine) {
		e.registry = registry
		e.metricsFile = textfile
	}
}

// New wires an engine to an open workspace.
func New(store *workspace.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("engine: workspace store is required")
	}
	e := &Engine{
		store:  store,
		repo:   NewRepository(store),
		clock:  clock.New(),
		logger: log.L(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// StartRequest describes one invocation.
type StartRequest struct {
	Definitions workflow.Definitions
	// InvocationDir is what @WD expands to.
	InvocationDir string
	MaxConcurrent int
	Rerun         job.StatusSet
	// ListOnly builds the records and the report without executing anything.
	ListOnly bool
}

// Start runs the definitions to completion and returns the final snapshot.
// A failed job or a dependency error is part of the returned state; the error
// covers invalid definitions, workspace failures and cancellation.
func (e *Engine) Start(ctx context.Context, req StartRequest) (State, error) {
	if err := req.Definitions.Validate(); err != nil {
		return State{}, err
	}
	runID := uuid.NewString()
	logger := e.logger.With(zap.String("run_id", runID))
	if err := e.store.WriteManifest(req.Definitions, runID); err != nil {
		return State{}, err
	}

	jobs := make([]*job.Job, 0, len(req.Definitions))
	for _, spec := range req.Definitions {
		j, err := e.store.NewJob(spec, req.InvocationDir)
		if err != nil {
			return State{}, errors.Annotatef(err, "build job %s", spec.Name)
		}
		jobs = append(jobs, j)
	}
	registry, err := scheduler.NewRegistry(jobs...)
	if err != nil {
		return State{}, err
	}

	state := State{
		RunID:     runID,
		Status:    EngineStatusRunning,
		Jobs:      registry.Names(),
		StartedAt: e.clock.Now(),
	}
	state.UpdatedAt = state.StartedAt
	if err := e.repo.Save(state); err != nil {
		return State{}, err
	}

	var runErr error
	if req.ListOnly {
		names := registry.Names()
		sort.Strings(names)
		state.Status = EngineStatusListed
		state.Outcome = scheduler.Outcome{Result: scheduler.ResultNotStarted, Pending: names}
		logger.Info("jobs listed", zap.Int("jobs", registry.Len()))
	} else {
		exec := executor.New(e.store, executor.WithClock(e.clock), executor.WithShell(e.shell))
		logger.Info("run started",
			zap.Int("jobs", registry.Len()),
			zap.Int("max_concurrent", req.MaxConcurrent),
			zap.Stringers("rerun", req.Rerun.Slice()))
		state.Outcome, runErr = scheduler.New(e.store, exec).Run(ctx, registry, req.MaxConcurrent, req.Rerun)
		state.Status, state.StatusReason = deriveEngineStatus(state.Outcome, runErr)
		logger.Info("run finished",
			zap.String("status", string(state.Status)),
			zap.Int("rounds", state.Outcome.Rounds),
			zap.Int("executed", len(state.Outcome.Executed)),
			zap.Int("skipped", len(state.Outcome.Skipped)),
			zap.Int("failed", len(state.Outcome.Failed)))
	}
	state.UpdatedAt = e.clock.Now()
	state.Records = registry.Jobs()
	state.Rows = report.Build(state.Records)

	err = multierr.Append(runErr, e.repo.Save(state))
	err = multierr.Append(err, e.writeMetrics())
	return state, err
}

// View returns the summary of the latest run without touching the jobs.
func (e *Engine) View() (State, error) {
	return e.repo.Load()
}

// Report rebuilds report rows from the workspace alone.
func (e *Engine) Report() ([]report.Row, error) {
	return report.FromWorkspace(e.store)
}

func (e *Engine) writeMetrics() error {
	if e.registry == nil || e.metricsFile == "" {
		return nil
	}
	if err := metrics.WriteTextfile(e.registry, e.metricsFile); err != nil {
		return cerror.ErrWorkspaceIO.Wrap(err).GenWithStackByArgs(e.metricsFile)
	}
	return nil
}
