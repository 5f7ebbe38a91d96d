package scheduler

import (
	"context"
	"sort"
	"strings"

	"github.com/pingcap/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	cerror "github.com/kingrea/shellexec/internal/errors"
	"github.com/kingrea/shellexec/internal/executor"
	"github.com/kingrea/shellexec/internal/job"
	"github.com/kingrea/shellexec/internal/logging"
	"github.com/kingrea/shellexec/internal/metrics"
	"github.com/kingrea/shellexec/internal/workflow/resolver"
)

// Workspace is the part of the workspace store the dispatcher needs.
type Workspace interface {
	Prepare(j *job.Job) error
	WriteStatus(name string, status job.Status) error
}

// Result is the overall verdict of a Run.
type Result string

const (
	// ResultNotStarted means no job was allowed to run.
	ResultNotStarted Result = "not-started"
	// ResultDone means every job was executed or skipped.
	ResultDone Result = "done"
	// ResultDependencyError means some jobs can never become ready.
	ResultDependencyError Result = "dependency-error"
	// ResultCancelled means the context ended before all jobs were handled.
	ResultCancelled Result = "cancelled"
)

// Outcome summarizes a Run. Executed, Skipped and Failed list job names in the
// order they were handled.
type Outcome struct {
	Result   Result   `yaml:"result"`
	Rounds   int      `yaml:"rounds"`
	Executed []string `yaml:"executed,omitempty"`
	Skipped  []string `yaml:"skipped,omitempty"`
	Failed   []string `yaml:"failed,omitempty"`
	// Pending lists jobs that were never handled, sorted.
	Pending []string `yaml:"pending,omitempty"`
	// Blocked is set for ResultDependencyError.
	Blocked map[string]resolver.BlockReason `yaml:"blocked,omitempty"`
}

// Err converts a dependency error outcome into ErrDependencyDeadlock.
func (o Outcome) Err() error {
	if o.Result != ResultDependencyError {
		return nil
	}
	names := make([]string, 0, len(o.Blocked))
	for name := range o.Blocked {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" ("+string(o.Blocked[name])+")")
	}
	return cerror.ErrDependencyDeadlock.GenWithStackByArgs(len(names), strings.Join(parts, ", "))
}

// Dispatcher runs a registry of jobs round by round on a bounded worker pool.
type Dispatcher struct {
	ws       Workspace
	actor    executor.Actor
	logger   *zap.Logger
	inflight atomic.Int64
}

// New wires a dispatcher to the workspace and the executor.
func New(ws Workspace, actor executor.Actor) *Dispatcher {
	return &Dispatcher{
		ws:     ws,
		actor:  actor,
		logger: logging.ForComponent("scheduler"),
	}
}

// Running returns the number of jobs executing right now.
func (d *Dispatcher) Running() int64 {
	return d.inflight.Load()
}

// Run executes every job of the registry that is not finished yet (or whose
// terminal status is in rerun), starting a job only once its dependency is
// DONE and never running more than maxConcurrency jobs at once. Job failures
// are part of the outcome; the error reports workspace failures and
// cancellation.
func (d *Dispatcher) Run(ctx context.Context, registry *Registry, maxConcurrency int, rerun job.StatusSet) (Outcome, error) {
	out := Outcome{}
	if maxConcurrency <= 0 {
		out.Result = ResultNotStarted
		out.Pending = sortedNames(registry.Names())
		d.logger.Warn("max concurrency is not positive, nothing runs", zap.Int("max_concurrency", maxConcurrency))
		return out, nil
	}
	if err := d.register(registry, rerun); err != nil {
		return out, err
	}

	todo := make(map[string]struct{}, registry.Len())
	for _, name := range registry.Names() {
		todo[name] = struct{}{}
	}
	res := resolver.New(resolver.NewDependencyIndex(registry.Jobs()))
	for len(todo) > 0 {
		if err := ctx.Err(); err != nil {
			out.Result = ResultCancelled
			out.Pending = pendingNames(todo)
			return out, errors.Trace(err)
		}
		res.Refresh(registry.Statuses(), todo)
		ready := res.Ready()
		if len(ready) == 0 {
			out.Result = ResultDependencyError
			out.Blocked = res.Blocked()
			out.Pending = pendingNames(todo)
			d.logger.Warn("jobs can never become ready", zap.Any("blocked", out.Blocked))
			return out, nil
		}
		out.Rounds++
		metrics.SchedulerRoundsCounter.Inc()

		var dispatch []*job.Job
		for _, node := range ready {
			delete(todo, node.Name)
			j, _ := registry.Get(node.Name)
			if j.Status().IsTerminal() {
				out.Skipped = append(out.Skipped, node.Name)
				metrics.JobsSkippedCounter.Inc()
				continue
			}
			dispatch = append(dispatch, j)
		}
		d.logger.Info("scheduling round",
			zap.Int("round", out.Rounds),
			zap.Int("dispatched", len(dispatch)),
			zap.Int("skipped", len(ready)-len(dispatch)),
			zap.Int("remaining", len(todo)))

		finished, err := d.runRound(ctx, dispatch, maxConcurrency)
		for _, j := range finished {
			registry.put(j)
			out.Executed = append(out.Executed, j.Name())
			if j.Status() == job.StatusError {
				out.Failed = append(out.Failed, j.Name())
			}
		}
		if err != nil {
			out.Pending = pendingNames(todo)
			return out, err
		}
	}
	out.Result = ResultDone
	return out, nil
}

// register moves every job that will execute to WAITING, so dependents of a
// re-run job wait for the fresh result instead of the stale one.
func (d *Dispatcher) register(registry *Registry, rerun job.StatusSet) error {
	for _, j := range registry.Jobs() {
		status := j.Status()
		if status.IsTerminal() && !rerun.Has(status) {
			continue
		}
		if status == job.StatusRunning {
			d.logger.Warn("job was left running by a previous invocation, running it again", zap.String("job", j.Name()))
		}
		if err := j.Transition(job.StatusWaiting); err != nil {
			return err
		}
		if err := d.ws.WriteStatus(j.Name(), job.StatusWaiting); err != nil {
			return err
		}
	}
	return nil
}

// runRound executes jobs on at most limit workers. Each worker owns a copy of
// its job and hands it back on the results channel once Act returns.
func (d *Dispatcher) runRound(ctx context.Context, jobs []*job.Job, limit int) ([]*job.Job, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	results := make(chan *job.Job, len(jobs))
	for _, j := range jobs {
		checkedOut := j.Clone()
		g.Go(func() error {
			d.inflight.Inc()
			defer d.inflight.Dec()
			if err := d.ws.Prepare(checkedOut); err != nil {
				return err
			}
			err := d.actor.Act(gctx, checkedOut)
			results <- checkedOut
			return err
		})
	}
	err := g.Wait()
	close(results)
	finished := make([]*job.Job, 0, len(jobs))
	for j := range results {
		finished = append(finished, j)
	}
	return finished, err
}

func pendingNames(todo map[string]struct{}) []string {
	names := make([]string, 0, len(todo))
	for name := range todo {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortedNames(names []string) []string {
	sort.Strings(names)
	return names
}
