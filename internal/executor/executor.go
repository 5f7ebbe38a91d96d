package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	cerror "github.com/kingrea/shellexec/internal/errors"
	"github.com/kingrea/shellexec/internal/job"
	"github.com/kingrea/shellexec/internal/logging"
	"github.com/kingrea/shellexec/internal/metrics"
	"github.com/kingrea/shellexec/internal/workspace"
)

// Actor runs one checked-out job to completion.
type Actor interface {
	Act(ctx context.Context, j *job.Job) error
}

// Executor runs the commands of a job through a POSIX shell, one after the
// other, inside the job's working directory.
type Executor struct {
	store   *workspace.Store
	clock   clock.Clock
	shell   string
	environ func() []string
}

// Option customizes the executor.
type Option func(*Executor)

// WithClock injects the clock used for start time and duration.
func WithClock(c clock.Clock) Option {
	return func(e *Executor) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithShell overrides the shell binary, "sh" by default.
func WithShell(shell string) Option {
	return func(e *Executor) {
		if shell != "" {
			e.shell = shell
		}
	}
}

// WithEnviron overrides the inherited process environment.
func WithEnviron(environ func() []string) Option {
	return func(e *Executor) {
		if environ != nil {
			e.environ = environ
		}
	}
}

// New returns an executor persisting through store.
func New(store *workspace.Store, opts ...Option) *Executor {
	e := &Executor{
		store:   store,
		clock:   clock.New(),
		shell:   "sh",
		environ: os.Environ,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Act executes j, which must be WAITING (or NONE when used standalone). The
// job ends DONE when every command exits 0 and ERROR at the first failure.
// A command failure is recorded on the job; the returned error reports
// workspace I/O problems only. Running commands are not interrupted when ctx
// is cancelled.
func (e *Executor) Act(ctx context.Context, j *job.Job) error {
	logger := logging.ForJob(j.Name())
	if err := j.Begin(e.clock.Now()); err != nil {
		return err
	}
	if err := e.store.WriteStatus(j.Name(), job.StatusRunning); err != nil {
		return err
	}
	metrics.JobsRunningGauge.Inc()
	defer metrics.JobsRunningGauge.Dec()
	logger.Info("job started", zap.Int("commands", len(j.Spec.Cmds)), zap.String("cwd", j.Spec.WorkDir))

	if err := os.MkdirAll(j.Spec.WorkDir, 0o755); err != nil {
		return cerror.ErrWorkspaceIO.Wrap(err).GenWithStackByArgs(j.Spec.WorkDir)
	}
	console, err := os.OpenFile(j.Spec.ConsoleLog, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return cerror.ErrWorkspaceIO.Wrap(err).GenWithStackByArgs(j.Spec.ConsoleLog)
	}

	final := job.StatusDone
	env := e.env(j)
	for _, cmd := range j.Spec.Cmds {
		if _, err := fmt.Fprintf(console, "++ %s\n", cmd); err != nil {
			return multierr.Append(
				cerror.ErrWorkspaceIO.Wrap(err).GenWithStackByArgs(j.Spec.ConsoleLog),
				console.Close())
		}
		if runErr := e.run(ctx, j, cmd, env, console); runErr != nil {
			if exitErr, ok := runErr.(*exec.ExitError); ok {
				logger.Warn("command failed", zap.String("cmd", cmd), zap.Int("exit_code", exitErr.ExitCode()))
			} else {
				// the shell never started, leave a trace next to the command
				fmt.Fprintf(console, "shellexec: %v\n", runErr)
				logger.Warn("command could not start", zap.String("cmd", cmd), zap.Error(runErr))
			}
			j.State.FailedCmd = cmd
			final = job.StatusError
			break
		}
		j.State.DoneCmds = append(j.State.DoneCmds, cmd)
	}
	if closeErr := console.Close(); closeErr != nil {
		return cerror.ErrWorkspaceIO.Wrap(closeErr).GenWithStackByArgs(j.Spec.ConsoleLog)
	}

	if final == job.StatusDone {
		j.State.UserResults = e.store.LoadUserResults(j.Name())
	}
	if err := j.Finish(final, e.clock.Now()); err != nil {
		return err
	}
	// the record goes first so a reader that sees the terminal status finds it
	if err := e.store.PersistRecord(j); err != nil {
		return err
	}
	if err := e.store.WriteStatus(j.Name(), final); err != nil {
		return err
	}
	metrics.JobRunsCounter.WithLabelValues(final.String()).Inc()
	metrics.JobDurationHistogram.Observe(j.State.Duration.Seconds())
	logger.Info("job finished",
		zap.Stringer("status", final),
		zap.Duration("duration", j.State.Duration),
		zap.String("failed_cmd", j.State.FailedCmd))
	return nil
}

func (e *Executor) run(_ context.Context, j *job.Job, cmd string, env []string, console *os.File) error {
	c := exec.Command(e.shell, "-c", cmd)
	c.Dir = j.Spec.WorkDir
	c.Env = env
	c.Stdout = console
	c.Stderr = console
	return c.Run()
}

// env overlays the job variables on the inherited environment. exec keeps the
// last value of a duplicated key.
func (e *Executor) env(j *job.Job) []string {
	base := e.environ()
	keys := make([]string, 0, len(j.Spec.Envs))
	for key := range j.Spec.Envs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(base)+len(keys))
	env = append(env, base...)
	for _, key := range keys {
		env = append(env, key+"="+j.Spec.Envs[key])
	}
	return env
}
