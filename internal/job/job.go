package job

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/pingcap/errors"

	cerror "github.com/kingrea/shellexec/internal/errors"
	"github.com/kingrea/shellexec/internal/workflow"
)

// Placeholders substituted into commands when a job is constructed.
const (
	PlaceholderDep = "@DEP"
	PlaceholderWD  = "@WD"
)

// ConsoleLogFile is the per-job log that receives every command and its output.
const ConsoleLogFile = "se_console.log"

// Spec is the immutable part of a job: what to run and where.
type Spec struct {
	Name string
	// Cmds holds the commands after placeholder substitution.
	Cmds       []string
	Envs       map[string]string
	Dep        string
	WorkDir    string
	ConsoleLog string
}

// State is the mutable part of a job, owned by whoever has the job checked out.
type State struct {
	Status      Status
	FailedCmd   string
	DoneCmds    []string
	StartTime   time.Time
	Duration    time.Duration
	UserResults map[string]any
}

// Job joins a Spec with its current State.
type Job struct {
	Spec  Spec
	State State
}

// New builds a job record rooted at <workspaceRoot>/<name>. @DEP expands to
// the dependency's working directory and @WD to invocationDir. A job without
// a dependency keeps @DEP literally.
func New(spec workflow.JobSpec, workspaceRoot, invocationDir string) (*Job, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	root, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return nil, errors.Annotatef(err, "resolve workspace %s", workspaceRoot)
	}
	wd, err := filepath.Abs(invocationDir)
	if err != nil {
		return nil, errors.Annotatef(err, "resolve invocation dir %s", invocationDir)
	}
	workDir := filepath.Join(root, spec.Name)
	cmds := make([]string, len(spec.Cmds))
	for i, cmd := range spec.Cmds {
		if spec.Dep != "" {
			cmd = strings.ReplaceAll(cmd, PlaceholderDep, filepath.Join(root, spec.Dep))
		}
		cmds[i] = strings.ReplaceAll(cmd, PlaceholderWD, wd)
	}
	return &Job{
		Spec: Spec{
			Name:       spec.Name,
			Cmds:       cmds,
			Envs:       cloneStrings(spec.Envs),
			Dep:        spec.Dep,
			WorkDir:    workDir,
			ConsoleLog: filepath.Join(workDir, ConsoleLogFile),
		},
		State: State{Status: StatusNone},
	}, nil
}

// Name is shorthand for j.Spec.Name.
func (j *Job) Name() string {
	return j.Spec.Name
}

// Status is shorthand for j.State.Status.
func (j *Job) Status() Status {
	return j.State.Status
}

// HasDependency reports whether the job waits on another job.
func (j *Job) HasDependency() bool {
	return j.Spec.Dep != ""
}

// Transition moves the job to next, rejecting moves the lifecycle forbids.
func (j *Job) Transition(next Status) error {
	if !j.State.Status.CanTransition(next) {
		return cerror.ErrIllegalTransition.GenWithStackByArgs(j.Spec.Name, j.State.Status, next)
	}
	j.State.Status = next
	return nil
}

// Begin marks the job RUNNING at now and clears the previous run's results.
func (j *Job) Begin(now time.Time) error {
	if err := j.Transition(StatusRunning); err != nil {
		return err
	}
	j.State.StartTime = now
	j.State.Duration = 0
	j.State.FailedCmd = ""
	j.State.DoneCmds = nil
	j.State.UserResults = nil
	return nil
}

// Finish moves a running job to its terminal status and records the duration.
func (j *Job) Finish(status Status, now time.Time) error {
	if !status.IsTerminal() {
		return cerror.ErrIllegalTransition.GenWithStackByArgs(j.Spec.Name, j.State.Status, status)
	}
	if err := j.Transition(status); err != nil {
		return err
	}
	if !j.State.StartTime.IsZero() {
		j.State.Duration = now.Sub(j.State.StartTime)
	}
	return nil
}

// Clone returns a deep copy suitable for handing to a worker.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := &Job{Spec: j.Spec, State: j.State}
	clone.Spec.Cmds = append([]string(nil), j.Spec.Cmds...)
	clone.Spec.Envs = cloneStrings(j.Spec.Envs)
	clone.State.DoneCmds = append([]string(nil), j.State.DoneCmds...)
	clone.State.UserResults = cloneResults(j.State.UserResults)
	return clone
}

func cloneStrings(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[key] = value
	}
	return out
}

func cloneResults(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for key, value := range values {
		out[key] = value
	}
	return out
}
