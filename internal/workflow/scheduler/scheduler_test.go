package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"

	cerror "github.com/kingrea/shellexec/internal/errors"
	"github.com/kingrea/shellexec/internal/executor"
	"github.com/kingrea/shellexec/internal/job"
	"github.com/kingrea/shellexec/internal/workflow"
	"github.com/kingrea/shellexec/internal/workflow/resolver"
	"github.com/kingrea/shellexec/internal/workspace"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeWorkspace struct {
	mu         sync.Mutex
	writes     []string
	prepared   []string
	prepareErr error
}

func (w *fakeWorkspace) Prepare(j *job.Job) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.prepareErr != nil {
		return w.prepareErr
	}
	w.prepared = append(w.prepared, j.Name())
	return nil
}

func (w *fakeWorkspace) WriteStatus(name string, status job.Status) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, name+"="+status.String())
	return nil
}

type fakeActor struct {
	delay   time.Duration
	fail    map[string]bool
	current atomic.Int64
	peak    atomic.Int64
	mu      sync.Mutex
	order   []string
}

func (a *fakeActor) Act(_ context.Context, j *job.Job) error {
	if err := j.Begin(time.Now()); err != nil {
		return err
	}
	now := a.current.Inc()
	for {
		peak := a.peak.Load()
		if now <= peak || a.peak.CAS(peak, now) {
			break
		}
	}
	time.Sleep(a.delay)
	a.current.Dec()
	a.mu.Lock()
	a.order = append(a.order, j.Name())
	a.mu.Unlock()
	if a.fail[j.Name()] {
		return j.Finish(job.StatusError, time.Now())
	}
	return j.Finish(job.StatusDone, time.Now())
}

func newJob(name, dep string, status job.Status) *job.Job {
	return &job.Job{
		Spec:  job.Spec{Name: name, Cmds: []string{"true"}, Dep: dep},
		State: job.State{Status: status},
	}
}

func mustRegistry(t *testing.T, jobs ...*job.Job) *Registry {
	t.Helper()
	registry, err := NewRegistry(jobs...)
	require.NoError(t, err)
	return registry
}

func statusOf(t *testing.T, registry *Registry, name string) job.Status {
	t.Helper()
	j, ok := registry.Get(name)
	require.True(t, ok, name)
	return j.Status()
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	var jobs []*job.Job
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		jobs = append(jobs, newJob(name, "", job.StatusNone))
	}
	registry := mustRegistry(t, jobs...)
	actor := &fakeActor{delay: 30 * time.Millisecond}
	dispatcher := New(&fakeWorkspace{}, actor)

	out, err := dispatcher.Run(context.Background(), registry, 2, nil)
	require.NoError(t, err)
	require.Equal(t, ResultDone, out.Result)
	require.Equal(t, 1, out.Rounds)
	require.Len(t, out.Executed, 6)
	require.Equal(t, int64(2), actor.peak.Load())
	require.Zero(t, dispatcher.Running())
	for _, j := range registry.Jobs() {
		require.Equal(t, job.StatusDone, j.Status())
	}
}

func TestRunOrdersChainAcrossRounds(t *testing.T) {
	registry := mustRegistry(t,
		newJob("deploy", "build", job.StatusNone),
		newJob("build", "fetch", job.StatusNone),
		newJob("fetch", "", job.StatusNone),
	)
	actor := &fakeActor{}
	out, err := New(&fakeWorkspace{}, actor).Run(context.Background(), registry, 4, nil)
	require.NoError(t, err)
	require.Equal(t, ResultDone, out.Result)
	require.Equal(t, 3, out.Rounds)
	require.Equal(t, []string{"fetch", "build", "deploy"}, actor.order)
	require.Equal(t, []string{"fetch", "build", "deploy"}, out.Executed)
}

func TestRunWithoutWorkersStartsNothing(t *testing.T) {
	registry := mustRegistry(t, newJob("b", "", job.StatusNone), newJob("a", "", job.StatusError))
	ws := &fakeWorkspace{}
	for _, limit := range []int{0, -3} {
		out, err := New(ws, &fakeActor{}).Run(context.Background(), registry, limit, job.NewStatusSet(job.StatusError))
		require.NoError(t, err)
		require.Equal(t, ResultNotStarted, out.Result)
		require.Equal(t, []string{"a", "b"}, out.Pending)
		require.Zero(t, out.Rounds)
	}
	require.Empty(t, ws.writes)
	require.Equal(t, job.StatusError, statusOf(t, registry, "a"))
}

func TestRunReportsDependencyErrors(t *testing.T) {
	registry := mustRegistry(t,
		newJob("ok", "", job.StatusNone),
		newJob("boom", "", job.StatusNone),
		newJob("after-boom", "boom", job.StatusNone),
		newJob("orphan", "ghost", job.StatusNone),
		newJob("after-orphan", "orphan", job.StatusNone),
	)
	actor := &fakeActor{fail: map[string]bool{"boom": true}}
	out, err := New(&fakeWorkspace{}, actor).Run(context.Background(), registry, 2, nil)
	require.NoError(t, err)
	require.Equal(t, ResultDependencyError, out.Result)
	require.Equal(t, map[string]resolver.BlockReason{
		"after-boom":   resolver.BlockReasonDependencyFailed,
		"orphan":       resolver.BlockReasonMissingDependency,
		"after-orphan": resolver.BlockReasonDependencyBlocked,
	}, out.Blocked)
	require.Equal(t, []string{"boom"}, out.Failed)
	require.Equal(t, []string{"after-boom", "after-orphan", "orphan"}, out.Pending)
	require.Equal(t, job.StatusWaiting, statusOf(t, registry, "after-boom"))

	deadlock := out.Err()
	require.True(t, cerror.ErrDependencyDeadlock.Equal(deadlock))
	require.Contains(t, deadlock.Error(), "orphan (missing-dependency)")
	require.NoError(t, Outcome{Result: ResultDone}.Err())
}

func TestRunDetectsCycles(t *testing.T) {
	registry := mustRegistry(t, newJob("a", "b", job.StatusNone), newJob("b", "a", job.StatusNone))
	out, err := New(&fakeWorkspace{}, &fakeActor{}).Run(context.Background(), registry, 1, nil)
	require.NoError(t, err)
	require.Equal(t, ResultDependencyError, out.Result)
	require.Zero(t, out.Rounds)
	require.Len(t, out.Blocked, 2)
}

func TestRunSkipsTerminalJobsOutsideRerunSet(t *testing.T) {
	registry := mustRegistry(t,
		newJob("parent", "", job.StatusDone),
		newJob("child", "parent", job.StatusNone),
		newJob("broken", "", job.StatusError),
	)
	ws := &fakeWorkspace{}
	actor := &fakeActor{}
	out, err := New(ws, actor).Run(context.Background(), registry, 2, job.NewStatusSet())
	require.NoError(t, err)
	require.Equal(t, ResultDone, out.Result)
	require.ElementsMatch(t, []string{"parent", "broken"}, out.Skipped)
	require.Equal(t, []string{"child"}, out.Executed)
	require.Equal(t, job.StatusError, statusOf(t, registry, "broken"))
	require.Equal(t, []string{"child=WAITING"}, ws.writes)
}

func TestRunRerunsRequestedStatusesBeforeDependents(t *testing.T) {
	registry := mustRegistry(t,
		newJob("parent", "", job.StatusError),
		newJob("child", "parent", job.StatusDone),
	)
	ws := &fakeWorkspace{}
	actor := &fakeActor{}
	out, err := New(ws, actor).Run(context.Background(), registry, 2, job.NewStatusSet(job.StatusError, job.StatusDone))
	require.NoError(t, err)
	require.Equal(t, ResultDone, out.Result)
	require.Equal(t, 2, out.Rounds)
	require.Equal(t, []string{"parent", "child"}, actor.order)
	require.ElementsMatch(t, []string{"parent=WAITING", "child=WAITING"}, ws.writes)
}

func TestRunRecoversJobLeftRunning(t *testing.T) {
	registry := mustRegistry(t, newJob("crashed", "", job.StatusRunning))
	out, err := New(&fakeWorkspace{}, &fakeActor{}).Run(context.Background(), registry, 1, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"crashed"}, out.Executed)
	require.Equal(t, job.StatusDone, statusOf(t, registry, "crashed"))
}

func TestRunStopsAtRoundBoundaryWhenCancelled(t *testing.T) {
	registry := mustRegistry(t, newJob("a", "", job.StatusNone), newJob("b", "a", job.StatusNone))
	ctx, cancel := context.WithCancel(context.Background())
	actor := &cancellingActor{cancel: cancel}
	out, err := New(&fakeWorkspace{}, actor).Run(ctx, registry, 1, nil)
	require.Error(t, err)
	require.Equal(t, context.Canceled, errors.Cause(err))
	require.Equal(t, ResultCancelled, out.Result)
	require.Equal(t, []string{"a"}, out.Executed)
	require.Equal(t, []string{"b"}, out.Pending)
	require.Equal(t, job.StatusDone, statusOf(t, registry, "a"))
}

type cancellingActor struct {
	cancel context.CancelFunc
}

func (a *cancellingActor) Act(_ context.Context, j *job.Job) error {
	a.cancel()
	if err := j.Begin(time.Now()); err != nil {
		return err
	}
	return j.Finish(job.StatusDone, time.Now())
}

func TestRunReturnsWorkspaceErrors(t *testing.T) {
	registry := mustRegistry(t, newJob("a", "", job.StatusNone))
	ws := &fakeWorkspace{prepareErr: cerror.ErrWorkspaceIO.GenWithStackByArgs("disk full")}
	out, err := New(ws, &fakeActor{}).Run(context.Background(), registry, 1, nil)
	require.True(t, cerror.ErrWorkspaceIO.Equal(err))
	require.Empty(t, out.Executed)
	require.Equal(t, job.StatusWaiting, statusOf(t, registry, "a"))
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(newJob("a", "", job.StatusNone), newJob("a", "", job.StatusNone))
	require.True(t, cerror.ErrDuplicateJob.Equal(err))
}

func buildShellRegistry(t *testing.T, store *workspace.Store, invocationDir string, defs workflow.Definitions) *Registry {
	t.Helper()
	jobs := make([]*job.Job, 0, len(defs))
	for _, spec := range defs {
		j, err := store.NewJob(spec, invocationDir)
		require.NoError(t, err)
		jobs = append(jobs, j)
	}
	return mustRegistry(t, jobs...)
}

func TestRunShellJobsAndResume(t *testing.T) {
	root := filepath.Join(t.TempDir(), "ws")
	invocationDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(invocationDir, "input.txt"), []byte("seed\n"), 0o644))
	defs := workflow.Definitions{
		{Name: "parent", Cmds: []string{"cat @WD/input.txt > out.txt", "echo $GREETING >> out.txt", "echo 'lines: 2' > se_user_result.yaml"}, Envs: map[string]string{"GREETING": "hi"}},
		{Name: "child", Cmds: []string{"cp @DEP/out.txt copied.txt"}, Dep: "parent"},
	}

	store, err := workspace.Open(root, workspace.BackendMarker)
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()
	dispatcher := New(store, executor.New(store))

	registry := buildShellRegistry(t, store, invocationDir, defs)
	out, err := dispatcher.Run(context.Background(), registry, 2, job.NewStatusSet(job.StatusError))
	require.NoError(t, err)
	require.Equal(t, ResultDone, out.Result)
	require.Equal(t, []string{"parent", "child"}, out.Executed)

	parent, _ := registry.Get("parent")
	require.Equal(t, map[string]any{"lines": 2}, parent.State.UserResults)
	firstStart, firstDuration := parent.State.StartTime, parent.State.Duration

	copied, err := os.ReadFile(filepath.Join(root, "child", "copied.txt"))
	require.NoError(t, err)
	require.Equal(t, "seed\nhi\n", string(copied))

	// a second invocation finds everything DONE and executes nothing
	again := buildShellRegistry(t, store, invocationDir, defs)
	out, err = dispatcher.Run(context.Background(), again, 2, job.NewStatusSet(job.StatusError))
	require.NoError(t, err)
	require.Equal(t, ResultDone, out.Result)
	require.Empty(t, out.Executed)
	require.ElementsMatch(t, []string{"parent", "child"}, out.Skipped)
	child, _ := again.Get("child")
	require.Equal(t, job.StatusDone, child.Status())
	require.Equal(t, []string{child.Spec.Cmds[0]}, child.State.DoneCmds)
	resumed, _ := again.Get("parent")
	require.True(t, resumed.State.StartTime.Equal(firstStart))
	require.Equal(t, firstDuration, resumed.State.Duration)
	require.Equal(t, map[string]any{"lines": 2}, resumed.State.UserResults)
	require.Equal(t, parent.State.DoneCmds, resumed.State.DoneCmds)
}

func TestRunShellJobsInParallelUpToLimit(t *testing.T) {
	store, err := workspace.Open(filepath.Join(t.TempDir(), "ws"), workspace.BackendMarker)
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	var defs workflow.Definitions
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		defs = append(defs, workflow.JobSpec{Name: name, Cmds: []string{"sleep 0.1"}})
	}
	registry := buildShellRegistry(t, store, t.TempDir(), defs)

	start := time.Now()
	out, err := New(store, executor.New(store)).Run(context.Background(), registry, 2, nil)
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.Equal(t, ResultDone, out.Result)
	require.Len(t, out.Executed, 5)
	// three waves of two, two and one job
	require.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	require.Less(t, elapsed, 500*time.Millisecond)
}
