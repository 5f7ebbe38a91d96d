package resolver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kingrea/shellexec/internal/job"
)

func makeJobs(deps map[string]string, order ...string) []*job.Job {
	jobs := make([]*job.Job, 0, len(order))
	for _, name := range order {
		jobs = append(jobs, &job.Job{Spec: job.Spec{Name: name, Cmds: []string{"true"}, Dep: deps[name]}})
	}
	return jobs
}

func pendingSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

func TestDependencyIndex(t *testing.T) {
	idx := NewDependencyIndex(makeJobs(map[string]string{"b": "a", "c": "a", "d": "ghost"}, "a", "c", "b", "d"))
	require.Equal(t, []string{"a", "c", "b", "d"}, idx.Names())
	require.Equal(t, []string{"b", "c"}, idx.Children("a"))
	require.Equal(t, []string{"a"}, idx.Parents("b"))
	require.Empty(t, idx.Parents("a"))
	require.True(t, idx.Has("d"))
	require.False(t, idx.Has("ghost"))
	require.Equal(t, []string{"d"}, idx.Children("ghost"))
}

func TestResolverRefreshSetsStates(t *testing.T) {
	res := New(NewDependencyIndex(makeJobs(map[string]string{"build": "plan", "deploy": "build"}, "plan", "build", "deploy")))
	statuses := map[string]job.Status{"plan": job.StatusDone, "build": job.StatusWaiting, "deploy": job.StatusWaiting}

	res.Refresh(statuses, pendingSet("build", "deploy"))

	plan, _ := res.Node("plan")
	build, _ := res.Node("build")
	deploy, _ := res.Node("deploy")
	require.Equal(t, NodeStateComplete, plan.State)
	require.Equal(t, NodeStateReady, build.State)
	require.Equal(t, NodeStateBlocked, deploy.State)
	require.Equal(t, []string{"build"}, deploy.BlockedBy)

	ready := res.Ready()
	require.Len(t, ready, 1)
	require.Equal(t, "build", ready[0].Name)
}

func TestResolverReadyKeepsDeclarationOrder(t *testing.T) {
	res := New(NewDependencyIndex(makeJobs(nil, "z", "a", "m")))
	res.Refresh(map[string]job.Status{}, pendingSet("z", "a", "m"))
	var names []string
	for _, node := range res.Ready() {
		names = append(names, node.Name)
	}
	require.Equal(t, []string{"z", "a", "m"}, names)
}

func TestResolverBlockReasons(t *testing.T) {
	deps := map[string]string{
		"orphan":     "ghost",
		"after-bad":  "bad",
		"chained":    "orphan",
		"cycle-a":    "cycle-b",
		"cycle-b":    "cycle-a",
		"waits-good": "good",
	}
	res := New(NewDependencyIndex(makeJobs(deps, "good", "bad", "orphan", "after-bad", "chained", "cycle-a", "cycle-b", "waits-good")))
	statuses := map[string]job.Status{
		"good":       job.StatusDone,
		"bad":        job.StatusError,
		"orphan":     job.StatusWaiting,
		"after-bad":  job.StatusWaiting,
		"chained":    job.StatusDone,
		"cycle-a":    job.StatusWaiting,
		"cycle-b":    job.StatusWaiting,
		"waits-good": job.StatusDone,
	}
	res.Refresh(statuses, pendingSet("orphan", "after-bad", "chained", "cycle-a", "cycle-b"))
	require.Empty(t, res.Ready())
	require.Equal(t, map[string]BlockReason{
		"orphan":    BlockReasonMissingDependency,
		"after-bad": BlockReasonDependencyFailed,
		"chained":   BlockReasonDependencyBlocked,
		"cycle-a":   BlockReasonDependencyBlocked,
		"cycle-b":   BlockReasonDependencyBlocked,
	}, res.Blocked())
}
