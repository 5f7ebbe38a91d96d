package job

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cerror "github.com/kingrea/shellexec/internal/errors"
	"github.com/kingrea/shellexec/internal/workflow"
)

func TestNewSubstitutesPlaceholders(t *testing.T) {
	root := t.TempDir()
	wd := t.TempDir()
	j, err := New(workflow.JobSpec{
		Name: "child",
		Cmds: []string{"cp @DEP/out.txt .", "ls @WD", "echo @DEP@WD"},
		Dep:  "parent",
	}, root, wd)
	require.NoError(t, err)

	parentDir := filepath.Join(root, "parent")
	require.Equal(t, []string{
		"cp " + parentDir + "/out.txt .",
		"ls " + wd,
		"echo " + parentDir + wd,
	}, j.Spec.Cmds)
	require.Equal(t, filepath.Join(root, "child"), j.Spec.WorkDir)
	require.Equal(t, filepath.Join(root, "child", ConsoleLogFile), j.Spec.ConsoleLog)
	require.Equal(t, StatusNone, j.Status())
}

func TestNewKeepsDepPlaceholderWithoutDependency(t *testing.T) {
	j, err := New(workflow.JobSpec{Name: "solo", Cmds: []string{"echo @DEP"}}, t.TempDir(), t.TempDir())
	require.NoError(t, err)
	require.Equal(t, []string{"echo @DEP"}, j.Spec.Cmds)
	require.False(t, j.HasDependency())
}

func TestNewRejectsInvalidSpec(t *testing.T) {
	_, err := New(workflow.JobSpec{Name: "empty"}, t.TempDir(), t.TempDir())
	require.True(t, cerror.ErrEmptyCommands.Equal(err))
}

func TestStatusTransitions(t *testing.T) {
	allowed := map[Status][]Status{
		StatusNone:    {StatusWaiting, StatusRunning},
		StatusWaiting: {StatusWaiting, StatusRunning},
		StatusRunning: {StatusDone, StatusError, StatusWaiting},
		StatusDone:    {StatusWaiting},
		StatusError:   {StatusWaiting},
	}
	for _, from := range Statuses() {
		for _, to := range Statuses() {
			expected := false
			for _, candidate := range allowed[from] {
				if candidate == to {
					expected = true
				}
			}
			require.Equal(t, expected, from.CanTransition(to), "%s -> %s", from, to)
		}
	}
	require.True(t, StatusDone.IsTerminal())
	require.True(t, StatusError.IsTerminal())
	require.False(t, StatusRunning.IsTerminal())
}

func TestTransitionRejectsIllegalMove(t *testing.T) {
	j, err := New(workflow.JobSpec{Name: "a", Cmds: []string{"true"}}, t.TempDir(), t.TempDir())
	require.NoError(t, err)
	err = j.Transition(StatusDone)
	require.True(t, cerror.ErrIllegalTransition.Equal(err))
	require.Equal(t, StatusNone, j.Status())
}

func TestParseStatus(t *testing.T) {
	status, err := ParseStatus(" error ")
	require.NoError(t, err)
	require.Equal(t, StatusError, status)

	_, err = ParseStatus("FINISHED")
	require.True(t, cerror.ErrInvalidStatus.Equal(err))

	set, err := ParseStatusSet([]string{"done", "", "ERROR"})
	require.NoError(t, err)
	require.Equal(t, []Status{StatusError, StatusDone}, set.Slice())
	require.False(t, StatusSet(nil).Has(StatusDone))
}

func TestBeginFinishAndRecordRestore(t *testing.T) {
	j, err := New(workflow.JobSpec{Name: "a", Cmds: []string{"true"}, Envs: map[string]string{"K": "v"}}, t.TempDir(), t.TempDir())
	require.NoError(t, err)
	j.State.FailedCmd = "stale"
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, j.Transition(StatusWaiting))
	require.NoError(t, j.Begin(start))
	require.Empty(t, j.State.FailedCmd)
	j.State.DoneCmds = []string{"true"}
	j.State.UserResults = map[string]any{"score": 3}
	require.NoError(t, j.Finish(StatusDone, start.Add(1500*time.Millisecond)))
	require.Equal(t, 1500*time.Millisecond, j.State.Duration)

	rec := j.Record()
	require.Equal(t, "a", rec.JobName)
	require.Equal(t, StatusDone, rec.Status)
	require.Equal(t, "1.5s", rec.Duration)

	restored, err := New(workflow.JobSpec{Name: "a", Cmds: []string{"true"}}, t.TempDir(), t.TempDir())
	require.NoError(t, err)
	require.NoError(t, restored.Restore(rec))
	require.True(t, start.Equal(restored.State.StartTime))
	require.Equal(t, 1500*time.Millisecond, restored.State.Duration)
	require.Equal(t, []string{"true"}, restored.State.DoneCmds)
	require.Equal(t, 3, restored.State.UserResults["score"])
	require.Equal(t, StatusNone, restored.Status())
}

func TestCloneIsDeep(t *testing.T) {
	j, err := New(workflow.JobSpec{Name: "a", Cmds: []string{"true"}, Envs: map[string]string{"K": "v"}}, t.TempDir(), t.TempDir())
	require.NoError(t, err)
	j.State.DoneCmds = []string{"true"}
	clone := j.Clone()
	clone.Spec.Envs["K"] = "changed"
	clone.State.DoneCmds[0] = "changed"
	clone.State.Status = StatusRunning
	require.Equal(t, "v", j.Spec.Envs["K"])
	require.Equal(t, "true", j.State.DoneCmds[0])
	require.Equal(t, StatusNone, j.Status())
}
