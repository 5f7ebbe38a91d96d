package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/kingrea/shellexec/internal/job"
	"github.com/kingrea/shellexec/internal/report"
	"github.com/kingrea/shellexec/internal/workflow/scheduler"
)

// EngineStatus enumerates coarse phases of a run.
type EngineStatus string

const (
	EngineStatusUnknown    EngineStatus = "unknown"
	EngineStatusRunning    EngineStatus = "running"
	EngineStatusListed     EngineStatus = "listed"
	EngineStatusNotStarted EngineStatus = "not-started"
	EngineStatusComplete   EngineStatus = "complete"
	EngineStatusFailed     EngineStatus = "failed"
	EngineStatusBlocked    EngineStatus = "blocked"
	EngineStatusCancelled  EngineStatus = "cancelled"
	EngineStatusError      EngineStatus = "error"
)

// State captures the snapshot of one invocation. Jobs and Rows are only
// filled by Start; the persisted summary carries the rest.
type State struct {
	RunID  string       `yaml:"run_id"`
	Status EngineStatus `yaml:"status"`
	// StatusReason provides human readable explanation for non-complete states.
	StatusReason string            `yaml:"status_reason,omitempty"`
	Jobs         []string          `yaml:"jobs"`
	Outcome      scheduler.Outcome `yaml:"outcome"`
	StartedAt    time.Time         `yaml:"started_at"`
	UpdatedAt    time.Time         `yaml:"updated_at"`

	Records []*job.Job   `yaml:"-"`
	Rows    []report.Row `yaml:"-"`
}

func deriveEngineStatus(out scheduler.Outcome, runErr error) (EngineStatus, string) {
	switch out.Result {
	case scheduler.ResultNotStarted:
		return EngineStatusNotStarted, "max concurrency is not positive"
	case scheduler.ResultCancelled:
		return EngineStatusCancelled, "run was cancelled"
	case scheduler.ResultDependencyError:
		return EngineStatusBlocked, errorString(out.Err())
	}
	if runErr != nil {
		return EngineStatusError, runErr.Error()
	}
	if out.Result != scheduler.ResultDone {
		return EngineStatusUnknown, ""
	}
	if len(out.Failed) > 0 {
		return EngineStatusFailed, fmt.Sprintf("%d job(s) failed: %s", len(out.Failed), strings.Join(out.Failed, ", "))
	}
	return EngineStatusComplete, ""
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
