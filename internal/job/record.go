package job

import (
	"time"

	"github.com/pingcap/errors"
)

// Record is the durable form of a job written to se_job.yaml.
type Record struct {
	JobName     string            `yaml:"job_name"`
	Status      Status            `yaml:"status"`
	Dep         string            `yaml:"dep,omitempty"`
	Cmds        []string          `yaml:"cmds"`
	Envs        map[string]string `yaml:"envs,omitempty"`
	Cwd         string            `yaml:"cwd"`
	ConsoleLog  string            `yaml:"console_log"`
	FailedCmd   string            `yaml:"failed_cmd,omitempty"`
	DoneCmds    []string          `yaml:"done_cmds,omitempty"`
	StartTime   string            `yaml:"job_start_time,omitempty"`
	Duration    string            `yaml:"job_duration,omitempty"`
	UserResults map[string]any    `yaml:"user_results,omitempty"`
}

// Record snapshots the job for persistence.
func (j *Job) Record() Record {
	rec := Record{
		JobName:     j.Spec.Name,
		Status:      j.State.Status,
		Dep:         j.Spec.Dep,
		Cmds:        append([]string(nil), j.Spec.Cmds...),
		Envs:        cloneStrings(j.Spec.Envs),
		Cwd:         j.Spec.WorkDir,
		ConsoleLog:  j.Spec.ConsoleLog,
		FailedCmd:   j.State.FailedCmd,
		DoneCmds:    append([]string(nil), j.State.DoneCmds...),
		UserResults: cloneResults(j.State.UserResults),
	}
	if !j.State.StartTime.IsZero() {
		rec.StartTime = j.State.StartTime.Format(time.RFC3339Nano)
		rec.Duration = j.State.Duration.String()
	}
	return rec
}

// Restore copies the run details of a persisted record into the job state.
// The status is left alone because the status store is authoritative.
func (j *Job) Restore(rec Record) error {
	j.State.FailedCmd = rec.FailedCmd
	j.State.DoneCmds = append([]string(nil), rec.DoneCmds...)
	j.State.UserResults = cloneResults(rec.UserResults)
	j.State.StartTime = time.Time{}
	j.State.Duration = 0
	if rec.StartTime != "" {
		start, err := time.Parse(time.RFC3339Nano, rec.StartTime)
		if err != nil {
			return errors.Annotatef(err, "job %s: parse start time", j.Spec.Name)
		}
		j.State.StartTime = start
	}
	if rec.Duration != "" {
		duration, err := time.ParseDuration(rec.Duration)
		if err != nil {
			return errors.Annotatef(err, "job %s: parse duration", j.Spec.Name)
		}
		j.State.Duration = duration
	}
	return nil
}
