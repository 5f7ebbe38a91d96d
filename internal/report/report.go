package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/pingcap/errors"

	cerror "github.com/kingrea/shellexec/internal/errors"
	"github.com/kingrea/shellexec/internal/job"
	"github.com/kingrea/shellexec/internal/workspace"
)

// Fixed report columns, in output order.
var fixedColumns = []string{
	"job_name",
	"status",
	"dep",
	"cmds",
	"done_cmds",
	"failed_cmd",
	"cwd",
	"console_log",
	"job_start_time",
	"job_duration",
}

const (
	envPrefix    = "env/"
	resultPrefix = "result/"
)

// Row is the report view of one job.
type Row struct {
	JobName    string
	Status     job.Status
	Dep        string
	Cmds       []string
	DoneCmds   []string
	FailedCmd  string
	Cwd        string
	ConsoleLog string
	StartTime  time.Time
	Duration   time.Duration
	Envs       map[string]string
	Results    map[string]any
}

// Build turns job records into report rows, keeping their order.
func Build(jobs []*job.Job) []Row {
	rows := make([]Row, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, Row{
			JobName:    j.Spec.Name,
			Status:     j.State.Status,
			Dep:        j.Spec.Dep,
			Cmds:       append([]string(nil), j.Spec.Cmds...),
			DoneCmds:   append([]string(nil), j.State.DoneCmds...),
			FailedCmd:  j.State.FailedCmd,
			Cwd:        j.Spec.WorkDir,
			ConsoleLog: j.Spec.ConsoleLog,
			StartTime:  j.State.StartTime,
			Duration:   j.State.Duration,
			Envs:       j.Spec.Envs,
			Results:    j.State.UserResults,
		})
	}
	return rows
}

// FromWorkspace rebuilds the rows of the latest invocation from the manifest,
// the status store and the persisted records, without running anything.
func FromWorkspace(store *workspace.Store) ([]Row, error) {
	defs, err := store.LoadManifest()
	if err != nil {
		return nil, err
	}
	jobs := make([]*job.Job, 0, len(defs))
	for _, spec := range defs {
		status, err := store.ReadStatus(spec.Name)
		if err != nil {
			return nil, err
		}
		j := &job.Job{
			Spec: job.Spec{
				Name:       spec.Name,
				Cmds:       append([]string(nil), spec.Cmds...),
				Envs:       spec.Envs,
				Dep:        spec.Dep,
				WorkDir:    store.JobDir(spec.Name),
				ConsoleLog: store.LogPath(spec.Name),
			},
			State: job.State{Status: status},
		}
		rec, err := store.LoadRecord(spec.Name)
		switch {
		case err == nil:
			// the record holds the commands as they were actually run
			j.Spec.Cmds = append([]string(nil), rec.Cmds...)
			if err := j.Restore(rec); err != nil {
				return nil, err
			}
		case cerror.ErrRecordNotFound.Equal(err):
		default:
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return Build(jobs), nil
}

// Columns returns the fixed columns followed by the sorted union of env/ and
// result/ columns across rows.
func Columns(rows []Row) []string {
	envs := map[string]struct{}{}
	results := map[string]struct{}{}
	for _, row := range rows {
		for key := range row.Envs {
			envs[envPrefix+key] = struct{}{}
		}
		for key := range row.Results {
			results[resultPrefix+key] = struct{}{}
		}
	}
	columns := append([]string(nil), fixedColumns...)
	columns = append(columns, sortedKeys(envs)...)
	return append(columns, sortedKeys(results)...)
}

// Values renders a row in the order of columns.
func (r Row) Values(columns []string) []string {
	values := make([]string, len(columns))
	for i, column := range columns {
		values[i] = r.value(column)
	}
	return values
}

func (r Row) value(column string) string {
	switch column {
	case "job_name":
		return r.JobName
	case "status":
		return r.Status.String()
	case "dep":
		return r.Dep
	case "cmds":
		return strings.Join(r.Cmds, "\n")
	case "done_cmds":
		return strings.Join(r.DoneCmds, "\n")
	case "failed_cmd":
		return r.FailedCmd
	case "cwd":
		return r.Cwd
	case "console_log":
		return r.ConsoleLog
	case "job_start_time":
		if r.StartTime.IsZero() {
			return ""
		}
		return r.StartTime.Format(time.RFC3339)
	case "job_duration":
		if r.StartTime.IsZero() {
			return ""
		}
		return r.Duration.String()
	}
	if key, ok := strings.CutPrefix(column, envPrefix); ok {
		return r.Envs[key]
	}
	if key, ok := strings.CutPrefix(column, resultPrefix); ok {
		value, present := r.Results[key]
		if !present || value == nil {
			return ""
		}
		return fmt.Sprint(value)
	}
	return ""
}

// WriteCSV writes a header and one line per row.
func WriteCSV(w io.Writer, rows []Row) error {
	columns := Columns(rows)
	writer := csv.NewWriter(w)
	if err := writer.Write(columns); err != nil {
		return errors.Trace(err)
	}
	for _, row := range rows {
		if err := writer.Write(row.Values(columns)); err != nil {
			return errors.Trace(err)
		}
	}
	writer.Flush()
	return errors.Trace(writer.Error())
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
