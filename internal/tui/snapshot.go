package tui

import (
	"io"
	"os"
	"strings"
	"time"

	cerror "github.com/kingrea/shellexec/internal/errors"
	"github.com/kingrea/shellexec/internal/job"
	"github.com/kingrea/shellexec/internal/workflow"
)

// logTailBytes bounds how much of a console log the viewer loads.
const logTailBytes = 64 << 10

// Source is the part of the workspace the viewer reads. It never writes.
type Source interface {
	Root() string
	LoadManifest() (workflow.Definitions, error)
	ReadStatus(name string) (job.Status, error)
	LoadRecord(name string) (job.Record, error)
	LogPath(name string) string
}

type jobRow struct {
	Name      string
	Dep       string
	Status    job.Status
	StartTime time.Time
	Duration  time.Duration
	FailedCmd string
}

type statusRefreshMsg struct {
	rows []jobRow
	err  error
	// scheduled snapshots re-arm the refresh timer, manual ones do not
	scheduled bool
}

type logLoadedMsg struct {
	name    string
	content string
	err     error
}

// loadSnapshot reads every job of the manifest. Timing and failure details
// come from the durable record and are only shown for finished jobs, since a
// job waiting to be re-run still has the previous record on disk.
func loadSnapshot(src Source) ([]jobRow, error) {
	defs, err := src.LoadManifest()
	if err != nil {
		return nil, err
	}
	rows := make([]jobRow, 0, len(defs))
	for _, spec := range defs {
		status, err := src.ReadStatus(spec.Name)
		if err != nil {
			return nil, err
		}
		row := jobRow{Name: spec.Name, Dep: spec.Dep, Status: status}
		if status.IsTerminal() {
			rec, err := src.LoadRecord(spec.Name)
			switch {
			case err == nil:
				row.FailedCmd = rec.FailedCmd
				if start, perr := time.Parse(time.RFC3339Nano, rec.StartTime); perr == nil {
					row.StartTime = start
				}
				if d, perr := time.ParseDuration(rec.Duration); perr == nil {
					row.Duration = d
				}
			case cerror.ErrRecordNotFound.Equal(err):
			default:
				return nil, err
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// statusMemory hides a job that briefly reads as NONE after having had a
// status: the marker backend removes the old marker before creating the new
// one, so a poll can land in between. The previous value is held for one
// snapshot only.
type statusMemory struct {
	shown map[string]job.Status
	held  map[string]bool
}

func newStatusMemory() *statusMemory {
	return &statusMemory{shown: map[string]job.Status{}, held: map[string]bool{}}
}

func (m *statusMemory) merge(rows []jobRow) {
	for i := range rows {
		name := rows[i].Name
		last, seen := m.shown[name]
		if rows[i].Status == job.StatusNone && seen && last != job.StatusNone && !m.held[name] {
			rows[i].Status = last
			m.held[name] = true
		} else {
			m.held[name] = false
		}
		m.shown[name] = rows[i].Status
	}
}

func tailFile(path string, limit int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	offset := info.Size() - limit
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	content := string(data)
	if offset > 0 {
		// drop the partial first line
		if idx := strings.IndexByte(content, '\n'); idx >= 0 {
			content = content[idx+1:]
		}
	}
	return content, nil
}
