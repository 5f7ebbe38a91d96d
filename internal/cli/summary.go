package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"go.uber.org/multierr"

	cerror "github.com/kingrea/shellexec/internal/errors"
	"github.com/kingrea/shellexec/internal/job"
	"github.com/kingrea/shellexec/internal/report"
	"github.com/kingrea/shellexec/internal/workflow/engine"
)

var statusColors = map[job.Status]*color.Color{
	job.StatusNone:    color.New(color.FgHiBlack),
	job.StatusWaiting: color.New(color.FgYellow),
	job.StatusRunning: color.New(color.FgBlue),
	job.StatusDone:    color.New(color.FgGreen),
	job.StatusError:   color.New(color.FgRed, color.Bold),
}

func colorStatus(status job.Status) string {
	if c, ok := statusColors[status]; ok {
		return c.Sprint(status.String())
	}
	return status.String()
}

func writeCSVFile(path string, rows []report.Row) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return cerror.ErrWorkspaceIO.Wrap(err).GenWithStackByArgs(path)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	return report.WriteCSV(f, rows)
}

// printSummary lists every job with its status and ends with the run line.
func printSummary(w io.Writer, state engine.State, csvPath string) {
	width := 0
	for _, row := range state.Rows {
		width = max(width, len(row.JobName))
	}
	for _, row := range state.Rows {
		line := fmt.Sprintf("  %-*s  %s", width, row.JobName, colorStatus(row.Status))
		if !row.StartTime.IsZero() {
			line += fmt.Sprintf("  %s", row.Duration.Round(time.Millisecond))
		}
		if row.FailedCmd != "" {
			line += color.RedString("  failed: %s", row.FailedCmd)
		}
		if reason, ok := state.Outcome.Blocked[row.JobName]; ok {
			line += color.YellowString("  blocked: %s", reason)
		}
		fmt.Fprintln(w, line)
	}
	printRunLine(w, state)
	if csvPath != "" {
		fmt.Fprintf(w, "report: %s\n", csvPath)
	}
}

func printRunLine(w io.Writer, state engine.State) {
	var paint func(format string, a ...interface{}) string
	switch state.Status {
	case engine.EngineStatusComplete, engine.EngineStatusListed:
		paint = color.GreenString
	case engine.EngineStatusFailed, engine.EngineStatusBlocked, engine.EngineStatusError:
		paint = color.RedString
	default:
		paint = color.YellowString
	}
	line := paint("run %s %s", state.RunID, state.Status)
	line += fmt.Sprintf(" · %d executed, %d skipped, %d failed · started %s, took %s",
		len(state.Outcome.Executed), len(state.Outcome.Skipped), len(state.Outcome.Failed),
		humanize.Time(state.StartedAt), state.UpdatedAt.Sub(state.StartedAt).Round(time.Millisecond))
	if state.StatusReason != "" {
		line += " · " + state.StatusReason
	}
	fmt.Fprintln(w, line)
}
