package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/kingrea/shellexec/internal/job"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA")).MarginTop(1)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	detailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))

	statusStyles = map[job.Status]lipgloss.Style{
		job.StatusNone:    lipgloss.NewStyle().Foreground(lipgloss.Color("#999999")),
		job.StatusWaiting: lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true),
		job.StatusRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true),
		job.StatusDone:    lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true),
		job.StatusError:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
	}
)

func statusLabel(status job.Status) string {
	style, ok := statusStyles[status]
	if !ok {
		return status.String()
	}
	return style.Render(status.String())
}

// View renders the table, or the console log of the selected job.
func (a *App) View() string {
	header := titleStyle.Render("shellexec · " + a.source.Root())
	lines := []string{header, a.renderSummary()}
	if a.err != nil {
		lines = append(lines, errorStyle.Render("⚠ "+a.err.Error()))
	}
	if a.showLog {
		lines = append(lines, a.renderLogHeader(), a.logView.View())
		lines = append(lines, hintStyle.Render("↑/↓ scroll    Enter/Esc → back to jobs    q → quit"))
	} else {
		lines = append(lines, a.table.View())
		lines = append(lines, hintStyle.Render("↑/↓ select    Enter → console log    r → refresh    q → quit"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// renderSummary counts jobs per status in reverse lifecycle order.
func (a *App) renderSummary() string {
	counts := map[job.Status]int{}
	for _, row := range a.rows {
		counts[row.Status]++
	}
	statuses := job.Statuses()
	parts := make([]string, 0, len(statuses))
	for i := len(statuses) - 1; i >= 0; i-- {
		if n := counts[statuses[i]]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", statusLabel(statuses[i]), n))
		}
	}
	if len(parts) == 0 {
		return detailStyle.Render("no jobs yet")
	}
	return fmt.Sprintf("%d job(s) · %s", len(a.rows), strings.Join(parts, " · "))
}

func (a *App) renderLogHeader() string {
	var row jobRow
	for _, candidate := range a.rows {
		if candidate.Name == a.logJob {
			row = candidate
			break
		}
	}
	line := fmt.Sprintf("%s %s", titleStyle.Render(a.logJob), statusLabel(row.Status))
	if row.FailedCmd != "" {
		line += detailStyle.Render(" · failed: " + row.FailedCmd)
	}
	if a.logErr != nil {
		line += " " + errorStyle.Render("(no console log yet)")
	}
	return line
}

func (a *App) tableRows() []table.Row {
	now := a.clock.Now()
	rows := make([]table.Row, 0, len(a.rows))
	for _, row := range a.rows {
		rows = append(rows, table.Row{
			row.Name,
			row.Status.String(),
			row.Dep,
			startedLabel(row.StartTime, now),
			durationLabel(row),
			row.FailedCmd,
		})
	}
	return rows
}

func startedLabel(start, now time.Time) string {
	if start.IsZero() {
		return "-"
	}
	return humanize.RelTime(start, now, "ago", "from now")
}

func durationLabel(row jobRow) string {
	if row.StartTime.IsZero() {
		return "-"
	}
	if row.Duration < time.Second {
		return row.Duration.Round(time.Millisecond).String()
	}
	return row.Duration.Round(time.Second).String()
}

// columnsFor sizes the columns for a terminal of the given width; the failed
// command takes whatever is left.
func columnsFor(width int) []table.Column {
	columns := []table.Column{
		{Title: "Job", Width: 20},
		{Title: "Status", Width: 8},
		{Title: "Dep", Width: 16},
		{Title: "Started", Width: 16},
		{Title: "Duration", Width: 10},
	}
	used := 0
	for _, column := range columns {
		used += column.Width + 2
	}
	return append(columns, table.Column{Title: "Failed command", Width: max(14, width-used-2)})
}

func tableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#5B8DEF")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#3B5BA9")).
		Bold(true)
	return styles
}
