// internal/tui/app.go
//
// Status viewer for a shellexec workspace. It follows The Elm Architecture
// like every bubbletea program: the App holds the state, Update reacts to
// messages (keys, timer ticks, snapshots read from disk) and View renders.

package tui

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

const defaultRefreshInterval = time.Second

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithRefreshInterval overrides how often the workspace is polled.
func WithRefreshInterval(d time.Duration) AppOption {
	return func(a *App) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithClock injects the clock used for relative timestamps.
func WithClock(c clock.Clock) AppOption {
	return func(a *App) {
		if c != nil {
			a.clock = c
		}
	}
}

// App is the viewer model.
type App struct {
	source   Source
	clock    clock.Clock
	interval time.Duration

	table   table.Model
	logView viewport.Model
	showLog bool
	logJob  string
	logErr  error

	rows   []jobRow
	memory *statusMemory
	err    error

	width  int
	height int
}

// NewApp creates a viewer over src.
func NewApp(src Source, opts ...AppOption) *App {
	app := &App{
		source:   src,
		clock:    clock.New(),
		interval: defaultRefreshInterval,
		table: table.New(
			table.WithColumns(columnsFor(80)),
			table.WithFocused(true),
			table.WithHeight(10),
		),
		logView: viewport.New(80, 10),
		memory:  newStatusMemory(),
	}
	app.table.SetStyles(tableStyles())
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	return app
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return a.fetchStatusSnapshot(true)
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.resize(msg.Width, msg.Height)
		return a, nil

	case statusRefreshMsg:
		a.applySnapshot(msg)
		var cmds []tea.Cmd
		if msg.scheduled {
			cmds = append(cmds, a.scheduleStatusRefresh())
		}
		if a.showLog && msg.err == nil {
			cmds = append(cmds, a.loadLog(a.logJob))
		}
		return a, tea.Batch(cmds...)

	case logLoadedMsg:
		if msg.name != a.logJob {
			return a, nil
		}
		a.logErr = msg.err
		atBottom := a.logView.AtBottom()
		a.logView.SetContent(msg.content)
		if atBottom {
			a.logView.GotoBottom()
		}
		return a, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return a, tea.Quit
		case "r":
			return a, a.fetchStatusSnapshot(false)
		case "enter":
			return a, a.toggleLog()
		case "esc":
			if a.showLog {
				return a, a.toggleLog()
			}
			return a, nil
		}
	}

	var cmd tea.Cmd
	if a.showLog {
		a.logView, cmd = a.logView.Update(msg)
	} else {
		a.table, cmd = a.table.Update(msg)
	}
	return a, cmd
}

func (a *App) applySnapshot(msg statusRefreshMsg) {
	if msg.err != nil {
		a.err = msg.err
		return
	}
	a.err = nil
	a.memory.merge(msg.rows)
	a.rows = msg.rows
	a.table.SetRows(a.tableRows())
	if cursor := a.table.Cursor(); cursor >= len(a.rows) && len(a.rows) > 0 {
		a.table.SetCursor(len(a.rows) - 1)
	}
}

func (a *App) toggleLog() tea.Cmd {
	if a.showLog {
		a.showLog = false
		a.logJob = ""
		a.table.Focus()
		return nil
	}
	name := a.selectedJob()
	if name == "" {
		return nil
	}
	a.showLog = true
	a.logJob = name
	a.logErr = nil
	a.logView.SetContent("")
	a.table.Blur()
	return a.loadLog(name)
}

func (a *App) selectedJob() string {
	cursor := a.table.Cursor()
	if cursor < 0 || cursor >= len(a.rows) {
		return ""
	}
	return a.rows[cursor].Name
}

func (a *App) resize(width, height int) {
	a.width = width
	a.height = height
	bodyHeight := max(3, height-6)
	a.table.SetColumns(columnsFor(width))
	a.table.SetWidth(width)
	a.table.SetHeight(bodyHeight)
	a.logView.Width = width
	a.logView.Height = bodyHeight
}

func (a *App) fetchStatusSnapshot(scheduled bool) tea.Cmd {
	return func() tea.Msg {
		return a.buildStatusSnapshot(scheduled)
	}
}

func (a *App) scheduleStatusRefresh() tea.Cmd {
	return tea.Tick(a.interval, func(time.Time) tea.Msg {
		return a.buildStatusSnapshot(true)
	})
}

func (a *App) buildStatusSnapshot(scheduled bool) statusRefreshMsg {
	rows, err := loadSnapshot(a.source)
	return statusRefreshMsg{rows: rows, err: err, scheduled: scheduled}
}

func (a *App) loadLog(name string) tea.Cmd {
	path := a.source.LogPath(name)
	return func() tea.Msg {
		content, err := tailFile(path, logTailBytes)
		return logLoadedMsg{name: name, content: content, err: err}
	}
}
