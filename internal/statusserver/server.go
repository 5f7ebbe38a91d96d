package statusserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	cerror "github.com/kingrea/shellexec/internal/errors"
	"github.com/kingrea/shellexec/internal/report"
	"github.com/kingrea/shellexec/internal/workflow/engine"
)

// ServerStatus reports lifecycle states of the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

const defaultShutdownTimeout = 2 * time.Second

// Source is what the handlers read. *engine.Engine satisfies it.
type Source interface {
	View() (engine.State, error)
	Report() ([]report.Row, error)
}

// Settings configures the listener.
type Settings struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultSettings returns settings for addr with conservative timeouts.
func DefaultSettings(addr string) Settings {
	return Settings{
		Addr:         addr,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
}

// Server exposes the state of a workspace over HTTP.
type Server struct {
	settings Settings
	source   Source
	registry *prometheus.Registry
	clock    clock.Clock
	logger   *zap.Logger

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
	done      chan struct{}
}

// Option customizes server construction.
type Option func(*Server)

// WithRegistry serves registry on /metrics.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(s *Server) {
		s.registry = registry
	}
}

// WithClock allows tests to control uptime.
func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger overrides the global logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New prepares a server reading from src.
func New(settings Settings, src Source, opts ...Option) *Server {
	s := &Server{
		settings: settings,
		source:   src,
		clock:    clock.New(),
		logger:   log.L().With(zap.String("component", "statusserver")),
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the routes without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/run", s.handleRun)
	mux.HandleFunc("/jobs", s.handleJobs)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start binds the TCP listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return errors.New("status server already started")
	}
	listener, err := net.Listen("tcp", s.settings.Addr)
	if err != nil {
		return errors.Annotatef(err, "listen %s", s.settings.Addr)
	}
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.listener = listener
	s.server = server
	s.startTime = s.clock.Now()
	s.status = StatusReady
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status server stopped", zap.Error(err))
		}
	}(s.done)
	s.logger.Info("status http server is running", zap.String("addr", listener.Addr().String()))
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	s.status = StatusDraining
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
	}
	err := s.server.Shutdown(ctx)
	<-s.done
	s.server = nil
	s.listener = nil
	return errors.Trace(err)
}

// Addr returns the bound address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns scheme and host:port of the running server.
func (s *Server) BaseURL() string {
	return "http://" + s.Addr()
}

// Status reports the lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.clock.Since(s.startTime).Seconds())
}

type healthResponse struct {
	Status        string `json:"status"`
	RunID         string `json:"run_id,omitempty"`
	RunStatus     string `json:"run_status,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type runResponse struct {
	RunID        string            `json:"run_id"`
	Status       string            `json:"status"`
	StatusReason string            `json:"status_reason,omitempty"`
	Jobs         []string          `json:"jobs"`
	Result       string            `json:"result"`
	Rounds       int               `json:"rounds"`
	Executed     []string          `json:"executed,omitempty"`
	Skipped      []string          `json:"skipped,omitempty"`
	Failed       []string          `json:"failed,omitempty"`
	Pending      []string          `json:"pending,omitempty"`
	Blocked      map[string]string `json:"blocked,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

type jobResponse struct {
	Name      string            `json:"name"`
	Status    string            `json:"status"`
	Dep       string            `json:"dep,omitempty"`
	Cmds      []string          `json:"cmds"`
	DoneCmds  []string          `json:"done_cmds,omitempty"`
	FailedCmd string            `json:"failed_cmd,omitempty"`
	Cwd       string            `json:"cwd"`
	Log       string            `json:"console_log"`
	StartedAt *time.Time        `json:"started_at,omitempty"`
	Duration  string            `json:"duration,omitempty"`
	Envs      map[string]string `json:"envs,omitempty"`
	Results   map[string]any    `json:"results,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	resp := healthResponse{
		Status:        string(s.Status()),
		UptimeSeconds: s.uptimeSeconds(),
	}
	if state, err := s.source.View(); err == nil {
		resp.RunID = state.RunID
		resp.RunStatus = string(state.Status)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	state, err := s.source.View()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRunResponse(state))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if !allowRead(w, r) {
		return
	}
	rows, err := s.source.Report()
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]jobResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, newJobResponse(row))
	}
	writeJSON(w, http.StatusOK, out)
}

func newRunResponse(state engine.State) runResponse {
	resp := runResponse{
		RunID:        state.RunID,
		Status:       string(state.Status),
		StatusReason: state.StatusReason,
		Jobs:         state.Jobs,
		Result:       string(state.Outcome.Result),
		Rounds:       state.Outcome.Rounds,
		Executed:     state.Outcome.Executed,
		Skipped:      state.Outcome.Skipped,
		Failed:       state.Outcome.Failed,
		Pending:      state.Outcome.Pending,
		StartedAt:    state.StartedAt,
		UpdatedAt:    state.UpdatedAt,
	}
	if len(state.Outcome.Blocked) > 0 {
		resp.Blocked = make(map[string]string, len(state.Outcome.Blocked))
		for name, reason := range state.Outcome.Blocked {
			resp.Blocked[name] = string(reason)
		}
	}
	if resp.Jobs == nil {
		resp.Jobs = []string{}
	}
	return resp
}

func newJobResponse(row report.Row) jobResponse {
	resp := jobResponse{
		Name:      row.JobName,
		Status:    row.Status.String(),
		Dep:       row.Dep,
		Cmds:      row.Cmds,
		DoneCmds:  row.DoneCmds,
		FailedCmd: row.FailedCmd,
		Cwd:       row.Cwd,
		Log:       row.ConsoleLog,
		Envs:      row.Envs,
		Results:   row.Results,
	}
	if !row.StartTime.IsZero() {
		start := row.StartTime
		resp.StartedAt = &start
		resp.Duration = row.Duration.String()
	}
	return resp
}

func allowRead(w http.ResponseWriter, r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return true
	}
	w.Header().Set("Allow", fmt.Sprintf("%s, %s", http.MethodGet, http.MethodHead))
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	return false
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if cerror.ErrRunStateNotFound.Equal(err) || cerror.ErrManifestNotFound.Equal(err) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Warn("status request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn("write response failed", zap.Error(err))
	}
}
