// internal/config/config.go
//
// This package handles the optional shellexec.yaml file. Values from the file
// are layered over built-in defaults, and command line flags are layered over
// the file.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	cerror "github.com/kingrea/shellexec/internal/errors"
	"github.com/kingrea/shellexec/internal/job"
	"github.com/kingrea/shellexec/internal/workspace"
)

const (
	// FileName is looked up in the invocation directory when no --config is given.
	FileName = "shellexec.yaml"

	defaultWorkspace     = "./se_ws"
	defaultMaxConcurrent = 2
	defaultOutputCSV     = "se_result.csv"
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
)

const defaultConfigYAML = `# shellexec configuration
workspace: ./se_ws
max_concurrent: 2

# Terminal statuses that are executed again on the next run.
rerun_status:
  - ERROR

# marker keeps SE_STATUS@<STATUS> files in each job directory; leveldb keeps
# statuses in <workspace>/se_status.db.
status_backend: marker

output_csv: se_result.csv
# metrics_file: se_metrics.prom

# Serve /health, /run, /jobs and /metrics while jobs run.
# http_addr: 127.0.0.1:7070

log:
  level: info
  format: text
  # file: defaults to <workspace>/se_agent.log
`

// LogConfig configures the structured log.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
}

// Settings models shellexec.yaml.
type Settings struct {
	Workspace     string    `yaml:"workspace"`
	MaxConcurrent int       `yaml:"max_concurrent"`
	RerunStatus   []string  `yaml:"rerun_status"`
	StatusBackend string    `yaml:"status_backend"`
	OutputCSV     string    `yaml:"output_csv"`
	MetricsFile   string    `yaml:"metrics_file,omitempty"`
	HTTPAddr      string    `yaml:"http_addr,omitempty"`
	Log           LogConfig `yaml:"log"`
}

// Config holds the runtime configuration for one invocation.
type Config struct {
	// InvocationDir is the directory shellexec was started from. Relative paths
	// resolve against it and @WD expands to it.
	InvocationDir string

	// Path is the config file that was loaded, empty when defaults are used.
	Path string

	Settings Settings
}

// Overrides carries command line values. Nil fields leave the setting alone.
type Overrides struct {
	Workspace     *string
	MaxConcurrent *int
	RerunStatus   *[]string
	StatusBackend *string
	OutputCSV     *string
	MetricsFile   *string
	HTTPAddr      *string
	LogLevel      *string
}

// Load reads the config file at explicitPath, or shellexec.yaml in
// invocationDir when explicitPath is empty. A missing implicit file is not an
// error.
func Load(invocationDir, explicitPath string) (*Config, error) {
	dir, err := filepath.Abs(invocationDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", invocationDir, err)
	}
	cfg := &Config{InvocationDir: dir, Settings: defaultSettings()}
	path := explicitPath
	if path == "" {
		path = filepath.Join(dir, FileName)
	}
	if err := cfg.loadFile(resolvePath(dir, path), explicitPath != ""); err != nil {
		return nil, err
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration for invocationDir.
func Default(invocationDir string) (*Config, error) {
	dir, err := filepath.Abs(invocationDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", invocationDir, err)
	}
	cfg := &Config{InvocationDir: dir, Settings: defaultSettings()}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Apply layers command line values over the loaded settings and re-checks
// the result.
func (c *Config) Apply(ovr Overrides) error {
	s := &c.Settings
	if ovr.Workspace != nil {
		s.Workspace = *ovr.Workspace
	}
	if ovr.MaxConcurrent != nil {
		s.MaxConcurrent = *ovr.MaxConcurrent
	}
	if ovr.RerunStatus != nil {
		s.RerunStatus = append([]string(nil), (*ovr.RerunStatus)...)
	}
	if ovr.StatusBackend != nil {
		s.StatusBackend = *ovr.StatusBackend
	}
	if ovr.OutputCSV != nil {
		s.OutputCSV = *ovr.OutputCSV
	}
	if ovr.MetricsFile != nil {
		s.MetricsFile = *ovr.MetricsFile
	}
	if ovr.HTTPAddr != nil {
		s.HTTPAddr = *ovr.HTTPAddr
	}
	if ovr.LogLevel != nil {
		s.Log.Level = *ovr.LogLevel
	}
	return c.Finalize()
}

// Finalize normalizes paths and validates the settings.
func (c *Config) Finalize() error {
	c.Settings.applyDefaults()
	c.Settings.normalize(c.InvocationDir)
	if err := c.Settings.validate(); err != nil {
		return cerror.ErrInvalidConfig.GenWithStackByArgs(err.Error())
	}
	return nil
}

// WorkspaceDir returns the absolute workspace root.
func (c *Config) WorkspaceDir() string {
	return c.Settings.Workspace
}

// MaxConcurrent returns the worker pool size.
func (c *Config) MaxConcurrent() int {
	return c.Settings.MaxConcurrent
}

// RerunStatuses returns the statuses that are executed again.
func (c *Config) RerunStatuses() job.StatusSet {
	set, err := job.ParseStatusSet(c.Settings.RerunStatus)
	if err != nil {
		// validate has already rejected unknown statuses
		return job.NewStatusSet()
	}
	return set
}

// LogConfig returns the log settings with the default file filled in.
func (c *Config) LogConfig() LogConfig {
	out := c.Settings.Log
	if out.File == "" {
		out.File = filepath.Join(c.Settings.Workspace, workspace.FileAgentLog)
	}
	return out
}

// WriteDefault writes a commented default shellexec.yaml unless one exists.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}

func (c *Config) loadFile(path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	parsed := c.Settings
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.Settings = parsed
	c.Path = path
	return nil
}

func defaultSettings() Settings {
	return Settings{
		Workspace:     defaultWorkspace,
		MaxConcurrent: defaultMaxConcurrent,
		RerunStatus:   []string{string(job.StatusError)},
		StatusBackend: workspace.BackendMarker,
		OutputCSV:     defaultOutputCSV,
		Log: LogConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}

func (s *Settings) applyDefaults() {
	if strings.TrimSpace(s.Workspace) == "" {
		s.Workspace = defaultWorkspace
	}
	if strings.TrimSpace(s.StatusBackend) == "" {
		s.StatusBackend = workspace.BackendMarker
	}
	if strings.TrimSpace(s.Log.Level) == "" {
		s.Log.Level = defaultLogLevel
	}
	if strings.TrimSpace(s.Log.Format) == "" {
		s.Log.Format = defaultLogFormat
	}
}

func (s *Settings) normalize(base string) {
	s.Workspace = resolvePath(base, s.Workspace)
	s.OutputCSV = resolvePath(base, s.OutputCSV)
	s.MetricsFile = resolvePath(base, s.MetricsFile)
	s.Log.File = resolvePath(base, s.Log.File)
	s.HTTPAddr = strings.TrimSpace(s.HTTPAddr)
	s.StatusBackend = strings.ToLower(strings.TrimSpace(s.StatusBackend))
	s.Log.Level = strings.ToLower(strings.TrimSpace(s.Log.Level))
	s.Log.Format = strings.ToLower(strings.TrimSpace(s.Log.Format))
	statuses := make([]string, 0, len(s.RerunStatus))
	for _, status := range s.RerunStatus {
		status = strings.ToUpper(strings.TrimSpace(status))
		if status != "" {
			statuses = append(statuses, status)
		}
	}
	s.RerunStatus = statuses
}

func (s *Settings) validate() error {
	if s.MaxConcurrent < 0 {
		return fmt.Errorf("max_concurrent must be >= 0, got %d", s.MaxConcurrent)
	}
	for _, value := range s.RerunStatus {
		status, err := job.ParseStatus(value)
		if err != nil {
			return fmt.Errorf("rerun_status: unknown status %q", value)
		}
		if !status.IsTerminal() {
			return fmt.Errorf("rerun_status: %s is not a terminal status", status)
		}
	}
	switch s.StatusBackend {
	case workspace.BackendMarker, workspace.BackendLevelDB:
	default:
		return fmt.Errorf("status_backend must be '%s' or '%s'", workspace.BackendMarker, workspace.BackendLevelDB)
	}
	if s.HTTPAddr != "" {
		if _, _, err := net.SplitHostPort(s.HTTPAddr); err != nil {
			return fmt.Errorf("http_addr %q: %v", s.HTTPAddr, err)
		}
	}
	switch s.Log.Level {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("log.level %q is not supported", s.Log.Level)
	}
	switch s.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be 'text' or 'json'")
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}
