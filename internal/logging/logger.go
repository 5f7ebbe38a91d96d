package logging

import (
	"os"
	"path/filepath"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/kingrea/shellexec/internal/config"
)

// Init replaces the global logger with one writing to cfg.File, so users can
// inspect a run after the terminal is gone. The returned func flushes it.
func Init(cfg config.LogConfig) (func(), error) {
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, errors.Annotate(err, "logging: ensure log dir")
		}
	}
	lg, prop, err := log.InitLogger(&log.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
		File: log.FileLogConfig{
			Filename: cfg.File,
		},
	})
	if err != nil {
		return nil, errors.Annotate(err, "logging: init logger")
	}
	log.ReplaceGlobals(lg, prop)
	return func() { _ = lg.Sync() }, nil
}

// ForJob returns a logger tagged with the job name.
func ForJob(name string) *zap.Logger {
	return log.L().With(zap.String("job", name))
}

// ForComponent returns a logger tagged with a component name.
func ForComponent(name string) *zap.Logger {
	return log.L().With(zap.String("component", name))
}
