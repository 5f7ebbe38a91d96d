package workspace

import (
	"path/filepath"

	"github.com/kingrea/shellexec/internal/job"
)

// File names at the workspace root.
const (
	FileManifest = "se_jobs.yaml"
	FileAgentLog = "se_agent.log"
	FileStatusDB = "se_status.db"
	FileRunState = "se_run.yaml"
)

// File names inside each job directory.
const (
	FileRerunScript = "rerun.sh"
	FileConsoleLog  = job.ConsoleLogFile
	FileRecord      = "se_job.yaml"
	FileUserResult  = "se_user_result.yaml"

	// MarkerPrefix prefixes the empty file that carries a job's status.
	MarkerPrefix = "SE_STATUS@"
)

// MarkerName returns the marker file name for status.
func MarkerName(status job.Status) string {
	return MarkerPrefix + status.String()
}

// Root returns the absolute workspace root.
func (s *Store) Root() string {
	return s.root
}

// JobDir returns the working directory of the named job.
func (s *Store) JobDir(name string) string {
	return filepath.Join(s.root, name)
}

// LogPath returns the console log of the named job.
func (s *Store) LogPath(name string) string {
	return filepath.Join(s.JobDir(name), FileConsoleLog)
}

// ManifestPath returns the path of se_jobs.yaml.
func (s *Store) ManifestPath() string {
	return filepath.Join(s.root, FileManifest)
}

// AgentLogPath returns the default structured log file.
func (s *Store) AgentLogPath() string {
	return filepath.Join(s.root, FileAgentLog)
}

// RunStatePath returns the path of the latest run summary.
func (s *Store) RunStatePath() string {
	return filepath.Join(s.root, FileRunState)
}

func (s *Store) recordPath(name string) string {
	return filepath.Join(s.JobDir(name), FileRecord)
}

func (s *Store) userResultPath(name string) string {
	return filepath.Join(s.JobDir(name), FileUserResult)
}

func (s *Store) rerunPath(name string) string {
	return filepath.Join(s.JobDir(name), FileRerunScript)
}
