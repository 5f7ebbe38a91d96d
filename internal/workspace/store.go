package workspace

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	cerror "github.com/kingrea/shellexec/internal/errors"
	"github.com/kingrea/shellexec/internal/job"
	"github.com/kingrea/shellexec/internal/workflow"
)

// Store owns the on-disk workspace: one directory per job plus the manifest
// at the root. Job statuses go through a StatusStore.
type Store struct {
	root     string
	statuses StatusStore
	logger   *zap.Logger
}

// Open creates the workspace root if needed and opens the status backend.
func Open(root, backend string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, cerror.ErrWorkspaceIO.Wrap(err).GenWithStackByArgs(root)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, cerror.ErrWorkspaceIO.Wrap(err).GenWithStackByArgs(abs)
	}
	statuses, err := OpenStatusStore(backend, abs)
	if err != nil {
		return nil, err
	}
	return New(abs, statuses), nil
}

// New wraps an existing workspace root and status store.
func New(root string, statuses StatusStore) *Store {
	return &Store{
		root:     root,
		statuses: statuses,
		logger:   log.L().With(zap.String("workspace", root)),
	}
}

// Close releases the status store.
func (s *Store) Close() error {
	if s == nil || s.statuses == nil {
		return nil
	}
	return s.statuses.Close()
}

// ReadStatus returns the durable status of the named job.
func (s *Store) ReadStatus(name string) (job.Status, error) {
	return s.statuses.Read(name)
}

// WriteStatus replaces the durable status of the named job.
func (s *Store) WriteStatus(name string, status job.Status) error {
	return s.statuses.Write(name, status)
}

// NewJob builds the job record for spec and seeds it with whatever the
// workspace remembers: the durable status and, for terminal jobs, the last
// persisted record.
func (s *Store) NewJob(spec workflow.JobSpec, invocationDir string) (*job.Job, error) {
	j, err := job.New(spec, s.root, invocationDir)
	if err != nil {
		return nil, err
	}
	status, err := s.ReadStatus(spec.Name)
	if err != nil {
		return nil, err
	}
	j.State.Status = status
	if !status.IsTerminal() {
		return j, nil
	}
	rec, err := s.LoadRecord(spec.Name)
	if err != nil {
		if cerror.ErrRecordNotFound.Equal(err) {
			s.logger.Warn("terminal job has no record", zap.String("job", spec.Name), zap.Stringer("status", status))
			return j, nil
		}
		return nil, err
	}
	if err := j.Restore(rec); err != nil {
		s.logger.Warn("discarding unreadable job record", zap.String("job", spec.Name), zap.Error(err))
	}
	return j, nil
}

// Prepare recreates the job directory from scratch and writes rerun.sh. It
// destroys every artifact of the previous run.
func (s *Store) Prepare(j *job.Job) error {
	dir := s.JobDir(j.Name())
	if err := os.RemoveAll(dir); err != nil {
		return cerror.ErrWorkspaceIO.Wrap(err).GenWithStackByArgs(dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return cerror.ErrWorkspaceIO.Wrap(err).GenWithStackByArgs(dir)
	}
	path := s.rerunPath(j.Name())
	if err := os.WriteFile(path, RerunScript(j), 0o755); err != nil {
		return cerror.ErrWorkspaceIO.Wrap(err).GenWithStackByArgs(path)
	}
	// WriteFile keeps the mode of an existing file and is subject to umask.
	if err := os.Chmod(path, 0o755); err != nil {
		return cerror.ErrWorkspaceIO.Wrap(err).GenWithStackByArgs(path)
	}
	return nil
}

// RerunScript renders a standalone script that reproduces the job by hand.
func RerunScript(j *job.Job) []byte {
	var buf bytes.Buffer
	buf.WriteString("#!/bin/sh\n")
	buf.WriteString("set -e -x\n")
	keys := make([]string, 0, len(j.Spec.Envs))
	for key := range j.Spec.Envs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&buf, "export %s=%s\n", key, shellQuote(j.Spec.Envs[key]))
	}
	for _, cmd := range j.Spec.Cmds {
		buf.WriteString(cmd)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

// PersistRecord writes se_job.yaml with the full job record.
func (s *Store) PersistRecord(j *job.Job) error {
	data, err := yaml.Marshal(j.Record())
	if err != nil {
		return errors.Annotatef(err, "encode record of %s", j.Name())
	}
	return WriteFileAtomic(s.recordPath(j.Name()), data)
}

// LoadRecord reads se_job.yaml back.
func (s *Store) LoadRecord(name string) (job.Record, error) {
	path := s.recordPath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return job.Record{}, cerror.ErrRecordNotFound.GenWithStackByArgs(name)
		}
		return job.Record{}, cerror.ErrWorkspaceIO.Wrap(err).GenWithStackByArgs(path)
	}
	var rec job.Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return job.Record{}, errors.Annotatef(err, "parse %s", path)
	}
	return rec, nil
}

// LoadUserResults reads the optional se_user_result.yaml a job may leave in
// its directory. Anything but a mapping yields an empty map and a warning.
func (s *Store) LoadUserResults(name string) map[string]any {
	results := map[string]any{}
	path := s.userResultPath(name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("cannot read user results", zap.String("job", name), zap.Error(err))
		}
		return results
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return results
	}
	var parsed any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		s.logger.Warn("malformed user results", zap.String("job", name), zap.String("path", path), zap.Error(err))
		return results
	}
	switch typed := parsed.(type) {
	case map[string]any:
		return typed
	case map[any]any:
		for key, value := range typed {
			results[fmt.Sprint(key)] = value
		}
		return results
	default:
		s.logger.Warn("user results are not a mapping", zap.String("job", name), zap.String("path", path))
		return results
	}
}

// WriteManifest records the job definitions of the current invocation. The
// file is itself a valid job file; the run id goes in a leading comment.
func (s *Store) WriteManifest(defs workflow.Definitions, runID string) error {
	body, err := yaml.Marshal(defs)
	if err != nil {
		return errors.Annotate(err, "encode manifest")
	}
	var buf bytes.Buffer
	if runID != "" {
		fmt.Fprintf(&buf, "# run %s\n", runID)
	}
	buf.Write(body)
	return WriteFileAtomic(s.ManifestPath(), buf.Bytes())
}

// LoadManifest reads the job definitions of the latest invocation.
func (s *Store) LoadManifest() (workflow.Definitions, error) {
	path := s.ManifestPath()
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, cerror.ErrManifestNotFound.GenWithStackByArgs(s.root)
		}
		return nil, cerror.ErrWorkspaceIO.Wrap(err).GenWithStackByArgs(path)
	}
	return workflow.LoadDefinitionFile(path)
}

// WriteFileAtomic replaces path with data through a temporary file and a
// rename, so readers never see a partial file. Missing parent directories are
// created.
func WriteFileAtomic(path string, data []byte) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cerror.ErrWorkspaceIO.Wrap(err).GenWithStackByArgs(path)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return cerror.ErrWorkspaceIO.Wrap(err).GenWithStackByArgs(path)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, ignoreNotExist(os.Remove(tmp.Name())))
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return cerror.ErrWorkspaceIO.Wrap(err).GenWithStackByArgs(path)
	}
	if err = tmp.Close(); err != nil {
		return cerror.ErrWorkspaceIO.Wrap(err).GenWithStackByArgs(path)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return cerror.ErrWorkspaceIO.Wrap(err).GenWithStackByArgs(path)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return cerror.ErrWorkspaceIO.Wrap(err).GenWithStackByArgs(path)
	}
	return nil
}

func ignoreNotExist(err error) error {
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
