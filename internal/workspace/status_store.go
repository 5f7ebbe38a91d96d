package workspace

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	cerror "github.com/kingrea/shellexec/internal/errors"
	"github.com/kingrea/shellexec/internal/job"
)

// Status store backends.
const (
	BackendMarker  = "marker"
	BackendLevelDB = "leveldb"
)

// StatusStore persists the single durable status of each job. Implementations
// must make Write visible to other processes once it returns.
type StatusStore interface {
	Read(name string) (job.Status, error)
	Write(name string, status job.Status) error
	Close() error
}

// OpenStatusStore opens the backend named by the config for root.
func OpenStatusStore(backend, root string) (StatusStore, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendMarker:
		return NewMarkerStore(root), nil
	case BackendLevelDB:
		return OpenLevelStore(filepath.Join(root, FileStatusDB))
	default:
		return nil, cerror.ErrUnknownStatusBackend.GenWithStackByArgs(backend)
	}
}

// MarkerStore keeps the status as an empty SE_STATUS@<STATUS> file inside the
// job directory, so shell users and other processes can see it with ls.
type MarkerStore struct {
	root   string
	logger *zap.Logger
}

// NewMarkerStore returns a marker store for the workspace at root.
func NewMarkerStore(root string) *MarkerStore {
	return &MarkerStore{
		root:   root,
		logger: log.L().With(zap.String("component", "marker-store")),
	}
}

// Read returns NONE when the job has no marker. When several markers exist the
// most advanced status wins.
func (m *MarkerStore) Read(name string) (job.Status, error) {
	entries, err := os.ReadDir(filepath.Join(m.root, name))
	if err != nil {
		if os.IsNotExist(err) {
			return job.StatusNone, nil
		}
		return job.StatusNone, cerror.ErrStatusStore.Wrap(err).GenWithStackByArgs(name)
	}
	found := m.markers(entries)
	status := job.StatusNone
	for _, candidate := range found {
		if candidate.Rank() > status.Rank() {
			status = candidate
		}
	}
	if len(found) > 1 {
		m.logger.Warn("job has several status markers",
			zap.String("job", name),
			zap.Any("markers", found),
			zap.Stringer("using", status))
	}
	return status, nil
}

// Write removes any other marker and creates the one for status. Writing NONE
// only removes markers.
func (m *MarkerStore) Write(name string, status job.Status) error {
	dir := filepath.Join(m.root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return cerror.ErrStatusStore.Wrap(err).GenWithStackByArgs(name)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return cerror.ErrStatusStore.Wrap(err).GenWithStackByArgs(name)
	}
	var errs error
	for _, existing := range m.markers(entries) {
		if existing == status {
			continue
		}
		if err := os.Remove(filepath.Join(dir, MarkerName(existing))); err != nil && !os.IsNotExist(err) {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		return cerror.ErrStatusStore.Wrap(errs).GenWithStackByArgs(name)
	}
	if status == job.StatusNone {
		return nil
	}
	if err := os.WriteFile(filepath.Join(dir, MarkerName(status)), nil, 0o644); err != nil {
		return cerror.ErrStatusStore.Wrap(err).GenWithStackByArgs(name)
	}
	return nil
}

// Close is a no-op for marker files.
func (m *MarkerStore) Close() error {
	return nil
}

func (m *MarkerStore) markers(entries []os.DirEntry) []job.Status {
	var found []job.Status
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), MarkerPrefix) {
			continue
		}
		status := job.Status(strings.TrimPrefix(entry.Name(), MarkerPrefix))
		if !status.Valid() || status == job.StatusNone {
			m.logger.Warn("ignoring unknown status marker", zap.String("marker", entry.Name()))
			continue
		}
		found = append(found, status)
	}
	return found
}

// LevelStore keeps statuses in a goleveldb database keyed by job name. The
// database holds an exclusive lock, so only one process can open it.
type LevelStore struct {
	db *leveldb.DB
}

// OpenLevelStore opens (or creates) the database at path.
func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, cerror.ErrStatusStore.Wrap(err).GenWithStackByArgs(path)
	}
	return NewLevelStore(db), nil
}

// NewLevelStore wraps an already opened database.
func NewLevelStore(db *leveldb.DB) *LevelStore {
	return &LevelStore{db: db}
}

// Read returns NONE for unknown jobs.
func (l *LevelStore) Read(name string) (job.Status, error) {
	value, err := l.db.Get([]byte(name), nil)
	if err != nil {
		if errors.Cause(err) == leveldb.ErrNotFound {
			return job.StatusNone, nil
		}
		return job.StatusNone, cerror.ErrStatusStore.Wrap(err).GenWithStackByArgs(name)
	}
	status := job.Status(value)
	if !status.Valid() {
		return job.StatusNone, cerror.ErrInvalidStatus.GenWithStackByArgs(string(value))
	}
	return status, nil
}

// Write replaces the status with a single put. NONE deletes the key.
func (l *LevelStore) Write(name string, status job.Status) error {
	var err error
	if status == job.StatusNone {
		err = l.db.Delete([]byte(name), &opt.WriteOptions{Sync: true})
	} else {
		err = l.db.Put([]byte(name), []byte(status), &opt.WriteOptions{Sync: true})
	}
	if err != nil {
		return cerror.ErrStatusStore.Wrap(err).GenWithStackByArgs(name)
	}
	return nil
}

// Close releases the database lock.
func (l *LevelStore) Close() error {
	return errors.Trace(l.db.Close())
}
