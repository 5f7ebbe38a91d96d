package engine

import (
	"os"

	"github.com/pingcap/errors"
	"gopkg.in/yaml.v3"

	cerror "github.com/kingrea/shellexec/internal/errors"
	"github.com/kingrea/shellexec/internal/workspace"
)

// StateStore persists run summaries.
type StateStore interface {
	Load() (State, error)
	Save(State) error
}

// Repository stores the latest run summary at the workspace root.
type Repository struct {
	path string
}

// NewRepository creates a repository inside the workspace.
func NewRepository(store *workspace.Store) *Repository {
	return &Repository{path: store.RunStatePath()}
}

// Load reads the persisted state if present.
func (r *Repository) Load() (State, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, cerror.ErrRunStateNotFound.GenWithStackByArgs(r.path)
		}
		return State{}, cerror.ErrWorkspaceIO.Wrap(err).GenWithStackByArgs(r.path)
	}
	var state State
	if err := yaml.Unmarshal(data, &state); err != nil {
		return State{}, errors.Annotatef(err, "decode run state %s", r.path)
	}
	return state, nil
}

// Save replaces the persisted state.
func (r *Repository) Save(state State) error {
	encoded, err := yaml.Marshal(state)
	if err != nil {
		return errors.Annotate(err, "encode run state")
	}
	return workspace.WriteFileAtomic(r.path, encoded)
}
