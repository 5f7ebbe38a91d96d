package workflow

import (
	"path/filepath"
	"strings"

	"github.com/pingcap/errors"
	"gopkg.in/yaml.v3"

	cerror "github.com/kingrea/shellexec/internal/errors"
)

// JobSpec is the validated, immutable definition of one job as declared in a
// job file. Environment values are kept in their string form.
type JobSpec struct {
	Name string            `yaml:"-"`
	Cmds []string          `yaml:"cmds"`
	Envs map[string]string `yaml:"envs,omitempty"`
	Dep  string            `yaml:"dep,omitempty"`
}

// Clone returns a deep copy of the spec.
func (s JobSpec) Clone() JobSpec {
	return JobSpec{
		Name: s.Name,
		Cmds: cloneStringSlice(s.Cmds),
		Envs: cloneStringMap(s.Envs),
		Dep:  s.Dep,
	}
}

// Validate ensures the spec can be turned into a job record.
func (s JobSpec) Validate() error {
	if err := ValidateName(s.Name); err != nil {
		return err
	}
	if len(s.Cmds) == 0 {
		return cerror.ErrEmptyCommands.GenWithStackByArgs(s.Name)
	}
	for key := range s.Envs {
		if strings.TrimSpace(key) == "" {
			return cerror.ErrInvalidEnv.GenWithStackByArgs(s.Name, "empty variable name")
		}
	}
	return nil
}

// ValidateName rejects names that cannot be used as a working directory
// directly under the workspace root.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || trimmed != name {
		return cerror.ErrInvalidJobName.GenWithStackByArgs(name)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return cerror.ErrInvalidJobName.GenWithStackByArgs(name)
	}
	return nil
}

// Definitions is an ordered set of job specs. Order follows the job file so
// the manifest and reports list jobs the way the author wrote them.
type Definitions []JobSpec

// Validate checks every spec and rejects duplicate names.
func (d Definitions) Validate() error {
	seen := make(map[string]struct{}, len(d))
	for _, spec := range d {
		if err := spec.Validate(); err != nil {
			return err
		}
		if _, ok := seen[spec.Name]; ok {
			return cerror.ErrDuplicateJob.GenWithStackByArgs(spec.Name)
		}
		seen[spec.Name] = struct{}{}
	}
	return nil
}

// Names returns the job names in declaration order.
func (d Definitions) Names() []string {
	names := make([]string, 0, len(d))
	for _, spec := range d {
		names = append(names, spec.Name)
	}
	return names
}

// Lookup finds a spec by job name.
func (d Definitions) Lookup(name string) (JobSpec, bool) {
	for _, spec := range d {
		if spec.Name == name {
			return spec, true
		}
	}
	return JobSpec{}, false
}

// Clone returns a deep copy of the definitions.
func (d Definitions) Clone() Definitions {
	if d == nil {
		return nil
	}
	out := make(Definitions, len(d))
	for i, spec := range d {
		out[i] = spec.Clone()
	}
	return out
}

// MarshalYAML renders the definitions as a mapping keyed by job name, the
// same shape the loader accepts.
func (d Definitions) MarshalYAML() (interface{}, error) {
	root := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, spec := range d {
		value := &yaml.Node{}
		if err := value.Encode(spec); err != nil {
			return nil, errors.Annotatef(err, "encode job %s", spec.Name)
		}
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: spec.Name},
			value,
		)
	}
	return root, nil
}

// UnmarshalYAML decodes a name -> definition mapping, validating each entry.
func (d *Definitions) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := decodeDefinitions(node)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func cloneStringSlice(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	clone := make([]string, len(values))
	copy(clone, values)
	return clone
}

func cloneStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	clone := make(map[string]string, len(values))
	for key, value := range values {
		clone[key] = value
	}
	return clone
}
