package workflow

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pingcap/errors"
	"gopkg.in/yaml.v3"

	cerror "github.com/kingrea/shellexec/internal/errors"
)

// Recognized job definition keys.
const (
	KeyCmds = "cmds"
	KeyEnvs = "envs"
	KeyDep  = "dep"
)

// ParseDefinitionsYAML decodes a job file payload (YAML or JSON).
func ParseDefinitionsYAML(data []byte) (Definitions, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("job file is empty")
	}
	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, errors.Trace(err)
	}
	return defs, nil
}

// LoadDefinitionReader reads job definitions from an io.Reader.
func LoadDefinitionReader(r io.Reader) (Definitions, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Annotate(err, "read job definitions")
	}
	return ParseDefinitionsYAML(content)
}

// LoadDefinitionFile loads job definitions from an explicit file path.
func LoadDefinitionFile(path string) (Definitions, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, cerror.ErrParseJobFile.Wrap(err).GenWithStackByArgs(path)
	}
	defs, err := ParseDefinitionsYAML(content)
	if err != nil {
		return nil, errors.Annotatef(err, "job file %s", path)
	}
	return defs, nil
}

// FromMap builds definitions from an in-memory mapping of job name to
// definition, the shape a YAML or JSON decoder produces for a job file.
// Jobs are ordered by name because map order is not stable.
func FromMap(jobs map[string]any) (Definitions, error) {
	names := make([]string, 0, len(jobs))
	for name := range jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make(Definitions, 0, len(names))
	for _, name := range names {
		spec, err := NewJobSpec(name, jobs[name])
		if err != nil {
			return nil, err
		}
		defs = append(defs, spec)
	}
	if err := defs.Validate(); err != nil {
		return nil, err
	}
	return defs, nil
}

// NewJobSpec validates one dynamically typed job definition.
func NewJobSpec(name string, raw any) (JobSpec, error) {
	spec := JobSpec{Name: name}
	def, ok := asStringMap(raw)
	if !ok {
		return JobSpec{}, cerror.ErrInvalidCommands.GenWithStackByArgs(name, "definition must be a mapping")
	}
	if value, ok := def[KeyCmds]; ok && value != nil {
		cmds, err := commandsFromAny(name, value)
		if err != nil {
			return JobSpec{}, err
		}
		spec.Cmds = cmds
	}
	if value, ok := def[KeyEnvs]; ok && value != nil {
		envs, err := envsFromAny(name, value)
		if err != nil {
			return JobSpec{}, err
		}
		spec.Envs = envs
	}
	if value, ok := def[KeyDep]; ok && value != nil {
		dep, isString := value.(string)
		if !isString {
			return JobSpec{}, errors.Errorf("job %s: dep must be a single job name, got %T", name, value)
		}
		spec.Dep = strings.TrimSpace(dep)
	}
	if err := spec.Validate(); err != nil {
		return JobSpec{}, err
	}
	return spec, nil
}

func decodeDefinitions(node *yaml.Node) (Definitions, error) {
	node = resolveNode(node)
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return nil, nil
		}
		node = resolveNode(node.Content[0])
	}
	if node.Kind != yaml.MappingNode {
		return nil, errors.Errorf("line %d: job file must map job names to definitions", node.Line)
	}
	defs := make(Definitions, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		spec, err := decodeJob(node.Content[i].Value, node.Content[i+1])
		if err != nil {
			return nil, err
		}
		defs = append(defs, spec)
	}
	if err := defs.Validate(); err != nil {
		return nil, err
	}
	return defs, nil
}

func decodeJob(name string, node *yaml.Node) (JobSpec, error) {
	spec := JobSpec{Name: name}
	node = resolveNode(node)
	if node.Kind != yaml.MappingNode {
		return JobSpec{}, cerror.ErrInvalidCommands.GenWithStackByArgs(name, fmt.Sprintf("line %d: definition must be a mapping", node.Line))
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		value := resolveNode(node.Content[i+1])
		if isNull(value) {
			continue
		}
		switch key {
		case KeyCmds:
			cmds, err := decodeCommands(name, value)
			if err != nil {
				return JobSpec{}, err
			}
			spec.Cmds = cmds
		case KeyEnvs:
			envs, err := decodeEnvs(name, value)
			if err != nil {
				return JobSpec{}, err
			}
			spec.Envs = envs
		case KeyDep:
			if value.Kind != yaml.ScalarNode {
				return JobSpec{}, errors.Errorf("job %s: line %d: dep must be a single job name", name, value.Line)
			}
			spec.Dep = strings.TrimSpace(value.Value)
		}
	}
	if err := spec.Validate(); err != nil {
		return JobSpec{}, err
	}
	return spec, nil
}

func decodeCommands(name string, node *yaml.Node) ([]string, error) {
	if node.Kind != yaml.SequenceNode {
		return nil, cerror.ErrInvalidCommands.GenWithStackByArgs(name, fmt.Sprintf("line %d: expected a list", node.Line))
	}
	cmds := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		item = resolveNode(item)
		if item.Kind != yaml.ScalarNode || isNull(item) {
			return nil, cerror.ErrInvalidCommands.GenWithStackByArgs(name, fmt.Sprintf("line %d: every command must be a string", item.Line))
		}
		cmds = append(cmds, item.Value)
	}
	return cmds, nil
}

func decodeEnvs(name string, node *yaml.Node) (map[string]string, error) {
	if node.Kind != yaml.MappingNode {
		return nil, cerror.ErrInvalidEnv.GenWithStackByArgs(name, fmt.Sprintf("line %d: expected a mapping", node.Line))
	}
	envs := make(map[string]string, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		value := resolveNode(node.Content[i+1])
		if value.Kind != yaml.ScalarNode || isNull(value) {
			return nil, cerror.ErrInvalidEnv.GenWithStackByArgs(name, fmt.Sprintf("line %d: %s must be a string, number or boolean", value.Line, key))
		}
		str, err := scalarValue(value)
		if err != nil {
			return nil, cerror.ErrInvalidEnv.GenWithStackByArgs(name, fmt.Sprintf("line %d: %s: %v", value.Line, key, err))
		}
		envs[key] = str
	}
	return envs, nil
}

// scalarValue renders a scalar through its resolved type, so `1.50` becomes
// "1.5" and `True` becomes "true", the same text FromMap produces.
func scalarValue(node *yaml.Node) (string, error) {
	switch node.ShortTag() {
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	case "!!int":
		var i int64
		if err := node.Decode(&i); err != nil {
			// out of int64 range, keep the digits
			return node.Value, nil
		}
		return strconv.FormatInt(i, 10), nil
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return "", err
		}
		return fmt.Sprint(f), nil
	default:
		return node.Value, nil
	}
}

func commandsFromAny(name string, value any) ([]string, error) {
	switch typed := value.(type) {
	case []string:
		return cloneStringSlice(typed), nil
	case []any:
		cmds := make([]string, 0, len(typed))
		for idx, item := range typed {
			cmd, ok := item.(string)
			if !ok {
				return nil, cerror.ErrInvalidCommands.GenWithStackByArgs(name, fmt.Sprintf("cmds[%d] is %T", idx, item))
			}
			cmds = append(cmds, cmd)
		}
		return cmds, nil
	default:
		return nil, cerror.ErrInvalidCommands.GenWithStackByArgs(name, fmt.Sprintf("got %T", value))
	}
}

func envsFromAny(name string, value any) (map[string]string, error) {
	if typed, ok := value.(map[string]string); ok {
		return cloneStringMap(typed), nil
	}
	raw, ok := asStringMap(value)
	if !ok {
		return nil, cerror.ErrInvalidEnv.GenWithStackByArgs(name, fmt.Sprintf("got %T", value))
	}
	envs := make(map[string]string, len(raw))
	for key, item := range raw {
		str, ok := scalarString(item)
		if !ok {
			return nil, cerror.ErrInvalidEnv.GenWithStackByArgs(name, fmt.Sprintf("%s is %T", key, item))
		}
		envs[key] = str
	}
	return envs, nil
}

func scalarString(value any) (string, bool) {
	switch typed := value.(type) {
	case string:
		return typed, true
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(typed), true
	default:
		return "", false
	}
}

func asStringMap(value any) (map[string]any, bool) {
	switch typed := value.(type) {
	case map[string]any:
		return typed, true
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			str, ok := key.(string)
			if !ok {
				return nil, false
			}
			out[str] = item
		}
		return out, true
	default:
		return nil, false
	}
}

func resolveNode(node *yaml.Node) *yaml.Node {
	for node != nil && node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	return node
}

func isNull(node *yaml.Node) bool {
	return node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null"
}
