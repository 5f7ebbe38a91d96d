package workflow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	cerror "github.com/kingrea/shellexec/internal/errors"
)

func TestParseDefinitionsYAMLKeepsDeclarationOrder(t *testing.T) {
	const payload = `
fetch:
  cmds:
    - echo fetch
build:
  cmds: [make, make install]
  envs:
    DEBUG: true
    JOBS: 2
    RATIO: 1.5
    NAME: release
  dep: fetch
`
	defs, err := ParseDefinitionsYAML([]byte(payload))
	require.NoError(t, err)
	require.Equal(t, []string{"fetch", "build"}, defs.Names())

	build, ok := defs.Lookup("build")
	require.True(t, ok)
	require.Equal(t, []string{"make", "make install"}, build.Cmds)
	require.Equal(t, "fetch", build.Dep)
	require.Equal(t, map[string]string{
		"DEBUG": "true",
		"JOBS":  "2",
		"RATIO": "1.5",
		"NAME":  "release",
	}, build.Envs)

	fetch, _ := defs.Lookup("fetch")
	require.Empty(t, fetch.Dep)
	require.Nil(t, fetch.Envs)
}

func TestParseDefinitionsYAMLNormalizesEnvScalars(t *testing.T) {
	const payload = `
a:
  cmds: [true]
  envs:
    RATIO: 1.50
    FLAG: True
    MASK: 0x1F
    QUOTED: "1.50"
    ANSWER: yes
`
	defs, err := ParseDefinitionsYAML([]byte(payload))
	require.NoError(t, err)
	want := map[string]string{
		"RATIO":  "1.5",
		"FLAG":   "true",
		"MASK":   "31",
		"QUOTED": "1.50",
		"ANSWER": "yes",
	}
	require.Equal(t, want, defs[0].Envs)

	// the text matches what FromMap renders for decoded values
	fromMap, err := FromMap(map[string]any{"a": map[string]any{
		"cmds": []any{"true"},
		"envs": map[string]any{"RATIO": 1.50, "FLAG": true, "MASK": 0x1F, "QUOTED": "1.50", "ANSWER": "yes"},
	}})
	require.NoError(t, err)
	require.Equal(t, want, fromMap[0].Envs)

	// the manifest keeps the normalized strings
	encoded, err := yaml.Marshal(defs)
	require.NoError(t, err)
	reloaded, err := ParseDefinitionsYAML(encoded)
	require.NoError(t, err)
	require.Equal(t, want, reloaded[0].Envs)
}

func TestParseDefinitionsYAMLAcceptsJSON(t *testing.T) {
	defs, err := ParseDefinitionsYAML([]byte(`{"a": {"cmds": ["echo hi"], "dep": "b"}, "b": {"cmds": ["true"]}}`))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, defs.Names())
	require.Equal(t, "b", defs[0].Dep)
}

func TestParseDefinitionsYAMLRejectsEmptyCommands(t *testing.T) {
	_, err := ParseDefinitionsYAML([]byte("a:\n  cmds: []\n"))
	require.Error(t, err)
	require.True(t, cerror.ErrEmptyCommands.Equal(err), err.Error())

	_, err = ParseDefinitionsYAML([]byte("a:\n  envs: {X: 1}\n"))
	require.True(t, cerror.ErrEmptyCommands.Equal(err), err.Error())
}

func TestParseDefinitionsYAMLRejectsMalformedCommands(t *testing.T) {
	cases := map[string]string{
		"scalar":  "a:\n  cmds: echo hi\n",
		"mapping": "a:\n  cmds: {x: y}\n",
		"nested":  "a:\n  cmds:\n    - [echo, hi]\n",
		"null":    "a:\n  cmds:\n    - ~\n",
	}
	for name, payload := range cases {
		_, err := ParseDefinitionsYAML([]byte(payload))
		require.Error(t, err, name)
		require.True(t, cerror.ErrInvalidCommands.Equal(err), "%s: %v", name, err)
	}
}

func TestParseDefinitionsYAMLRejectsMalformedEnvs(t *testing.T) {
	cases := map[string]string{
		"list":    "a:\n  cmds: [true]\n  envs: [X, Y]\n",
		"nested":  "a:\n  cmds: [true]\n  envs:\n    X:\n      Y: 1\n",
		"listval": "a:\n  cmds: [true]\n  envs:\n    X: [1, 2]\n",
		"scalar":  "a:\n  cmds: [true]\n  envs: X=1\n",
	}
	for name, payload := range cases {
		_, err := ParseDefinitionsYAML([]byte(payload))
		require.Error(t, err, name)
		require.True(t, cerror.ErrInvalidEnv.Equal(err), "%s: %v", name, err)
	}
}

func TestParseDefinitionsYAMLRejectsStructuralProblems(t *testing.T) {
	_, err := ParseDefinitionsYAML([]byte("- a\n- b\n"))
	require.Error(t, err)

	_, err = ParseDefinitionsYAML([]byte("a: echo\n"))
	require.Error(t, err)

	_, err = ParseDefinitionsYAML([]byte("a:\n  cmds: [true]\n  dep: [b, c]\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "dep must be a single job name")

	_, err = ParseDefinitionsYAML([]byte("   \n"))
	require.Error(t, err)
}

func TestValidateNameRejectsPathLikeNames(t *testing.T) {
	for _, name := range []string{"", " a", "a ", ".", "..", "a/b", `a\b`} {
		err := ValidateName(name)
		require.Error(t, err, "name %q", name)
		require.True(t, cerror.ErrInvalidJobName.Equal(err))
	}
	require.NoError(t, ValidateName("build-1.x"))

	_, err := ParseDefinitionsYAML([]byte("nested/job:\n  cmds: [true]\n"))
	require.True(t, cerror.ErrInvalidJobName.Equal(err))
}

func TestDefinitionsValidateRejectsDuplicates(t *testing.T) {
	defs := Definitions{
		{Name: "a", Cmds: []string{"true"}},
		{Name: "a", Cmds: []string{"false"}},
	}
	err := defs.Validate()
	require.True(t, cerror.ErrDuplicateJob.Equal(err))
}

func TestDefinitionsMarshalAsNameMapping(t *testing.T) {
	defs := Definitions{
		{Name: "z", Cmds: []string{"echo z"}},
		{Name: "a", Cmds: []string{"echo a"}, Envs: map[string]string{"K": "v"}, Dep: "z"},
	}
	data, err := yaml.Marshal(defs)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(data), "z:\n"), string(data))

	parsed, err := ParseDefinitionsYAML(data)
	require.NoError(t, err)
	require.Equal(t, defs, parsed)
}

func TestFromMapNormalizesDynamicValues(t *testing.T) {
	defs, err := FromMap(map[string]any{
		"second": map[string]any{
			"cmds": []any{"echo $FLAG"},
			"envs": map[string]any{"FLAG": true, "COUNT": 3},
			"dep":  "first",
		},
		"first": map[string]any{
			"cmds": []string{"true"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second"}, defs.Names())
	require.Equal(t, map[string]string{"FLAG": "true", "COUNT": "3"}, defs[1].Envs)

	_, err = FromMap(map[string]any{"a": map[string]any{"cmds": []any{"ok", 1}}})
	require.True(t, cerror.ErrInvalidCommands.Equal(err))

	_, err = FromMap(map[string]any{"a": map[string]any{"cmds": []any{"ok"}, "envs": map[string]any{"X": []any{1}}}})
	require.True(t, cerror.ErrInvalidEnv.Equal(err))

	_, err = FromMap(map[string]any{"a": map[string]any{"cmds": []any{"ok"}, "envs": "X=1"}})
	require.True(t, cerror.ErrInvalidEnv.Equal(err))
}

func TestLoadDefinitionFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("only:\n  cmds: [echo only]\n"), 0o644))

	defs, err := LoadDefinitionFile(path)
	require.NoError(t, err)
	require.Len(t, defs, 1)

	_, err = LoadDefinitionFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse job file")

	require.NoError(t, os.WriteFile(path, []byte("only:\n  cmds: []\n"), 0o644))
	_, err = LoadDefinitionFile(path)
	require.True(t, cerror.ErrEmptyCommands.Equal(err))
	require.Contains(t, err.Error(), path)
}
