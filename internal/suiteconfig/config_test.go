package suiteconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/taskcycle/metasched/internal/coreerr"
	"github.com/taskcycle/metasched/internal/suiteconfig"
)

const sampleYAML = `
graph_file: graph.txt
default_submit_method: background
max_active_cycles: 3
hold_at_startup: [foo]
families:
  FAM: [alpha, beta]
tasks:
  foo:
    command: "echo foo"
    modifiers: [sequential]
    retry_delays: [1.0, 5.0]
  alpha:
    command: "echo alpha"
`

func writeSuite(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesSettingsAndAppliesDefaults(t *testing.T) {
	path := writeSuite(t, sampleYAML)
	s, err := suiteconfig.Load(path)
	require.NoError(t, err)
	require.Equal(t, "graph.txt", s.GraphFile)
	require.Equal(t, "background", s.DefaultSubmitMethod)
	require.Equal(t, 3, s.MaxActiveCycles)
	require.Equal(t, []string{"foo"}, s.HoldAtStartup)
	require.Equal(t, "metasched", s.Transport.SubjectPrefix, "unset transport fields should fall back to defaults")
	require.Contains(t, s.Tasks, "foo")
	require.Equal(t, []float64{1.0, 5.0}, s.Tasks["foo"].RetryDelays)
}

func TestValidateRejectsMissingGraphFile(t *testing.T) {
	s := &suiteconfig.Settings{}
	err := s.Validate()
	var cfgErr *coreerr.SuiteConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestValidateRejectsIllegalModifier(t *testing.T) {
	s := &suiteconfig.Settings{
		GraphFile: "graph.txt",
		Tasks: map[string]suiteconfig.TaskSettings{
			"foo": {Modifiers: []string{"not-a-real-modifier"}},
		},
	}
	err := s.Validate()
	var cfgErr *coreerr.SuiteConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestBuildDefsFoldsGraphFamiliesAndTaskSettings(t *testing.T) {
	path := writeSuite(t, sampleYAML)
	s, err := suiteconfig.Load(path)
	require.NoError(t, err)

	graphText := "@hours 0\nfoo => bar\n"
	defs, err := suiteconfig.BuildDefs(s, graphText)
	require.NoError(t, err)

	require.Contains(t, defs, "foo")
	require.Contains(t, defs, "bar")
	require.Contains(t, defs, "alpha")
	require.Equal(t, "echo foo", defs["foo"].Command)
	require.Equal(t, "background", defs["bar"].SubmitMethod, "default submit method should fill in tasks absent from the settings block")

	require.Contains(t, defs, "FAM")
	require.Equal(t, "FAM", defs["alpha"].MemberOf)
	require.Equal(t, "FAM", defs["beta"].MemberOf)
}
