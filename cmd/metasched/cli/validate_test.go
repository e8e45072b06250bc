package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testSuiteYAML = `
graph_file: graph.txt
default_submit_method: background
tasks:
  foo:
    command: "echo foo"
`

const testGraphText = "@hours 0\nfoo => bar\n"

func writeTestFiles(t *testing.T) (configPath, graphPath string) {
	t.Helper()
	dir := t.TempDir()
	configPath = filepath.Join(dir, "suite.yaml")
	graphPath = filepath.Join(dir, "graph.txt")
	require.NoError(t, os.WriteFile(configPath, []byte(testSuiteYAML), 0o644))
	require.NoError(t, os.WriteFile(graphPath, []byte(testGraphText), 0o644))
	return configPath, graphPath
}

func TestLoadSuiteCompilesSettingsAndGraphTogether(t *testing.T) {
	configPath, graphPath := writeTestFiles(t)

	settings, defs, err := loadSuite(configPath, graphPath)
	require.NoError(t, err)
	require.Equal(t, "background", settings.DefaultSubmitMethod)
	require.Contains(t, defs, "foo")
	require.Contains(t, defs, "bar")
	require.Equal(t, "echo foo", defs["foo"].Command)
}

func TestLoadSuiteReturnsErrorForMissingGraphFile(t *testing.T) {
	configPath, _ := writeTestFiles(t)

	_, _, err := loadSuite(configPath, filepath.Join(t.TempDir(), "nonexistent.txt"))
	require.Error(t, err)
}

func TestLoadSuiteReturnsErrorForMissingConfigFile(t *testing.T) {
	_, graphPath := writeTestFiles(t)

	_, _, err := loadSuite(filepath.Join(t.TempDir(), "nonexistent.yaml"), graphPath)
	require.Error(t, err)
}
