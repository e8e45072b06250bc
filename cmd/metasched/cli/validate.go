package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taskcycle/metasched/internal/graph"
	"github.com/taskcycle/metasched/internal/suiteconfig"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load and compile the suite configuration and graph without running",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, defs, err := loadSuite(configFile, graphFile)
		if err != nil {
			return err
		}
		if err := settings.Validate(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "suite valid: %d task definitions\n", len(defs))
		return nil
	},
}

func loadSuite(configPath, graphPath string) (*suiteconfig.Settings, graph.Defs, error) {
	settings, err := suiteconfig.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	graphText, err := os.ReadFile(graphPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read graph file %s: %w", graphPath, err)
	}
	defs, err := suiteconfig.BuildDefs(settings, string(graphText))
	if err != nil {
		return nil, nil, err
	}
	return settings, defs, nil
}
