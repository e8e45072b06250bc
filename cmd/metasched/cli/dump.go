package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskcycle/metasched/internal/store"
)

var storePath string

var dumpStateCmd = &cobra.Command{
	Use:   "dump-state",
	Short: "Render the persisted proxy/class state as the minimal restart dump format",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(storePath)
		if err != nil {
			return err
		}
		defer st.Close()

		proxies, err := st.AllProxies()
		if err != nil {
			return err
		}
		classes, err := st.AllClasses()
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), store.RenderStateDump(proxies, classes))
		return nil
	},
}

func init() {
	dumpStateCmd.Flags().StringVar(&storePath, "store", "state.db", "path to the bbolt state store")
}
