// Command metasched runs the cycling workflow metascheduler core.
package main

import (
	"fmt"
	"os"

	"github.com/taskcycle/metasched/cmd/metasched/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
