package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leftmike/mvdb/engine"
)

var (
	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Open the database, recovering it if necessary, and report on it",
		RunE:  checkRun,
	}
)

func init() {
	initEngineFlags(checkCmd.Flags())

	mvdbCmd.AddCommand(checkCmd)
}

func checkRun(cmd *cobra.Command, args []string) error {
	if !engine.Exists(dataDir) {
		return fmt.Errorf("mvdb: no database in %s", dataDir)
	}
	e, err := engine.Open(engineOptions())
	if err != nil {
		return fmt.Errorf("mvdb: %s", err)
	}

	fmt.Printf("data: %s\n", dataDir)
	fmt.Printf("recovered: %v\n", e.DM().Recovered())
	fmt.Printf("pages: %d\n", e.DM().PageCount())
	fmt.Printf("epoch: %d\n", e.TM().Epoch())

	idxs, err := e.Indexes()
	if err != nil {
		e.Close()
		return fmt.Errorf("mvdb: %s", err)
	}
	for _, name := range idxs {
		tree, err := e.Index(name)
		if err != nil {
			e.Close()
			return fmt.Errorf("mvdb: index %s: %s", name, err)
		}
		fmt.Printf("index: %s (boot %d)\n", name, tree.BootUID())
	}

	return e.Close()
}
