package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const (
	version = "mvdb 0.1.0"
)

func init() {
	mvdbCmd.AddCommand(
		&cobra.Command{
			Use:   "version",
			Short: "Print the version number of mvdb",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(version)
			},
		})
}
