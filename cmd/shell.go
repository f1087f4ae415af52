package cmd

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/leftmike/mvdb/client"
	"github.com/leftmike/mvdb/repl"
	"github.com/leftmike/mvdb/session"
)

var (
	shellCmd = &cobra.Command{
		Use:   "shell [file ...]",
		Short: "Run commands against a server or a local database",
		Long: "Run commands from -c arguments, from files, or interactively. Commands are sent " +
			"to the server at --host and --port unless --local is given.",
		RunE: shellRun,
	}

	local       = false
	cmdArgs     = []string{}
	dialTimeout = 5 * time.Second
)

func init() {
	fs := shellCmd.Flags()
	initEngineFlags(fs)
	initAddressFlags(fs)

	fs.BoolVar(&local, "local", local, "open the database in --data instead of connecting")
	fs.StringSliceVarP(&cmdArgs, "command", "c", cmdArgs,
		"`command` to execute; multiple allowed")
	fs.DurationVar(&dialTimeout, "timeout", dialTimeout, "connect `timeout`")

	mvdbCmd.AddCommand(shellCmd)
}

func shellRun(cmd *cobra.Command, args []string) error {
	var ex repl.Executor
	if local {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		ses := session.New(e, nil)
		defer ses.Close()
		ex = ses
	} else {
		c, err := client.Dial(net.JoinHostPort(host, port), dialTimeout)
		if err != nil {
			return fmt.Errorf("mvdb: %s", err)
		}
		defer c.Close()
		ex = c
	}

	for _, arg := range cmdArgs {
		r, err := ex.Execute(arg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		repl.PrintResult(os.Stdout, r)
	}

	for _, arg := range args {
		f, err := os.Open(arg)
		if err != nil {
			return fmt.Errorf("mvdb: command file: %s", err)
		}
		repl.Run(ex, f, os.Stdout, "")
		f.Close()
	}

	if len(args) == 0 && len(cmdArgs) == 0 {
		repl.Interact(ex)
	}
	return nil
}
