package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/leftmike/mvdb/session"
)

// Executor runs one command line; both a local session and a client satisfy it.
type Executor interface {
	Execute(line string) (session.Result, error)
}

var (
	errQuit = errors.New("repl: quit")
)

func PrintResult(w io.Writer, r session.Result) {
	if len(r.Columns) == 0 {
		if r.Tag != "" {
			fmt.Fprintln(w, r.Tag)
		}
		return
	}

	tw := tablewriter.NewWriter(w)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader(r.Columns)
	for _, row := range r.Rows {
		tw.Append(row)
	}
	tw.Render()
	fmt.Fprintf(w, "(%d rows)\n", len(r.Rows))
}

func execute(ex Executor, line string, w io.Writer) error {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "":
		return nil
	case "quit", "exit", `\q`:
		return errQuit
	}

	r, err := ex.Execute(line)
	if err != nil {
		fmt.Fprintln(w, err)
		return nil
	}
	PrintResult(w, r)
	return nil
}

// Run executes each line read from r, writing results and errors to w, until r is exhausted
// or a line is quit or exit.
func Run(ex Executor, r io.Reader, w io.Writer, prompt string) {
	br := bufio.NewReader(r)
	for {
		if prompt != "" {
			io.WriteString(w, prompt)
		}
		line, err := br.ReadString('\n')
		if line != "" {
			if execute(ex, line, w) == errQuit {
				return
			}
		}
		if err != nil {
			return
		}
	}
}
