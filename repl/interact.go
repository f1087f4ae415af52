package repl

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/peterh/liner"
)

const (
	historyFile = ".mvdb_history"
)

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return historyFile
	}
	return filepath.Join(home, historyFile)
}

// Interact runs an interactive console on the terminal, with line editing and history.
func Interact(ex Executor) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	hp := historyPath()
	if f, err := os.Open(hp); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	for {
		s, err := line.Prompt("mvdb> ")
		if err == liner.ErrPromptAborted || err == io.EOF {
			fmt.Println()
			break
		} else if err != nil {
			fmt.Fprintf(os.Stderr, "mvdb: %s\n", err)
			break
		}
		line.AppendHistory(s)

		if execute(ex, s, os.Stdout) == errQuit {
			break
		}
	}

	if f, err := os.Create(hp); err != nil {
		fmt.Fprintf(os.Stderr, "mvdb: error writing history file, %s: %s\n", hp, err)
	} else {
		line.WriteHistory(f)
		f.Close()
	}
}
