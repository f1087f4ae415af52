package main

import (
	"os"

	"github.com/leftmike/mvdb/cmd"
)

func main() {
	if cmd.Execute() != nil {
		os.Exit(1)
	}
}
