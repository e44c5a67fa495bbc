package main

import (
	"os"

	"github.com/engramhq/engram/cmd/engram/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
