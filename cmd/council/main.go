package main

import (
	"os"

	"github.com/emilixs/Aicouncil/cmd/council/commands"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	// Errors are printed by the printer package with colour formatting
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
