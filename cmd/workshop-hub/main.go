// Package main is the entry point for the workshop-hub CLI.
//
// All functionality lives in internal/cli. Build-time variables are
// injected with -ldflags "-X main.version=...".
package main

import (
	"github.com/shinji-kodama/workshop-hub/internal/cli"
)

// Overridden at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	cli.Execute(cli.NewRootCommand())
}
