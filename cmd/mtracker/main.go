// Package main provides the mtracker CLI entrypoint.
//
// Usage:
//
//	mtracker worker --config mtracker.yaml
//	mtracker scheduler --config mtracker.yaml
//	mtracker fetch --hash <dhash> --family <family> --config mtracker.yaml
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:    "mtracker",
		Usage:   "Botnet C2 tracking orchestrator",
		Version: fmt.Sprintf("0.1.0 (commit: %s)", commit),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "mtracker.yaml", Usage: "path to the mtracker config file"},
		},
		Commands: []*cli.Command{
			workerCommand(),
			schedulerCommand(),
			fetchCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
