// Package main provides the colony CLI entrypoint.
//
// Usage:
//
//	colony <command> [subcommand] [options]
//
// Exit codes:
//   - 0: success
//   - 1: tick failure or unknown entity
//   - 2: invalid configuration
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/colony/cli/cmd"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := cmd.NewApp(commit)
	app.ExitErrHandler = func(_ *cli.Context, err error) {
		if err == nil {
			return
		}
		os.Exit(exitCode(err, os.Stderr))
	}
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// exitCode prints err and returns the process exit code, preserving codes
// from cli.Exit.
func exitCode(err error, stderr io.Writer) int {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		// cli.Exit("", N).Error() is "exit status N"; skip those.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(stderr, msg)
		}
		return code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}
