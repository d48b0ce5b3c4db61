package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/colony/types"
)

// NewApp assembles the colony CLI.
func NewApp(commit string) *cli.App {
	return &cli.App{
		Name:    "colony",
		Usage:   "Tick orchestration backend for a multiplayer strategy world",
		Version: fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		Commands: []*cli.Command{
			RunCommand(),
			TickCommand(),
			InspectCommand(),
			ListCommand(),
			VersionCommand(commit),
		},
	}
}
