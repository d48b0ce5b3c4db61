// Package cmd provides CLI commands for the colony binary.
package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/colony/cli/config"
	"github.com/pithecene-io/colony/log"
)

// Shared flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// ConfigFlag points at a colony.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to colony.yaml (defaults apply when omitted)",
		EnvVars: []string{"COLONY_CONFIG"},
	}

	// SeedFlag overrides the seed file of the config.
	SeedFlag = &cli.StringFlag{
		Name:  "seed",
		Usage: "World seed file applied at startup",
	}

	// LogLevelFlag overrides the log level of the config.
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error",
	}
)

// WorldFlags returns the flags of every command that opens the world.
func WorldFlags() []cli.Flag {
	return []cli.Flag{ConfigFlag, SeedFlag, LogLevelFlag}
}

// ReadOnlyFlags returns the flags of commands that render a result.
func ReadOnlyFlags() []cli.Flag {
	return append(WorldFlags(), FormatFlag)
}

// loadConfig reads --config (or the defaults) and applies flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String(ConfigFlag.Name); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if c.IsSet(SeedFlag.Name) {
		cfg.Seed = c.String(SeedFlag.Name)
	}
	if c.IsSet(LogLevelFlag.Name) {
		cfg.LogLevel = c.String(LogLevelFlag.Name)
	}
	return cfg, nil
}

func newLogger(c *cli.Context, cfg *config.Config) *log.Logger {
	return log.New(log.Options{
		Component: "colony",
		Level:     cfg.LogLevel,
		Output:    c.App.ErrWriter,
	})
}

// openWorld loads config and builds the world for one command.
func openWorld(c *cli.Context) (*World, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitConfigError)
	}
	w, err := BuildWorld(c.Context, cfg, newLogger(c, cfg))
	if err != nil {
		return nil, cli.Exit(err.Error(), exitConfigError)
	}
	return w, nil
}
