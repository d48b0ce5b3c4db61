package cmd

import (
	"context"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/colony/cli/render"
	"github.com/pithecene-io/colony/driver"
)

// TickRow is one tick of the tick command output.
type TickRow struct {
	GameTime   int64 `json:"gameTime" yaml:"gameTime"`
	Users      int   `json:"users" yaml:"users"`
	Rooms      int   `json:"rooms" yaml:"rooms"`
	UsersMS    int64 `json:"usersMs" yaml:"usersMs"`
	RoomsMS    int64 `json:"roomsMs" yaml:"roomsMs"`
	DurationMS int64 `json:"durationMs" yaml:"durationMs"`
}

func newTickRow(r *driver.TickReport) TickRow {
	return TickRow{
		GameTime:   r.GameTime,
		Users:      r.Users,
		Rooms:      r.Rooms,
		UsersMS:    r.Phases[driver.PhaseUsers].Milliseconds(),
		RoomsMS:    r.Phases[driver.PhaseRooms].Milliseconds(),
		DurationMS: r.Duration.Milliseconds(),
	}
}

// TickCommand returns the tick command: run N ticks back to back and
// report each one.
func TickCommand() *cli.Command {
	return &cli.Command{
		Name:  "tick",
		Usage: "Run a fixed number of ticks and report them",
		Flags: append(ReadOnlyFlags(),
			&cli.IntFlag{
				Name:  "count",
				Usage: "Number of ticks to run",
				Value: 1,
			},
		),
		Action: tickAction,
	}
}

func tickAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	count := c.Int("count")
	if count <= 0 {
		return cli.Exit("--count must be > 0", exitConfigError)
	}

	w, err := openWorld(c)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	rows, err := runTicks(c.Context, w, count)
	if err != nil {
		return cli.Exit(err.Error(), exitTickFailure)
	}
	return r.Render(rows)
}

func runTicks(ctx context.Context, w *World, count int) ([]TickRow, error) {
	rows := make([]TickRow, 0, count)
	err := serve(ctx, w, 0, count, func(report *driver.TickReport) {
		rows = append(rows, newTickRow(report))
	})
	return rows, err
}
