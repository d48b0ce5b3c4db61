package cmd

import (
	"context"
	"maps"
	"slices"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/colony/cli/render"
	"github.com/pithecene-io/colony/storage"
)

// ListCommand returns the list command with subcommands.
// List returns thin slices; use inspect for detail.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List rooms or active users",
		Subcommands: []*cli.Command{
			{
				Name:   "rooms",
				Usage:  "List every room with terrain",
				Flags:  ReadOnlyFlags(),
				Action: listRoomsAction,
			},
			{
				Name:   "users",
				Usage:  "List active users",
				Flags:  ReadOnlyFlags(),
				Action: listUsersAction,
			},
		},
	}
}

// RoomRow is one row of list rooms.
type RoomRow struct {
	Name    string `json:"name" yaml:"name"`
	Status  string `json:"status" yaml:"status"`
	Active  bool   `json:"active" yaml:"active"`
	Objects int    `json:"objects" yaml:"objects"`
	Intents bool   `json:"intents" yaml:"intents"`
}

// UserRow is one row of list users.
type UserRow struct {
	ID           string `json:"id" yaml:"id"`
	Username     string `json:"username" yaml:"username"`
	CPU          int    `json:"cpu" yaml:"cpu"`
	CPUAvailable int    `json:"cpuAvailable" yaml:"cpuAvailable"`
}

func listRoomsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	w, err := openWorld(c)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	rows, err := listRooms(c.Context, w.Store)
	if err != nil {
		return err
	}
	return r.Render(rows)
}

func listRooms(ctx context.Context, store storage.Store) ([]RoomRow, error) {
	terrain, err := store.LoadAllTerrain(ctx)
	if err != nil {
		return nil, err
	}
	withIntents, err := store.RoomsWithIntents(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]RoomRow, 0, len(terrain))
	for _, name := range slices.Sorted(maps.Keys(terrain)) {
		info, err := store.LoadRoom(ctx, name)
		if err != nil {
			return nil, err
		}
		objects, err := store.LoadObjects(ctx, name)
		if err != nil {
			return nil, err
		}
		rows = append(rows, RoomRow{
			Name:    name,
			Status:  info.Status,
			Active:  info.Active,
			Objects: len(objects),
			Intents: slices.Contains(withIntents, name),
		})
	}
	return rows, nil
}

func listUsersAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	w, err := openWorld(c)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	rows, err := listUsers(c.Context, w.Store)
	if err != nil {
		return err
	}
	return r.Render(rows)
}

func listUsers(ctx context.Context, store storage.Store) ([]UserRow, error) {
	ids, err := store.ActiveUserIDs(ctx)
	if err != nil {
		return nil, err
	}
	users, err := store.LoadUsers(ctx, ids)
	if err != nil {
		return nil, err
	}
	rows := make([]UserRow, 0, len(ids))
	for _, id := range ids {
		u, ok := users[id]
		if !ok {
			continue
		}
		rows = append(rows, UserRow{ID: u.ID, Username: u.Username, CPU: u.CPU, CPUAvailable: u.CPUAvailable})
	}
	return rows, nil
}
