package cmd

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/colony/cli/render"
	"github.com/pithecene-io/colony/storage"
	"github.com/pithecene-io/colony/types"
)

// InspectCommand returns the inspect command with subcommands.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a single room or user",
		Subcommands: []*cli.Command{
			{
				Name:      "room",
				Usage:     "Inspect a room: document, objects and pending intents",
				ArgsUsage: "<room>",
				Flags:     ReadOnlyFlags(),
				Action:    inspectRoomAction,
			},
			{
				Name:      "user",
				Usage:     "Inspect a user's runtime state",
				ArgsUsage: "<user-id>",
				Flags:     ReadOnlyFlags(),
				Action:    inspectUserAction,
			},
		},
	}
}

// RoomView is the inspect room response.
type RoomView struct {
	Name        string       `json:"name" yaml:"name"`
	Status      string       `json:"status" yaml:"status"`
	Active      bool         `json:"active" yaml:"active"`
	GameTime    int64        `json:"gameTime" yaml:"gameTime"`
	InvaderGoal int          `json:"invaderGoal" yaml:"invaderGoal"`
	Objects     []ObjectRow  `json:"objects" yaml:"objects"`
	Intents     []IntentRow  `json:"intents" yaml:"intents"`
	Flags       []types.Flag `json:"flags" yaml:"flags"`
}

// ObjectRow is a thin view of one room object.
type ObjectRow struct {
	ID      string `json:"id" yaml:"id"`
	Type    string `json:"type" yaml:"type"`
	X       int    `json:"x" yaml:"x"`
	Y       int    `json:"y" yaml:"y"`
	User    string `json:"user,omitempty" yaml:"user,omitempty"`
	Hits    int    `json:"hits,omitempty" yaml:"hits,omitempty"`
	HitsMax int    `json:"hitsMax,omitempty" yaml:"hitsMax,omitempty"`
	Saying  string `json:"saying,omitempty" yaml:"saying,omitempty"`
}

// IntentRow counts one user's pending intents in a room.
type IntentRow struct {
	User    string `json:"user" yaml:"user"`
	Records int    `json:"records" yaml:"records"`
	Actions string `json:"actions" yaml:"actions"`
}

// positional returns the single positional argument. Flags after it are
// left unparsed by urfave/cli, so trailing arguments are an error.
func positional(c *cli.Context, name string) (string, error) {
	switch {
	case c.NArg() < 1:
		return "", cli.Exit(name+" required", exitConfigError)
	case c.NArg() > 1:
		return "", cli.Exit(fmt.Sprintf("unexpected arguments after %s: %s (flags must come first)",
			name, strings.Join(c.Args().Tail(), " ")), exitConfigError)
	}
	return c.Args().First(), nil
}

func inspectRoomAction(c *cli.Context) error {
	room, err := positional(c, "room name")
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	w, err := openWorld(c)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	view, err := loadRoomView(c.Context, w.Store, room)
	if errors.Is(err, storage.ErrRoomNotFound) {
		return cli.Exit(err.Error(), 1)
	}
	if err != nil {
		return err
	}
	return r.Render(view)
}

func loadRoomView(ctx context.Context, store storage.Store, room string) (*RoomView, error) {
	info, err := store.LoadRoom(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("room %s: %w", room, err)
	}
	gameTime, err := store.GameTime(ctx)
	if err != nil {
		return nil, err
	}
	objects, err := store.LoadObjects(ctx, room)
	if err != nil {
		return nil, err
	}
	flags, err := store.LoadFlags(ctx, room)
	if err != nil {
		return nil, err
	}
	intents, err := store.LoadRoomIntents(ctx, room)
	if err != nil {
		return nil, err
	}

	view := &RoomView{
		Name:        info.ID,
		Status:      info.Status,
		Active:      info.Active,
		GameTime:    gameTime,
		InvaderGoal: info.InvaderGoal,
		Objects:     make([]ObjectRow, 0, len(objects)),
		Flags:       flags,
	}
	for _, o := range objects {
		view.Objects = append(view.Objects, ObjectRow{
			ID: o.ID, Type: o.Type, X: o.X, Y: o.Y, User: o.User, Hits: o.Hits, HitsMax: o.HitsMax, Saying: o.Saying,
		})
	}
	slices.SortFunc(view.Objects, func(a, b ObjectRow) int {
		if c := strings.Compare(a.Type, b.Type); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	for user, byAction := range intents {
		actions := slices.Sorted(maps.Keys(byAction))
		view.Intents = append(view.Intents, IntentRow{
			User:    user,
			Records: byAction.Count(),
			Actions: strings.Join(actions, ","),
		})
	}
	slices.SortFunc(view.Intents, func(a, b IntentRow) int { return strings.Compare(a.User, b.User) })
	return view, nil
}

// UserView is the inspect user response. Module sources are omitted.
type UserView struct {
	ID             string   `json:"id" yaml:"id"`
	CodeHash       string   `json:"codeHash" yaml:"codeHash"`
	Modules        []string `json:"modules" yaml:"modules"`
	CPULimit       int      `json:"cpuLimit" yaml:"cpuLimit"`
	CPUBucket      int      `json:"cpuBucket" yaml:"cpuBucket"`
	MemoryBytes    int      `json:"memoryBytes" yaml:"memoryBytes"`
	ActiveSegments []int    `json:"activeSegments" yaml:"activeSegments"`
}

func inspectUserAction(c *cli.Context) error {
	id, err := positional(c, "user id")
	if err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	w, err := openWorld(c)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	data, err := w.Store.LoadRuntimeData(c.Context, id)
	if errors.Is(err, storage.ErrUserNotFound) {
		return cli.Exit(fmt.Sprintf("user %s: %v", id, err), 1)
	}
	if err != nil {
		return err
	}
	return r.Render(newUserView(data))
}

func newUserView(data *types.UserRuntimeData) *UserView {
	modules := make([]string, 0, len(data.Modules))
	for name := range data.Modules {
		modules = append(modules, name)
	}
	slices.Sort(modules)
	return &UserView{
		ID:             data.UserID,
		CodeHash:       data.CodeHash,
		Modules:        modules,
		CPULimit:       data.CPULimit,
		CPUBucket:      data.CPUBucket,
		MemoryBytes:    len(data.Memory),
		ActiveSegments: data.ActiveSegments,
	}
}
