package sandbox

import (
	"bytes"
	"encoding/json"

	"github.com/dop251/goja"

	"github.com/pithecene-io/colony/pathfinder"
	"github.com/pithecene-io/colony/types"
)

// goalArg accepts either a bare position or {pos, range}.
type goalArg struct {
	X        int             `json:"x"`
	Y        int             `json:"y"`
	RoomName string          `json:"roomName"`
	Pos      *types.Position `json:"pos"`
	Range    int             `json:"range"`
}

func (g goalArg) goal() pathfinder.Goal {
	if g.Pos != nil {
		return pathfinder.Goal{Pos: *g.Pos, Range: g.Range}
	}
	return pathfinder.Goal{Pos: types.Position{X: g.X, Y: g.Y, Room: g.RoomName}, Range: g.Range}
}

type searchOpts struct {
	PlainCost       int                         `json:"plainCost"`
	SwampCost       int                         `json:"swampCost"`
	MaxOps          int                         `json:"maxOps"`
	MaxRooms        int                         `json:"maxRooms"`
	MaxCost         int                         `json:"maxCost"`
	Flee            bool                        `json:"flee"`
	HeuristicWeight float64                     `json:"heuristicWeight"`
	Roads           map[string][]types.Position `json:"roads"`
}

// options merges the script's options over the host defaults.
func (o searchOpts) options(def pathfinder.Options) pathfinder.Options {
	out := def
	out.Flee = o.Flee
	out.Roads = o.Roads
	out.MaxCost = o.MaxCost
	if o.PlainCost > 0 {
		out.PlainCost = o.PlainCost
	}
	if o.SwampCost > 0 {
		out.SwampCost = o.SwampCost
	}
	if o.MaxOps > 0 {
		out.MaxOps = o.MaxOps
	}
	if o.MaxRooms > 0 {
		out.MaxRooms = o.MaxRooms
	}
	if o.HeuristicWeight > 0 {
		out.HeuristicWeight = o.HeuristicWeight
	}
	return out
}

func parseGoals(raw []byte) ([]pathfinder.Goal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var args []goalArg
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		goals := make([]pathfinder.Goal, len(args))
		for i, a := range args {
			goals[i] = a.goal()
		}
		return goals, nil
	}
	var a goalArg
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return []pathfinder.Goal{a.goal()}, nil
}

// search backs PathFinder.search(origin, goal, opts).
func (x *execution) search(call goja.FunctionCall) goja.Value {
	var origin types.Position
	if err := json.Unmarshal([]byte(call.Argument(0).String()), &origin); err != nil {
		panic(x.vm.NewTypeError("PathFinder.search: invalid origin"))
	}
	goals, err := parseGoals([]byte(call.Argument(1).String()))
	if err != nil {
		panic(x.vm.NewTypeError("PathFinder.search: invalid goal"))
	}
	var opts searchOpts
	if err := json.Unmarshal([]byte(call.Argument(2).String()), &opts); err != nil {
		panic(x.vm.NewTypeError("PathFinder.search: invalid options"))
	}

	res := pathfinder.Result{Path: []types.Position{}, Incomplete: true}
	if x.host.pathfinder != nil {
		res, err = x.host.pathfinder.Search(origin, goals, opts.options(x.host.searchDefaults))
		if err != nil {
			panic(x.vm.NewTypeError("PathFinder.search: " + err.Error()))
		}
		if res.Path == nil {
			res.Path = []types.Position{}
		}
	}
	out, err := json.Marshal(res)
	if err != nil {
		panic(x.vm.NewGoError(err))
	}
	return x.vm.ToValue(string(out))
}
