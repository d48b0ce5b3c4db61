package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/pithecene-io/colony/runtime"
	"github.com/pithecene-io/colony/types"
)

// execution is the state of one tick on one VM.
type execution struct {
	vm       *goja.Runtime
	host     *Host
	programs map[string]*goja.Program
	ec       *types.ExecutionContext
	start    time.Time

	modules      map[string]*goja.Object
	result       *types.ExecutionResult
	payloadBytes int64
}

// finishState is what the prelude serializes at the end of a tick.
type finishState struct {
	Memory            *string           `json:"memory"`
	Segments          map[string]string `json:"segments"`
	InterShardSegment *string           `json:"interShardSegment"`
	ActiveSegments    []int             `json:"activeSegments"`
}

func newExecution(vm *goja.Runtime, h *Host, programs map[string]*goja.Program, ec *types.ExecutionContext) *execution {
	return &execution{
		vm:       vm,
		host:     h,
		programs: programs,
		ec:       ec,
		start:    time.Now(),
		modules:  make(map[string]*goja.Object),
		result: &types.ExecutionResult{
			GlobalIntents: make(map[string][]map[string]any),
			RoomIntents:   make(map[string]map[string][]types.IntentRecord),
		},
	}
}

// run installs the API, loads the main module and calls its loop.
func (x *execution) run() error {
	if err := x.install(); err != nil {
		return err
	}
	if _, err := x.vm.RunProgram(preludeProgram); err != nil {
		return err
	}

	exports, err := x.load(runtime.EntryModule)
	if err != nil {
		return err
	}
	loop, ok := goja.AssertFunction(exports.Get("loop"))
	if !ok {
		return ErrNoLoop
	}
	_, err = loop(goja.Undefined())
	return err
}

func (x *execution) install() error {
	segments, err := json.Marshal(stringKeys(x.ec.Segments))
	if err != nil {
		return err
	}

	h := x.vm.NewObject()
	props := map[string]any{
		"memory":            x.ec.Memory,
		"segments":          string(segments),
		"interShardSegment": x.ec.InterShardSegment,
		"gameTime":          x.ec.GameTime,
		"cpuLimit":          x.ec.CPULimit,
		"tickLimit":         x.ec.TickLimit,
		"bucket":            x.ec.CPUBucket,
		"cpuUsed":           x.cpuUsed,
		"intent":            x.intent,
		"globalIntent":      x.globalIntent,
		"notify":            x.notify,
		"log":               x.log,
		"search":            x.search,
	}
	for k, v := range props {
		if err := h.Set(k, v); err != nil {
			return err
		}
	}
	if err := x.vm.Set("__host", h); err != nil {
		return err
	}
	return x.vm.Set("require", x.require)
}

// --- modules ---

func moduleName(name string) string {
	name = strings.TrimSuffix(name, ".js")
	name = path.Clean(name)
	return strings.TrimPrefix(name, "./")
}

func (x *execution) load(name string) (*goja.Object, error) {
	name = moduleName(name)
	if m, ok := x.modules[name]; ok {
		return x.exportsOf(name, m)
	}
	p, ok := x.programs[name]
	if !ok {
		return nil, fmt.Errorf("cannot find module %q", name)
	}

	module := x.vm.NewObject()
	exports := x.vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}
	x.modules[name] = module

	fn, err := x.vm.RunProgram(p)
	if err != nil {
		return nil, err
	}
	call, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, fmt.Errorf("module %q did not compile to a function", name)
	}
	if _, err := call(goja.Undefined(), module, exports, x.vm.Get("require")); err != nil {
		return nil, err
	}
	return x.exportsOf(name, module)
}

func (x *execution) exportsOf(name string, module *goja.Object) (*goja.Object, error) {
	v := module.Get("exports")
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, fmt.Errorf("module %q has no exports", name)
	}
	return v.ToObject(x.vm), nil
}

func (x *execution) require(call goja.FunctionCall) goja.Value {
	exports, err := x.load(call.Argument(0).String())
	if err != nil {
		var ex *goja.Exception
		if errors.As(err, &ex) {
			panic(ex.Value())
		}
		panic(x.vm.NewGoError(err))
	}
	return exports
}

// --- host bindings ---

func (x *execution) cpuUsed(goja.FunctionCall) goja.Value {
	ms := float64(time.Since(x.start)) / float64(time.Millisecond)
	return x.vm.ToValue(ms)
}

func (x *execution) decodePayload(raw string) map[string]any {
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || payload == nil {
		panic(x.vm.NewTypeError("intent payload must be an object"))
	}
	x.payloadBytes += int64(len(raw))
	return payload
}

func (x *execution) intent(call goja.FunctionCall) goja.Value {
	room := call.Argument(0).String()
	action := call.Argument(1).String()
	actor := call.Argument(2).String()
	if room == "" || action == "" {
		panic(x.vm.NewTypeError("intent requires a room and an action"))
	}
	payload := x.decodePayload(call.Argument(3).String())

	byAction, ok := x.result.RoomIntents[room]
	if !ok {
		byAction = make(map[string][]types.IntentRecord)
		x.result.RoomIntents[room] = byAction
	}
	byAction[action] = append(byAction[action], types.IntentRecord{ActorID: actor, Payload: payload})
	return goja.Undefined()
}

func (x *execution) globalIntent(call goja.FunctionCall) goja.Value {
	action := call.Argument(0).String()
	if action == "" {
		panic(x.vm.NewTypeError("globalIntent requires an action"))
	}
	payload := x.decodePayload(call.Argument(1).String())
	x.result.GlobalIntents[action] = append(x.result.GlobalIntents[action], payload)
	return goja.Undefined()
}

func (x *execution) notify(call goja.FunctionCall) goja.Value {
	msg := call.Argument(0).String()
	interval := int(call.Argument(1).ToInteger())
	x.result.Notifications = append(x.result.Notifications, types.Notification{
		Message:       msg,
		GroupInterval: max(interval, 0),
	})
	return goja.Undefined()
}

func (x *execution) log(call goja.FunctionCall) goja.Value {
	if len(x.result.ConsoleLog) < MaxConsoleLines {
		x.result.ConsoleLog = append(x.result.ConsoleLog, call.Argument(0).String())
	}
	return goja.Undefined()
}

// --- result ---

func (x *execution) finish() (*finishState, error) {
	fn, ok := goja.AssertFunction(x.vm.Get("__finish"))
	if !ok {
		return nil, fmt.Errorf("prelude is missing __finish")
	}
	v, err := fn(goja.Undefined())
	if err != nil {
		return nil, err
	}
	var out finishState
	if err := json.Unmarshal([]byte(v.String()), &out); err != nil {
		return nil, fmt.Errorf("decode tick state: %w", err)
	}
	return &out, nil
}

// apply copies the serialized state into the result. Only segments whose
// contents changed are reported.
func (x *execution) apply(out *finishState) {
	res := x.result
	res.Memory = out.Memory

	for key, data := range out.Segments {
		id, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		if prev, ok := x.ec.Segments[id]; ok && prev == data {
			continue
		}
		if res.Segments == nil {
			res.Segments = make(map[int]string)
		}
		res.Segments[id] = data
	}
	if out.InterShardSegment != nil && *out.InterShardSegment != x.ec.InterShardSegment {
		res.InterShardSegment = out.InterShardSegment
	}
	res.ActiveSegments = out.ActiveSegments

	if len(res.RoomIntents) == 0 {
		res.RoomIntents = nil
	}
	if len(res.GlobalIntents) == 0 {
		res.GlobalIntents = nil
	}
}

func stringKeys(in map[int]string) map[string]string {
	out := make(map[string]string, len(in))
	for id, data := range in {
		out[strconv.Itoa(id)] = data
	}
	return out
}
