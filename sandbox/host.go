// Package sandbox hosts tenant scripts on the goja JavaScript engine.
//
// A Host compiles module bundles once per code hash and runs each tick on a
// fresh VM, so no state leaks between calls or tenants. CPU is wall-clock
// time on the VM, cut off by interrupting it at the tick limit.
package sandbox

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"

	"github.com/pithecene-io/colony/log"
	"github.com/pithecene-io/colony/pathfinder"
	"github.com/pithecene-io/colony/runtime"
	"github.com/pithecene-io/colony/types"
)

// DefaultHeapLimit bounds the estimated retained bytes of one tick.
const DefaultHeapLimit = 64 << 20

// MaxConsoleLines caps console output kept per tick.
const MaxConsoleLines = 200

// Errors reported as script errors.
var (
	ErrHeapLimit = errors.New("heap limit exceeded")
	ErrNoLoop    = errors.New("main module does not export a loop function")
)

var errCPUExceeded = errors.New("cpu time limit exceeded")

//go:embed prelude.js
var preludeSource string

var preludeProgram = goja.MustCompile("prelude.js", preludeSource, false)

// Config configures a Host.
type Config struct {
	// HeapLimit is reported to scripts and enforced on the retained result
	// and, while the tick runs, on sampled heap growth.
	HeapLimit int64
	// HeapSampleInterval is how often heap growth is sampled during a tick.
	HeapSampleInterval time.Duration
	// Pathfinder backs PathFinder.search. Nil makes every search incomplete.
	Pathfinder *pathfinder.Service
	// SearchDefaults fill the options a script leaves unset.
	SearchDefaults pathfinder.Options
	Logger         *log.Logger
}

// Host implements runtime.Compiler and runtime.Sandbox.
type Host struct {
	heapLimit      int64
	heapInterval   time.Duration
	heapSample     func() int64
	running        atomic.Int64
	pathfinder     *pathfinder.Service
	searchDefaults pathfinder.Options
	logger         *log.Logger
}

// NewHost creates a script host.
func NewHost(cfg Config) *Host {
	if cfg.HeapLimit <= 0 {
		cfg.HeapLimit = DefaultHeapLimit
	}
	if cfg.HeapSampleInterval <= 0 {
		cfg.HeapSampleInterval = DefaultHeapSampleInterval
	}
	return &Host{
		heapLimit:      cfg.HeapLimit,
		heapInterval:   cfg.HeapSampleInterval,
		heapSample:     liveHeap,
		pathfinder:     cfg.Pathfinder,
		searchDefaults: cfg.SearchDefaults,
		logger:         log.OrNop(cfg.Logger).Named("sandbox"),
	}
}

// Compile implements runtime.Compiler. Every module is wrapped in a
// CommonJS function and compiled to a program.
func (h *Host) Compile(hash string, modules map[string]string) (*runtime.Bundle, error) {
	if _, ok := modules[runtime.EntryModule]; !ok {
		return nil, &runtime.CompileError{Err: runtime.ErrNoEntryModule}
	}
	programs := make(map[string]*goja.Program, len(modules))
	size := 0
	for name, src := range modules {
		p, err := goja.Compile(name+".js", wrapModule(src), false)
		if err != nil {
			return nil, &runtime.CompileError{Module: name, Err: err}
		}
		programs[name] = p
		size += len(src)
	}
	return &runtime.Bundle{
		Hash:     hash,
		Entry:    runtime.EntryModule,
		Modules:  modules,
		Compiled: programs,
		Size:     size,
	}, nil
}

func wrapModule(src string) string {
	return "(function (module, exports, require) {\n" + src + "\n})"
}

// Execute implements runtime.Sandbox.
func (h *Host) Execute(ctx context.Context, b *runtime.Bundle, ec *types.ExecutionContext) (*types.ExecutionResult, error) {
	programs, ok := b.Compiled.(map[string]*goja.Program)
	if !ok {
		return nil, fmt.Errorf("bundle %s was not compiled by this host", b.Hash)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vm := goja.New()
	x := newExecution(vm, h, programs, ec)

	start := x.start
	timer := time.AfterFunc(time.Duration(ec.TickLimit)*time.Millisecond, func() {
		vm.Interrupt(errCPUExceeded)
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()

	stopWatch := h.watchHeap(vm)
	runErr := x.run()
	var out *finishState
	var finishErr error
	if !isInterrupt(runErr) {
		out, finishErr = x.finish()
	}
	heapGrowth := stopWatch()
	elapsed := time.Since(start)

	res := x.result
	res.CPUUsed = int(math.Ceil(float64(elapsed) / float64(time.Millisecond)))
	res.Metrics.Duration = elapsed
	res.Metrics.HeapLimit = h.heapLimit

	if heapInterrupt(runErr) || heapInterrupt(finishErr) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Metrics.HeapUsed = heapGrowth
		return heapExceeded(res), nil
	}
	if isInterrupt(runErr) || isInterrupt(finishErr) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return timedOut(res, ec), nil
	}

	if runErr != nil {
		res.Metrics.ScriptError = true
		res.Error = scriptMessage(runErr)
	}
	if finishErr != nil {
		res.Metrics.ScriptError = true
		if res.Error == "" {
			res.Error = scriptMessage(finishErr)
		}
	}
	if out != nil {
		x.apply(out)
	}

	res.Metrics.HeapUsed = estimateHeap(res) + x.payloadBytes
	if res.Metrics.HeapUsed > h.heapLimit {
		return heapExceeded(res), nil
	}
	return res, nil
}

// heapExceeded turns res into a script error that persists nothing.
func heapExceeded(res *types.ExecutionResult) *types.ExecutionResult {
	res.Metrics.ScriptError = true
	res.Error = ErrHeapLimit.Error()
	res.Memory = nil
	res.Segments = nil
	res.RoomIntents = nil
	res.GlobalIntents = nil
	return res
}

func timedOut(res *types.ExecutionResult, ec *types.ExecutionContext) *types.ExecutionResult {
	return &types.ExecutionResult{
		ConsoleLog: res.ConsoleLog,
		Error:      errCPUExceeded.Error(),
		CPUUsed:    ec.TickLimit,
		Metrics: types.ExecutionMetrics{
			TimedOut:  true,
			HeapLimit: res.Metrics.HeapLimit,
			Duration:  res.Metrics.Duration,
		},
	}
}

func isInterrupt(err error) bool {
	var ie *goja.InterruptedError
	return errors.As(err, &ie)
}

func scriptMessage(err error) string {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return strings.TrimSpace(ex.Error())
	}
	return err.Error()
}

// estimateHeap approximates the bytes a tick retains. goja exposes no heap
// meter, so the serialized outputs stand in for it.
func estimateHeap(res *types.ExecutionResult) int64 {
	var n int64
	if res.Memory != nil {
		n += int64(len(*res.Memory))
	}
	for _, seg := range res.Segments {
		n += int64(len(seg))
	}
	for _, line := range res.ConsoleLog {
		n += int64(len(line))
	}
	return n
}

var (
	_ runtime.Compiler = (*Host)(nil)
	_ runtime.Sandbox  = (*Host)(nil)
)
