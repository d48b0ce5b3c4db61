package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/colony/driver"
)

// Exit codes.
const (
	exitSuccess     = 0
	exitTickFailure = 1
	exitConfigError = 2
)

// maxConsecutiveFailures stops the main loop after this many failed ticks
// in a row.
const maxConsecutiveFailures = 10

// RunCommand returns the run command: the runner loop, the processor loop
// and the main tick loop in one process.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the tick loops until interrupted",
		Flags: append(WorldFlags(),
			&cli.IntFlag{
				Name:  "ticks",
				Usage: "Stop after this many ticks (0 = no limit)",
			},
			&cli.DurationFlag{
				Name:  "tick-interval",
				Usage: "Minimum time between tick starts (overrides loops.tick_interval)",
			},
		),
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	w, err := openWorld(c)
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	interval := w.Config.Loops.TickInterval.Duration
	if c.IsSet("tick-interval") {
		interval = c.Duration("tick-interval")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = serve(ctx, w, interval, c.Int("ticks"), nil)
	snap := w.Metrics.Snapshot()
	w.Logger.Info("colony stopped", map[string]any{
		"ticks":            snap.Ticks,
		"game_time":        snap.GameTime,
		"rooms_processed":  snap.RoomsProcessed,
		"rooms_failed":     snap.RoomsFailed,
		"intents_accepted": snap.IntentsAccepted,
		"intents_rejected": snap.IntentsRejected,
	})
	if err != nil {
		return cli.Exit(err.Error(), exitTickFailure)
	}
	return nil
}

// serve runs both schedulers and the main loop until ctx is done or
// maxTicks ticks completed. A failed tick resets the queues and is retried
// until maxConsecutiveFailures is reached.
func serve(ctx context.Context, w *World, interval time.Duration, maxTicks int, onTick func(*driver.TickReport)) error {
	runner, proc, err := w.Schedulers()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	loopCtx, stopLoops := context.WithCancel(gctx)
	defer stopLoops()

	g.Go(func() error { runner.Run(loopCtx); return nil })
	g.Go(func() error { proc.Run(loopCtx); return nil })
	g.Go(func() error {
		defer stopLoops()
		return mainLoop(gctx, w, interval, maxTicks, onTick)
	})
	return g.Wait()
}

func mainLoop(ctx context.Context, w *World, interval time.Duration, maxTicks int, onTick func(*driver.TickReport)) error {
	failures := 0
	for done := 0; maxTicks == 0 || done < maxTicks; {
		started := time.Now()
		report, err := w.Driver.Tick(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			failures++
			w.Logger.Error("tick failed", map[string]any{"error": err.Error(), "consecutive": failures})
			if resetErr := w.ResetQueues(ctx); resetErr != nil {
				w.Logger.Error("queue reset failed", map[string]any{"error": resetErr.Error()})
			}
			if failures >= maxConsecutiveFailures {
				return err
			}
		default:
			failures = 0
			done++
			if onTick != nil {
				onTick(report)
			}
		}

		wait := interval - time.Since(started)
		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
	return nil
}
