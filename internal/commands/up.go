// Copyright 2025 The Pipewright Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pipewright/pipewright/internal/config"
	"github.com/pipewright/pipewright/internal/engine/events"
	"github.com/pipewright/pipewright/internal/engine/runner"
	"github.com/pipewright/pipewright/internal/engine/scheduler"
	"github.com/pipewright/pipewright/internal/executor"
	"github.com/pipewright/pipewright/internal/history"
	"github.com/pipewright/pipewright/internal/log"
	"github.com/pipewright/pipewright/internal/watcher"
	"github.com/pipewright/pipewright/pkg/pipeline"
)

// NewUpCommand creates the up command.
func NewUpCommand() *cobra.Command {
	var (
		file string
		once bool
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Watch and run the pipeline in this terminal",
		Long: `Up runs the engine in the foreground, without the daemon. It loads the
pipeline file, starts a run, streams output here, and reloads on every
save until interrupted. With --once it exits after the first run
finishes, reporting failure through the exit code.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUp(cmd, file, once)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "pipeline file to run (defaults to pipewright.yaml)")
	cmd.Flags().BoolVar(&once, "once", false, "exit after the first run finishes")
	return cmd
}

// upEngine is the in-process engine assembled by up: the same components
// the daemon runs, minus the HTTP surface.
type upEngine struct {
	cfg   *config.Config
	store *history.Store
	bus   *events.Bus
	sched *scheduler.Scheduler
	watch *watcher.Watcher
}

func runUp(cmd *cobra.Command, file string, once bool) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if file != "" {
		cfg.PipelinePath = file
	}
	if err := cfg.ResolvePaths(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	// Engine logs would interleave with the streamed output; keep them
	// quiet unless asked for.
	logCfg := log.FromEnv()
	if !GetVerbose() {
		logCfg.Output = io.Discard
	}
	logger := log.WithComponent(log.New(logCfg), "up")

	eng, err := assembleUpEngine(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Subscribe before anything can publish so the first events are not
	// missed.
	ch, unsubscribe := eng.bus.Subscribe(events.AllJobs)
	defer unsubscribe()

	if err := eng.sched.Start(ctx); err != nil {
		eng.store.Close()
		return err
	}

	reload := func(ctx context.Context) error {
		return upReload(ctx, cmd, eng)
	}
	eng.watch, err = watcher.New(watcher.Config{
		Path:         cfg.PipelinePath,
		Mode:         watcher.Mode(cfg.WatchMode),
		PollInterval: cfg.PollInterval,
		Reload:       reload,
		Logger:       logger,
	})
	if err != nil {
		eng.store.Close()
		return err
	}

	if err := reload(ctx); err != nil {
		if once {
			eng.shutdown(cmd)
			return NewInvalidPipelineError(fmt.Sprintf("invalid pipeline %s", cfg.PipelinePath), err)
		}
		cmd.PrintErrf("%s %v\n", RenderWarn(SymbolWarn), err)
		cmd.PrintErrln(Muted.Render("  waiting for a valid pipeline file"))
	}

	if err := eng.watch.Start(ctx); err != nil {
		eng.shutdown(cmd)
		return err
	}

	cmd.Printf("%s\n", Muted.Render("watching "+cfg.PipelinePath+" (Ctrl-C to stop)"))

	for {
		select {
		case <-ctx.Done():
			cmd.Println()
			cmd.Println(RenderWarn(SymbolWarn) + " stopping")
			eng.shutdown(cmd)
			drainEvents(cmd, ch)
			return nil

		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			printUpEvent(cmd, ev)
			if once && ev.Kind == events.KindRunState && isTerminalRunState(ev.State) {
				eng.shutdown(cmd)
				drainEvents(cmd, ch)
				if ev.State != "success" {
					return &ExitError{Code: ExitFailure, Message: "run " + ev.State}
				}
				return nil
			}
		}
	}
}

func assembleUpEngine(cfg *config.Config, logger *slog.Logger) (*upEngine, error) {
	store, err := history.New(history.Config{Path: cfg.HistoryPath()})
	if err != nil {
		return nil, err
	}

	bus := events.NewBus()
	docker := executor.NewDocker(executor.Config{
		Binary: cfg.RuntimeBinary,
		Sink:   bus.Publish,
		Logger: logger,
	})

	run, err := runner.New(runner.Config{
		Executor:     docker,
		StepTimeout:  cfg.StepTimeout,
		ShortCircuit: cfg.ShortCircuit,
		Workspace:    cfg.Workspace,
		Logger:       logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	sched, err := scheduler.New(scheduler.Config{
		Runner:      run,
		History:     store,
		Bus:         bus,
		MaxParallel: cfg.MaxParallel,
		Logger:      logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &upEngine{cfg: cfg, store: store, bus: bus, sched: sched}, nil
}

// upReload parses the pipeline file and swaps it in as the active run.
func upReload(ctx context.Context, cmd *cobra.Command, eng *upEngine) error {
	p, err := pipeline.ParseFile(eng.cfg.PipelinePath)
	if err != nil {
		return err
	}

	runID, err := eng.sched.LoadRun(ctx, p, eng.cfg.PipelinePath)
	if err != nil {
		return err
	}

	cmd.Printf("\n%s %s %s\n",
		Bold.Render(p.Name),
		Muted.Render("loaded,"),
		Muted.Render(fmt.Sprintf("%d jobs (run %s)", len(p.Jobs), runID)))

	return eng.sched.StartRun(ctx)
}

// shutdown tears the engine down in dependency order. The scheduler drains
// first so no job reports into a closed store.
func (e *upEngine) shutdown(cmd *cobra.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
	defer cancel()

	if e.watch != nil {
		if err := e.watch.Stop(); err != nil {
			cmd.PrintErrf("%s watcher stop: %v\n", RenderWarn(SymbolWarn), err)
		}
	}
	if err := e.sched.Shutdown(ctx); err != nil {
		cmd.PrintErrf("%s shutdown: %v\n", RenderWarn(SymbolWarn), err)
	}
	e.bus.Close()
	if err := e.store.Close(); err != nil {
		cmd.PrintErrf("%s history close: %v\n", RenderWarn(SymbolWarn), err)
	}
}

// drainEvents prints whatever the bus buffered before it closed.
func drainEvents(cmd *cobra.Command, ch <-chan events.Event) {
	for ev := range ch {
		printUpEvent(cmd, ev)
	}
}

func printUpEvent(cmd *cobra.Command, ev events.Event) {
	switch ev.Kind {
	case events.KindLog:
		tag := Muted.Render(ev.Job + " |")
		switch ev.Stream {
		case events.StreamStderr:
			cmd.Printf("  %s %s %s\n", tag, StatusWarn.Render("!"), ev.Line)
		case events.StreamSystem:
			cmd.Printf("  %s %s\n", tag, Muted.Render(ev.Line))
		default:
			cmd.Printf("  %s %s\n", tag, ev.Line)
		}

	case events.KindJobState:
		line := fmt.Sprintf("%s %s %s", StateGlyph(ev.State), ev.Job, StateStyle(ev.State).Render(ev.State))
		if ev.Reason != "" {
			line += "  " + Muted.Render(ev.Reason)
		}
		cmd.Println(line)

	case events.KindRunState:
		line := fmt.Sprintf("%s run %s", StateGlyph(ev.State), StateStyle(ev.State).Render(ev.State))
		if ev.Reason != "" {
			line += "  " + Muted.Render(ev.Reason)
		}
		cmd.Println(line)
	}
}

func isTerminalRunState(state string) bool {
	switch state {
	case "success", "failed", "stopped", "stalled":
		return true
	}
	return false
}
