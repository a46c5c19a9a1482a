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

// Package daemon assembles the engine components into the pipewrightd
// process: history store, event bus, executor, scheduler, file watcher,
// and the HTTP API served over unix socket and optional TCP.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pipewright/pipewright/internal/api"
	"github.com/pipewright/pipewright/internal/config"
	"github.com/pipewright/pipewright/internal/engine/events"
	"github.com/pipewright/pipewright/internal/engine/runner"
	"github.com/pipewright/pipewright/internal/engine/scheduler"
	"github.com/pipewright/pipewright/internal/executor"
	"github.com/pipewright/pipewright/internal/history"
	"github.com/pipewright/pipewright/internal/listener"
	"github.com/pipewright/pipewright/internal/log"
	"github.com/pipewright/pipewright/internal/tracing"
	"github.com/pipewright/pipewright/internal/watcher"
	"github.com/pipewright/pipewright/pkg/pipeline"
)

// Options contains daemon options set at build time.
type Options struct {
	Version   string
	Commit    string
	BuildDate string
}

// Daemon is the main pipewrightd daemon.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	store  *history.Store
	bus    *events.Bus
	sched  *scheduler.Scheduler
	watch  *watcher.Watcher
	traces *tracing.Provider
	server *http.Server

	mu      sync.Mutex
	started bool
}

// New wires up a daemon from cfg. Paths are resolved and the history
// store is opened here; nothing starts running until Start.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := log.WithComponent(log.New(log.FromEnv()), "daemon")

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	store, err := history.New(history.Config{Path: cfg.HistoryPath()})
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	bus := events.NewBus()

	exec := executor.NewDocker(executor.Config{
		Binary: cfg.RuntimeBinary,
		Sink:   bus.Publish,
		Logger: logger,
	})

	run, err := runner.New(runner.Config{
		Executor:     exec,
		StepTimeout:  cfg.StepTimeout,
		ShortCircuit: cfg.ShortCircuit,
		Workspace:    cfg.Workspace,
		Logger:       logger,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create runner: %w", err)
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
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	d := &Daemon{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		store:  store,
		bus:    bus,
		sched:  sched,
	}

	watch, err := watcher.New(watcher.Config{
		Path:         cfg.PipelinePath,
		Mode:         watcher.Mode(cfg.WatchMode),
		PollInterval: cfg.PollInterval,
		Reload: func(ctx context.Context) error {
			return d.reload(ctx, "")
		},
		Logger: logger,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	d.watch = watch

	return d, nil
}

// Start starts the daemon and blocks until the context is cancelled or a
// listener fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	traces, err := tracing.Setup(ctx, tracing.Config{
		Exporter:       d.cfg.Trace.Exporter,
		Endpoint:       d.cfg.Trace.Endpoint,
		Insecure:       d.cfg.Trace.Insecure,
		SampleRate:     d.cfg.Trace.SampleRate,
		ServiceVersion: d.opts.Version,
	})
	if err != nil {
		d.logger.Warn("failed to initialize trace exporter, tracing disabled",
			log.Error(err))
	}
	d.traces = traces

	if d.cfg.HistoryKeep > 0 {
		pruned, err := d.store.Prune(ctx, d.cfg.HistoryKeep)
		if err != nil {
			d.logger.Warn("failed to prune history", log.Error(err))
		} else if pruned > 0 {
			d.logger.Info("pruned old runs", log.Int("count", pruned))
		}
	}

	if err := d.sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// A broken or missing pipeline file must not kill the daemon. The
	// watcher picks up the next save and retries.
	if err := d.reload(ctx, ""); err != nil {
		d.logger.Warn("initial pipeline load failed",
			log.String("path", d.cfg.PipelinePath),
			log.Error(err))
	}

	if err := d.watch.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	listeners, err := listener.New(d.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	router := api.NewRouter(api.RouterConfig{
		Version:   d.opts.Version,
		Commit:    d.opts.Commit,
		BuildDate: d.opts.BuildDate,
	}, d.logger)

	api.NewStatusHandler(d.sched, d.store, d.watch).RegisterRoutes(router.Mux())
	api.NewRunsHandler(d.sched, d.store, d.reload).RegisterRoutes(router.Mux())
	api.NewEventsHandler(d.bus).RegisterRoutes(router.Mux())
	router.SetMetricsHandler(promhttp.Handler())

	// WriteTimeout stays unset: the event stream holds its response open
	// for the life of the subscription.
	d.server = &http.Server{
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	d.logger.Info("pipewrightd starting",
		log.String("version", d.opts.Version),
		log.String("socket", d.cfg.Listen.SocketPath),
		log.String("pipeline", d.cfg.PipelinePath))

	errCh := make(chan error, len(listeners))
	for _, ln := range listeners {
		go func(ln net.Listener) {
			if err := d.server.Serve(ln); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("listener %s: %w", ln.Addr(), err)
			}
		}(ln)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the daemon: reloads stop first, the
// active run is stopped and drained into history, event streams end, and
// finally the HTTP server and store close.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return nil
	}

	d.logger.Info("graceful shutdown initiated")

	if err := d.watch.Stop(); err != nil {
		d.logger.Warn("watcher stop error", log.Error(err))
	}

	drainCtx, cancel := context.WithTimeout(ctx, d.cfg.ShutdownTimeout)
	defer cancel()
	if err := d.sched.Shutdown(drainCtx); err != nil {
		d.logger.Warn("scheduler did not drain cleanly", log.Error(err))
	}

	// Closing the bus ends every event stream, which lets the HTTP
	// server shutdown below complete.
	d.bus.Close()

	if d.server != nil {
		d.server.SetKeepAlivesEnabled(false)
		httpCtx, cancel := context.WithTimeout(ctx, d.cfg.ShutdownTimeout)
		defer cancel()
		if err := d.server.Shutdown(httpCtx); err != nil {
			d.logger.Error("HTTP server shutdown error", log.Error(err))
		}
	}

	if err := d.store.Close(); err != nil {
		d.logger.Error("failed to close history store", log.Error(err))
	}

	if err := d.traces.Shutdown(ctx); err != nil {
		d.logger.Warn("trace exporter shutdown error", log.Error(err))
	}

	if d.cfg.Listen.SocketPath != "" {
		if err := os.Remove(d.cfg.Listen.SocketPath); err != nil && !os.IsNotExist(err) {
			d.logger.Error("failed to remove socket file",
				log.Error(err),
				log.String("path", d.cfg.Listen.SocketPath))
		}
	}

	d.started = false
	d.logger.Info("daemon stopped")
	return nil
}

// reload parses the pipeline file and loads it as a fresh run, replacing
// any active run. An empty path means the configured pipeline file; a
// relative path resolves against the workspace. Parse and cycle errors
// leave the previous run untouched.
func (d *Daemon) reload(ctx context.Context, path string) error {
	switch {
	case path == "":
		path = d.cfg.PipelinePath
	case !filepath.IsAbs(path):
		path = filepath.Join(d.cfg.Workspace, path)
	}

	pl, err := pipeline.ParseFile(path)
	if err != nil {
		return err
	}

	if _, err := d.sched.LoadRun(ctx, pl, path); err != nil {
		return err
	}

	if d.cfg.RunOnStart {
		return d.sched.StartRun(ctx)
	}
	return nil
}
