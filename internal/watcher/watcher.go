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

// Package watcher observes the pipeline file and triggers reloads when it
// changes. Changes are detected through a ChangeSource (fsnotify events or
// interval polling), debounced to fold editor save bursts into one reload,
// and rate-limited so a misbehaving writer cannot spin the engine.
package watcher

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pipewright/pipewright/internal/log"
	"github.com/pipewright/pipewright/pkg/errors"
)

// Mode selects the change detection strategy.
type Mode string

const (
	// ModeNotify uses filesystem notifications (fsnotify).
	ModeNotify Mode = "notify"

	// ModePoll compares file fingerprints on an interval. Use this on
	// filesystems where notifications are unreliable (network mounts).
	ModePoll Mode = "poll"
)

const (
	// DefaultDebounceWindow is how long the file must stay quiet after a
	// change before a reload fires.
	DefaultDebounceWindow = 500 * time.Millisecond

	// DefaultPollInterval is the fingerprint comparison interval in poll mode.
	DefaultPollInterval = 2 * time.Second

	// DefaultMaxReloadsPerMinute bounds reload frequency.
	DefaultMaxReloadsPerMinute = 30
)

// Config holds watcher configuration.
type Config struct {
	// Path is the pipeline file to watch
	Path string

	// Mode selects notify or poll detection (default notify)
	Mode Mode

	// DebounceWindow overrides DefaultDebounceWindow when positive
	DebounceWindow time.Duration

	// PollInterval overrides DefaultPollInterval when positive (poll mode only)
	PollInterval time.Duration

	// MaxReloadsPerMinute overrides DefaultMaxReloadsPerMinute when positive;
	// negative disables rate limiting
	MaxReloadsPerMinute int

	// ExcludePatterns are additional doublestar globs ignored on top of
	// DefaultExcludePatterns
	ExcludePatterns []string

	// Reload is invoked once per effective change. A returned error marks
	// the reload failed; the engine keeps whatever state it had before.
	Reload func(ctx context.Context) error

	// Logger is the structured logger (default slog.Default)
	Logger *slog.Logger
}

// ReloadState describes the most recent reload attempt, for the status API.
type ReloadState struct {
	// Time is when the attempt finished (zero if none has happened)
	Time time.Time `json:"time,omitzero"`

	// Error is the failure message, empty on success
	Error string `json:"error,omitempty"`
}

// Watcher drives the reload cycle for one pipeline file.
type Watcher struct {
	path    string
	mode    Mode
	source  ChangeSource
	bounce  *debouncer
	matcher *patternMatcher
	limiter *rate.Limiter
	reload  func(ctx context.Context) error
	logger  *slog.Logger

	ctx      context.Context
	started  bool
	loopDone chan struct{}

	mu   sync.Mutex
	last ReloadState
}

// New creates a Watcher. The reload callback is required; it is the caller's
// parse-validate-load sequence and is never invoked concurrently with itself.
func New(cfg Config) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("watcher requires a pipeline file path")
	}
	if cfg.Reload == nil {
		return nil, fmt.Errorf("watcher requires a reload callback")
	}

	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = log.WithComponent(logger, "watcher")

	mode := cfg.Mode
	if mode == "" {
		mode = ModeNotify
	}

	var source ChangeSource
	switch mode {
	case ModeNotify:
		source, err = NewNotifySource(abs, logger)
	case ModePoll:
		interval := cfg.PollInterval
		if interval <= 0 {
			interval = DefaultPollInterval
		}
		source, err = NewPollSource(abs, interval, logger)
	default:
		return nil, fmt.Errorf("unknown watch mode %q", mode)
	}
	if err != nil {
		return nil, err
	}

	matcher, err := newPatternMatcher(cfg.ExcludePatterns)
	if err != nil {
		source.Stop()
		return nil, err
	}

	window := cfg.DebounceWindow
	if window <= 0 {
		window = DefaultDebounceWindow
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	perMinute := cfg.MaxReloadsPerMinute
	if perMinute == 0 {
		perMinute = DefaultMaxReloadsPerMinute
	}
	if perMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1)
	}

	w := &Watcher{
		path:     abs,
		mode:     mode,
		source:   source,
		matcher:  matcher,
		limiter:  limiter,
		reload:   cfg.Reload,
		logger:   logger,
		loopDone: make(chan struct{}),
	}
	w.bounce = newDebouncer(window, w.onChange)
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// Start begins watching. The context bounds reload callbacks and stops the
// watcher when canceled.
func (w *Watcher) Start(ctx context.Context) error {
	w.ctx = ctx
	if err := w.source.Start(ctx); err != nil {
		return fmt.Errorf("failed to start change source: %w", err)
	}
	w.started = true
	go w.eventLoop()

	w.logger.Info("watching pipeline file",
		log.String("path", w.path),
		log.String("mode", string(w.mode)))
	return nil
}

// Stop ends watching. Pending debounced changes are discarded; a reload that
// has not fired by shutdown is not worth firing.
func (w *Watcher) Stop() error {
	if !w.started {
		return nil
	}
	w.bounce.Stop()
	err := w.source.Stop()
	<-w.loopDone
	return err
}

// LastReload reports the most recent reload attempt. The status endpoint
// serves this so a broken edit is visible without tailing daemon logs.
func (w *Watcher) LastReload() ReloadState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

func (w *Watcher) eventLoop() {
	defer close(w.loopDone)

	for change := range w.source.Changes() {
		recordChange(change.Op)

		if w.matcher.Excluded(change.Path) {
			recordExcluded()
			w.logger.Debug("ignoring excluded path", log.String("path", change.Path))
			continue
		}
		if filepath.Clean(change.Path) != w.path {
			continue
		}

		w.logger.Debug("pipeline file changed",
			log.String("path", change.Path),
			log.String("op", change.Op))
		w.bounce.Add(change)
	}
}

// onChange runs on the debouncer's timer goroutine, once per quiet period.
func (w *Watcher) onChange(change Change) {
	if !w.limiter.Allow() {
		recordRateLimited()
		w.logger.Warn("reload rate limit exceeded, dropping change",
			log.String("path", change.Path))
		return
	}

	start := time.Now()
	err := w.reload(w.ctx)

	w.mu.Lock()
	w.last = ReloadState{Time: time.Now()}
	if err != nil {
		w.last.Error = err.Error()
	}
	w.mu.Unlock()

	result := reloadResult(err)
	recordReload(result)

	if err != nil {
		// A failed reload keeps the previous pipeline running; the error
		// stays visible through LastReload until a good edit lands.
		w.logger.Error("pipeline reload failed",
			log.String("result", result),
			log.Error(err))
		return
	}
	w.logger.Info("pipeline reloaded",
		log.String("path", change.Path),
		log.Duration("duration", time.Since(start).Milliseconds()))
}

func reloadResult(err error) string {
	if err == nil {
		return "ok"
	}
	var validationErr *errors.ValidationError
	if stderrors.As(err, &validationErr) {
		return "validation_error"
	}
	var cycleErr *errors.CycleError
	if stderrors.As(err, &cycleErr) {
		return "cycle_error"
	}
	return "error"
}
