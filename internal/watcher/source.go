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

package watcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pipewright/pipewright/internal/log"
)

// Change is one observed filesystem change.
type Change struct {
	// Path is the affected file's absolute path
	Path string

	// Op is created, modified, deleted, or renamed
	Op string

	Time time.Time
}

// ChangeSource delivers change notifications. Implementations watch either
// via inotify-style events or by polling; the consuming Watcher behaves
// identically with both.
type ChangeSource interface {
	// Start begins delivery. The channel from Changes closes when the
	// source stops.
	Start(ctx context.Context) error

	// Changes returns the notification channel.
	Changes() <-chan Change

	// Stop ends delivery and releases resources.
	Stop() error
}

// opNames maps fsnotify operations to change names. Events can carry a
// combined op bitmask, so matching is by bit in this order; the first hit
// names the change. Chmod is absent and therefore ignored.
var opNames = []struct {
	op   fsnotify.Op
	name string
}{
	{fsnotify.Create, "created"},
	{fsnotify.Write, "modified"},
	{fsnotify.Remove, "deleted"},
	{fsnotify.Rename, "renamed"},
}

// changeName resolves an event op to a change name, or "" for ops we
// ignore.
func changeName(op fsnotify.Op) string {
	for _, m := range opNames {
		if op.Has(m.op) {
			return m.name
		}
	}
	return ""
}

// NotifySource reports changes using fsnotify. It watches the target
// file's parent directory rather than the file itself, so atomic-rename
// saves (write temp file, rename over target) and delete/recreate cycles
// are observed without re-adding watches.
type NotifySource struct {
	dir     string
	watcher *fsnotify.Watcher
	events  chan Change
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
}

var _ ChangeSource = (*NotifySource)(nil)

// NewNotifySource creates a notify source for the file at path. The parent
// directory must exist; the file itself may not yet.
func NewNotifySource(path string, logger *slog.Logger) (*NotifySource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(abs)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	if logger == nil {
		logger = log.WithComponent(slog.Default(), "watcher")
	}
	return &NotifySource{
		dir:     dir,
		watcher: fsw,
		events:  make(chan Change, 100),
		logger:  logger,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins forwarding directory events.
func (s *NotifySource) Start(ctx context.Context) error {
	go s.eventLoop(ctx)
	return nil
}

// Changes returns the notification channel.
func (s *NotifySource) Changes() <-chan Change {
	return s.events
}

// Stop ends delivery and closes the underlying watcher.
func (s *NotifySource) Stop() error {
	close(s.stopCh)
	<-s.doneCh
	return s.watcher.Close()
}

func (s *NotifySource) eventLoop(ctx context.Context) {
	defer close(s.doneCh)
	defer close(s.events)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handle(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("file watch error", log.Error(err))
		}
	}
}

func (s *NotifySource) handle(event fsnotify.Event) {
	op := changeName(event.Op)
	if op == "" {
		return
	}
	change := Change{Path: event.Name, Op: op, Time: time.Now()}
	select {
	case s.events <- change:
	default:
		// Bursty writers can outrun the consumer; the debouncer folds
		// changes together anyway, so dropping here is harmless.
		s.logger.Debug("change channel full, dropping event",
			log.String("path", event.Name),
			log.String("op", op))
	}
}

// PollSource reports changes by fingerprinting the file (mtime, size,
// content hash) on an interval. It is the fallback for filesystems where
// inotify is unreliable, such as some network mounts.
type PollSource struct {
	path     string
	interval time.Duration
	events   chan Change
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}

	last fingerprint
}

var _ ChangeSource = (*PollSource)(nil)

type fingerprint struct {
	exists  bool
	size    int64
	modTime time.Time
	sum     [sha256.Size]byte
}

func (f fingerprint) equal(other fingerprint) bool {
	return f.exists == other.exists &&
		f.size == other.size &&
		f.modTime.Equal(other.modTime) &&
		f.sum == other.sum
}

// NewPollSource creates a polling source for the file at path.
func NewPollSource(path string, interval time.Duration, logger *slog.Logger) (*PollSource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = log.WithComponent(slog.Default(), "watcher")
	}
	return &PollSource{
		path:     abs,
		interval: interval,
		events:   make(chan Change, 16),
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start snapshots the current fingerprint and begins polling.
func (s *PollSource) Start(ctx context.Context) error {
	s.last = s.fingerprint()
	go s.pollLoop(ctx)
	return nil
}

// Changes returns the notification channel.
func (s *PollSource) Changes() <-chan Change {
	return s.events
}

// Stop ends polling.
func (s *PollSource) Stop() error {
	close(s.stopCh)
	<-s.doneCh
	return nil
}

func (s *PollSource) pollLoop(ctx context.Context) {
	defer close(s.doneCh)
	defer close(s.events)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.check()
		}
	}
}

func (s *PollSource) check() {
	current := s.fingerprint()
	if current.equal(s.last) {
		return
	}

	op := "modified"
	switch {
	case !s.last.exists && current.exists:
		op = "created"
	case s.last.exists && !current.exists:
		op = "deleted"
	}
	s.last = current

	select {
	case s.events <- Change{Path: s.path, Op: op, Time: time.Now()}:
	case <-s.stopCh:
	}
}

func (s *PollSource) fingerprint() fingerprint {
	info, err := os.Stat(s.path)
	if err != nil {
		return fingerprint{}
	}
	fp := fingerprint{exists: true, size: info.Size(), modTime: info.ModTime()}

	f, err := os.Open(s.path)
	if err != nil {
		return fp
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fp
	}
	copy(fp.sum[:], h.Sum(nil))
	return fp
}
