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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewright/pipewright/pkg/errors"
)

type reloadRecorder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *reloadRecorder) fn(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.err
}

func (r *reloadRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func (r *reloadRecorder) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// newTestWatcher starts a watcher over a fresh pipeline file with a short
// debounce window and rate limiting disabled.
func newTestWatcher(t *testing.T, mutate func(*Config)) (*Watcher, *reloadRecorder, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "pipewright.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: initial\n"), 0o644))

	recorder := &reloadRecorder{}
	cfg := Config{
		Path:                path,
		DebounceWindow:      30 * time.Millisecond,
		MaxReloadsPerMinute: -1,
		Reload:              recorder.fn,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	w, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		w.Stop()
		cancel()
	})
	return w, recorder, path
}

func waitForReloads(t *testing.T, recorder *reloadRecorder, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return recorder.count() >= want
	}, 3*time.Second, 10*time.Millisecond)
}

func TestNewValidation(t *testing.T) {
	reload := func(ctx context.Context) error { return nil }

	_, err := New(Config{Reload: reload})
	assert.ErrorContains(t, err, "file path")

	_, err = New(Config{Path: "pipewright.yaml"})
	assert.ErrorContains(t, err, "reload callback")

	_, err = New(Config{Path: "pipewright.yaml", Reload: reload, Mode: "inotify"})
	assert.ErrorContains(t, err, "unknown watch mode")

	_, err = New(Config{Path: "pipewright.yaml", Reload: reload, ExcludePatterns: []string{"[bad"}})
	assert.ErrorContains(t, err, "invalid exclude pattern")
}

func TestChangeName(t *testing.T) {
	tests := []struct {
		op   fsnotify.Op
		want string
	}{
		{fsnotify.Write, "modified"},
		{fsnotify.Create, "created"},
		{fsnotify.Remove, "deleted"},
		{fsnotify.Rename, "renamed"},
		// Some platforms deliver combined op bitmasks.
		{fsnotify.Write | fsnotify.Chmod, "modified"},
		{fsnotify.Create | fsnotify.Write, "created"},
		{fsnotify.Chmod, ""},
		{0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, changeName(tt.op))
		})
	}
}

func TestReloadOnWrite(t *testing.T) {
	_, recorder, path := newTestWatcher(t, nil)

	require.NoError(t, os.WriteFile(path, []byte("name: edited\n"), 0o644))
	waitForReloads(t, recorder, 1)

	require.NoError(t, os.WriteFile(path, []byte("name: edited again\n"), 0o644))
	waitForReloads(t, recorder, 2)
}

func TestReloadOnAtomicRename(t *testing.T) {
	// Editors like vim write to a temp file and rename it over the target.
	_, recorder, path := newTestWatcher(t, nil)

	tmp := filepath.Join(filepath.Dir(path), "pipewright.yaml.tmp12345")
	require.NoError(t, os.WriteFile(tmp, []byte("name: renamed\n"), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	waitForReloads(t, recorder, 1)
}

func TestEditorNoiseDoesNotReload(t *testing.T) {
	_, recorder, path := newTestWatcher(t, nil)

	dir := filepath.Dir(path)
	for _, name := range []string{".pipewright.yaml.swp", "pipewright.yaml~", "#pipewright.yaml#", "4913"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("noise"), 0o644))
	}

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, recorder.count())
}

func TestDebounceCollapsesBurst(t *testing.T) {
	_, recorder, path := newTestWatcher(t, func(cfg *Config) {
		cfg.DebounceWindow = 150 * time.Millisecond
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("name: burst\n"), 0o644))
		time.Sleep(10 * time.Millisecond)
	}

	waitForReloads(t, recorder, 1)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, recorder.count())
}

func TestReloadFailureRecorded(t *testing.T) {
	w, recorder, path := newTestWatcher(t, nil)
	recorder.setErr(&errors.ValidationError{Field: "jobs", Message: "at least one job is required"})

	require.NoError(t, os.WriteFile(path, []byte("name: broken\n"), 0o644))
	waitForReloads(t, recorder, 1)

	require.Eventually(t, func() bool {
		return w.LastReload().Error != ""
	}, time.Second, 10*time.Millisecond)
	state := w.LastReload()
	assert.Contains(t, state.Error, "at least one job is required")
	assert.False(t, state.Time.IsZero())

	// A good edit clears the recorded failure.
	recorder.setErr(nil)
	require.NoError(t, os.WriteFile(path, []byte("name: fixed\n"), 0o644))
	waitForReloads(t, recorder, 2)

	require.Eventually(t, func() bool {
		return w.LastReload().Error == ""
	}, time.Second, 10*time.Millisecond)
}

func TestRateLimitDropsRapidChanges(t *testing.T) {
	_, recorder, path := newTestWatcher(t, func(cfg *Config) {
		cfg.MaxReloadsPerMinute = 1
	})

	require.NoError(t, os.WriteFile(path, []byte("name: first\n"), 0o644))
	waitForReloads(t, recorder, 1)

	require.NoError(t, os.WriteFile(path, []byte("name: second\n"), 0o644))
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, recorder.count())
}

func TestPollModeDetectsChanges(t *testing.T) {
	_, recorder, path := newTestWatcher(t, func(cfg *Config) {
		cfg.Mode = ModePoll
		cfg.PollInterval = 20 * time.Millisecond
	})

	require.NoError(t, os.WriteFile(path, []byte("name: polled\n"), 0o644))
	waitForReloads(t, recorder, 1)
}

func TestPollModeDetectsCreation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipewright.yaml")

	recorder := &reloadRecorder{}
	w, err := New(Config{
		Path:                path,
		Mode:                ModePoll,
		PollInterval:        20 * time.Millisecond,
		DebounceWindow:      30 * time.Millisecond,
		MaxReloadsPerMinute: -1,
		Reload:              recorder.fn,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() {
		w.Stop()
		cancel()
	})

	require.NoError(t, os.WriteFile(path, []byte("name: born\n"), 0o644))
	waitForReloads(t, recorder, 1)
}

func TestExcludePatterns(t *testing.T) {
	m, err := newPatternMatcher([]string{"**/*.bak"})
	require.NoError(t, err)

	tests := []struct {
		path     string
		excluded bool
	}{
		{"/work/.pipewright.yaml.swp", true},
		{"/work/pipewright.yaml~", true},
		{"/work/#pipewright.yaml#", true},
		{"/work/.#pipewright.yaml", true},
		{"/work/4913", true},
		{"/work/.DS_Store", true},
		{"/work/pipewright.yaml.tmp", true},
		{"/work/pipewright.yaml.bak", true},
		{"/work/pipewright.yaml", false},
		{"pipewright.yaml", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.excluded, m.Excluded(tt.path))
		})
	}
}

func TestLastReloadStartsEmpty(t *testing.T) {
	w, _, _ := newTestWatcher(t, nil)

	state := w.LastReload()
	assert.True(t, state.Time.IsZero())
	assert.Empty(t, state.Error)
}
