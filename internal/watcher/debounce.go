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
	"sync"
	"time"
)

// debouncer coalesces change bursts into a single flush. Editors commonly
// emit several events per save (truncate, write, rename); each Add resets
// the timer, so the callback fires once the file has been quiet for the
// full window.
type debouncer struct {
	window  time.Duration
	onFlush func(Change)

	mu      sync.Mutex
	timer   *time.Timer
	pending *Change
	stopped bool
}

func newDebouncer(window time.Duration, onFlush func(Change)) *debouncer {
	return &debouncer{
		window:  window,
		onFlush: onFlush,
	}
}

// Add records a change and arms (or re-arms) the flush timer. The latest
// change wins; earlier ones in the same burst are absorbed.
func (d *debouncer) Add(change Change) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.pending = &change
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()
	change := d.pending
	d.pending = nil
	d.mu.Unlock()

	// Callback runs outside the lock so a slow flush never blocks Add.
	if change != nil {
		d.onFlush(*change)
	}
}

// Stop cancels the timer and discards any pending change.
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.pending = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
