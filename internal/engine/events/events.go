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

// Package events is the in-process broadcast bus for run output and state
// transitions. Delivery to live subscribers is best-effort: per-subscriber
// buffers are bounded and events are dropped rather than blocking the
// producer. The history store, not this bus, is the durable record.
package events

import (
	"sync"
	"time"
)

// Kind discriminates event payloads.
type Kind string

const (
	// KindLog is one line of step output.
	KindLog Kind = "log"
	// KindJobState is a job lifecycle transition.
	KindJobState Kind = "job_state"
	// KindRunState is a run lifecycle transition.
	KindRunState Kind = "run_state"
)

// Stream identifies which output stream a log line arrived on.
type Stream string

const (
	// StreamStdout is the container's standard output.
	StreamStdout Stream = "stdout"
	// StreamStderr is the container's standard error.
	StreamStderr Stream = "stderr"
	// StreamSystem carries engine-generated lines (spawn failures,
	// timeouts) attributed to a step.
	StreamSystem Stream = "system"
)

// AllJobs is the catch-all subscription key: subscribers on this key
// receive every event regardless of job.
const AllJobs = "*"

// Event is a single bus message. Log events populate Stream, Line, and Seq;
// state events populate State and Reason.
type Event struct {
	Kind  Kind      `json:"kind"`
	RunID string    `json:"run_id"`
	Job   string    `json:"job,omitempty"`
	Step  string    `json:"step,omitempty"`
	Time  time.Time `json:"time"`

	// Log fields. Seq orders lines within one step's stream.
	Stream Stream `json:"stream,omitempty"`
	Line   string `json:"line,omitempty"`
	Seq    int64  `json:"seq,omitempty"`

	// State fields.
	State  string `json:"state,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Bus fans events out to subscribers keyed by job name, plus the AllJobs
// catch-all. Publish never blocks: a subscriber that cannot keep up loses
// events (counted in metrics).
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event
	closed      bool
}

// subscriberBuffer is the per-subscriber channel capacity. A lagging
// consumer loses events once its buffer fills.
const subscriberBuffer = 100

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan Event),
	}
}

// Publish delivers an event to subscribers of the event's job and to
// catch-all subscribers. Non-blocking; drops are counted per job.
func (b *Bus) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	// The read lock is held across the sends: channels are closed only
	// under the write lock (cancel, Close), so a send can never land on a
	// closed channel. Sends are non-blocking, so the lock is brief.
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.send(b.subscribers[event.Job], event)
	if event.Job != AllJobs {
		b.send(b.subscribers[AllJobs], event)
	}
}

func (b *Bus) send(subs []chan Event, event Event) {
	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full, drop rather than stall the run.
			recordDropped(event.Job)
		}
	}
}

// Subscribe returns a channel receiving events for the given job name, or
// every event when key is AllJobs. The returned cancel function must be
// called to release the subscription; it closes the channel.
func (b *Bus) Subscribe(key string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subscribers[key] = append(b.subscribers[key], ch)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			// Close already closed every channel, including this one.
			if b.closed {
				return
			}

			subs := b.subscribers[key]
			for i, sub := range subs {
				if sub == ch {
					b.subscribers[key] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			close(ch)
		})
	}

	return ch, cancel
}

// SubscriberCount returns the number of subscribers for a key.
func (b *Bus) SubscriberCount(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[key])
}

// Close tears the bus down, closing every subscriber channel. Further
// Publish calls are no-ops against the emptied subscriber table; further
// Subscribe calls return a closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for key, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, key)
	}
}
