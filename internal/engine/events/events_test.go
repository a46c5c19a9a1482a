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

package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_JobFiltering(t *testing.T) {
	bus := NewBus()

	buildCh, cancelBuild := bus.Subscribe("build")
	defer cancelBuild()
	allCh, cancelAll := bus.Subscribe(AllJobs)
	defer cancelAll()

	bus.Publish(Event{Kind: KindLog, RunID: "r1", Job: "build", Line: "compiling"})
	bus.Publish(Event{Kind: KindLog, RunID: "r1", Job: "test", Line: "testing"})

	// The job subscriber sees only its job.
	got := <-buildCh
	assert.Equal(t, "build", got.Job)
	assert.Equal(t, "compiling", got.Line)
	select {
	case unexpected := <-buildCh:
		t.Fatalf("build subscriber received foreign event: %+v", unexpected)
	default:
	}

	// The catch-all subscriber sees everything, in publish order.
	first := <-allCh
	second := <-allCh
	assert.Equal(t, "build", first.Job)
	assert.Equal(t, "test", second.Job)
}

func TestBus_PublishSetsTime(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(AllJobs)
	defer cancel()

	bus.Publish(Event{Kind: KindJobState, Job: "build", State: "running"})

	got := <-ch
	assert.False(t, got.Time.IsZero())
}

func TestBus_DropsWhenSubscriberLags(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe("build")
	defer cancel()

	// Fill the buffer without draining, then overflow it.
	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish(Event{Kind: KindLog, Job: "build", Seq: int64(i)})
	}

	// Exactly the buffered prefix survives; order is preserved.
	require.Len(t, ch, subscriberBuffer)
	for i := 0; i < subscriberBuffer; i++ {
		got := <-ch
		assert.Equal(t, int64(i), got.Seq)
	}
}

func TestBus_CancelRemovesSubscriber(t *testing.T) {
	bus := NewBus()

	ch, cancel := bus.Subscribe("build")
	require.Equal(t, 1, bus.SubscriberCount("build"))

	cancel()
	assert.Equal(t, 0, bus.SubscriberCount("build"))

	// The channel is closed after cancel.
	_, open := <-ch
	assert.False(t, open)

	// Cancel is idempotent.
	cancel()

	// Publishing after cancel must not panic or deliver.
	bus.Publish(Event{Kind: KindLog, Job: "build"})
}

func TestBus_Close(t *testing.T) {
	bus := NewBus()
	ch1, _ := bus.Subscribe("build")
	ch2, _ := bus.Subscribe(AllJobs)

	bus.Close()

	_, open := <-ch1
	assert.False(t, open)
	_, open = <-ch2
	assert.False(t, open)

	// Subscribing after close yields an already-closed channel.
	ch3, cancel := bus.Subscribe("test")
	defer cancel()
	_, open = <-ch3
	assert.False(t, open)

	// Close is idempotent; publish after close is a no-op.
	bus.Close()
	bus.Publish(Event{Kind: KindLog, Job: "build"})
}

func TestBus_PublishRacesCancelAndClose(t *testing.T) {
	bus := NewBus()

	// Hot-looping publishers while subscriptions churn: every channel
	// close must be invisible to in-flight sends, or a send lands on a
	// closed channel and panics the publishing goroutine.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					bus.Publish(Event{Kind: KindLog, Job: "build", Line: "tick"})
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		_, cancelJob := bus.Subscribe("build")
		_, cancelAll := bus.Subscribe(AllJobs)
		cancelJob()
		cancelAll()
	}
	bus.Close()

	close(stop)
	wg.Wait()
}

func TestBus_MultipleSubscribersSameJob(t *testing.T) {
	bus := NewBus()

	ch1, cancel1 := bus.Subscribe("deploy")
	defer cancel1()
	ch2, cancel2 := bus.Subscribe("deploy")
	defer cancel2()

	bus.Publish(Event{Kind: KindJobState, Job: "deploy", State: "success"})

	assert.Equal(t, "success", (<-ch1).State)
	assert.Equal(t, "success", (<-ch2).State)
}
