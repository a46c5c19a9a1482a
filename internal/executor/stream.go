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

package executor

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pipewright/pipewright/internal/engine/events"
)

// streamBufferSize bounds one read chunk. Lines longer than this are split
// into multiple transcript entries instead of buffering without limit.
const streamBufferSize = 64 * 1024

// collector gathers a step's transcript and forwards each line to the sink
// as it arrives. The mutex serializes the stdout and stderr drain
// goroutines, so transcript order and sink order agree; within one stream
// the sequence numbers are gapless and ascending.
type collector struct {
	mu    sync.Mutex
	lines []LogLine
	seq   map[events.Stream]int64

	sink  Sink
	runID string
	job   string
	step  string
}

func newCollector(step string, opts Options, sink Sink) *collector {
	return &collector{
		seq:   make(map[events.Stream]int64, 3),
		sink:  sink,
		runID: opts.RunID,
		job:   opts.Job,
		step:  step,
	}
}

// add records one line and forwards it to the sink.
func (c *collector) add(stream events.Stream, line string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.seq[stream]
	c.seq[stream]++

	entry := LogLine{Stream: stream, Line: line, Seq: seq, Time: time.Now()}
	c.lines = append(c.lines, entry)

	if c.sink != nil {
		c.sink(events.Event{
			Kind:   events.KindLog,
			RunID:  c.runID,
			Job:    c.job,
			Step:   c.step,
			Stream: stream,
			Line:   line,
			Seq:    seq,
			Time:   entry.Time,
		})
	}
}

// system records an engine-generated line (spawn failure, timeout notice).
func (c *collector) system(line string) {
	c.add(events.StreamSystem, line)
}

// drain consumes one output pipe line by line until EOF or pipe close.
// Oversized lines are split at the buffer size rather than accumulated.
func (c *collector) drain(stream events.Stream, r io.Reader) {
	reader := bufio.NewReaderSize(r, streamBufferSize)
	for {
		chunk, err := reader.ReadSlice('\n')
		if len(chunk) > 0 {
			c.add(stream, strings.TrimRight(string(chunk), "\r\n"))
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			return
		}
	}
}

// transcript returns the collected lines.
func (c *collector) transcript() []LogLine {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LogLine, len(c.lines))
	copy(out, c.lines)
	return out
}
