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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// eventsDropped tracks events lost to full subscriber buffers
	eventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewright_events_dropped_total",
			Help: "Total events dropped because a subscriber buffer was full, by job",
		},
		[]string{"job"},
	)
)

// recordDropped increments the dropped-event counter
func recordDropped(job string) {
	eventsDropped.WithLabelValues(job).Inc()
}
