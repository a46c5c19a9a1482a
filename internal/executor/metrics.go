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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewright_steps_total",
			Help: "Total steps executed, labeled by terminal status.",
		},
		[]string{"status"},
	)

	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pipewright_step_duration_seconds",
			Help: "Wall-clock duration of step execution.",
			// 500ms up to roughly 4.5 hours.
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 15),
		},
		[]string{"status"},
	)
)

func recordStep(status Status, d time.Duration) {
	stepsTotal.WithLabelValues(string(status)).Inc()
	stepDuration.WithLabelValues(string(status)).Observe(d.Seconds())
}
