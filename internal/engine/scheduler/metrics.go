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

package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipewright_runs_started_total",
			Help: "Total runs loaded into the scheduler.",
		},
	)

	runsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewright_runs_completed_total",
			Help: "Total runs reaching a terminal status, labeled by status.",
		},
		[]string{"status"},
	)

	jobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewright_jobs_completed_total",
			Help: "Total jobs reaching a terminal state, labeled by state.",
		},
		[]string{"state"},
	)

	activeJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipewright_active_jobs",
			Help: "Jobs currently executing.",
		},
	)
)

func recordRunStarted() {
	runsStarted.Inc()
}

func recordRunCompleted(status RunStatus) {
	runsCompleted.WithLabelValues(string(status)).Inc()
}

func recordJobCompleted(state JobState) {
	jobsCompleted.WithLabelValues(string(state)).Inc()
}

func recordActiveJobs(n int) {
	activeJobs.Set(float64(n))
}
