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

package runner

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewright_jobs_total",
			Help: "Total jobs executed, labeled by terminal status.",
		},
		[]string{"status"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pipewright_job_duration_seconds",
			Help: "Wall-clock duration of job execution.",
			// 1s up to roughly 9 hours.
			Buckets: prometheus.ExponentialBuckets(1, 2, 15),
		},
		[]string{"status"},
	)
)

func recordJob(status Status, d time.Duration) {
	jobsTotal.WithLabelValues(string(status)).Inc()
	jobDuration.WithLabelValues(string(status)).Observe(d.Seconds())
}
