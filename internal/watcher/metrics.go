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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	changeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewright_watcher_events_total",
			Help: "File change events observed, by operation.",
		},
		[]string{"op"},
	)

	excludedEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipewright_watcher_excluded_total",
			Help: "Change events ignored because they matched an exclude pattern.",
		},
	)

	reloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipewright_reloads_total",
			Help: "Pipeline reload attempts, by result.",
		},
		[]string{"result"},
	)

	reloadsRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pipewright_reloads_rate_limited_total",
			Help: "Reload attempts dropped by the rate limiter.",
		},
	)
)

func recordChange(op string) {
	changeEventsTotal.WithLabelValues(op).Inc()
}

func recordExcluded() {
	excludedEventsTotal.Inc()
}

func recordReload(result string) {
	reloadsTotal.WithLabelValues(result).Inc()
}

func recordRateLimited() {
	reloadsRateLimitedTotal.Inc()
}
