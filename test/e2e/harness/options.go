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

package harness

import "time"

// Option configures a Harness before the engine is assembled.
type Option func(*Harness)

// WithTimeout sets how long Run and Wait allow a run to take.
func WithTimeout(d time.Duration) Option {
	return func(h *Harness) { h.timeout = d }
}

// WithRuntimeBinary uses a real container runtime instead of the stub.
// Smoke tests pair this with integration.SkipWithoutRuntime.
func WithRuntimeBinary(path string) Option {
	return func(h *Harness) { h.runtime = path }
}

// WithWorkspace mounts an existing directory instead of a fresh TempDir.
func WithWorkspace(dir string) Option {
	return func(h *Harness) { h.workspace = dir }
}

// WithStepTimeout sets the default per-step timeout for steps that do
// not declare their own.
func WithStepTimeout(d time.Duration) Option {
	return func(h *Harness) { h.stepTimeout = d }
}

// WithMaxParallel caps concurrently running jobs. Zero means unlimited.
func WithMaxParallel(n int) Option {
	return func(h *Harness) { h.maxParallel = n }
}
