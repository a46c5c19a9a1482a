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

// Package integration holds shared configuration and skip helpers for
// tests that need resources beyond the test binary: a container runtime,
// network access, or specific environment variables.
package integration

import (
	"os"
	"os/exec"
	"testing"
)

// TestConfig is integration test configuration loaded from environment.
type TestConfig struct {
	// RuntimeBinary is the container runtime used by smoke tests
	// (defaults to docker).
	RuntimeBinary string

	// Image is the container image smoke tests run steps in (defaults to
	// alpine:3.20, which is small and has a POSIX shell).
	Image string
}

// LoadConfig reads test configuration from the environment. Missing
// variables get defaults; individual tests decide whether to skip.
func LoadConfig() *TestConfig {
	cfg := &TestConfig{
		RuntimeBinary: os.Getenv("PIPEWRIGHT_E2E_RUNTIME"),
		Image:         os.Getenv("PIPEWRIGHT_E2E_IMAGE"),
	}
	if cfg.RuntimeBinary == "" {
		cfg.RuntimeBinary = "docker"
	}
	if cfg.Image == "" {
		cfg.Image = "alpine:3.20"
	}
	return cfg
}

// SkipWithoutEnv skips the test when the environment variable is unset.
func SkipWithoutEnv(t *testing.T, envVar string) {
	t.Helper()
	if os.Getenv(envVar) == "" {
		t.Skipf("skipping: %s not set", envVar)
	}
}

// RequireEnv fails the test when the environment variable is unset. For
// tests that must always run in CI but may skip locally.
func RequireEnv(t *testing.T, envVar string) string {
	t.Helper()
	value := os.Getenv(envVar)
	if value == "" {
		t.Fatalf("required environment variable %s not set", envVar)
	}
	return value
}

// SkipWithoutRuntime skips the test when the configured container runtime
// binary is not on PATH. Only the binary is checked; if the daemon behind
// it is down, the smoke test fails rather than skips.
func SkipWithoutRuntime(t *testing.T) *TestConfig {
	t.Helper()
	cfg := LoadConfig()
	if _, err := exec.LookPath(cfg.RuntimeBinary); err != nil {
		t.Skipf("skipping: container runtime %q not found", cfg.RuntimeBinary)
	}
	t.Logf("using container runtime %s with image %s", cfg.RuntimeBinary, cfg.Image)
	return cfg
}
