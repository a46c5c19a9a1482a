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

package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Level != "info" {
		t.Errorf("expected default level 'info', got %q", cfg.Level)
	}

	if cfg.Format != FormatText {
		t.Errorf("expected default format 'text', got %q", cfg.Format)
	}

	if cfg.Output != os.Stderr {
		t.Errorf("expected default output to be os.Stderr")
	}

	if cfg.AddSource {
		t.Errorf("expected default AddSource to be false")
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		level   string
		format  Format
		source  bool
	}{
		{
			name:    "defaults when no env vars",
			envVars: map[string]string{},
			level:   "info",
			format:  FormatText,
		},
		{
			name:    "LOG_LEVEL=debug",
			envVars: map[string]string{"LOG_LEVEL": "debug"},
			level:   "debug",
			format:  FormatText,
		},
		{
			name:    "PIPEWRIGHT_LOG_LEVEL wins over LOG_LEVEL",
			envVars: map[string]string{"PIPEWRIGHT_LOG_LEVEL": "warn", "LOG_LEVEL": "debug"},
			level:   "warn",
			format:  FormatText,
		},
		{
			name:    "PIPEWRIGHT_DEBUG enables debug and source",
			envVars: map[string]string{"PIPEWRIGHT_DEBUG": "1", "PIPEWRIGHT_LOG_LEVEL": "error"},
			level:   "debug",
			format:  FormatText,
			source:  true,
		},
		{
			name:    "LOG_FORMAT=json",
			envVars: map[string]string{"LOG_FORMAT": "JSON"},
			level:   "info",
			format:  FormatJSON,
		},
		{
			name:    "LOG_SOURCE=1",
			envVars: map[string]string{"LOG_SOURCE": "1"},
			level:   "info",
			format:  FormatText,
			source:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"PIPEWRIGHT_DEBUG", "PIPEWRIGHT_LOG_LEVEL", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE"} {
				t.Setenv(key, "")
				os.Unsetenv(key)
			}
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := FromEnv()

			if cfg.Level != tt.level {
				t.Errorf("Level = %q, want %q", cfg.Level, tt.level)
			}
			if cfg.Format != tt.format {
				t.Errorf("Format = %q, want %q", cfg.Format, tt.format)
			}
			if cfg.AddSource != tt.source {
				t.Errorf("AddSource = %v, want %v", cfg.AddSource, tt.source)
			}
		})
	}
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("run started", slog.String(RunIDKey, "abc123"), slog.String(JobKey, "build"))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	if entry["msg"] != "run started" {
		t.Errorf("msg = %v, want 'run started'", entry["msg"])
	}
	if entry[RunIDKey] != "abc123" {
		t.Errorf("%s = %v, want 'abc123'", RunIDKey, entry[RunIDKey])
	}
	if entry[JobKey] != "build" {
		t.Errorf("%s = %v, want 'build'", JobKey, entry[JobKey])
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "warn", Format: FormatText, Output: &buf})

	logger.Debug("hidden")
	logger.Info("also hidden")
	logger.Warn("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("output should not contain filtered levels: %q", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("output should contain warn entry: %q", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "trace", Format: FormatText, Output: &buf})

	Trace(logger, "raw line", String("line", "npm ok"))
	if !strings.Contains(buf.String(), "raw line") {
		t.Errorf("trace entry missing from output: %q", buf.String())
	}

	buf.Reset()
	quiet := New(&Config{Level: "info", Format: FormatText, Output: &buf})
	Trace(quiet, "raw line")
	if buf.Len() != 0 {
		t.Errorf("trace should be filtered at info level, got %q", buf.String())
	}
}

func TestWithHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	WithJobContext(WithComponent(logger, "scheduler"), "run-1", "deploy").Info("dispatched")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry["component"] != "scheduler" {
		t.Errorf("component = %v", entry["component"])
	}
	if entry[RunIDKey] != "run-1" || entry[JobKey] != "deploy" {
		t.Errorf("context fields missing: %v", entry)
	}
}
