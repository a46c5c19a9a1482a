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

// Package config holds the engine configuration read once at daemon startup.
// Values come from PIPEWRIGHT_* environment variables with flag overrides
// applied by the daemon binary; engine settings do not hot-reload (only the
// pipeline file does).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pipewright/pipewright/pkg/errors"
)

// Default file and directory locations.
const (
	// DefaultPipelineFile is the pipeline definition looked for in the
	// working directory.
	DefaultPipelineFile = "pipewright.yaml"

	// DefaultSocketName is the control socket file inside the data dir.
	DefaultSocketName = "pipewrightd.sock"

	// DefaultHistoryName is the SQLite history database inside the data dir.
	DefaultHistoryName = "history.db"

	// DefaultPIDName is the pid file written for a background daemon.
	DefaultPIDName = "pipewrightd.pid"

	// DefaultDaemonLogName is where a background daemon's output goes.
	DefaultDaemonLogName = "pipewrightd.log"
)

// Engine defaults.
const (
	DefaultMaxParallel     = 4
	DefaultStepTimeout     = 10 * time.Minute
	DefaultPollInterval    = 2 * time.Second
	DefaultHistoryKeep     = 50
	DefaultShutdownTimeout = 20 * time.Second
)

// ListenConfig describes where the daemon serves its API.
type ListenConfig struct {
	// SocketPath is the Unix socket (default: <data dir>/pipewrightd.sock)
	SocketPath string

	// TCPAddr enables a TCP listener when set (e.g. "127.0.0.1:7657")
	TCPAddr string

	// AllowRemote permits binding TCP to non-loopback interfaces
	AllowRemote bool
}

// TraceConfig holds tracing settings passed through to internal/tracing.
type TraceConfig struct {
	// Exporter is "", "none", "console", or "otlp"
	Exporter string

	// Endpoint is the OTLP collector host:port (otlp exporter only)
	Endpoint string

	// Insecure disables TLS for the OTLP exporter
	Insecure bool

	// SampleRate samples the given fraction of traces when in (0, 1)
	SampleRate float64
}

// Config is the full engine configuration.
type Config struct {
	// PipelinePath is the pipeline file to load and watch
	PipelinePath string

	// Workspace is the host directory mounted into step containers
	Workspace string

	// DataDir holds the socket and the history database
	DataDir string

	Listen ListenConfig

	// MaxParallel caps concurrently running jobs
	MaxParallel int

	// StepTimeout is the default per-step deadline; steps may override
	StepTimeout time.Duration

	// ShortCircuit skips the remaining steps of a job after a failure
	ShortCircuit bool

	// WatchMode is "notify" (fsnotify) or "poll"
	WatchMode string

	// PollInterval is the fingerprint interval in poll mode
	PollInterval time.Duration

	// RuntimeBinary is the container runtime CLI (docker or a stand-in)
	RuntimeBinary string

	// RunOnStart triggers a run as soon as the pipeline first loads
	RunOnStart bool

	// HistoryKeep is how many runs to retain when pruning; 0 disables pruning
	HistoryKeep int

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration

	Trace TraceConfig
}

// Default returns the built-in configuration. The data dir is left empty;
// FromEnv and the daemon resolve it against the home directory.
func Default() *Config {
	return &Config{
		PipelinePath:    DefaultPipelineFile,
		Workspace:       ".",
		MaxParallel:     DefaultMaxParallel,
		StepTimeout:     DefaultStepTimeout,
		ShortCircuit:    true,
		WatchMode:       "notify",
		PollInterval:    DefaultPollInterval,
		RuntimeBinary:   "docker",
		RunOnStart:      true,
		HistoryKeep:     DefaultHistoryKeep,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// FromEnv builds a Config from PIPEWRIGHT_* environment variables on top of
// the defaults. Unset variables keep their default; malformed values return
// a ConfigError naming the offending variable.
func FromEnv() (*Config, error) {
	cfg := Default()

	cfg.PipelinePath = envString("PIPEWRIGHT_FILE", cfg.PipelinePath)
	cfg.Workspace = envString("PIPEWRIGHT_WORKSPACE", cfg.Workspace)
	cfg.DataDir = envString("PIPEWRIGHT_DATA_DIR", cfg.DataDir)

	cfg.Listen.SocketPath = envString("PIPEWRIGHT_SOCKET", cfg.Listen.SocketPath)
	cfg.Listen.TCPAddr = envString("PIPEWRIGHT_LISTEN", cfg.Listen.TCPAddr)

	cfg.WatchMode = envString("PIPEWRIGHT_WATCH_MODE", cfg.WatchMode)
	cfg.RuntimeBinary = envString("PIPEWRIGHT_RUNTIME", cfg.RuntimeBinary)

	cfg.Trace.Exporter = envString("PIPEWRIGHT_TRACE_EXPORTER", cfg.Trace.Exporter)
	cfg.Trace.Endpoint = envString("PIPEWRIGHT_TRACE_ENDPOINT", cfg.Trace.Endpoint)

	var err error
	if cfg.Listen.AllowRemote, err = envBool("PIPEWRIGHT_ALLOW_REMOTE", cfg.Listen.AllowRemote); err != nil {
		return nil, err
	}
	if cfg.MaxParallel, err = envInt("PIPEWRIGHT_MAX_PARALLEL", cfg.MaxParallel); err != nil {
		return nil, err
	}
	if cfg.StepTimeout, err = envDuration("PIPEWRIGHT_STEP_TIMEOUT", cfg.StepTimeout); err != nil {
		return nil, err
	}
	if cfg.ShortCircuit, err = envBool("PIPEWRIGHT_SHORT_CIRCUIT", cfg.ShortCircuit); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = envDuration("PIPEWRIGHT_POLL_INTERVAL", cfg.PollInterval); err != nil {
		return nil, err
	}
	if cfg.RunOnStart, err = envBool("PIPEWRIGHT_RUN_ON_START", cfg.RunOnStart); err != nil {
		return nil, err
	}
	if cfg.HistoryKeep, err = envInt("PIPEWRIGHT_HISTORY_KEEP", cfg.HistoryKeep); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = envDuration("PIPEWRIGHT_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return nil, err
	}
	if cfg.Trace.Insecure, err = envBool("PIPEWRIGHT_TRACE_INSECURE", cfg.Trace.Insecure); err != nil {
		return nil, err
	}
	if cfg.Trace.SampleRate, err = envFloat("PIPEWRIGHT_TRACE_SAMPLE_RATE", cfg.Trace.SampleRate); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ResolvePaths fills in derived locations and makes the workspace and
// pipeline paths absolute. Call once after flags are applied.
func (c *Config) ResolvePaths() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return &errors.ConfigError{
				Key:    "PIPEWRIGHT_DATA_DIR",
				Reason: "cannot determine home directory; set PIPEWRIGHT_DATA_DIR explicitly",
				Cause:  err,
			}
		}
		c.DataDir = filepath.Join(home, ".pipewright")
	}
	if c.Listen.SocketPath == "" {
		c.Listen.SocketPath = filepath.Join(c.DataDir, DefaultSocketName)
	}

	abs, err := filepath.Abs(c.Workspace)
	if err != nil {
		return &errors.ConfigError{Key: "PIPEWRIGHT_WORKSPACE", Reason: "invalid path", Cause: err}
	}
	c.Workspace = abs

	abs, err = filepath.Abs(c.PipelinePath)
	if err != nil {
		return &errors.ConfigError{Key: "PIPEWRIGHT_FILE", Reason: "invalid path", Cause: err}
	}
	c.PipelinePath = abs

	return nil
}

// HistoryPath returns the SQLite database location inside the data dir.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, DefaultHistoryName)
}

// PIDPath returns the pid file location inside the data dir.
func (c *Config) PIDPath() string {
	return filepath.Join(c.DataDir, DefaultPIDName)
}

// DaemonLogPath returns the background daemon log location inside the data dir.
func (c *Config) DaemonLogPath() string {
	return filepath.Join(c.DataDir, DefaultDaemonLogName)
}

// Validate checks value ranges and enum fields.
func (c *Config) Validate() error {
	if c.PipelinePath == "" {
		return &errors.ConfigError{Key: "PIPEWRIGHT_FILE", Reason: "pipeline path is required"}
	}
	if c.MaxParallel < 1 {
		return &errors.ConfigError{
			Key:    "PIPEWRIGHT_MAX_PARALLEL",
			Reason: fmt.Sprintf("must be at least 1, got %d", c.MaxParallel),
		}
	}
	if c.StepTimeout <= 0 {
		return &errors.ConfigError{Key: "PIPEWRIGHT_STEP_TIMEOUT", Reason: "must be positive"}
	}
	if c.WatchMode != "notify" && c.WatchMode != "poll" {
		return &errors.ConfigError{
			Key:    "PIPEWRIGHT_WATCH_MODE",
			Reason: fmt.Sprintf("must be notify or poll, got %q", c.WatchMode),
		}
	}
	if c.PollInterval <= 0 {
		return &errors.ConfigError{Key: "PIPEWRIGHT_POLL_INTERVAL", Reason: "must be positive"}
	}
	if c.RuntimeBinary == "" {
		return &errors.ConfigError{Key: "PIPEWRIGHT_RUNTIME", Reason: "runtime binary is required"}
	}
	if c.HistoryKeep < 0 {
		return &errors.ConfigError{Key: "PIPEWRIGHT_HISTORY_KEEP", Reason: "must not be negative"}
	}

	switch c.Trace.Exporter {
	case "", "none", "console", "otlp":
	default:
		return &errors.ConfigError{
			Key:    "PIPEWRIGHT_TRACE_EXPORTER",
			Reason: fmt.Sprintf("must be none, console, or otlp, got %q", c.Trace.Exporter),
		}
	}
	if c.Trace.SampleRate < 0 || c.Trace.SampleRate > 1 {
		return &errors.ConfigError{
			Key:    "PIPEWRIGHT_TRACE_SAMPLE_RATE",
			Reason: fmt.Sprintf("must be in [0, 1], got %v", c.Trace.SampleRate),
		}
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, &errors.ConfigError{Key: key, Reason: fmt.Sprintf("invalid boolean %q", v), Cause: err}
	}
	return parsed, nil
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, &errors.ConfigError{Key: key, Reason: fmt.Sprintf("invalid integer %q", v), Cause: err}
	}
	return parsed, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &errors.ConfigError{Key: key, Reason: fmt.Sprintf("invalid number %q", v), Cause: err}
	}
	return parsed, nil
}

// envDuration accepts Go duration strings ("90s", "5m") and, for
// convenience, bare integers interpreted as seconds.
func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, &errors.ConfigError{Key: key, Reason: fmt.Sprintf("invalid duration %q", v), Cause: err}
	}
	return parsed, nil
}
