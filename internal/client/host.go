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

package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HostEnv is the environment variable naming the daemon endpoint.
const HostEnv = "PIPEWRIGHT_HOST"

// DefaultSocketPath returns the socket path the daemon listens on by
// default. PIPEWRIGHT_DATA_DIR moves it along with the rest of the data
// directory.
func DefaultSocketPath() (string, error) {
	if dir := os.Getenv("PIPEWRIGHT_DATA_DIR"); dir != "" {
		return filepath.Join(dir, "pipewrightd.sock"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".pipewright", "pipewrightd.sock"), nil
}

// ParseHost parses a PIPEWRIGHT_HOST value into a transport. Supports
// unix:///path/to/socket and tcp://host:port. Empty means the default
// socket path.
func ParseHost(host string) (*Transport, error) {
	if host == "" {
		return DefaultTransport()
	}

	switch {
	case strings.HasPrefix(host, "unix://"):
		return NewUnixTransport(strings.TrimPrefix(host, "unix://")), nil
	case strings.HasPrefix(host, "tcp://"):
		return NewTCPTransport(strings.TrimPrefix(host, "tcp://")), nil
	default:
		return nil, fmt.Errorf("invalid PIPEWRIGHT_HOST format: %s (must start with unix:// or tcp://)", host)
	}
}

// FromEnvironment creates a client configured from PIPEWRIGHT_HOST.
func FromEnvironment() (*Client, error) {
	transport, err := ParseHost(os.Getenv(HostEnv))
	if err != nil {
		return nil, err
	}
	return New(WithTransport(transport))
}

// DaemonNotRunningError indicates the daemon is not reachable.
type DaemonNotRunningError struct {
	SocketPath string
	Err        error
}

func (e *DaemonNotRunningError) Error() string {
	return fmt.Sprintf("pipewright daemon is not running (socket: %s)", e.SocketPath)
}

func (e *DaemonNotRunningError) Unwrap() error {
	return e.Err
}

// Guidance returns user-facing guidance for starting the daemon.
func (e *DaemonNotRunningError) Guidance() string {
	return `Pipewright daemon is not running.

Start the daemon with:
  pipewright daemon start       # Background
  pipewrightd                   # Foreground (for development)

Or run without a daemon:
  pipewright up                 # Watch and run in this terminal`
}

// IsDaemonNotRunning checks if an error indicates the daemon is not
// reachable.
func IsDaemonNotRunning(err error) bool {
	if err == nil {
		return false
	}

	var dnr *DaemonNotRunningError
	if errors.As(err, &dnr) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such file or directory")
}
