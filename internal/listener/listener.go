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

// Package listener provides the daemon's Unix socket and TCP listeners.
package listener

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/pipewright/pipewright/internal/config"
)

// Accepted connections are throttled; a runaway client cannot starve the
// daemon of file descriptors.
const (
	defaultConnRate  rate.Limit = 64
	defaultConnBurst            = 64
)

// New creates the configured listeners: the Unix socket always, plus a TCP
// listener when an address is set. Both serve the same API.
func New(cfg config.ListenConfig) ([]net.Listener, error) {
	var listeners []net.Listener

	unix, err := newUnixListener(cfg.SocketPath)
	if err != nil {
		return nil, err
	}
	listeners = append(listeners, withRateLimit(unix))

	if cfg.TCPAddr != "" {
		tcp, err := newTCPListener(cfg)
		if err != nil {
			unix.Close()
			return nil, err
		}
		listeners = append(listeners, withRateLimit(tcp))
	}

	return listeners, nil
}

// newUnixListener creates the control socket with owner-only permissions.
func newUnixListener(socketPath string) (net.Listener, error) {
	dir := filepath.Dir(socketPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}

	if err := removeStaleSocket(socketPath); err != nil {
		return nil, err
	}

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on Unix socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}

	return ln, nil
}

// removeStaleSocket clears a leftover socket file from a crashed daemon. If
// something still answers on the socket, another daemon owns it and we must
// not steal it.
func removeStaleSocket(socketPath string) error {
	if _, err := os.Stat(socketPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat socket: %w", err)
	}

	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err == nil {
		conn.Close()
		return fmt.Errorf("socket %s is in use (is pipewrightd already running?)", socketPath)
	}

	if err := os.Remove(socketPath); err != nil {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}
	return nil
}

// newTCPListener creates a TCP listener, refusing non-loopback binds unless
// explicitly allowed.
func newTCPListener(cfg config.ListenConfig) (net.Listener, error) {
	if !cfg.AllowRemote && isRemoteAddr(cfg.TCPAddr) {
		return nil, fmt.Errorf(
			"binding to %s exposes the daemon to the network; "+
				"anyone who can reach it can run pipeline jobs. "+
				"Set PIPEWRIGHT_ALLOW_REMOTE=true if that is intended",
			cfg.TCPAddr,
		)
	}

	ln, err := net.Listen("tcp", cfg.TCPAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on TCP: %w", err)
	}
	return ln, nil
}

// isRemoteAddr returns true if the address binds to non-loopback interfaces.
func isRemoteAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		// addr might be just a port like ":7657"
		host = addr
		if strings.HasPrefix(addr, ":") {
			host = ""
		}
	}

	// Empty host means all interfaces
	if host == "" || host == "0.0.0.0" || host == "::" {
		return true
	}
	if host == "localhost" {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return !ip.IsLoopback()
	}
	return true
}

// ParseHost parses a PIPEWRIGHT_HOST value into listener config.
// Supports:
//   - unix:///path/to/socket
//   - tcp://host:port
func ParseHost(host string) (*config.ListenConfig, error) {
	if host == "" {
		return nil, nil
	}

	cfg := &config.ListenConfig{}
	switch {
	case strings.HasPrefix(host, "unix://"):
		cfg.SocketPath = strings.TrimPrefix(host, "unix://")
	case strings.HasPrefix(host, "tcp://"):
		cfg.TCPAddr = strings.TrimPrefix(host, "tcp://")
	default:
		return nil, fmt.Errorf("invalid PIPEWRIGHT_HOST format: %s (must start with unix:// or tcp://)", host)
	}
	return cfg, nil
}

// rateLimited wraps a listener with a token bucket on Accept. Connections
// beyond the budget are closed immediately rather than queued.
type rateLimited struct {
	net.Listener
	limiter *rate.Limiter
}

func withRateLimit(ln net.Listener) net.Listener {
	return &rateLimited{
		Listener: ln,
		limiter:  rate.NewLimiter(defaultConnRate, defaultConnBurst),
	}
}

// Accept implements net.Listener.
func (l *rateLimited) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		if l.limiter.Allow() {
			return conn, nil
		}
		conn.Close()
	}
}
