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

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/pipewright/pipewright/internal/config"
	"github.com/pipewright/pipewright/internal/daemon"
	"github.com/pipewright/pipewright/internal/log"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		file        = flag.String("file", "", "Pipeline file to load and watch")
		workspace   = flag.String("workspace", "", "Directory mounted into step containers")
		dataDir     = flag.String("data-dir", "", "Directory for the socket and history database")
		socketPath  = flag.String("socket", "", "Unix socket path")
		tcpAddr     = flag.String("listen", "", "TCP address to listen on")
		allowRemote = flag.Bool("allow-remote", false, "Allow binding to non-localhost addresses (SECURITY WARNING)")
		runtime     = flag.String("runtime", "", "Container runtime binary (docker or a stand-in)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("pipewrightd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// A .env next to the daemon supplies PIPEWRIGHT_* variables; absence
	// is not an error.
	_ = godotenv.Load()

	logger := log.New(log.FromEnv())
	slog.SetDefault(logger)

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	// Apply CLI flag overrides
	if *file != "" {
		cfg.PipelinePath = *file
	}
	if *workspace != "" {
		cfg.Workspace = *workspace
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *socketPath != "" {
		cfg.Listen.SocketPath = *socketPath
	}
	if *tcpAddr != "" {
		cfg.Listen.TCPAddr = *tcpAddr
	}
	if *runtime != "" {
		cfg.RuntimeBinary = *runtime
	}
	if *allowRemote {
		cfg.Listen.AllowRemote = true
		logger.Warn("--allow-remote is enabled. The daemon will accept connections from any network address. Ensure the address is firewalled; the API has no authentication.")
	}

	d, err := daemon.New(cfg, daemon.Options{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
	})
	if err != nil {
		logger.Error("Failed to create daemon", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
		cancel()
		if err := d.Shutdown(context.Background()); err != nil {
			logger.Error("Error during shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil {
			logger.Error("Daemon error", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
