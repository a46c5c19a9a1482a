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

package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipewright/pipewright/internal/client"
	"github.com/pipewright/pipewright/internal/config"
	"github.com/pipewright/pipewright/internal/lifecycle"
)

// daemonProcessName is matched against /proc cmdline before signalling a
// pid from the pid file, so a recycled pid is never killed.
const daemonProcessName = "pipewrightd"

// NewDaemonCommand creates the daemon command group.
func NewDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background engine",
		Long: `Daemon starts, stops, and inspects pipewrightd as a background process.
Start spawns pipewrightd detached, waits for its API to answer, and
records the pid under the data directory; stop reverses that.`,
	}

	cmd.AddCommand(newDaemonStartCommand())
	cmd.AddCommand(newDaemonStopCommand())
	cmd.AddCommand(newDaemonStatusCommand())
	return cmd
}

func newDaemonStartCommand() *cobra.Command {
	var (
		file    string
		binary  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start pipewrightd in the background",
		Long: `Start spawns pipewrightd detached from this terminal, with its output
going to a log file in the data directory. It is idempotent: when a
healthy daemon is already running it reports the pid and exits zero.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonStart(cmd, file, binary, timeout)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "pipeline file for the daemon to watch")
	cmd.Flags().StringVar(&binary, "binary", "", "path to the pipewrightd binary (defaults to one next to this executable, then $PATH)")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "how long to wait for the daemon to become ready")
	return cmd
}

func runDaemonStart(cmd *cobra.Command, file, binary string, timeout time.Duration) error {
	cfg, err := daemonConfig(file)
	if err != nil {
		return err
	}
	pf := lifecycle.NewPIDFile(cfg.PIDPath())

	if pid, err := pf.Read(); err == nil {
		if lifecycle.Alive(pid) && lifecycle.CommandMatches(pid, daemonProcessName) {
			pingCtx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
			defer cancel()
			if pingErr := pingDaemon(pingCtx, cfg); pingErr == nil {
				return reportDaemonStarted(cmd, pid, cfg, true)
			}
			return fmt.Errorf("pipewrightd (pid %d) is running but not responding; stop it first", pid)
		}
		cmd.PrintErrf("%s removing stale pid file (process %d is gone)\n", RenderWarn(SymbolWarn), pid)
		if err := pf.Remove(); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		cmd.PrintErrf("%s replacing unreadable pid file: %v\n", RenderWarn(SymbolWarn), err)
		if err := pf.Remove(); err != nil {
			return err
		}
	}

	binPath, err := resolveDaemonBinary(binary)
	if err != nil {
		return err
	}

	logPath := cfg.DaemonLogPath()
	pid, err := lifecycle.SpawnDetached(binPath, daemonArgs(cfg), logPath)
	if err != nil {
		return fmt.Errorf("spawning pipewrightd: %w", err)
	}

	if err := waitUntilReady(cmd.Context(), cfg, pid, timeout); err != nil {
		_ = lifecycle.Terminate(pid)
		return fmt.Errorf("%w (log: %s)", err, logPath)
	}

	if err := pf.Write(pid); err != nil {
		cmd.PrintErrf("%s daemon is running but the pid file could not be written: %v\n",
			RenderWarn(SymbolWarn), err)
	}
	return reportDaemonStarted(cmd, pid, cfg, false)
}

func reportDaemonStarted(cmd *cobra.Command, pid int, cfg *config.Config, already bool) error {
	if GetJSON() {
		return emitJSON(cmd, struct {
			JSONResponse
			PID            int    `json:"pid"`
			Socket         string `json:"socket"`
			AlreadyRunning bool   `json:"already_running"`
		}{
			JSONResponse:   JSONResponse{Version: "1.0", Command: "daemon start", Success: true},
			PID:            pid,
			Socket:         cfg.Listen.SocketPath,
			AlreadyRunning: already,
		})
	}

	if already {
		cmd.Printf("%s pipewrightd already running (pid %d)\n", RenderOK(SymbolOK), pid)
	} else {
		cmd.Printf("%s pipewrightd started (pid %d)\n", RenderOK(SymbolOK), pid)
	}
	cmd.Printf("  %s\n", Muted.Render("socket: "+cfg.Listen.SocketPath))
	return nil
}

func newDaemonStopCommand() *cobra.Command {
	var (
		timeout time.Duration
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the background pipewrightd",
		Long: `Stop signals the recorded daemon with SIGTERM, escalating to SIGKILL
after the timeout. It is idempotent: a daemon that is not running is not
an error, and stale pid files are cleaned up.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonStop(cmd, timeout, force)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 20*time.Second, "grace period before SIGKILL")
	cmd.Flags().BoolVar(&force, "force", false, "skip the grace period and SIGKILL immediately")
	return cmd
}

func runDaemonStop(cmd *cobra.Command, timeout time.Duration, force bool) error {
	cfg, err := daemonConfig("")
	if err != nil {
		return err
	}
	pf := lifecycle.NewPIDFile(cfg.PIDPath())

	pid, err := pf.Read()
	if err != nil {
		if os.IsNotExist(err) {
			return reportDaemonStopped(cmd, 0, "daemon is not running")
		}
		cmd.PrintErrf("%s removing unreadable pid file: %v\n", RenderWarn(SymbolWarn), err)
		if err := pf.Remove(); err != nil {
			return err
		}
		return reportDaemonStopped(cmd, 0, "daemon is not running")
	}

	if !lifecycle.Alive(pid) {
		if err := pf.Remove(); err != nil {
			return err
		}
		return reportDaemonStopped(cmd, pid, fmt.Sprintf("process %d already gone; removed stale pid file", pid))
	}

	if !lifecycle.CommandMatches(pid, daemonProcessName) {
		return fmt.Errorf("pid %d is not pipewrightd (refusing to signal it)", pid)
	}

	if err := lifecycle.Stop(pid, timeout, force); err != nil {
		return fmt.Errorf("stopping pipewrightd (pid %d): %w", pid, err)
	}

	if err := pf.Remove(); err != nil {
		cmd.PrintErrf("%s %v\n", RenderWarn(SymbolWarn), err)
	}
	return reportDaemonStopped(cmd, pid, "pipewrightd stopped")
}

func reportDaemonStopped(cmd *cobra.Command, pid int, message string) error {
	if GetJSON() {
		return emitJSON(cmd, struct {
			JSONResponse
			PID     int    `json:"pid,omitempty"`
			Message string `json:"message"`
		}{
			JSONResponse: JSONResponse{Version: "1.0", Command: "daemon stop", Success: true},
			PID:          pid,
			Message:      message,
		})
	}

	cmd.Printf("%s %s\n", RenderOK(SymbolOK), message)
	return nil
}

func newDaemonStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "status",
		Short:         "Report whether the background pipewrightd is running",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runDaemonStatus,
	}
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	cfg, err := daemonConfig("")
	if err != nil {
		return err
	}
	pf := lifecycle.NewPIDFile(cfg.PIDPath())

	var (
		pid     int
		running bool
		healthy bool
		version string
	)

	if p, err := pf.Read(); err == nil {
		pid = p
		running = lifecycle.Alive(pid)
	}

	if running {
		pingCtx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
		defer cancel()
		if c, err := daemonClient(cfg); err == nil {
			if resp, err := c.Version(pingCtx); err == nil {
				healthy = true
				version = resp.Version
			}
		}
	}

	if GetJSON() {
		return emitJSON(cmd, struct {
			JSONResponse
			Running bool   `json:"running"`
			Healthy bool   `json:"healthy"`
			PID     int    `json:"pid,omitempty"`
			Version string `json:"daemon_version,omitempty"`
			Socket  string `json:"socket"`
		}{
			JSONResponse: JSONResponse{Version: "1.0", Command: "daemon status", Success: true},
			Running:      running,
			Healthy:      healthy,
			PID:          pid,
			Version:      version,
			Socket:       cfg.Listen.SocketPath,
		})
	}

	switch {
	case running && healthy:
		cmd.Printf("%s pipewrightd running (pid %d", RenderOK(SymbolOK), pid)
		if version != "" {
			cmd.Printf(", version %s", version)
		}
		cmd.Println(")")
	case running:
		cmd.Printf("%s pipewrightd running (pid %d) but not responding\n", RenderWarn(SymbolWarn), pid)
	case pid != 0:
		cmd.Printf("%s pipewrightd not running (stale pid file for %d)\n", RenderError(SymbolError), pid)
	default:
		cmd.Printf("%s pipewrightd not running\n", RenderError(SymbolError))
	}
	cmd.Printf("  %s\n", Muted.Render("socket: "+cfg.Listen.SocketPath))
	return nil
}

// daemonConfig resolves the engine configuration the way pipewrightd
// itself will, so the pid file, log, and socket land where the spawned
// daemon expects them.
func daemonConfig(file string) (*config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if file != "" {
		cfg.PipelinePath = file
	}
	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// daemonArgs builds the explicit flags for the spawned daemon. Paths are
// passed on the command line rather than inherited through the
// environment so the pid file and health check agree with the daemon on
// where everything lives.
func daemonArgs(cfg *config.Config) []string {
	return []string{
		"-file", cfg.PipelinePath,
		"-data-dir", cfg.DataDir,
		"-socket", cfg.Listen.SocketPath,
	}
}

// resolveDaemonBinary finds pipewrightd: an explicit override, the
// directory of the running executable, then $PATH.
func resolveDaemonBinary(override string) (string, error) {
	if override != "" {
		return override, nil
	}

	if self, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(self), daemonProcessName)
		if _, err := os.Stat(sibling); err == nil {
			return sibling, nil
		}
	}

	path, err := exec.LookPath(daemonProcessName)
	if err != nil {
		return "", fmt.Errorf("cannot find the pipewrightd binary (install it next to pipewright or on $PATH)")
	}
	return path, nil
}

// daemonClient talks to the socket the daemon config names, ignoring
// --host: these commands manage the local daemon, not a remote one.
func daemonClient(cfg *config.Config) (*client.Client, error) {
	return client.New(client.WithTransport(client.NewUnixTransport(cfg.Listen.SocketPath)))
}

func pingDaemon(ctx context.Context, cfg *config.Config) error {
	c, err := daemonClient(cfg)
	if err != nil {
		return err
	}
	return c.Ping(ctx)
}

// waitUntilReady polls the daemon's API with backoff until it answers,
// the process dies, or the timeout passes.
func waitUntilReady(ctx context.Context, cfg *config.Config, pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	interval := 50 * time.Millisecond

	for {
		if !lifecycle.Alive(pid) {
			return fmt.Errorf("pipewrightd exited during startup")
		}

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := pingDaemon(pingCtx, cfg)
		cancel()
		if err == nil {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("pipewrightd did not become ready within %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		if interval *= 2; interval > time.Second {
			interval = time.Second
		}
	}
}
