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

package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"syscall"
	"time"
)

// ErrShutdownTimeout is returned when a process outlives its stop grace
// period.
var ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

// Alive reports whether a process with the given pid exists and can still
// do work. On Unix, os.FindProcess always succeeds, so existence is probed
// with signal 0. A zombie passes the signal probe but is dead for our
// purposes (it cannot serve and will never exit its zombie state on its
// own), so on Linux the process state is checked too.
func Alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	if proc.Signal(syscall.Signal(0)) != nil {
		return false
	}
	return !isZombie(pid)
}

// isZombie reads the state field of /proc/<pid>/stat. The comm field may
// itself contain spaces or parentheses, so the state is located after the
// last ')'.
func isZombie(pid int) bool {
	if runtime.GOOS != "linux" {
		return false
	}
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	stat := string(data)
	i := strings.LastIndexByte(stat, ')')
	if i < 0 || i+2 >= len(stat) {
		return false
	}
	return stat[i+2] == 'Z'
}

// CommandMatches reports whether the process's command line contains
// substr. It reads /proc on Linux; on platforms without /proc it returns
// true, trading the stale-pid safety check for portability. Stops consult
// this before signalling so a recycled pid from a stale pid file is never
// killed.
func CommandMatches(pid int, substr string) bool {
	if runtime.GOOS != "linux" {
		return true
	}
	cmdline, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return false
	}
	return strings.Contains(strings.ReplaceAll(string(cmdline), "\x00", " "), substr)
}

// Terminate sends SIGTERM.
func Terminate(pid int) error {
	return signalProcess(pid, syscall.SIGTERM)
}

// Kill sends SIGKILL.
func Kill(pid int) error {
	return signalProcess(pid, syscall.SIGKILL)
}

func signalProcess(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("signalling process %d with %v: %w", pid, sig, err)
	}
	return nil
}

// WaitForExit polls until the process is gone, returning
// ErrShutdownTimeout if it is still alive at the deadline.
func WaitForExit(pid int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	if !Alive(pid) {
		return nil
	}
	return ErrShutdownTimeout
}

// Stop shuts a process down: SIGTERM, wait up to timeout, then SIGKILL.
// With force it skips straight to SIGKILL. A process that is already gone
// is a successful stop.
func Stop(pid int, timeout time.Duration, force bool) error {
	if !Alive(pid) {
		return nil
	}

	if force {
		if err := Kill(pid); err != nil {
			return err
		}
		return WaitForExit(pid, timeout)
	}

	if err := Terminate(pid); err != nil {
		return err
	}
	if err := WaitForExit(pid, timeout); err == nil {
		return nil
	}

	if err := Kill(pid); err != nil {
		return fmt.Errorf("escalating to SIGKILL: %w", err)
	}
	return WaitForExit(pid, 5*time.Second)
}
