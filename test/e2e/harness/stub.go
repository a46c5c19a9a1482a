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

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// StubRuntime writes a docker-compatible stand-in script and returns its
// path. "run" invocations execute the step command on the host inside
// the mounted workspace, with -e environment applied; every other
// subcommand (rm, inspect) is a no-op. Each invocation's argv is
// appended to invocations.log next to the script.
func StubRuntime(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub runtime requires a POSIX shell")
	}

	dir := t.TempDir()
	logPath := filepath.Join(dir, "invocations.log")
	script := fmt.Sprintf(`#!/bin/sh
printf '%%s\n' "$*" >> '%s'
[ "$1" = run ] || exit 0
shift
work=
while [ $# -gt 3 ]; do
  case "$1" in
  -v) work=${2%%%%:*}; shift 2 ;;
  -e) export "$2"; shift 2 ;;
  *) shift ;;
  esac
done
if [ -n "$work" ]; then cd "$work" || exit 125; fi
exec "$@"
`, logPath)

	path := filepath.Join(dir, "docker-stub")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write stub runtime: %v", err)
	}
	return path
}

// StubInvocations returns the argv of every runtime invocation recorded
// by the stub, one line each. Empty when a real runtime is in use.
func (h *Harness) StubInvocations() []string {
	h.t.Helper()

	data, err := os.ReadFile(filepath.Join(filepath.Dir(h.runtime), "invocations.log"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		h.t.Fatalf("read stub invocations: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}
	return lines
}
