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
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The stub script is what every non-smoke e2e test runs on, so its
// docker argv handling is tested directly here.
func TestStubRuntimeRun(t *testing.T) {
	stub := StubRuntime(t)
	work, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	out, err := exec.Command(stub,
		"run", "--rm",
		"--name", "pipewright-test-1",
		"--label", "io.pipewright.run=abc",
		"-v", work+":/workspace",
		"-w", "/workspace",
		"-e", "GREETING=hello stub",
		"alpine:3.20",
		"sh", "-c", `echo "$GREETING"; pwd`,
	).Output()
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "hello stub", lines[0])

	got, err := filepath.EvalSymlinks(lines[1])
	require.NoError(t, err)
	assert.Equal(t, work, got)
}

func TestStubRuntimeIgnoresOtherSubcommands(t *testing.T) {
	stub := StubRuntime(t)

	require.NoError(t, exec.Command(stub, "rm", "-f", "pipewright-test-1").Run())
	require.NoError(t, exec.Command(stub, "inspect", "whatever").Run())
}

func TestStubRuntimeRecordsInvocations(t *testing.T) {
	h := &Harness{t: t, runtime: StubRuntime(t)}

	require.NoError(t, exec.Command(h.runtime, "rm", "-f", "x").Run())
	require.NoError(t, exec.Command(h.runtime, "run", "img", "sh", "-c", "true").Run())

	inv := h.StubInvocations()
	require.Len(t, inv, 2)
	assert.True(t, strings.HasPrefix(inv[0], "rm "))
	assert.True(t, strings.HasPrefix(inv[1], "run "))
}
