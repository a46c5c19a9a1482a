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

//go:build smoke

package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipewright/pipewright/internal/engine/scheduler"
	"github.com/pipewright/pipewright/internal/testing/integration"
	"github.com/pipewright/pipewright/test/e2e/harness"
)

// Smoke tests exercise a real container runtime end to end. Run with
//
//	go test -tags smoke ./test/e2e/...
//
// They need the runtime binary on PATH (PIPEWRIGHT_E2E_RUNTIME to
// override) and will pull the test image on first use.
func TestRealRuntimeLinearPipeline(t *testing.T) {
	cfg := integration.SkipWithoutRuntime(t)

	h := harness.New(t,
		harness.WithRuntimeBinary(cfg.RuntimeBinary),
		// Image pulls can dominate the first run.
		harness.WithTimeout(3*time.Minute),
	)

	snap := h.Run(h.Load(fmt.Sprintf(`
name: smoke
jobs:
  produce:
    runs_on: %[1]s
    steps:
      - name: write artifact
        run: echo from-container > artifact.txt
  consume:
    needs: [produce]
    runs_on: %[1]s
    steps:
      - name: read artifact
        run: cat artifact.txt
`, cfg.Image)))

	h.AssertSuccess(t, snap)
	h.AssertJobOrder(t, "produce", "consume")
	h.AssertLogContains(t, "consume", "from-container")

	// The workspace mount makes container writes visible on the host.
	data, err := os.ReadFile(filepath.Join(h.Workspace(), "artifact.txt"))
	require.NoError(t, err)
	assert.Equal(t, "from-container\n", string(data))
}

func TestRealRuntimeStepFailure(t *testing.T) {
	cfg := integration.SkipWithoutRuntime(t)

	h := harness.New(t,
		harness.WithRuntimeBinary(cfg.RuntimeBinary),
		harness.WithTimeout(3*time.Minute),
	)

	snap := h.Run(h.Load(fmt.Sprintf(`
name: smoke-fail
jobs:
  broken:
    runs_on: %s
    steps:
      - name: fail inside container
        run: exit 42
`, cfg.Image)))

	h.AssertRunStatus(t, snap, scheduler.RunFailed)
}
