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

package executor

import (
	"fmt"
	"strings"
)

// runtimeImages maps friendly runs_on identifiers to concrete images.
// Identifiers not in the table pass through unchanged, so any image
// reference works as a runs_on value.
var runtimeImages = map[string]string{
	"ubuntu-latest": "ubuntu:24.04",
	"ubuntu-24.04":  "ubuntu:24.04",
	"ubuntu-22.04":  "ubuntu:22.04",
	"node-18":       "node:18-bookworm",
	"node-20":       "node:20-bookworm",
	"node-22":       "node:22-bookworm",
	"python-3.11":   "python:3.11-slim",
	"python-3.12":   "python:3.12-slim",
	"go-1.23":       "golang:1.23-bookworm",
	"go-1.24":       "golang:1.24-bookworm",
	"alpine":        "alpine:3.20",
}

// ResolveImage translates a runs_on identifier into a container image
// reference. Unrecognized identifiers are returned unchanged.
func ResolveImage(runsOn string) string {
	if image, ok := runtimeImages[runsOn]; ok {
		return image
	}
	return runsOn
}

// KnownRuntimes returns the friendly identifiers the table recognizes.
// Used by the CLI for validate hints and init scaffolding.
func KnownRuntimes() []string {
	names := make([]string, 0, len(runtimeImages))
	for name := range runtimeImages {
		names = append(names, name)
	}
	return names
}

// containerName builds a deterministic, runtime-safe container name for one
// step: pipewright-<run prefix>-<job>-<step index>. Deterministic names let
// the executor remove a container it lost track of after a forced kill.
func containerName(runID, job string, stepIndex int) string {
	id := runID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("pipewright-%s-%s-%d", sanitizeName(id), sanitizeName(job), stepIndex)
}

// sanitizeName keeps only the characters container runtimes accept in
// names, replacing everything else with '-'.
func sanitizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := b.String()
	if out == "" {
		return "x"
	}
	// Names must start with an alphanumeric.
	if !isAlnum(out[0]) {
		out = "x" + out
	}
	return out
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
