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

// Package lifecycle manages pipewrightd as a background process: spawning
// it detached, tracking it through a pid file, and stopping it with a
// SIGTERM-then-SIGKILL escalation. It is used by the `pipewright daemon`
// command group; pipewrightd itself knows nothing about pid files.
package lifecycle
