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

/*
Package cli provides the root command and shared configuration for the
pipewright CLI.

This package creates the main cobra command tree and handles global
concerns like version information, persistent flags, and error handling.
Individual commands are implemented in internal/commands.

# Command Tree

The CLI is organized as:

	pipewright
	├── init        Create a starter pipeline file
	├── up          Watch and run in this terminal (no daemon)
	├── validate    Validate a pipeline file
	├── daemon      Start, stop, and inspect pipewrightd
	├── status      Show the current run and its jobs
	├── logs        Show (and follow) job output
	├── run         Start the loaded pipeline
	├── stop        Stop the active run
	├── reload      Reload the pipeline file
	├── history     Show past runs
	├── version     Show version
	└── help        Show help

# Usage

From main.go:

	cli.SetVersion(version, commit, date)
	rootCmd := cli.NewRootCommand()
	// ... add commands ...
	if err := rootCmd.Execute(); err != nil {
	    cli.HandleExitError(err)
	}

# Global Flags

All commands inherit these flags:

	--verbose, -v    Enable verbose output
	--quiet, -q      Suppress non-error output
	--json           Output in JSON format
	--host           Daemon endpoint (unix:///path or tcp://host:port)

# Error Handling

Errors are handled centrally to ensure proper exit codes:

  - Exit 0: Success
  - Exit 1: General error
  - Exit 2: Invalid pipeline file

Use HandleExitError for consistent error handling:

	if err := cmd.Execute(); err != nil {
	    cli.HandleExitError(err)
	}
*/
package cli
