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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/pipewright/pipewright/internal/commands"
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	commands.SetVersion(v, c, b)
}

// GetVersion returns version information.
func GetVersion() (string, string, string) {
	return commands.GetVersion()
}

// HandleExitError prints err and exits with its code.
func HandleExitError(err error) {
	commands.HandleExitError(err)
}

// NewRootCommand creates the root cobra command for pipewright.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipewright",
		Short: "Pipewright runs declarative pipelines on your machine",
		Long: `Pipewright watches a YAML pipeline file and runs its jobs in containers,
in dependency order, every time the file changes.

Run 'pipewright init' to create a starter pipeline.
Run 'pipewright up' to watch and run it in this terminal, or start
pipewrightd and use 'pipewright status' to follow the daemon.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	verbose, quiet, json, host := commands.RegisterFlagPointers()

	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(host, "host", "", "Daemon endpoint (unix:///path or tcp://host:port)")

	return cmd
}
