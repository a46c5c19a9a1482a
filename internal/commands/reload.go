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
	"github.com/spf13/cobra"
)

// NewReloadCommand creates the reload command.
func NewReloadCommand() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Reload the pipeline file",
		Long: `Reload asks the daemon to re-read the pipeline file, replacing the
current run. The daemon does this automatically when the file changes;
reload forces it, optionally from a different file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReload(cmd, file)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "pipeline file to load instead of the configured one")
	return cmd
}

func runReload(cmd *cobra.Command, file string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}

	action, err := c.Reload(cmd.Context(), file)
	if err != nil {
		return err
	}

	if GetJSON() {
		return emitJSON(cmd, action)
	}

	cmd.Printf("%s pipeline reloaded\n", RenderOK(SymbolOK))
	return nil
}
