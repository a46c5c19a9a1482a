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

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the loaded pipeline",
		Long: `Run asks the daemon to start executing the currently loaded pipeline.
It fails if a run is already in progress, or if the loaded run already
finished; reload the pipeline to run it again.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRun,
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}

	action, err := c.StartRun(cmd.Context())
	if err != nil {
		return err
	}

	if GetJSON() {
		return emitJSON(cmd, action)
	}

	cmd.Printf("%s run %s started\n", RenderOK(SymbolOK), action.RunID)
	return nil
}
