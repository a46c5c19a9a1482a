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

// NewStopCommand creates the stop command.
func NewStopCommand() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the active run",
		Long: `Stop cancels the active run. Running containers receive a termination
signal, pending jobs are skipped, and the run is recorded as stopped.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd, reason)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "reason to record for the stop")
	return cmd
}

func runStop(cmd *cobra.Command, reason string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}

	action, err := c.StopRun(cmd.Context(), reason)
	if err != nil {
		return err
	}

	if GetJSON() {
		return emitJSON(cmd, action)
	}

	cmd.Printf("%s run %s stopping\n", RenderWarn(SymbolWarn), action.RunID)
	return nil
}
