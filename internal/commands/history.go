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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pipewright/pipewright/internal/client"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show past runs",
		Long: `History lists recent runs recorded by the daemon, newest first. With a
run id it shows that run's jobs and steps.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runHistoryShow(cmd, args[0])
			}
			return runHistoryList(cmd, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")
	return cmd
}

func runHistoryList(cmd *cobra.Command, limit int) error {
	c, err := apiClient()
	if err != nil {
		return err
	}

	runs, err := c.Runs(cmd.Context(), limit)
	if err != nil {
		return err
	}

	if GetJSON() {
		return emitJSON(cmd, runs)
	}

	if len(runs) == 0 {
		cmd.Println("No runs recorded yet.")
		return nil
	}

	for _, run := range runs {
		line := fmt.Sprintf("  %s %s  %s  %s",
			StateGlyph(run.Status),
			run.ID,
			run.Pipeline,
			StateStyle(run.Status).Render(run.Status))
		if !run.StartedAt.IsZero() {
			line += "  " + Muted.Render(formatAge(run.StartedAt))
		}
		cmd.Println(line)
	}
	return nil
}

func runHistoryShow(cmd *cobra.Command, id string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}

	detail, err := c.Run(cmd.Context(), id)
	if err != nil {
		return err
	}

	if GetJSON() {
		return emitJSON(cmd, detail)
	}

	printRunDetail(cmd, detail)
	return nil
}

func printRunDetail(cmd *cobra.Command, detail *client.RunDetail) {
	cmd.Printf("%s %s\n",
		Bold.Render(detail.Pipeline),
		StateStyle(detail.Status).Render("("+detail.Status+")"))
	cmd.Printf("  %s %s\n", Muted.Render("run:"), detail.ID)
	if detail.Error != "" {
		cmd.Printf("  %s %s\n", Muted.Render("error:"), StatusError.Render(detail.Error))
	}
	if !detail.StartedAt.IsZero() && !detail.FinishedAt.IsZero() {
		cmd.Printf("  %s %s\n", Muted.Render("duration:"),
			formatDuration(detail.FinishedAt.Sub(detail.StartedAt)))
	}

	for _, job := range detail.Jobs {
		cmd.Println()
		cmd.Printf("  %s %s  %s\n",
			StateGlyph(job.Status),
			Bold.Render(job.Job),
			StateStyle(job.Status).Render(job.Status))
		for _, step := range job.Steps {
			name := step.Name
			if name == "" {
				name = step.Command
			}
			line := fmt.Sprintf("      %s %s", StateGlyph(step.Status), name)
			if step.ExitCode != 0 {
				line += "  " + Muted.Render(fmt.Sprintf("exit %d", step.ExitCode))
			}
			cmd.Println(line)
		}
	}
}
