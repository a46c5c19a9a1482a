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
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pipewright/pipewright/internal/client"
)

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current run and its jobs",
		Long: `Status shows the pipeline loaded by the daemon, the state of every job
in the current run, and the file watcher's last reload result.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	c, err := apiClient()
	if err != nil {
		return err
	}

	status, err := c.Status(cmd.Context())
	if err != nil {
		return err
	}

	if GetJSON() {
		return emitJSON(cmd, status)
	}

	printStatus(cmd, status)
	return nil
}

func printStatus(cmd *cobra.Command, status *client.StatusResponse) {
	if status.Run == nil {
		cmd.Println("No pipeline loaded.")
		printWatcher(cmd, status.Watcher)
		return
	}

	run := status.Run
	cmd.Printf("%s %s\n",
		Bold.Render(run.Pipeline),
		StateStyle(run.Status).Render("("+run.Status+")"))
	cmd.Printf("  %s %s\n", Muted.Render("run:"), run.RunID)
	if !run.StartedAt.IsZero() {
		cmd.Printf("  %s %s\n", Muted.Render("started:"), formatAge(run.StartedAt))
	}

	if len(run.Jobs) > 0 {
		nameWidth := 0
		for _, job := range run.Jobs {
			if len(job.Name) > nameWidth {
				nameWidth = len(job.Name)
			}
		}

		cmd.Println()
		for _, job := range run.Jobs {
			state := StateStyle(job.State).Render(fmt.Sprintf("%-8s", job.State))
			cmd.Printf("  %s %-*s %s %6s  %s\n",
				StateGlyph(job.State),
				nameWidth, job.Name,
				state,
				jobDuration(job),
				jobExtra(job))
		}
	}

	printWatcher(cmd, status.Watcher)
}

func printWatcher(cmd *cobra.Command, w *client.WatcherInfo) {
	if w == nil {
		return
	}

	cmd.Println()
	cmd.Printf("  %s %s\n", Muted.Render("watching:"), w.Path)

	last := w.LastReload
	switch {
	case last.Time.IsZero():
	case last.Error != "":
		cmd.Printf("  %s %s\n",
			Muted.Render("last reload:"),
			StatusError.Render("failed: "+last.Error))
	default:
		cmd.Printf("  %s ok %s\n", Muted.Render("last reload:"), formatAge(last.Time))
	}
}

// jobDuration renders how long a job ran, or has been running.
func jobDuration(job client.Job) string {
	switch {
	case job.StartedAt.IsZero():
		return ""
	case job.FinishedAt.IsZero():
		return formatDuration(time.Since(job.StartedAt))
	default:
		return formatDuration(job.FinishedAt.Sub(job.StartedAt))
	}
}

// jobExtra renders the trailing detail column: a failure or skip reason,
// or the dependency list while a job waits.
func jobExtra(job client.Job) string {
	if job.Reason != "" {
		return Muted.Render(job.Reason)
	}
	if job.State == "pending" && len(job.Needs) > 0 {
		return Muted.Render("needs: " + strings.Join(job.Needs, ", "))
	}
	return ""
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	return d.Truncate(time.Second).String()
}

func formatAge(t time.Time) string {
	return formatDuration(time.Since(t)) + " ago"
}
