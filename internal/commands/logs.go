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
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/pipewright/pipewright/internal/client"
)

// NewLogsCommand creates the logs command.
func NewLogsCommand() *cobra.Command {
	var (
		limit  int
		follow bool
	)

	cmd := &cobra.Command{
		Use:   "logs <job>",
		Short: "Show output from a job in the current run",
		Long: `Logs prints the captured output of a job in the current run. With
--follow it keeps the connection open and streams new lines as the job
produces them, until the job finishes or the stream is interrupted.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogs(cmd, args[0], limit, follow)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum number of lines to print (0 means all)")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream new output as it arrives")
	return cmd
}

func runLogs(cmd *cobra.Command, job string, limit int, follow bool) error {
	c, err := apiClient()
	if err != nil {
		return err
	}

	logs, err := c.JobLogs(cmd.Context(), job, limit)
	if err != nil {
		return err
	}

	if GetJSON() && !follow {
		return emitJSON(cmd, logs)
	}

	for _, line := range logs.Logs {
		printLogLine(cmd, line.Stream, line.Line)
	}

	if !follow {
		return nil
	}

	stream, err := c.Events(cmd.Context(), job)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			// Ctrl-C cancels the request context mid-read; that is a
			// normal way to leave a follow, not a failure.
			if cmd.Context().Err() != nil {
				return nil
			}
			return fmt.Errorf("event stream: %w", err)
		}

		switch ev.Kind {
		case client.KindLog:
			printLogLine(cmd, ev.Stream, ev.Line)
		case client.KindJobState:
			if isTerminalJobState(ev.State) {
				printJobState(cmd, *ev)
				return nil
			}
		}
	}
}

func printLogLine(cmd *cobra.Command, stream, line string) {
	switch stream {
	case "stderr":
		cmd.Printf("%s %s\n", StatusWarn.Render("!"), line)
	case "system":
		cmd.Println(Muted.Render(line))
	default:
		cmd.Println(line)
	}
}

func printJobState(cmd *cobra.Command, ev client.Event) {
	msg := fmt.Sprintf("%s %s %s", StateGlyph(ev.State), ev.Job, ev.State)
	if ev.Reason != "" {
		msg += " " + Muted.Render("("+ev.Reason+")")
	}
	cmd.Println(msg)
}

func isTerminalJobState(state string) bool {
	switch state {
	case "success", "failed", "skipped":
		return true
	}
	return false
}
