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
	"context"
	"time"

	"github.com/spf13/cobra"
)

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Version prints the CLI build information, and the daemon's version when
one is reachable.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runVersion,
	}
}

func runVersion(cmd *cobra.Command, args []string) error {
	v, c, b := GetVersion()
	daemonVersion := fetchDaemonVersion(cmd.Context())

	if GetJSON() {
		type daemonInfo struct {
			Reachable bool   `json:"reachable"`
			Version   string `json:"version,omitempty"`
		}
		return emitJSON(cmd, struct {
			JSONResponse
			CLI       string     `json:"version"`
			Commit    string     `json:"commit"`
			BuildDate string     `json:"build_date"`
			Daemon    daemonInfo `json:"daemon"`
		}{
			JSONResponse: JSONResponse{Version: "1.0", Command: "version", Success: true},
			CLI:          v,
			Commit:       c,
			BuildDate:    b,
			Daemon:       daemonInfo{Reachable: daemonVersion != "", Version: daemonVersion},
		})
	}

	cmd.Printf("pipewright %s\n", v)
	cmd.Printf("  %s %s\n", Muted.Render("commit:"), c)
	cmd.Printf("  %s %s\n", Muted.Render("built:"), b)
	if daemonVersion != "" {
		cmd.Printf("  %s %s\n", Muted.Render("daemon:"), daemonVersion)
	} else {
		cmd.Printf("  %s %s\n", Muted.Render("daemon:"), Muted.Render("not running"))
	}
	return nil
}

// fetchDaemonVersion returns the daemon's reported version, or "" when no
// daemon answers. Version must work offline, so failures are not errors.
func fetchDaemonVersion(ctx context.Context) string {
	c, err := apiClient()
	if err != nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	info, err := c.Version(ctx)
	if err != nil {
		return ""
	}
	return info.Version
}
