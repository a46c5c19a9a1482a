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
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHelpTestRoot() *cobra.Command {
	rootCmd := &cobra.Command{Use: "pipewright", Short: "test root"}
	rootCmd.PersistentFlags().Bool("verbose", false, "Verbose output")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the current run",
		Long:  "Shows the loaded pipeline and every job in the current run.",
	}
	statusCmd.Flags().String("format", "", "Output format")
	rootCmd.AddCommand(statusCmd)

	rootCmd.SetHelpCommand(NewHelpCommand(rootCmd))
	return rootCmd
}

func runHelp(t *testing.T, root *cobra.Command, args ...string) string {
	t.Helper()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append([]string{"help"}, args...))
	require.NoError(t, root.Execute())
	return buf.String()
}

func TestHelpListsCommandsJSON(t *testing.T) {
	out := runHelp(t, newHelpTestRoot(), "--json")

	var resp HelpResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))

	assert.Equal(t, "1.0", resp.Version)
	assert.Equal(t, "help", resp.Command)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.DocsURL)

	names := make([]string, 0, len(resp.Commands))
	for _, c := range resp.Commands {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "status")

	require.NotEmpty(t, resp.GlobalFlags)
	assert.Equal(t, "verbose", resp.GlobalFlags[0].Name)
}

func TestHelpSingleCommandJSON(t *testing.T) {
	out := runHelp(t, newHelpTestRoot(), "status", "--json")

	var resp HelpResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))

	assert.Equal(t, "help status", resp.Command)
	require.NotNil(t, resp.Detail)
	assert.Equal(t, "status", resp.Detail.Name)
	assert.Contains(t, resp.Detail.Long, "current run")

	flagNames := make([]string, 0, len(resp.Detail.Flags))
	for _, f := range resp.Detail.Flags {
		flagNames = append(flagNames, f.Name)
	}
	assert.Contains(t, flagNames, "format")
}

func TestHelpUnknownCommand(t *testing.T) {
	root := newHelpTestRoot()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs([]string{"help", "nonesuch", "--json"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonesuch")
}

func TestHelpPlainText(t *testing.T) {
	out := runHelp(t, newHelpTestRoot())
	assert.Contains(t, out, "status")
	assert.Contains(t, out, "Available Commands")
}
