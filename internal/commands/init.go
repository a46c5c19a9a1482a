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
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"

	"github.com/pipewright/pipewright/internal/config"
	"github.com/pipewright/pipewright/internal/examples"
	"github.com/pipewright/pipewright/internal/executor"
)

// askOne is survey.AskOne, swappable in tests.
var askOne = survey.AskOne

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var (
		name    string
		runtime string
		example string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a starter pipeline file",
		Long: `Init writes a commented pipewright.yaml into the current directory. In a
terminal it asks for the pipeline name, the default runtime, and whether
to include a test job; otherwise it uses defaults and flags.

With --example it copies one of the bundled pipelines instead.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, name, runtime, example, force)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "pipeline name (defaults to the directory name)")
	cmd.Flags().StringVar(&runtime, "runtime", "", "default runs_on for generated jobs")
	cmd.Flags().StringVar(&example, "example", "",
		fmt.Sprintf("copy a bundled example pipeline (%s)", strings.Join(examples.Names(), ", ")))
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing pipeline file")
	return cmd
}

func runInit(cmd *cobra.Command, name, runtime, example string, force bool) error {
	path := config.DefaultPipelineFile
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if example != "" {
		return initFromExample(cmd, example, path)
	}

	if name == "" {
		name = defaultPipelineName()
	}
	if runtime == "" {
		runtime = "ubuntu-latest"
	}
	withTest := true

	if !IsNonInteractive() && !GetJSON() {
		var err error
		name, runtime, withTest, err = promptInitAnswers(name, runtime)
		if err != nil {
			return err
		}
	}

	if resolved := executor.ResolveImage(runtime); resolved == runtime && !strings.Contains(runtime, ":") {
		cmd.PrintErrf("%s %q is not a known runtime; it will be used as an image reference as-is\n",
			RenderWarn(SymbolWarn), runtime)
	}

	content := renderPipelineTemplate(name, runtime, withTest)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	if GetJSON() {
		return emitJSON(cmd, struct {
			JSONResponse
			Path     string `json:"path"`
			Pipeline string `json:"pipeline"`
			Runtime  string `json:"runtime"`
		}{
			JSONResponse: JSONResponse{Version: "1.0", Command: "init", Success: true},
			Path:         path,
			Pipeline:     name,
			Runtime:      runtime,
		})
	}

	cmd.Printf("%s wrote %s\n", RenderOK(SymbolOK), path)
	cmd.Printf("  %s\n", Muted.Render("edit the steps, then start the engine with: pipewright up"))
	return nil
}

func initFromExample(cmd *cobra.Command, example, path string) error {
	if err := examples.CopyTo(example, path); err != nil {
		return err
	}

	if GetJSON() {
		return emitJSON(cmd, struct {
			JSONResponse
			Path    string `json:"path"`
			Example string `json:"example"`
		}{
			JSONResponse: JSONResponse{Version: "1.0", Command: "init", Success: true},
			Path:         path,
			Example:      example,
		})
	}

	cmd.Printf("%s wrote %s (example: %s)\n", RenderOK(SymbolOK), path, example)
	cmd.Printf("  %s\n", Muted.Render("adjust the jobs to your project, then run: pipewright up"))
	return nil
}

func promptInitAnswers(defaultName, defaultRuntime string) (name, runtime string, withTest bool, err error) {
	name = defaultName
	if err = askOne(&survey.Input{
		Message: "Pipeline name:",
		Default: defaultName,
	}, &name); err != nil {
		return "", "", false, err
	}

	runtimes := executor.KnownRuntimes()
	sort.Strings(runtimes)
	runtime = defaultRuntime
	if err = askOne(&survey.Select{
		Message: "Default runtime:",
		Options: runtimes,
		Default: defaultRuntime,
	}, &runtime); err != nil {
		return "", "", false, err
	}

	withTest = true
	if err = askOne(&survey.Confirm{
		Message: "Include a test job?",
		Default: true,
	}, &withTest); err != nil {
		return "", "", false, err
	}

	return name, runtime, withTest, nil
}

func defaultPipelineName() string {
	wd, err := os.Getwd()
	if err != nil {
		return "pipeline"
	}
	name := filepath.Base(wd)
	if name == "/" || name == "." || name == "" {
		return "pipeline"
	}
	return name
}

func renderPipelineTemplate(name, runtime string, withTest bool) string {
	var b strings.Builder
	b.WriteString("# Pipewright pipeline.\n")
	b.WriteString("#\n")
	b.WriteString("# Each job runs its steps in order inside an ephemeral container.\n")
	b.WriteString("# Jobs whose needs are satisfied run in parallel. The daemon reloads\n")
	b.WriteString("# this file automatically every time you save it.\n")
	fmt.Fprintf(&b, "name: %s\n", name)
	b.WriteString("\njobs:\n")
	b.WriteString("  build:\n")
	fmt.Fprintf(&b, "    runs_on: %s\n", runtime)
	b.WriteString("    steps:\n")
	b.WriteString("      - name: build\n")
	b.WriteString("        run: echo \"replace me with your build command\"\n")
	if withTest {
		b.WriteString("\n  test:\n")
		fmt.Fprintf(&b, "    runs_on: %s\n", runtime)
		b.WriteString("    needs: [build]\n")
		b.WriteString("    steps:\n")
		b.WriteString("      - name: test\n")
		b.WriteString("        run: echo \"replace me with your test command\"\n")
	}
	return b.String()
}
