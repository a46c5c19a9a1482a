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
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pipewright/pipewright/internal/config"
	"github.com/pipewright/pipewright/internal/graph"
	"github.com/pipewright/pipewright/pkg/errors"
	"github.com/pipewright/pipewright/pkg/pipeline"
	"github.com/pipewright/pipewright/schemas"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	var printSchema bool

	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a pipeline file without running it",
		Long: `Validate parses a pipeline file, checks every job and step, and builds
the dependency graph. It runs entirely locally and never talks to the
daemon. Exit code 2 means the file is invalid.

With --schema it prints the pipeline JSON Schema instead, for editor
integration and external validators.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printSchema {
				cmd.Print(schemas.PipelineSchemaString())
				return nil
			}
			file := config.DefaultPipelineFile
			if len(args) == 1 {
				file = args[0]
			}
			return runValidate(cmd, file)
		},
	}

	cmd.Flags().BoolVar(&printSchema, "schema", false, "print the pipeline JSON Schema and exit")
	return cmd
}

func runValidate(cmd *cobra.Command, file string) error {
	p, err := pipeline.ParseFile(file)
	if err != nil {
		return validateFailure(cmd, file, err)
	}

	g, err := graph.Build(p.JobList())
	if err != nil {
		return validateFailure(cmd, file, err)
	}

	order, err := g.TopologicalOrder()
	if err != nil {
		return validateFailure(cmd, file, err)
	}

	steps := 0
	for _, job := range p.Jobs {
		steps += len(job.Steps)
	}

	if GetJSON() {
		return emitJSON(cmd, struct {
			JSONResponse
			Pipeline string   `json:"pipeline"`
			Jobs     int      `json:"jobs"`
			Steps    int      `json:"steps"`
			Order    []string `json:"order"`
		}{
			JSONResponse: JSONResponse{Version: "1.0", Command: "validate", Success: true},
			Pipeline:     p.Name,
			Jobs:         len(p.Jobs),
			Steps:        steps,
			Order:        order,
		})
	}

	cmd.Printf("%s %s is valid\n\n", RenderOK(SymbolOK), file)
	cmd.Printf("  %s %s\n", Muted.Render("pipeline:"), p.Name)
	cmd.Printf("  %s %d\n", Muted.Render("jobs:"), len(p.Jobs))
	cmd.Printf("  %s %d\n", Muted.Render("steps:"), steps)
	cmd.Printf("  %s %s\n", Muted.Render("order:"), strings.Join(order, ", "))
	return nil
}

func validateFailure(cmd *cobra.Command, file string, cause error) error {
	if GetJSON() {
		jsonErr := JSONError{Code: "invalid_pipeline", Message: cause.Error()}
		var validation *errors.ValidationError
		if stderrors.As(cause, &validation) {
			jsonErr.Suggestion = validation.Suggestion
		}
		if err := EmitJSONError(cmd, "validate", []JSONError{jsonErr}); err != nil {
			return err
		}
		// The envelope already carries the message; exit silently with
		// the pipeline-invalid code.
		return &ExitError{Code: ExitInvalidPipeline}
	}

	cmd.PrintErrf("%s %s is invalid\n", RenderError(SymbolError), file)
	return NewInvalidPipelineError(fmt.Sprintf("invalid pipeline %s", file), cause)
}
