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

// Package commands implements the pipewright CLI commands.
package commands

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/pipewright/pipewright/internal/client"
	"github.com/pipewright/pipewright/pkg/errors"
)

// Global flag values, bound by the root command.
var (
	verboseFlag bool
	quietFlag   bool
	jsonFlag    bool
	hostFlag    string

	// Build-time version information
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterFlagPointers returns pointers to the global flag variables for
// the root command to bind.
func RegisterFlagPointers() (verbose, quiet, json *bool, host *string) {
	return &verboseFlag, &quietFlag, &jsonFlag, &hostFlag
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

// GetVersion returns version information.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// GetVerbose returns the verbose flag value.
func GetVerbose() bool {
	return verboseFlag
}

// GetQuiet returns the quiet flag value.
func GetQuiet() bool {
	return quietFlag
}

// GetJSON returns the JSON output flag value.
func GetJSON() bool {
	return jsonFlag
}

// GetHost returns the daemon endpoint override.
func GetHost() string {
	return hostFlag
}

// Exit codes for the pipewright CLI.
const (
	ExitSuccess         = 0
	ExitFailure         = 1
	ExitInvalidPipeline = 2
)

// ExitError is an error that carries an exit code.
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		if e.Message == "" {
			return e.Cause.Error()
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewInvalidPipelineError creates an error for invalid pipeline files.
func NewInvalidPipelineError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidPipeline, Message: msg, Cause: cause}
}

// HandleExitError prints err with any guidance and exits with its code.
func HandleExitError(err error) {
	if err == nil {
		return
	}

	code := ExitFailure
	var exitErr *ExitError
	if stderrors.As(err, &exitErr) {
		code = exitErr.Code
	}

	if msg := err.Error(); msg != "" {
		fmt.Fprintln(os.Stderr, "Error:", msg)
	}

	var validation *errors.ValidationError
	if stderrors.As(err, &validation) && validation.Suggestion != "" {
		fmt.Fprintf(os.Stderr, "\nSuggestion: %s\n", validation.Suggestion)
	}

	var notRunning *client.DaemonNotRunningError
	if stderrors.As(err, &notRunning) {
		fmt.Fprintf(os.Stderr, "\n%s\n", notRunning.Guidance())
	} else if client.IsDaemonNotRunning(err) {
		fmt.Fprintf(os.Stderr, "\n%s\n", (&client.DaemonNotRunningError{}).Guidance())
	}

	os.Exit(code)
}
