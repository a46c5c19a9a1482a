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
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/pipewright/pipewright/internal/client"
)

// apiClient creates a daemon client honoring the --host flag, falling back
// to PIPEWRIGHT_HOST and then the default socket.
func apiClient() (*client.Client, error) {
	host := GetHost()
	if host == "" {
		return client.FromEnvironment()
	}

	transport, err := client.ParseHost(host)
	if err != nil {
		return nil, err
	}
	return client.New(client.WithTransport(transport))
}

// emitJSON writes v to the command's output as indented JSON.
func emitJSON(cmd *cobra.Command, v any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// JSONResponse is the base envelope for JSON command output.
type JSONResponse struct {
	Version string `json:"@version"`
	Command string `json:"command"`
	Success bool   `json:"success"`
}

// JSONError is a structured error in JSON command output.
type JSONError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// EmitJSONError emits a failure envelope for a command.
func EmitJSONError(cmd *cobra.Command, command string, errs []JSONError) error {
	type errorResponse struct {
		JSONResponse
		Errors []JSONError `json:"errors"`
	}

	return emitJSON(cmd, errorResponse{
		JSONResponse: JSONResponse{Version: "1.0", Command: command, Success: false},
		Errors:       errs,
	})
}
