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

// Package httputil provides shared JSON response helpers for the API.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	pkgerrors "github.com/pipewright/pipewright/pkg/errors"
)

// WriteJSON writes a JSON response with the given status code and data.
// If encoding fails, it logs the error.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", slog.Any("error", err))
	}
}

// WriteError writes a JSON error response with the given status code and message.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{
		"error": message,
	})
}

// WriteErrorFrom maps an engine error onto the right HTTP status: not-found
// errors to 404, conflicts to 409, validation and cycle errors to 422, and
// everything else to the given fallback status.
func WriteErrorFrom(w http.ResponseWriter, err error, fallback int) {
	status := fallback

	var notFound *pkgerrors.NotFoundError
	var conflict *pkgerrors.ConflictError
	var validation *pkgerrors.ValidationError
	var cycle *pkgerrors.CycleError

	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &conflict):
		status = http.StatusConflict
	case errors.As(err, &validation), errors.As(err, &cycle):
		status = http.StatusUnprocessableEntity
	}

	WriteError(w, status, err.Error())
}
