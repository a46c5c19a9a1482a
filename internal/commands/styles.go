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
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// CLI style colors using lipgloss. Rendering degrades to plain text when
// stdout is not a terminal or NO_COLOR is set.
var (
	// StatusOK styles success indicators
	StatusOK = lipgloss.NewStyle().Foreground(lipgloss.Color("42")) // green

	// StatusWarn styles warning indicators
	StatusWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // orange

	// StatusError styles error indicators
	StatusError = lipgloss.NewStyle().Foreground(lipgloss.Color("196")) // red

	// Muted styles secondary text
	Muted = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray

	// Bold styles emphasized text
	Bold = lipgloss.NewStyle().Bold(true)
)

// Symbols for job and run states.
const (
	SymbolOK      = "✓"
	SymbolWarn    = "⚠"
	SymbolError   = "✗"
	SymbolPending = "•"
)

// RenderOK styles a success glyph or message green.
func RenderOK(s string) string {
	return StatusOK.Render(s)
}

// RenderWarn styles a warning glyph or message orange.
func RenderWarn(s string) string {
	return StatusWarn.Render(s)
}

// RenderError styles an error glyph or message red.
func RenderError(s string) string {
	return StatusError.Render(s)
}

// StateGlyph returns the styled glyph for a job or run state.
func StateGlyph(state string) string {
	switch state {
	case "success":
		return StatusOK.Render(SymbolOK)
	case "failed", "stalled":
		return StatusError.Render(SymbolError)
	case "skipped", "stopped":
		return StatusWarn.Render(SymbolWarn)
	case "running":
		return StatusWarn.Render(SymbolPending)
	default: // pending
		return Muted.Render(SymbolPending)
	}
}

// StateStyle returns the style for a job or run state label.
func StateStyle(state string) lipgloss.Style {
	switch state {
	case "success":
		return StatusOK
	case "failed", "stalled":
		return StatusError
	case "skipped", "stopped", "running":
		return StatusWarn
	default:
		return Muted
	}
}

// IsNonInteractive detects execution contexts where prompting is wrong:
// an explicit opt-out, CI, or stdin not being a terminal.
func IsNonInteractive() bool {
	if os.Getenv("PIPEWRIGHT_NON_INTERACTIVE") == "true" {
		return true
	}
	if os.Getenv("CI") == "true" || os.Getenv("CI") == "1" {
		return true
	}
	return !term.IsTerminal(int(os.Stdin.Fd()))
}
