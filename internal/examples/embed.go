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

// Package examples ships ready-to-run starter pipelines inside the binary
// so `pipewright init --example` works offline.
package examples

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed *.yaml
var embeddedFS embed.FS

// Example describes one embedded starter pipeline.
type Example struct {
	Name        string
	Description string
}

// descriptions holds the one-line summary shown by `init` for each
// embedded pipeline. Every *.yaml in this directory needs an entry.
var descriptions = map[string]string{
	"go":     "Build, test, and vet a Go module",
	"node":   "Install, build, and test a Node.js app",
	"python": "Test and lint a Python package in a virtualenv",
}

// List returns every embedded example, sorted by name.
func List() ([]Example, error) {
	entries, err := embeddedFS.ReadDir(".")
	if err != nil {
		return nil, fmt.Errorf("reading embedded examples: %w", err)
	}

	examples := make([]Example, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".yaml")
		examples = append(examples, Example{
			Name:        name,
			Description: descriptions[name],
		})
	}

	sort.Slice(examples, func(i, j int) bool { return examples[i].Name < examples[j].Name })
	return examples, nil
}

// Names returns the sorted names of all embedded examples, for flag help
// and error messages.
func Names() []string {
	examples, err := List()
	if err != nil {
		return nil
	}
	names := make([]string, len(examples))
	for i, ex := range examples {
		names[i] = ex.Name
	}
	return names
}

// Get returns the raw YAML of the named example.
func Get(name string) ([]byte, error) {
	content, err := embeddedFS.ReadFile(name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("no example named %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return content, nil
}

// Exists reports whether an example with the given name is embedded.
func Exists(name string) bool {
	_, err := embeddedFS.ReadFile(name + ".yaml")
	return err == nil
}

// CopyTo writes the named example to destPath, creating parent
// directories as needed.
func CopyTo(name, destPath string) error {
	content, err := Get(name)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(destPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(destPath, content, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", destPath, err)
	}
	return nil
}
