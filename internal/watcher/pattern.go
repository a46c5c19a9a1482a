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

package watcher

import (
	"fmt"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultExcludePatterns matches the temp and swap files editors scatter
// next to the pipeline file during saves.
var DefaultExcludePatterns = []string{
	// Vim swap files and its directory-writability probe
	"**/*.swp",
	"**/*.swo",
	"**/*.sw?",
	"**/4913",
	// Emacs backup, auto-save, and lock files
	"**/*~",
	"**/#*#",
	"**/.#*",
	// OS metadata
	"**/.DS_Store",
	"**/Thumbs.db",
	// Generic temp files
	"**/*.tmp",
	"**/*.temp",
}

// patternMatcher reports whether a path is excluded from change handling.
type patternMatcher struct {
	patterns []string
}

// newPatternMatcher compiles the default excludes plus any extras. Patterns
// use doublestar glob syntax.
func newPatternMatcher(extra []string) (*patternMatcher, error) {
	patterns := make([]string, 0, len(DefaultExcludePatterns)+len(extra))
	patterns = append(patterns, DefaultExcludePatterns...)
	patterns = append(patterns, extra...)

	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	return &patternMatcher{patterns: patterns}, nil
}

// Excluded checks the full path and the basename against every pattern, so
// both "**/*.swp" and bare "*.swp" style patterns behave as expected.
func (m *patternMatcher) Excluded(path string) bool {
	base := filepath.Base(path)
	for _, p := range m.patterns {
		if ok, _ := doublestar.PathMatch(p, filepath.ToSlash(path)); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, base); ok {
			return true
		}
	}
	return false
}
