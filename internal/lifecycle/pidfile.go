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

package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrPIDFileExists is returned when the pid file is already present.
	ErrPIDFileExists = errors.New("pid file already exists")

	// ErrInvalidPID is returned when the pid file holds something that is
	// not a positive integer.
	ErrInvalidPID = errors.New("invalid pid in file")

	// ErrUnsafeDirectory is returned when the pid file's parent directory
	// is world-writable.
	ErrUnsafeDirectory = errors.New("pid file directory is world-writable")
)

// PIDFile records the process id of a background daemon. The file is
// created exclusively so two managers cannot both claim a fresh start;
// staleness is decided by probing the recorded pid, not by locking,
// because the process that writes the file is not the one it names.
type PIDFile struct {
	path string
}

// NewPIDFile returns a PIDFile at the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Path returns the file location.
func (p *PIDFile) Path() string {
	return p.path
}

// Write records pid, creating the parent directory if needed. It fails
// with ErrPIDFileExists when a file is already present and with
// ErrUnsafeDirectory when the parent is world-writable (a symlink planted
// there could redirect the write).
func (p *PIDFile) Write(pid int) error {
	dir := filepath.Dir(p.path)
	if info, err := os.Stat(dir); err == nil {
		if info.Mode()&0o002 != 0 {
			return fmt.Errorf("%w: %s has mode %04o", ErrUnsafeDirectory, dir, info.Mode()&os.ModePerm)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking pid file directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating pid file directory: %w", err)
	}

	f, err := os.OpenFile(p.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return ErrPIDFileExists
		}
		return fmt.Errorf("creating pid file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\n", pid); err != nil {
		os.Remove(p.path)
		return fmt.Errorf("writing pid file: %w", err)
	}
	return nil
}

// Read returns the recorded pid. A missing file surfaces as
// os.ErrNotExist so callers can treat "not running" separately from a
// corrupt file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPID, strings.TrimSpace(string(data)))
	}
	if pid <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPID, pid)
	}
	return pid, nil
}

// Remove deletes the pid file. Removing an absent file is not an error.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing pid file: %w", err)
	}
	return nil
}

// Exists reports whether the pid file is present.
func (p *PIDFile) Exists() bool {
	_, err := os.Stat(p.path)
	return err == nil
}
