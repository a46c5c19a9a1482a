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
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFileRoundTrip(t *testing.T) {
	p := NewPIDFile(filepath.Join(t.TempDir(), "d.pid"))

	require.NoError(t, p.Write(4321))
	assert.True(t, p.Exists())

	pid, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, 4321, pid)

	info, err := os.Stat(p.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode()&os.ModePerm)

	require.NoError(t, p.Remove())
	assert.False(t, p.Exists())
}

func TestPIDFileRefusesSecondWrite(t *testing.T) {
	p := NewPIDFile(filepath.Join(t.TempDir(), "d.pid"))

	require.NoError(t, p.Write(1))
	assert.ErrorIs(t, p.Write(2), ErrPIDFileExists)

	// The original content survives the refused write.
	pid, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, 1, pid)
}

func TestPIDFileCreatesParentDir(t *testing.T) {
	p := NewPIDFile(filepath.Join(t.TempDir(), "nested", "deeper", "d.pid"))

	require.NoError(t, p.Write(99))

	info, err := os.Stat(filepath.Dir(p.Path()))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode()&os.ModePerm)
}

func TestPIDFileReadMissing(t *testing.T) {
	p := NewPIDFile(filepath.Join(t.TempDir(), "absent.pid"))

	_, err := p.Read()
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPIDFileReadInvalid(t *testing.T) {
	for _, content := range []string{"not-a-pid\n", "-7\n", "0\n", "\n"} {
		path := filepath.Join(t.TempDir(), "d.pid")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		_, err := NewPIDFile(path).Read()
		assert.ErrorIs(t, err, ErrInvalidPID, "content %q", content)
	}
}

func TestPIDFileRemoveMissingIsNoop(t *testing.T) {
	p := NewPIDFile(filepath.Join(t.TempDir(), "absent.pid"))
	assert.NoError(t, p.Remove())
}

func TestPIDFileRejectsWorldWritableDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}

	dir := filepath.Join(t.TempDir(), "open")
	require.NoError(t, os.Mkdir(dir, 0o700))
	require.NoError(t, os.Chmod(dir, 0o777))

	err := NewPIDFile(filepath.Join(dir, "d.pid")).Write(1)
	assert.ErrorIs(t, err, ErrUnsafeDirectory)
}
