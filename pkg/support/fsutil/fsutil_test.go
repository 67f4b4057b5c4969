// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceTildeInDir(t *testing.T) {
	home := must.M1(os.UserHomeDir())
	assert.Equal(t, "/tmp/x", must.M1(ReplaceTildeInDir("/tmp/x")))
	assert.Equal(t, "", must.M1(ReplaceTildeInDir("")))
	assert.Equal(t, home, must.M1(ReplaceTildeInDir("~")))
	assert.Equal(t, filepath.Join(home, "fixtures"), must.M1(ReplaceTildeInDir("~/fixtures")))
	_, err := ReplaceTildeInDir("~no_such_user_for_sure/x")
	require.Error(t, err)
}

func TestAtomicFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "fixture.zip")
	f := must.M1(CreateAtomic(target))
	_ = must.M1(f.Write([]byte("hello")))
	_, err := os.Stat(target)
	require.True(t, os.IsNotExist(err), "not visible before Commit")
	require.Equal(t, int64(5), must.M1(f.Commit()))
	require.Equal(t, "hello", string(must.M1(os.ReadFile(target))))
	_, err = f.Commit()
	require.Error(t, err)
	f.Abort() // No-op.
	require.FileExists(t, target)

	aborted := must.M1(CreateAtomic(filepath.Join(dir, "aborted.zip")))
	aborted.Abort()
	require.NoFileExists(t, filepath.Join(dir, "aborted.zip"))
	entries := must.M1(os.ReadDir(dir))
	require.Len(t, entries, 1, "temporary files are removed")
}
