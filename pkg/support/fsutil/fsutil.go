// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil contains utilities for working with the file system.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ReplaceTildeInDir by the user's home directory. Returns dir if it doesn't start with "~".
//
// It returns an error if `dir` has an unknown user (e.g: `~unknown/...`).
func ReplaceTildeInDir(dir string) (string, error) {
	if !strings.HasPrefix(dir, "~") {
		return dir, nil
	}
	userName, rest, _ := strings.Cut(dir[1:], "/")
	var homeDir string
	if userName == "" {
		var err error
		if homeDir, err = os.UserHomeDir(); err != nil {
			return "", errors.Wrapf(err, "failed to find home directory for path %q", dir)
		}
	} else {
		usr, err := user.Lookup(userName)
		if err != nil {
			return "", errors.Wrapf(err, "failed to lookup home directory for user in path %q", dir)
		}
		homeDir = usr.HomeDir
	}
	return filepath.Join(homeDir, rest), nil
}

// AtomicFile is being written to a temporary file in the same directory as its final path, and
// it only shows up in the final path once committed. So readers never see a partially written file.
type AtomicFile struct {
	*os.File
	finalPath string
	done      bool
}

// CreateAtomic creates the temporary file for filePath. The caller must call either Commit or Abort.
func CreateAtomic(filePath string) (*AtomicFile, error) {
	dir, base := filepath.Split(filePath)
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create temporary file for %q", filePath)
	}
	return &AtomicFile{File: f, finalPath: filePath}, nil
}

// Commit closes the file and moves it to its final path. It returns the size of the file.
func (f *AtomicFile) Commit() (size int64, err error) {
	if f.done {
		return 0, errors.Errorf("file %q already committed or aborted", f.finalPath)
	}
	f.done = true
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return 0, errors.Wrapf(err, "failed to stat %q", f.Name())
	}
	if err = f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return 0, errors.Wrapf(err, "failed to close %q", f.Name())
	}
	if err = os.Rename(f.Name(), f.finalPath); err != nil {
		_ = os.Remove(f.Name())
		return 0, errors.Wrapf(err, "failed to move %q to %q", f.Name(), f.finalPath)
	}
	return info.Size(), nil
}

// Abort closes and removes the temporary file. It is a no-op if the file was already committed.
func (f *AtomicFile) Abort() {
	if f.done {
		return
	}
	f.done = true
	_ = f.Close()
	_ = os.Remove(f.Name())
}
