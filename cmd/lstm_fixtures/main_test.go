// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kerneltest/pkg/fixture"
	"github.com/gomlx/kerneltest/pkg/scenario"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcess(t *testing.T) {
	*flagOut = t.TempDir()
	*flagVerify = true
	*flagFloat16 = true
	defer func() {
		*flagOut = ""
		*flagFloat16 = false
	}()

	s := must.M1(scenario.Build(scenario.Config{Description: "cli", Batch: 2, SeqLen: 3, InputChannels: 4, Hidden: 3,
		Seed: 5, Backends: []fixture.Backend{fixture.WebGPU}}))
	r := process(s)
	require.NoError(t, r.err)
	assert.Equal(t, "ok", r.verified)
	require.NotEmpty(t, r.archivePath)

	file := must.M1(os.Open(r.archivePath))
	defer func() { _ = file.Close() }()
	info := must.M1(file.Stat())
	assert.Equal(t, info.Size(), r.archiveSize)
	archive := must.M1(fixture.ReadArchive(file, info.Size()))
	assert.Equal(t, "cli", archive.Manifest.Description)
	assert.Equal(t, dtypes.Float16.String(), archive.Manifest.DType)
	require.Len(t, archive.Expected, 2)

	// Report is printed to stdout, it just must not fail.
	report([]*scenario.Scenario{s}, []result{r})
}
