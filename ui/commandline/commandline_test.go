// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"bytes"
	"testing"
	"time"

	"github.com/gomlx/kerneltest/pkg/scenario"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.23ms", FormatDuration(1234567*time.Nanosecond))
	assert.Equal(t, "2.50s", FormatDuration(2500*time.Millisecond))
	assert.Equal(t, "12.35µs", FormatDuration(12346*time.Nanosecond))
	assert.Equal(t, "2m3s", FormatDuration(2*time.Minute+3400*time.Millisecond))
	assert.Equal(t, "15ns", FormatDuration(15))
}

func TestNewTable(t *testing.T) {
	table := NewTable(1).Headers("name", "size").Row("x", "12").Row("w_input", "1,024")
	out := table.String()
	assert.Contains(t, out, "w_input")
	assert.Contains(t, out, "1,024")
}

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	pBar := NewProgressBar(&buf, 2)
	s := &scenario.Scenario{
		Config:  scenario.Config{Description: "a", Batch: 1, SeqLen: 1, InputChannels: 3, Hidden: 2},
		Elapsed: time.Millisecond,
	}
	pBar.Update(s)
	pBar.Update(s)
	require.Equal(t, 2, pBar.Built())
	require.Equal(t, 2*time.Millisecond, pBar.Close())
	pBar.Update(s)
	require.Equal(t, 2, pBar.Built(), "updates after Close are ignored")
	require.NotEmpty(t, buf.String())
}
