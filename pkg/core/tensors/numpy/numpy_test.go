// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package numpy

import (
	"bytes"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kerneltest/pkg/core/shapes"
	"github.com/gomlx/kerneltest/pkg/core/tensors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

func TestNpyRoundTrip(t *testing.T) {
	tensor := tensors.MustFromValue(shapes.OrderNC, [][]float32{{1, -2.5, 3}, {0.25, 5, 6}})

	var buf bytes.Buffer
	require.NoError(t, ToNpyWriter(tensor, dtypes.Float32, &buf))
	data := buf.Bytes()
	require.Equal(t, "\x93NUMPY", string(data[:6]))
	// Preamble + header is padded to a multiple of 16 bytes.
	headerLen := int(data[8]) | int(data[9])<<8
	require.Zero(t, (10+headerLen)%16)
	require.Contains(t, string(data[10:10+headerLen]), "'shape': (2, 3)")
	require.Len(t, data, 10+headerLen+6*4)

	got := must.M1(FromNpyReader(bytes.NewReader(data), shapes.OrderNC))
	require.True(t, tensor.Equal(got))
}

func TestNpyFloat16(t *testing.T) {
	// All values exactly representable in float16.
	tensor := tensors.MustFromValue(shapes.OrderC, []float32{0.5, -1, 2, 1024})
	var buf bytes.Buffer
	require.NoError(t, ToNpyWriter(tensor, dtypes.Float16, &buf))
	require.Contains(t, buf.String(), "'<f2'")
	require.Contains(t, buf.String(), "'shape': (4,)")
	got := must.M1(FromNpyReader(&buf, shapes.OrderC))
	require.Equal(t, tensor.Flat(), got.Flat())

	require.Error(t, ToNpyWriter(tensor, dtypes.Int32, &buf))
}

func TestParseNpyHeader(t *testing.T) {
	descr, dims, fortran, err := parseNpyHeader("{'descr': '<f4', 'fortran_order': False, 'shape': (1, 2, 3), }")
	require.NoError(t, err)
	require.Equal(t, "<f4", descr)
	require.Equal(t, []int{1, 2, 3}, dims)
	require.False(t, fortran)

	_, _, _, err = parseNpyHeader("{'fortran_order': False, 'shape': (1,), }")
	require.Error(t, err)

	_, err = FromNpyReader(bytes.NewReader([]byte("NOTNUMPYDATA")), shapes.OrderC)
	require.Error(t, err)

	_, _, _, err = parseNpyHeader("{'descr': '<f4', 'fortran_order': False, 'shape': (-1,), }")
	require.Error(t, err, "negative dimension")
	_, _, _, err = parseNpyHeader("{'descr': '<f4', 'fortran_order': False, 'shape': (2, 0), }")
	require.Error(t, err, "zero dimension")
}

// npyWithHeader returns a .npy v1.0 stream with the given header dictionary and no data.
func npyWithHeader(header string) []byte {
	for (10+len(header)+1)%16 != 0 {
		header += " "
	}
	header += "\n"
	data := []byte("\x93NUMPY\x01\x00")
	data = append(data, byte(len(header)), byte(len(header)>>8))
	return append(data, header...)
}

func TestFromNpyReaderUntrustedShape(t *testing.T) {
	for _, shape := range []string{"(-1,)", "(4611686018427387904, 4)", "(3037000500, 3037000500)"} {
		data := npyWithHeader("{'descr': '<f4', 'fortran_order': False, 'shape': " + shape + ", }")
		require.NotPanics(t, func() {
			_, err := FromNpyReader(bytes.NewReader(data), shapes.OrderNC)
			require.Error(t, err, "shape %s", shape)
		})
	}

	// A valid header with missing data is an error too.
	data := npyWithHeader("{'descr': '<f4', 'fortran_order': False, 'shape': (2, 3), }")
	_, err := FromNpyReader(bytes.NewReader(data), shapes.OrderNC)
	require.Error(t, err)
}
