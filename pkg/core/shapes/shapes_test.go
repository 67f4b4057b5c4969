// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	invalidShape := Invalid()
	require.False(t, invalidShape.Ok())

	shape0 := Make(dtypes.Float32)
	require.True(t, shape0.Ok())
	require.True(t, shape0.IsScalar())
	require.Equal(t, 0, shape0.Rank())
	require.Equal(t, 1, shape0.Size())
	require.Equal(t, 4, int(shape0.Memory()))

	shape1 := Make(dtypes.Float32, 4, 3, 2)
	require.False(t, shape1.IsScalar())
	require.Equal(t, 3, shape1.Rank())
	require.Equal(t, 4*3*2, shape1.Size())
	require.Equal(t, 4*4*3*2, int(shape1.Memory()))
	require.Equal(t, "(Float32)[4 3 2]", shape1.String())

	require.Panics(t, func() { _ = Make(dtypes.Float32, 4, 0) })
}

func TestDim(t *testing.T) {
	shape := Make(dtypes.Float32, 4, 3, 2)
	require.Equal(t, 4, shape.Dim(0))
	require.Equal(t, 2, shape.Dim(2))
	require.Equal(t, 4, shape.Dim(-3))
	require.Equal(t, 2, shape.Dim(-1))
	require.Panics(t, func() { _ = shape.Dim(3) })
	require.Panics(t, func() { _ = shape.Dim(-4) })
}

func TestOrder(t *testing.T) {
	require.Equal(t, "NTC", OrderNTC.String())
	require.Equal(t, 3, OrderNTC.Rank())
	require.Equal(t, 1, OrderNTC.AxisOf(AxisT))
	require.Equal(t, -1, OrderNC.AxisOf(AxisT))
	require.True(t, ParseOrder("CN").Equal(OrderCN))
	require.False(t, OrderNC.Equal(OrderCN))

	var o Order
	require.NoError(t, o.UnmarshalText([]byte("NTC")))
	require.True(t, o.Equal(OrderNTC))
	text, err := OrderNC.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "NC", string(text))
}

func TestChecks(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3)
	require.NoError(t, s.CheckDims("x", 2, UncheckedAxis))
	var mismatch *ShapeMismatchError
	require.ErrorAs(t, s.CheckDims("x", 2), &mismatch)
	require.Equal(t, "x", mismatch.Name)
	require.ErrorAs(t, s.CheckDims("x", 2, 4), &mismatch)

	require.NoError(t, CheckOrder("x", s, OrderNC))
	require.ErrorAs(t, CheckOrder("x", s, OrderNTC), &mismatch)

	require.NoError(t, Check("x", s, OrderNC, Make(dtypes.Float32, 2, 3), OrderNC))
	err := Check("x", s, OrderNC, Make(dtypes.Float32, 2, 3), OrderCN)
	require.True(t, errors.As(err, &mismatch))
	require.Contains(t, mismatch.Reason, "axis order")
	require.ErrorAs(t, Check("x", s, OrderNC, Make(dtypes.Float32, 1, 2, 3), OrderNTC), &mismatch)
	require.Contains(t, mismatch.Reason, "rank")

	require.Panics(t, func() { s.AssertDims("x", 3, 3) })
	require.Panics(t, func() { Make(dtypes.Float64, 2).AssertFloat32("w") })
}
