// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a `Tensor`, a host (CPU) multidimensional array of float32 values
// with an explicit axis order.
//
// Tensors are used as the payload of graph constants, as the concrete inputs of a fixture and
// as the expected (and actual) outputs that backend kernels are compared against.
//
// There are various ways to construct a Tensor:
//
//   - Zeros(order, dimensions...): creates a tensor filled with zeros.
//
//   - FromFlatDataAndDimensions(order, data, dimensions...): creates a Tensor with the
//     given dimensions with the flattened values given in data (row-major). Example:
//
//     t, err := FromFlatDataAndDimensions(shapes.OrderNC, []float32{1, 2, 3, 4}, 2, 2) // [[1,2], [3,4]]
//
//   - FromValue(order, value): converts a []float32, [][]float32 or [][][]float32 to a tensor.
//     Sub-slices must be regular.
//
//   - Normal(rng, order, dimensions...): random normal values drawn from the given generator.
//
// Tensors are immutable after construction: constructors copy the data they are given, and
// Flat returns a copy. Use ConstFlatData to read the values without copying.
package tensors

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kerneltest/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Tensor is a multidimensional array of float32, stored as a flat (1D) row-major slice, with a shape
// and an axis order.
type Tensor struct {
	shape shapes.Shape
	order shapes.Order
	flat  []float32
}

// FromFlatDataAndDimensions creates a tensor with the given order and dimensions, filled with the flattened values
// given in `data`. The data is copied to the Tensor.
//
// It returns a *shapes.ShapeMismatchError if the size of data is wrong for the dimensions or if the order rank
// doesn't match.
func FromFlatDataAndDimensions(order shapes.Order, data []float32, dimensions ...int) (*Tensor, error) {
	size := 1
	for _, dim := range dimensions {
		if dim <= 0 {
			return nil, shapes.Mismatchf("tensor", "invalid dimensions %v", dimensions)
		}
		if dim > math.MaxInt/size {
			return nil, shapes.Mismatchf("tensor", "dimensions %v overflow the number of elements", dimensions)
		}
		size *= dim
	}
	shape := shapes.Make(dtypes.Float32, dimensions...)
	if err := shapes.CheckOrder("tensor", shape, order); err != nil {
		return nil, err
	}
	if len(data) != shape.Size() {
		return nil, &shapes.ShapeMismatchError{
			Name: "tensor", Got: shape, GotOrder: order,
			Reason: fmt.Sprintf("data size is %d, but dimensions size is %d", len(data), shape.Size()),
		}
	}
	return &Tensor{shape: shape, order: order, flat: slices.Clone(data)}, nil
}

// Zeros creates a tensor with the given order and dimensions, filled with zeros.
//
// It panics if the order doesn't match the dimensions.
func Zeros(order shapes.Order, dimensions ...int) *Tensor {
	shape := shapes.Make(dtypes.Float32, dimensions...)
	if err := shapes.CheckOrder("zeros", shape, order); err != nil {
		panic(err)
	}
	return &Tensor{shape: shape, order: order, flat: make([]float32, shape.Size())}
}

// FromValue returns a tensor constructed from a []float32, [][]float32 or [][][]float32.
// All sub-slices must have the same length.
func FromValue(order shapes.Order, value any) (*Tensor, error) {
	var (
		flat []float32
		dims []int
	)
	switch v := value.(type) {
	case []float32:
		flat, dims = slices.Clone(v), []int{len(v)}
	case [][]float32:
		dims = []int{len(v), 0}
		for ii, row := range v {
			if ii == 0 {
				dims[1] = len(row)
			} else if len(row) != dims[1] {
				return nil, errors.Errorf("tensors.FromValue: irregular sub-slices, row %d has %d elements, wanted %d",
					ii, len(row), dims[1])
			}
			flat = append(flat, row...)
		}
	case [][][]float32:
		dims = []int{len(v), 0, 0}
		for ii, matrix := range v {
			if ii == 0 {
				dims[1] = len(matrix)
			} else if len(matrix) != dims[1] {
				return nil, errors.Errorf("tensors.FromValue: irregular sub-slices, element %d has %d rows, wanted %d",
					ii, len(matrix), dims[1])
			}
			for jj, row := range matrix {
				if ii == 0 && jj == 0 {
					dims[2] = len(row)
				} else if len(row) != dims[2] {
					return nil, errors.Errorf("tensors.FromValue: irregular sub-slices, element [%d][%d] has %d values, wanted %d",
						ii, jj, len(row), dims[2])
				}
				flat = append(flat, row...)
			}
		}
	default:
		return nil, errors.Errorf("tensors.FromValue: unsupported type %T", value)
	}
	return FromFlatDataAndDimensions(order, flat, dims...)
}

// MustFromValue is like FromValue, but panics on error. Convenient for tests.
func MustFromValue(order shapes.Order, value any) *Tensor {
	t, err := FromValue(order, value)
	if err != nil {
		panic(err)
	}
	return t
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// Order of the tensor axes.
func (t *Tensor) Order() shapes.Order { return t.order }

// Rank of the tensor.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size is the number of elements of the tensor.
func (t *Tensor) Size() int { return len(t.flat) }

// Memory is the number of bytes used by the tensor values.
func (t *Tensor) Memory() uintptr { return t.shape.Memory() }

// Flat returns a copy of the flat values of the tensor.
func (t *Tensor) Flat() []float32 { return slices.Clone(t.flat) }

// ConstFlatData calls accessFn with the flat values of the tensor, without copying.
// accessFn must not modify or keep a reference to flat.
func (t *Tensor) ConstFlatData(accessFn func(flat []float32)) {
	accessFn(t.flat)
}

// LayoutStrides returns the strides of each axis in the flat row-major data.
func (t *Tensor) LayoutStrides() (strides []int) {
	rank := t.shape.Rank()
	strides = make([]int, rank)
	stride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= t.shape.Dimensions[axis]
	}
	return
}

// At returns the value at the given indices, one per axis.
//
// It panics if the number of indices or any index is out of bounds.
func (t *Tensor) At(indices ...int) float32 {
	if len(indices) != t.Rank() {
		exceptions.Panicf("Tensor.At(%v): tensor has rank %d", indices, t.Rank())
	}
	strides := t.LayoutStrides()
	pos := 0
	for axis, idx := range indices {
		if idx < 0 || idx >= t.shape.Dimensions[axis] {
			exceptions.Panicf("Tensor.At(%v): index out-of-bounds for shape %s", indices, t.shape)
		}
		pos += idx * strides[axis]
	}
	return t.flat[pos]
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: t.shape.Clone(), order: t.order, flat: slices.Clone(t.flat)}
}

// Equal checks whether t == otherTensor: same shape, same order and bit-exact values.
func (t *Tensor) Equal(otherTensor *Tensor) bool {
	if t == otherTensor {
		return true
	}
	if t == nil || otherTensor == nil {
		return false
	}
	return t.shape.Equal(otherTensor.shape) && t.order.Equal(otherTensor.order) && slices.Equal(t.flat, otherTensor.flat)
}

// Value returns a multidimensional slice ([]float32, [][]float32, ...) with a copy of the values.
func (t *Tensor) Value() any {
	switch t.Rank() {
	case 1:
		return t.Flat()
	case 2:
		rows, cols := t.shape.Dimensions[0], t.shape.Dimensions[1]
		v := make([][]float32, rows)
		for ii := range rows {
			v[ii] = slices.Clone(t.flat[ii*cols : (ii+1)*cols])
		}
		return v
	case 3:
		d0, d1, d2 := t.shape.Dimensions[0], t.shape.Dimensions[1], t.shape.Dimensions[2]
		v := make([][][]float32, d0)
		for ii := range d0 {
			v[ii] = make([][]float32, d1)
			for jj := range d1 {
				start := (ii*d1 + jj) * d2
				v[ii][jj] = slices.Clone(t.flat[start : start+d2])
			}
		}
		return v
	}
	return t.Flat()
}

// String returns a short description of the tensor, with its first values.
func (t *Tensor) String() string {
	const maxValues = 6
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%s%s{", t.shape, t.order)
	for ii, v := range t.flat {
		if ii >= maxValues {
			sb.WriteString(", ...")
			break
		}
		if ii > 0 {
			sb.WriteString(", ")
		}
		_, _ = fmt.Fprintf(&sb, "%.4g", v)
	}
	sb.WriteString("}")
	return sb.String()
}
