// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package gates

import (
	"github.com/gomlx/kerneltest/pkg/core/shapes"
	"github.com/gomlx/kerneltest/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Permutation of the indices of the packed (last) axis: out[k] = in[p[k]].
type Permutation []int

// NewPermutation returns the table that converts a packed axis of length 4*hiddenSize from one
// convention to the other.
func NewPermutation(from, to Convention, hiddenSize int) (Permutation, error) {
	if err := from.Validate(); err != nil {
		return nil, err
	}
	if err := to.Validate(); err != nil {
		return nil, err
	}
	if hiddenSize <= 0 {
		return nil, errors.Errorf("gates.NewPermutation: invalid hiddenSize %d", hiddenSize)
	}
	p := make(Permutation, NumGates*hiddenSize)
	for gate := Input; gate <= Output; gate++ {
		for unit := range hiddenSize {
			p[to.Index(gate, unit, hiddenSize)] = from.Index(gate, unit, hiddenSize)
		}
	}
	return p, nil
}

// Inverse returns the permutation that undoes p.
func (p Permutation) Inverse() Permutation {
	inv := make(Permutation, len(p))
	for k, src := range p {
		inv[src] = k
	}
	return inv
}

// Apply the permutation to the last axis of t, returning a new tensor with the same shape and order.
//
// It returns a *shapes.ShapeMismatchError if the last axis of t doesn't have the length of the permutation.
func (p Permutation) Apply(t *tensors.Tensor) (*tensors.Tensor, error) {
	if t.Rank() == 0 || t.Shape().Dim(-1) != len(p) {
		return nil, &shapes.ShapeMismatchError{
			Name: "gates.Permutation", Got: t.Shape(), GotOrder: t.Order(),
			Reason: "last axis length differs from the permutation length",
		}
	}
	inner := len(p)
	var out []float32
	t.ConstFlatData(func(flat []float32) {
		out = make([]float32, len(flat))
		for row := 0; row < len(flat); row += inner {
			for k, src := range p {
				out[row+k] = flat[row+src]
			}
		}
	})
	return tensors.FromFlatDataAndDimensions(t.Order(), out, t.Shape().Dimensions...)
}

// Convert re-packs the gates along the last axis of t from one convention to the other.
// t can have any rank >= 1, e.g. [C, 4*H] weights or [4*H] biases.
//
// It returns a *shapes.ShapeMismatchError if the last axis length is not divisible by 4.
func Convert(t *tensors.Tensor, from, to Convention) (*tensors.Tensor, error) {
	if t.Rank() == 0 {
		return nil, shapes.Mismatchf("gates.Convert", "packed gates need at least one axis, got a scalar")
	}
	packed := t.Shape().Dim(-1)
	if packed%NumGates != 0 {
		return nil, &shapes.ShapeMismatchError{
			Name: "gates.Convert", Got: t.Shape(), GotOrder: t.Order(),
			Reason: "last axis length must be divisible by 4 (one block per gate)",
		}
	}
	p, err := NewPermutation(from, to, packed/NumGates)
	if err != nil {
		return nil, err
	}
	return p.Apply(t)
}
