// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"fmt"
	"slices"

	"github.com/gomlx/gopjrt/dtypes"
)

// UncheckedAxis can be used in CheckDims or AssertDims functions for an axis
// whose dimension doesn't matter.
const UncheckedAxis = int(-1)

// ShapeMismatchError is returned whenever a tensor's rank, dimensions or axis order disagree
// with what is declared for it, or when a layout precondition on a dimension fails.
type ShapeMismatchError struct {
	// Name of the value being checked, e.g. the variable name.
	Name string

	Got, Want           Shape
	GotOrder, WantOrder Order

	// Reason describes the mismatch.
	Reason string
}

// Error implements the error interface.
func (e *ShapeMismatchError) Error() string {
	msg := fmt.Sprintf("shape mismatch for %q: %s", e.Name, e.Reason)
	if e.Got.Ok() {
		msg += fmt.Sprintf(" (got %s", e.Got)
		if e.GotOrder.Rank() > 0 {
			msg += " " + e.GotOrder.String()
		}
		msg += ")"
	}
	if e.Want.Ok() {
		msg += fmt.Sprintf(" (want %s", e.Want)
		if e.WantOrder.Rank() > 0 {
			msg += " " + e.WantOrder.String()
		}
		msg += ")"
	}
	return msg
}

// Mismatchf creates a ShapeMismatchError for name, with a formatted reason and no shapes attached.
func Mismatchf(name, format string, args ...any) *ShapeMismatchError {
	return &ShapeMismatchError{Name: name, Reason: fmt.Sprintf(format, args...)}
}

// CheckOrder verifies that order is valid for the shape, that is, it has one axis per dimension.
func CheckOrder(name string, s Shape, order Order) error {
	if order.Rank() != s.Rank() {
		return &ShapeMismatchError{
			Name: name, Got: s, GotOrder: order,
			Reason: fmt.Sprintf("order %s has rank %d, but shape has rank %d", order, order.Rank(), s.Rank()),
		}
	}
	return nil
}

// CheckDims checks that the shape has the given dimensions and rank. A value of -1 in
// dimensions means it can take any value and is not checked.
//
// It returns a *ShapeMismatchError if the rank is different or if any of the dimensions don't match.
func (s Shape) CheckDims(name string, dimensions ...int) error {
	if s.Rank() != len(dimensions) {
		return &ShapeMismatchError{
			Name: name, Got: s,
			Reason: fmt.Sprintf("incompatible rank %d (wanted %d)", s.Rank(), len(dimensions)),
		}
	}
	for ii, wantDim := range dimensions {
		if wantDim != UncheckedAxis && s.Dimensions[ii] != wantDim {
			return &ShapeMismatchError{
				Name: name, Got: s,
				Reason: fmt.Sprintf("axis %d has dimension %d, wanted %d (dimensions wanted=%v)",
					ii, s.Dimensions[ii], wantDim, dimensions),
			}
		}
	}
	return nil
}

// Check that the shape and order match exactly the wanted ones.
func Check(name string, got Shape, gotOrder Order, want Shape, wantOrder Order) error {
	if !got.Equal(want) || !gotOrder.Equal(wantOrder) {
		reason := "dimensions differ"
		switch {
		case got.DType != want.DType:
			reason = fmt.Sprintf("dtype %s != %s", got.DType, want.DType)
		case got.Rank() != want.Rank():
			reason = fmt.Sprintf("rank %d != %d", got.Rank(), want.Rank())
		case slices.Equal(got.Dimensions, want.Dimensions):
			reason = fmt.Sprintf("axis order %s != %s", gotOrder, wantOrder)
		}
		return &ShapeMismatchError{Name: name, Got: got, GotOrder: gotOrder, Want: want, WantOrder: wantOrder, Reason: reason}
	}
	return nil
}

// AssertDims checks that the shape has the given dimensions and rank. A value of -1 in
// dimensions means it can take any value and is not checked.
//
// It panics with the *ShapeMismatchError if it doesn't match, to be used while building
// graphs, where the error is recovered with exceptions.TryCatch.
func (s Shape) AssertDims(name string, dimensions ...int) {
	if err := s.CheckDims(name, dimensions...); err != nil {
		panic(err)
	}
}

// AssertFloat32 panics if the shape is not of dtype Float32, the only dtype supported by
// the LSTM operator.
func (s Shape) AssertFloat32(name string) {
	if s.DType != dtypes.Float32 {
		panic(&ShapeMismatchError{Name: name, Got: s, Reason: "dtype must be Float32"})
	}
}
