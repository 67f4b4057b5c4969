// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fixture

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrIncompleteFixture is matched (with errors.Is) by MissingInputError and MissingExpectationError.
var ErrIncompleteFixture = errors.New("incomplete fixture")

// MissingInputError is returned by Generate when a declared graph input has no tensor.
type MissingInputError struct {
	Description string
	Variable    string
}

// Error implements the error interface.
func (e *MissingInputError) Error() string {
	return fmt.Sprintf("fixture %q: no input tensor given for graph input %q", e.Description, e.Variable)
}

// Is makes errors.Is(err, ErrIncompleteFixture) true.
func (e *MissingInputError) Is(target error) bool { return target == ErrIncompleteFixture }

// MissingExpectationError is returned by Generate when a declared graph output has no expected tensor.
type MissingExpectationError struct {
	Description string
	Variable    string
}

// Error implements the error interface.
func (e *MissingExpectationError) Error() string {
	return fmt.Sprintf("fixture %q: no expected tensor given for graph output %q", e.Description, e.Variable)
}

// Is makes errors.Is(err, ErrIncompleteFixture) true.
func (e *MissingExpectationError) Is(target error) bool { return target == ErrIncompleteFixture }

// NumericDivergenceError is returned by Fixture.Verify when an output of the operator-under-test
// is outside the tolerance of the expected value.
//
// It signals a regression in the kernel being tested, not in the fixture.
type NumericDivergenceError struct {
	Description string
	Variable    string
	// Index is the flat (row-major) index of the first diverging element.
	Index     int
	Got, Want float32
	Tolerance Tolerance
	// NumDiverging is the total number of elements outside the tolerance.
	NumDiverging int
}

// Error implements the error interface.
func (e *NumericDivergenceError) Error() string {
	return fmt.Sprintf("fixture %q: output %q diverges at flat index %d: got %g, want %g (%s); %d elements diverge",
		e.Description, e.Variable, e.Index, e.Got, e.Want, e.Tolerance, e.NumDiverging)
}

// DuplicateDescriptionError is returned by Suite.Add when a fixture with the same description is
// already registered.
type DuplicateDescriptionError struct {
	Description string
}

// Error implements the error interface.
func (e *DuplicateDescriptionError) Error() string {
	return fmt.Sprintf("fixture description %q already used in the suite", e.Description)
}
