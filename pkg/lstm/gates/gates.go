// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package gates converts LSTM weights and biases between gate packing conventions.
//
// LSTM weights pack four gates (input, forget, candidate and output) along their last axis,
// whose length is 4*hiddenSize. Different systems pack them differently:
//
//   - Native (the LSTM operator compiled to the backends): contiguous blocks, ordered
//     (input, forget, candidate, output). Index of gate g for hidden unit j is g*H+j.
//   - Reference (the trusted reference recurrence): interleaved per hidden unit, ordered
//     (candidate, input, forget, output). Index of gate g for hidden unit j is j*4+g.
//   - ONNX: contiguous blocks ordered (input, output, forget, candidate).
//
// Converting between any two conventions is a permutation of the last axis: values are only
// moved around, never created, dropped or changed. Converting is never a plain reshape.
package gates

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
)

// Gate is one of the four gates of an LSTM cell.
type Gate int

const (
	// Input gate (i), activated with the logistic function.
	Input Gate = iota
	// Forget gate (f), activated with the logistic function.
	Forget
	// Candidate cell update (a, sometimes called g or c), activated with tanh.
	Candidate
	// Output gate (o), activated with the logistic function.
	Output
)

// NumGates in an LSTM cell.
const NumGates = 4

// String implements fmt.Stringer.
func (g Gate) String() string {
	switch g {
	case Input:
		return "input"
	case Forget:
		return "forget"
	case Candidate:
		return "candidate"
	case Output:
		return "output"
	}
	return fmt.Sprintf("Gate(%d)", int(g))
}

// Packing defines how the four gates of each hidden unit are laid out along the last axis.
type Packing int

const (
	// Blocked packs each gate as a contiguous block of hiddenSize values.
	Blocked Packing = iota
	// Interleaved packs the four gates of each hidden unit next to each other.
	Interleaved
)

// String implements fmt.Stringer.
func (p Packing) String() string {
	if p == Interleaved {
		return "interleaved"
	}
	return "blocked"
}

// Convention is a gate packing convention: the order of the gates and how they are packed.
type Convention struct {
	Name    string
	Order   [NumGates]Gate
	Packing Packing
}

var (
	// Native is the convention of the LSTM operator under test.
	Native = Convention{Name: "native", Order: [NumGates]Gate{Input, Forget, Candidate, Output}, Packing: Blocked}

	// Reference is the convention of the reference recurrence.
	Reference = Convention{Name: "reference", Order: [NumGates]Gate{Candidate, Input, Forget, Output}, Packing: Interleaved}

	// ONNX is the convention of the ONNX LSTM operator.
	ONNX = Convention{Name: "onnx", Order: [NumGates]Gate{Input, Output, Forget, Candidate}, Packing: Blocked}
)

// Validate checks that each gate shows up exactly once in the order.
func (c Convention) Validate() error {
	var seen [NumGates]bool
	for _, g := range c.Order {
		if g < Input || g > Output {
			return errors.Errorf("gate convention %q: invalid gate %d", c.Name, int(g))
		}
		if seen[g] {
			return errors.Errorf("gate convention %q: gate %s used more than once", c.Name, g)
		}
		seen[g] = true
	}
	return nil
}

// Position returns the slot (0 to 3) of gate within the convention.
func (c Convention) Position(gate Gate) int {
	return slices.Index(c.Order[:], gate)
}

// Index returns the position along the packed axis (of length 4*hiddenSize) of the value of gate
// for the given hidden unit.
func (c Convention) Index(gate Gate, unit, hiddenSize int) int {
	pos := c.Position(gate)
	if c.Packing == Interleaved {
		return unit*NumGates + pos
	}
	return pos*hiddenSize + unit
}

// String implements fmt.Stringer.
func (c Convention) String() string {
	return fmt.Sprintf("%s(%s %s,%s,%s,%s)", c.Name, c.Packing, c.Order[0], c.Order[1], c.Order[2], c.Order[3])
}
