// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"slices"
	"strings"
)

// Axis is the semantic name of one axis of a tensor.
type Axis byte

const (
	// AxisN is the batch axis.
	AxisN Axis = 'N'
	// AxisT is the time (sequence) axis.
	AxisT Axis = 'T'
	// AxisC is the channel (features) axis.
	AxisC Axis = 'C'
)

// String returns the single letter name of the axis.
func (a Axis) String() string { return string(rune(a)) }

// Order is the ordered list of semantic axes of a tensor.
//
// The order of a tensor must have exactly one Axis per dimension of its shape, and the same
// Axis can show up more than once (e.g. OrderCN for a [C_in, 4*H] weight, where both axes are
// channels of different sizes).
type Order struct {
	axes []Axis
}

// Predefined orders used by the LSTM operator.
var (
	OrderNTC = NewOrder(AxisN, AxisT, AxisC)
	OrderNC  = NewOrder(AxisN, AxisC)
	OrderCN  = NewOrder(AxisC, AxisN)
	OrderC   = NewOrder(AxisC)
)

// NewOrder creates an Order from the given axes.
func NewOrder(axes ...Axis) Order {
	return Order{axes: slices.Clone(axes)}
}

// ParseOrder converts a string like "NTC" to an Order. No validation of the letters is done.
func ParseOrder(name string) Order {
	axes := make([]Axis, 0, len(name))
	for _, r := range []byte(name) {
		axes = append(axes, Axis(r))
	}
	return Order{axes: axes}
}

// Rank returns the number of axes of the order.
func (o Order) Rank() int { return len(o.axes) }

// Axes returns a copy of the axes of the order.
func (o Order) Axes() []Axis { return slices.Clone(o.axes) }

// AxisOf returns the position of the first occurrence of axis in the order, or -1 if not present.
func (o Order) AxisOf(axis Axis) int { return slices.Index(o.axes, axis) }

// Equal returns whether both orders have the same axes in the same positions.
func (o Order) Equal(o2 Order) bool { return slices.Equal(o.axes, o2.axes) }

// String implements fmt.Stringer, e.g. "NTC".
func (o Order) String() string {
	var sb strings.Builder
	for _, a := range o.axes {
		sb.WriteByte(byte(a))
	}
	return sb.String()
}

// MarshalText implements encoding.TextMarshaler, so orders serialize as "NTC".
func (o Order) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Order) UnmarshalText(text []byte) error {
	*o = ParseOrder(string(text))
	return nil
}
