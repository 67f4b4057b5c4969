// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reference

import "fmt"

// State of an Evaluator.
type State int

const (
	// Idle evaluators have not applied any step yet.
	Idle State = iota
	// Stepping evaluators applied at least one step, and can apply more.
	Stepping
	// Done evaluators applied all the steps of the sequence.
	Done
)

var stateNames = [...]string{"Idle", "Stepping", "Done"}

// String implements fmt.Stringer.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}
