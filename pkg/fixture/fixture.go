// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fixture packages an assembled operator graph, its concrete inputs and the expected
// outputs into a Fixture: a reusable artifact consumed by the backend specific kernel tests.
//
// Generate only validates structural completeness, it performs no numeric computation. The
// comparison of the operator-under-test outputs with the expected values is done by
// Fixture.Verify (or Fixture.Run with an Executor), within a Tolerance.
//
// A Fixture is immutable: tensors are copied in and out, and its graph is finalized.
package fixture

import (
	"slices"

	"github.com/gomlx/kerneltest/pkg/core/graph"
	"github.com/gomlx/kerneltest/pkg/core/shapes"
	"github.com/gomlx/kerneltest/pkg/core/tensors"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// idNamespace is the UUID namespace used to derive fixture IDs from their descriptions.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/gomlx/kerneltest/fixture"))

// Tensors maps graph variables to concrete values.
type Tensors map[graph.VariableID]*tensors.Tensor

// Fixture is a bundle of graph, inputs and expected outputs, and the backends it targets.
type Fixture struct {
	description string
	id          uuid.UUID
	backends    []Backend
	graph       *graph.Graph
	inputs      Tensors
	expected    Tensors
	tolerance   Tolerance
}

// Generate validates and packages a fixture.
//
// Every declared input of g must have a tensor in inputs (else *MissingInputError), and every declared
// output must have one in expected (else *MissingExpectationError). Tensors must have exactly the shape
// and order of their variables (else *shapes.ShapeMismatchError). Entries for variables that are not
// declared inputs (or outputs, for expected) are rejected.
//
// The graph is finalized if it isn't yet. Backends are kept in order, without duplicates.
func Generate(description string, backends []Backend, g *graph.Graph, inputs, expected Tensors) (*Fixture, error) {
	if description == "" {
		return nil, errors.New("fixture.Generate: empty description")
	}
	if g == nil {
		return nil, errors.Errorf("fixture.Generate(%q): nil graph", description)
	}
	if err := g.Finalize(); err != nil {
		return nil, errors.WithMessagef(err, "fixture.Generate(%q)", description)
	}
	f := &Fixture{
		description: description,
		id:          uuid.NewSHA1(idNamespace, []byte(description)),
		backends:    normalizeBackends(backends),
		graph:       g,
		tolerance:   DefaultTolerance,
	}
	var err error
	f.inputs, err = bind(g, g.Inputs(), inputs, "input", func(v *graph.Variable) error {
		return &MissingInputError{Description: description, Variable: v.Name()}
	})
	if err != nil {
		return nil, err
	}
	f.expected, err = bind(g, g.Outputs(), expected, "output", func(v *graph.Variable) error {
		return &MissingExpectationError{Description: description, Variable: v.Name()}
	})
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("fixture %q (%s): %d inputs, %d expected outputs, backends %v",
		description, f.id, len(f.inputs), len(f.expected), f.backends)
	return f, nil
}

// bind checks that values has exactly one tensor, with matching shape and order, for each of the
// declared variables, and returns a copy.
func bind(g *graph.Graph, declared []graph.VariableID, values Tensors, role string,
	missing func(v *graph.Variable) error) (Tensors, error) {
	for id := range values {
		if !slices.Contains(declared, id) {
			return nil, errors.Errorf("fixture for graph %q: tensor given for variable #%d, which is not a declared graph %s",
				g.Name(), id, role)
		}
	}
	bound := make(Tensors, len(declared))
	for _, id := range declared {
		v := g.Variable(id)
		t, found := values[id]
		if !found || t == nil {
			return nil, missing(v)
		}
		if err := shapes.Check(v.Name(), t.Shape(), t.Order(), v.Shape(), v.Order()); err != nil {
			return nil, err
		}
		bound[id] = t.Clone()
	}
	return bound, nil
}

// Description of the fixture, unique within a Suite.
func (f *Fixture) Description() string { return f.description }

// ID is a UUID (version 5) derived deterministically from the description.
func (f *Fixture) ID() uuid.UUID { return f.id }

// Backends returns the target backends, in order.
func (f *Fixture) Backends() []Backend { return slices.Clone(f.backends) }

// Targets returns whether the fixture lists the backend.
func (f *Fixture) Targets(b Backend) bool { return slices.Contains(f.backends, b) }

// Graph of the fixture. It is finalized and can't be changed.
func (f *Fixture) Graph() *graph.Graph { return f.graph }

// Tolerance used by Verify.
func (f *Fixture) Tolerance() Tolerance { return f.tolerance }

// WithTolerance returns a copy of the fixture that verifies outputs with the given tolerance.
func (f *Fixture) WithTolerance(tol Tolerance) *Fixture {
	f2 := *f
	f2.tolerance = tol
	return &f2
}

// Inputs returns a copy of the input tensors, keyed by the graph input variables.
func (f *Fixture) Inputs() Tensors { return cloneTensors(f.inputs) }

// Expected returns a copy of the expected output tensors, keyed by the graph output variables.
func (f *Fixture) Expected() Tensors { return cloneTensors(f.expected) }

func cloneTensors(m Tensors) Tensors {
	result := make(Tensors, len(m))
	for id, t := range m {
		result[id] = t.Clone()
	}
	return result
}
