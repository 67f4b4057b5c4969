// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fixture

import (
	"fmt"
	"time"

	"github.com/chewxy/math32"
	"github.com/gomlx/kerneltest/pkg/core/graph"
	"github.com/gomlx/kerneltest/pkg/core/shapes"
	"github.com/gomlx/kerneltest/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Tolerance for the elementwise comparison of outputs: an output value got matches the expected
// value want if |got-want| <= Abs + Rel*|want|.
type Tolerance struct {
	Abs float32 `yaml:"abs"`
	Rel float32 `yaml:"rel"`
}

// DefaultTolerance is used by fixtures unless changed with Fixture.WithTolerance.
var DefaultTolerance = Tolerance{Abs: 1e-5, Rel: 1e-4}

// String implements fmt.Stringer.
func (tol Tolerance) String() string {
	return fmt.Sprintf("abs=%g, rel=%g", tol.Abs, tol.Rel)
}

// Within returns whether got is within tolerance of want. NaN never matches.
func (tol Tolerance) Within(got, want float32) bool {
	return math32.Abs(got-want) <= tol.Abs+tol.Rel*math32.Abs(want)
}

// Verify compares the outputs of an operator-under-test with the expected values of the fixture.
//
// Every expected output must be present in actual, with the same shape and order. It returns a
// *NumericDivergenceError for the first output with values out of tolerance.
func (f *Fixture) Verify(actual Tensors) error {
	for _, id := range f.graph.Outputs() {
		want := f.expected[id]
		v := f.graph.Variable(id)
		got, found := actual[id]
		if !found || got == nil {
			return errors.Errorf("fixture %q: output %q missing from the results", f.description, v.Name())
		}
		if err := shapes.Check(v.Name(), got.Shape(), got.Order(), want.Shape(), want.Order()); err != nil {
			return errors.WithMessagef(err, "fixture %q", f.description)
		}
		if err := f.compare(v.Name(), got, want); err != nil {
			return err
		}
	}
	klog.V(1).Infof("fixture %q: %d outputs verified within %s", f.description, len(f.expected), f.tolerance)
	return nil
}

func (f *Fixture) compare(name string, got, want *tensors.Tensor) error {
	var divergence *NumericDivergenceError
	got.ConstFlatData(func(gotFlat []float32) {
		want.ConstFlatData(func(wantFlat []float32) {
			for ii, w := range wantFlat {
				if f.tolerance.Within(gotFlat[ii], w) {
					continue
				}
				if divergence == nil {
					divergence = &NumericDivergenceError{
						Description: f.description, Variable: name, Index: ii,
						Got: gotFlat[ii], Want: w, Tolerance: f.tolerance,
					}
				}
				divergence.NumDiverging++
			}
		})
	})
	if divergence != nil {
		return divergence
	}
	return nil
}

// Executor runs a graph on some backend: it's the operator-under-test.
type Executor interface {
	// Backend identifies the executor.
	Backend() Backend

	// Execute evaluates the graph with the given inputs, and returns the values of the graph outputs.
	Execute(g *graph.Graph, inputs Tensors) (Tensors, error)
}

// Run executes the fixture graph with executor and verifies its outputs.
//
// The executor doesn't need to be one of the fixture's target backends.
func (f *Fixture) Run(executor Executor) error {
	start := time.Now()
	actual, err := executor.Execute(f.graph, f.Inputs())
	if err != nil {
		return errors.WithMessagef(err, "fixture %q: backend %q failed", f.description, executor.Backend())
	}
	klog.V(1).Infof("fixture %q: backend %q executed in %s", f.description, executor.Backend(), time.Since(start))
	return f.Verify(actual)
}
