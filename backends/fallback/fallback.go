// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fallback implements a host executor of operator graphs, written the way a generated
// "fallback" kernel is: plain float32 loops over the weights in the operator's native gate
// convention (see gates.Native), with no BLAS and no conversion of the weights.
//
// It is the operator-under-test used to verify fixtures without a WebAssembly or WebGPU runtime.
// It is not fast.
package fallback

import (
	"github.com/gomlx/kerneltest/pkg/core/graph"
	"github.com/gomlx/kerneltest/pkg/core/shapes"
	"github.com/gomlx/kerneltest/pkg/core/tensors"
	"github.com/gomlx/kerneltest/pkg/fixture"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// BackendName of the fallback executor.
const BackendName = fixture.Fallback

// nodeExecutor evaluates one node, given the values of its inputs in the operator's order.
type nodeExecutor func(node *graph.Node, inputs []*tensors.Tensor) ([]*tensors.Tensor, error)

// nodeExecutors should be populated during initialization (`init` functions) for the ops implemented.
var nodeExecutors = make(map[graph.OpType]nodeExecutor)

// Backend executes graphs on the host. It holds no state, and it is safe for concurrent use.
type Backend struct{}

// Compile time check.
var _ fixture.Executor = (*Backend)(nil)

// New returns a fallback Backend.
func New() *Backend { return &Backend{} }

// Backend implements fixture.Executor.
func (b *Backend) Backend() fixture.Backend { return BackendName }

// String implements fmt.Stringer.
func (b *Backend) String() string { return string(BackendName) }

// Execute evaluates the finalized graph g with the given values for its declared inputs, and returns
// the values of its declared outputs.
//
// Inputs must have exactly the shape and order of their variables, else a *shapes.ShapeMismatchError
// is returned.
func (b *Backend) Execute(g *graph.Graph, inputs fixture.Tensors) (fixture.Tensors, error) {
	if !g.IsFinalized() {
		return nil, errors.Errorf("fallback.Execute(%q): graph must be finalized", g.Name())
	}
	values := make([]*tensors.Tensor, g.NumVariables())
	for _, id := range g.Inputs() {
		v := g.Variable(id)
		t, found := inputs[id]
		if !found || t == nil {
			return nil, errors.Errorf("fallback.Execute(%q): missing value for input %q", g.Name(), v.Name())
		}
		if err := shapes.Check(v.Name(), t.Shape(), t.Order(), v.Shape(), v.Order()); err != nil {
			return nil, err
		}
		values[id] = t
	}
	for id := range values {
		if v := g.Variable(graph.VariableID(id)); v.Kind() == graph.KindConstant {
			values[id] = v.Constant()
		}
	}

	// Nodes are stored in a valid execution order.
	for _, node := range g.Nodes() {
		executor, found := nodeExecutors[node.OpType()]
		if !found {
			return nil, errors.Errorf("fallback.Execute(%q): op %s not implemented", g.Name(), node.OpType())
		}
		inputIDs := node.Inputs()
		nodeInputs := make([]*tensors.Tensor, len(inputIDs))
		for ii, id := range inputIDs {
			nodeInputs[ii] = values[id]
		}
		outputs, err := executor(node, nodeInputs)
		if err != nil {
			return nil, errors.WithMessagef(err, "fallback.Execute(%q): node #%d (%s)", g.Name(), node.ID(), node.OpType())
		}
		for ii, id := range node.Outputs() {
			values[id] = outputs[ii]
		}
	}

	results := make(fixture.Tensors, len(g.Outputs()))
	for _, id := range g.Outputs() {
		results[id] = values[id]
	}
	klog.V(2).Infof("fallback.Execute(%q): %d nodes executed", g.Name(), len(g.Nodes()))
	return results, nil
}
