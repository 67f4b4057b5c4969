// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kerneltest/pkg/core/shapes"
	"github.com/gomlx/kerneltest/pkg/core/tensors"
	"github.com/pkg/errors"
)

// LSTM adds a forward LSTM node to the graph and returns its two outputs: the final hidden state
// y and the final cell state cOut, both shaped [batchSize, hiddenSize] (shapes.OrderNC).
//
// Inputs (weights in the operator's native gate convention, see package gates):
//   - x: [batchSize, sequenceSize, inputSize], shapes.OrderNTC.
//   - cIn: initial cell state, [batchSize, hiddenSize], shapes.OrderNC.
//   - wInput: [inputSize, 4*hiddenSize], shapes.OrderCN.
//   - wHidden: [hiddenSize, 4*hiddenSize], shapes.OrderCN.
//   - bias: [4*hiddenSize], shapes.OrderC.
//
// It returns a *shapes.ShapeMismatchError if any of the shapes or orders don't match, in particular
// if the hidden size implied by cIn, wHidden and bias disagree.
func LSTM(g *Graph, x, cIn, wInput, wHidden, bias VariableID) (y, cOut VariableID, err error) {
	y, cOut = InvalidVariableID, InvalidVariableID
	if err = g.assertMutable("LSTM"); err != nil {
		return
	}
	var node *Node
	err = exceptions.TryCatch[error](func() { node = g.lstm(x, cIn, wInput, wHidden, bias) })
	if err != nil {
		return
	}
	return node.outputs[0], node.outputs[1], nil
}

func (g *Graph) mustVariable(id VariableID, role string) *Variable {
	v := g.Variable(id)
	if v == nil {
		panic(errors.Errorf("Graph(%q).LSTM: %s is an unknown variable #%d", g.name, role, id))
	}
	return v
}

func assertOrder(v *Variable, role string, want shapes.Order) {
	v.shape.AssertFloat32(role)
	if !v.order.Equal(want) {
		panic(&shapes.ShapeMismatchError{
			Name: role, Got: v.shape, GotOrder: v.order, WantOrder: want,
			Reason: fmt.Sprintf("variable %q must have order %s", v.name, want),
		})
	}
}

func (g *Graph) lstm(xID, cInID, wInputID, wHiddenID, biasID VariableID) *Node {
	x := g.mustVariable(xID, "x")
	cIn := g.mustVariable(cInID, "cIn")
	wInput := g.mustVariable(wInputID, "wInput")
	wHidden := g.mustVariable(wHiddenID, "wHidden")
	bias := g.mustVariable(biasID, "bias")
	assertOrder(x, "x", shapes.OrderNTC)
	assertOrder(cIn, "cIn", shapes.OrderNC)
	assertOrder(wInput, "wInput", shapes.OrderCN)
	assertOrder(wHidden, "wHidden", shapes.OrderCN)
	assertOrder(bias, "bias", shapes.OrderC)

	batchSize, inputSize := x.shape.Dim(0), x.shape.Dim(2)
	hiddenSize := wHidden.shape.Dim(0)
	for _, implied := range []struct {
		role   string
		packed bool
		dim    int
	}{
		{"cIn", false, cIn.shape.Dim(1)},
		{"wHidden", true, wHidden.shape.Dim(1)},
		{"wInput", true, wInput.shape.Dim(1)},
		{"bias", true, bias.shape.Dim(0)},
	} {
		dim := implied.dim
		if implied.packed {
			if dim%4 != 0 {
				panic(shapes.Mismatchf(implied.role, "packed gates axis has length %d, not divisible by 4", dim))
			}
			dim /= 4
		}
		if dim != hiddenSize {
			panic(shapes.Mismatchf(implied.role, "implies hidden size %d, but wHidden has %d rows", dim, hiddenSize))
		}
	}
	cIn.shape.AssertDims("cIn", batchSize, hiddenSize)
	wInput.shape.AssertDims("wInput", inputSize, 4*hiddenSize)

	prefix := fmt.Sprintf("lstm%d", len(g.nodes))
	outShape := shapes.Make(x.shape.DType, batchSize, hiddenSize)
	node, err := g.addNode(OpTypeLSTM,
		[]VariableID{xID, cInID, wInputID, wHiddenID, biasID},
		[]string{prefix + "_y", prefix + "_c_out"},
		[]shapes.Shape{outShape, outShape},
		[]shapes.Order{shapes.OrderNC, shapes.OrderNC})
	if err != nil {
		panic(err)
	}
	return node
}

// LSTMWeights holds the weights of an LSTM in the operator's native gate convention.
type LSTMWeights struct {
	// WInput is shaped [inputSize, 4*hiddenSize], shapes.OrderCN.
	WInput *tensors.Tensor
	// WHidden is shaped [hiddenSize, 4*hiddenSize], shapes.OrderCN.
	WHidden *tensors.Tensor
	// Bias is shaped [4*hiddenSize], shapes.OrderC.
	Bias *tensors.Tensor
	// InitialCell is shaped [batchSize, hiddenSize], shapes.OrderNC. If nil, zeros are used.
	InitialCell *tensors.Tensor
}

// AssembledLSTM is a finalized graph with exactly one LSTM node, and the handles of its variables.
type AssembledLSTM struct {
	Graph                      *Graph
	X, CIn, WInput, WHidden, B VariableID
	Y, COut                    VariableID
	BatchSize, SequenceSize    int
	InputSize, HiddenSize      int
}

// AssembleLSTM builds the graph of a single LSTM operator: a free input x shaped
// [batchSize, sequenceSize, inputSize], the initial cell state and weights as constants, and the
// two outputs of the node (y and cOut) declared as the graph outputs.
//
// The returned graph is finalized.
func AssembleLSTM(name string, batchSize, sequenceSize int, w LSTMWeights) (*AssembledLSTM, error) {
	if batchSize <= 0 || sequenceSize <= 0 {
		return nil, shapes.Mismatchf("x", "invalid batchSize=%d or sequenceSize=%d", batchSize, sequenceSize)
	}
	if w.WInput == nil || w.WHidden == nil || w.Bias == nil {
		return nil, errors.Errorf("AssembleLSTM(%q): missing weights", name)
	}
	if w.WInput.Rank() != 2 || w.WHidden.Rank() != 2 {
		return nil, shapes.Mismatchf("weights", "wInput and wHidden must have rank 2, got %s and %s",
			w.WInput.Shape(), w.WHidden.Shape())
	}
	a := &AssembledLSTM{
		Graph:        New(name),
		BatchSize:    batchSize,
		SequenceSize: sequenceSize,
		InputSize:    w.WInput.Shape().Dim(0),
		HiddenSize:   w.WHidden.Shape().Dim(0),
	}
	g := a.Graph
	cell0 := w.InitialCell
	if cell0 == nil {
		cell0 = tensors.Zeros(shapes.OrderNC, batchSize, a.HiddenSize)
	}

	var err error
	xShape := shapes.Make(w.WInput.Shape().DType, batchSize, sequenceSize, a.InputSize)
	if a.X, err = g.NewVariable("x", xShape, shapes.OrderNTC); err != nil {
		return nil, err
	}
	if a.CIn, err = g.NewConstant("c_in", cell0); err != nil {
		return nil, err
	}
	if a.WInput, err = g.NewConstant("w_input", w.WInput); err != nil {
		return nil, err
	}
	if a.WHidden, err = g.NewConstant("w_hidden", w.WHidden); err != nil {
		return nil, err
	}
	if a.B, err = g.NewConstant("b", w.Bias); err != nil {
		return nil, err
	}
	if a.Y, a.COut, err = LSTM(g, a.X, a.CIn, a.WInput, a.WHidden, a.B); err != nil {
		return nil, errors.WithMessagef(err, "AssembleLSTM(%q)", name)
	}
	if err = g.SetInputs(a.X); err != nil {
		return nil, err
	}
	if err = g.SetOutputs(a.Y, a.COut); err != nil {
		return nil, err
	}
	if err = g.Finalize(); err != nil {
		return nil, err
	}
	return a, nil
}
