// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package reference computes the trusted, step-by-step forward trajectory of an LSTM.
//
// The Evaluator is a small state machine holding the hidden state H and the cell state C,
// both shaped [batchSize, hiddenSize]. Each step computes
//
//	z  = x_t·W_input + H·W_hidden + b                 // [batchSize, 4*hiddenSize]
//	C' = sigmoid(z_f) ⊙ C + sigmoid(z_i) ⊙ tanh(z_a)
//	H' = sigmoid(z_o) ⊙ tanh(C')
//
// where z_i, z_f, z_a and z_o are read from z according to the gate packing convention of the
// weights (gates.Reference by default). The matrix multiplications use gonum's float32 BLAS,
// and the activations github.com/chewxy/math32. Only forward values are computed.
//
// The recurrence is sequential by nature: step t+1 consumes the state of step t. Independent
// evaluators share nothing and can be used concurrently.
package reference

import (
	"github.com/chewxy/math32"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/kerneltest/pkg/core/shapes"
	"github.com/gomlx/kerneltest/pkg/core/tensors"
	"github.com/gomlx/kerneltest/pkg/lstm/gates"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// OrderTNC is the order of the trajectory of hidden states: [sequenceSize, batchSize, hiddenSize].
var OrderTNC = shapes.NewOrder(shapes.AxisT, shapes.AxisN, shapes.AxisC)

// Evaluator runs the LSTM recurrence one step at a time. Create it with New.
type Evaluator struct {
	convention             gates.Convention
	inputSize, hiddenSize  int
	batchSize              int
	wInput, wHidden        blas32.General
	bias                   []float32
	state                  State
	numSteps, stepsApplied int

	// hidden and cell hold the current state, shaped [batchSize, hiddenSize].
	hidden, cell []float32
	trajectory   [][]float32

	// z is the scratch buffer of the gate pre-activations, [batchSize, 4*hiddenSize].
	z []float32
}

// New creates an Evaluator for the given weights, packed according to gates.Reference (see
// Evaluator.Convention to change it):
//
//   - wInput: [inputSize, 4*hiddenSize], shapes.OrderCN.
//   - wHidden: [hiddenSize, 4*hiddenSize], shapes.OrderCN.
//   - bias: [4*hiddenSize], shapes.OrderC.
//
// The weights are copied. It returns a *shapes.ShapeMismatchError if the shapes are not consistent.
func New(wInput, wHidden, bias *tensors.Tensor) (*Evaluator, error) {
	if !bias.Order().Equal(shapes.OrderC) {
		return nil, shapes.Mismatchf("bias", "order must be C, got %s", bias.Order())
	}
	packed := bias.Shape().Dim(0)
	if packed%gates.NumGates != 0 {
		return nil, shapes.Mismatchf("bias", "length %d is not divisible by 4", packed)
	}
	hiddenSize := packed / gates.NumGates
	if !wInput.Order().Equal(shapes.OrderCN) || !wHidden.Order().Equal(shapes.OrderCN) {
		return nil, shapes.Mismatchf("weights", "orders must be CN, got %s and %s", wInput.Order(), wHidden.Order())
	}
	if err := wInput.Shape().CheckDims("wInput", shapes.UncheckedAxis, packed); err != nil {
		return nil, err
	}
	if err := wHidden.Shape().CheckDims("wHidden", hiddenSize, packed); err != nil {
		return nil, err
	}
	inputSize := wInput.Shape().Dim(0)
	return &Evaluator{
		convention: gates.Reference,
		inputSize:  inputSize,
		hiddenSize: hiddenSize,
		wInput:     blas32.General{Rows: inputSize, Cols: packed, Stride: packed, Data: wInput.Flat()},
		wHidden:    blas32.General{Rows: hiddenSize, Cols: packed, Stride: packed, Data: wHidden.Flat()},
		bias:       bias.Flat(),
		state:      Idle,
	}, nil
}

// Convention sets the gate packing convention of the weights. The default is gates.Reference.
//
// It panics if called after Start or after the first step, since it would change how the
// pre-activations are decoded in the middle of a trajectory.
func (e *Evaluator) Convention(c gates.Convention) *Evaluator {
	if e.state != Idle || e.hidden != nil {
		exceptions.Panicf("reference.Evaluator.Convention(%s): evaluator already started (state %s, %d steps)",
			c.Name, e.state, e.stepsApplied)
	}
	e.convention = c
	return e
}

// HiddenSize of the LSTM.
func (e *Evaluator) HiddenSize() int { return e.hiddenSize }

// InputSize is the number of input features (channels) of the LSTM.
func (e *Evaluator) InputSize() int { return e.inputSize }

// State of the evaluator.
func (e *Evaluator) State() State { return e.state }

// StepsApplied returns the number of steps evaluated so far.
func (e *Evaluator) StepsApplied() int { return e.stepsApplied }

// Start sets the initial hidden and cell states, both shaped [batchSize, hiddenSize] (shapes.OrderNC).
// Either can be nil, in which case it is initialized with zeros. If both are nil, the batch size
// is taken from the first input.
//
// It can only be called before the first step.
func (e *Evaluator) Start(hidden0, cell0 *tensors.Tensor) error {
	if e.state != Idle || e.hidden != nil {
		return errors.Errorf("reference.Evaluator.Start: evaluator already started (state %s)", e.state)
	}
	if err := e.convention.Validate(); err != nil {
		return err
	}
	batchSize := 0
	for _, s := range []struct {
		name  string
		value *tensors.Tensor
	}{{"hidden0", hidden0}, {"cell0", cell0}} {
		if s.value == nil {
			continue
		}
		if !s.value.Order().Equal(shapes.OrderNC) {
			return shapes.Mismatchf(s.name, "order must be NC, got %s", s.value.Order())
		}
		if err := s.value.Shape().CheckDims(s.name, shapes.UncheckedAxis, e.hiddenSize); err != nil {
			return err
		}
		if batchSize != 0 && s.value.Shape().Dim(0) != batchSize {
			return shapes.Mismatchf(s.name, "batch size %d differs from hidden0 batch size %d",
				s.value.Shape().Dim(0), batchSize)
		}
		batchSize = s.value.Shape().Dim(0)
	}
	if batchSize == 0 {
		return nil
	}
	e.allocate(batchSize)
	if hidden0 != nil {
		hidden0.ConstFlatData(func(flat []float32) { copy(e.hidden, flat) })
	}
	if cell0 != nil {
		cell0.ConstFlatData(func(flat []float32) { copy(e.cell, flat) })
	}
	return nil
}

func (e *Evaluator) allocate(batchSize int) {
	e.batchSize = batchSize
	e.hidden = make([]float32, batchSize*e.hiddenSize)
	e.cell = make([]float32, batchSize*e.hiddenSize)
	e.z = make([]float32, batchSize*gates.NumGates*e.hiddenSize)
}

// Step applies one step of the recurrence with x_t shaped [batchSize, inputSize] (shapes.OrderNC).
//
// The evaluator moves from Idle to Stepping. Stepping a Done evaluator is an error.
func (e *Evaluator) Step(x *tensors.Tensor) error {
	if e.state == Done {
		return errors.Errorf("reference.Evaluator.Step: evaluator is %s after %d steps", e.state, e.stepsApplied)
	}
	if !x.Order().Equal(shapes.OrderNC) {
		return shapes.Mismatchf("x_t", "order must be NC, got %s", x.Order())
	}
	if e.hidden == nil {
		if err := e.convention.Validate(); err != nil {
			return err
		}
		if err := x.Shape().CheckDims("x_t", shapes.UncheckedAxis, e.inputSize); err != nil {
			return err
		}
		e.allocate(x.Shape().Dim(0))
	}
	if err := x.Shape().CheckDims("x_t", e.batchSize, e.inputSize); err != nil {
		return err
	}
	x.ConstFlatData(e.step)
	e.state = Stepping
	if e.numSteps > 0 && e.stepsApplied == e.numSteps {
		e.state = Done
	}
	return nil
}

// step does the actual computation, with flat x_t already validated.
func (e *Evaluator) step(xt []float32) {
	packed := gates.NumGates * e.hiddenSize
	for row := range e.batchSize {
		copy(e.z[row*packed:(row+1)*packed], e.bias)
	}
	z := blas32.General{Rows: e.batchSize, Cols: packed, Stride: packed, Data: e.z}
	x := blas32.General{Rows: e.batchSize, Cols: e.inputSize, Stride: e.inputSize, Data: xt}
	h := blas32.General{Rows: e.batchSize, Cols: e.hiddenSize, Stride: e.hiddenSize, Data: e.hidden}
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, x, e.wInput, 1, z)
	blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, h, e.wHidden, 1, z)

	// z already holds the contribution of the previous hidden state, so it is updated in place.
	c := e.convention
	for row := range e.batchSize {
		zRow := e.z[row*packed : (row+1)*packed]
		for j := range e.hiddenSize {
			i := Sigmoid(zRow[c.Index(gates.Input, j, e.hiddenSize)])
			f := Sigmoid(zRow[c.Index(gates.Forget, j, e.hiddenSize)])
			a := math32.Tanh(zRow[c.Index(gates.Candidate, j, e.hiddenSize)])
			o := Sigmoid(zRow[c.Index(gates.Output, j, e.hiddenSize)])
			pos := row*e.hiddenSize + j
			e.cell[pos] = f*e.cell[pos] + i*a
			e.hidden[pos] = o * math32.Tanh(e.cell[pos])
		}
	}
	e.trajectory = append(e.trajectory, append([]float32(nil), e.hidden...))
	e.stepsApplied++
}

// Finish marks the evaluator as Done: no more steps can be applied.
func (e *Evaluator) Finish() {
	e.state = Done
}

// Run evaluates the whole sequence x, shaped [batchSize, sequenceSize, inputSize] (shapes.OrderNTC),
// starting from the current state (zeros if Start was not called).
// After the last step the evaluator is Done.
//
// It returns the final hidden and cell states, both shaped [batchSize, hiddenSize].
func (e *Evaluator) Run(x *tensors.Tensor) (hidden, cell *tensors.Tensor, err error) {
	if e.state != Idle {
		return nil, nil, errors.Errorf("reference.Evaluator.Run: evaluator must be Idle, it is %s", e.state)
	}
	if !x.Order().Equal(shapes.OrderNTC) {
		return nil, nil, shapes.Mismatchf("x", "order must be NTC, got %s", x.Order())
	}
	if err = x.Shape().CheckDims("x", shapes.UncheckedAxis, shapes.UncheckedAxis, e.inputSize); err != nil {
		return nil, nil, err
	}
	batchSize, sequenceSize := x.Shape().Dim(0), x.Shape().Dim(1)
	if e.hidden != nil && e.batchSize != batchSize {
		return nil, nil, shapes.Mismatchf("x", "batch size %d differs from the initial state batch size %d",
			batchSize, e.batchSize)
	}
	e.numSteps = e.stepsApplied + sequenceSize
	xt := make([]float32, batchSize*e.inputSize)
	for t := range sequenceSize {
		x.ConstFlatData(func(flat []float32) {
			for row := range batchSize {
				start := (row*sequenceSize + t) * e.inputSize
				copy(xt[row*e.inputSize:(row+1)*e.inputSize], flat[start:start+e.inputSize])
			}
		})
		xtTensor, err := tensors.FromFlatDataAndDimensions(shapes.OrderNC, xt, batchSize, e.inputSize)
		if err != nil {
			return nil, nil, err
		}
		if err = e.Step(xtTensor); err != nil {
			return nil, nil, err
		}
	}
	return e.Hidden(), e.Cell(), nil
}

// Hidden returns the current hidden state [batchSize, hiddenSize], or nil if not started.
func (e *Evaluator) Hidden() *tensors.Tensor {
	return e.stateTensor(e.hidden)
}

// Cell returns the current cell state [batchSize, hiddenSize], or nil if not started.
func (e *Evaluator) Cell() *tensors.Tensor {
	return e.stateTensor(e.cell)
}

func (e *Evaluator) stateTensor(flat []float32) *tensors.Tensor {
	if flat == nil {
		return nil
	}
	t, err := tensors.FromFlatDataAndDimensions(shapes.OrderNC, flat, e.batchSize, e.hiddenSize)
	if err != nil {
		panic(err) // Shapes are always consistent here.
	}
	return t
}

// Trajectory returns the hidden states after each step applied, shaped [steps, batchSize, hiddenSize]
// (OrderTNC), or nil if no step was applied yet.
func (e *Evaluator) Trajectory() *tensors.Tensor {
	if len(e.trajectory) == 0 {
		return nil
	}
	flat := make([]float32, 0, len(e.trajectory)*e.batchSize*e.hiddenSize)
	for _, h := range e.trajectory {
		flat = append(flat, h...)
	}
	t, err := tensors.FromFlatDataAndDimensions(OrderTNC, flat, len(e.trajectory), e.batchSize, e.hiddenSize)
	if err != nil {
		panic(err)
	}
	return t
}

// Sigmoid is the logistic function 1/(1+exp(-x)).
func Sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}
