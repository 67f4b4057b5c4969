// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fallback

import (
	"github.com/chewxy/math32"
	"github.com/gomlx/kerneltest/pkg/core/graph"
	"github.com/gomlx/kerneltest/pkg/core/shapes"
	"github.com/gomlx/kerneltest/pkg/core/tensors"
)

func init() {
	nodeExecutors[graph.OpTypeLSTM] = execLSTM
}

// execLSTM runs the forward LSTM recurrence with zero initial hidden state. Inputs are
// (x, cIn, wInput, wHidden, bias), with the gates packed Blocked in the order (i, f, a, o).
func execLSTM(_ *graph.Node, inputs []*tensors.Tensor) ([]*tensors.Tensor, error) {
	x, cIn, wInput, wHidden, bias := inputs[0], inputs[1], inputs[2], inputs[3], inputs[4]
	batchSize, sequenceSize, inputSize := x.Shape().Dim(0), x.Shape().Dim(1), x.Shape().Dim(2)
	hiddenSize := wHidden.Shape().Dim(0)
	packed := 4 * hiddenSize

	xFlat, wInputFlat, wHiddenFlat, biasFlat := x.Flat(), wInput.Flat(), wHidden.Flat(), bias.Flat()
	hidden := make([]float32, batchSize*hiddenSize)
	cell := cIn.Flat()
	z := make([]float32, packed)
	for t := range sequenceSize {
		for n := range batchSize {
			copy(z, biasFlat)
			xRow := xFlat[(n*sequenceSize+t)*inputSize : (n*sequenceSize+t+1)*inputSize]
			for k, xValue := range xRow {
				wRow := wInputFlat[k*packed : (k+1)*packed]
				for jj, w := range wRow {
					z[jj] += xValue * w
				}
			}
			hRow := hidden[n*hiddenSize : (n+1)*hiddenSize]
			cRow := cell[n*hiddenSize : (n+1)*hiddenSize]
			for k, hValue := range hRow {
				wRow := wHiddenFlat[k*packed : (k+1)*packed]
				for jj, w := range wRow {
					z[jj] += hValue * w
				}
			}
			// z is complete, so hRow can be overwritten.
			for j := range hiddenSize {
				inputGate := sigmoid(z[j])
				forgetGate := sigmoid(z[hiddenSize+j])
				candidate := math32.Tanh(z[2*hiddenSize+j])
				outputGate := sigmoid(z[3*hiddenSize+j])
				cRow[j] = forgetGate*cRow[j] + inputGate*candidate
				hRow[j] = outputGate * math32.Tanh(cRow[j])
			}
		}
	}

	y, err := tensors.FromFlatDataAndDimensions(shapes.OrderNC, hidden, batchSize, hiddenSize)
	if err != nil {
		return nil, err
	}
	cOut, err := tensors.FromFlatDataAndDimensions(shapes.OrderNC, cell, batchSize, hiddenSize)
	if err != nil {
		return nil, err
	}
	return []*tensors.Tensor{y, cOut}, nil
}

func sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}
