// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fallback

import (
	"fmt"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kerneltest/pkg/core/graph"
	"github.com/gomlx/kerneltest/pkg/core/shapes"
	"github.com/gomlx/kerneltest/pkg/core/tensors"
	"github.com/gomlx/kerneltest/pkg/fixture"
	"github.com/gomlx/kerneltest/pkg/lstm/gates"
	"github.com/gomlx/kerneltest/pkg/lstm/reference"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

type testCase struct {
	batchSize, sequenceSize, inputSize, hiddenSize int
}

func (tc testCase) String() string {
	return fmt.Sprintf("N=%d,T=%d,C=%d,H=%d", tc.batchSize, tc.sequenceSize, tc.inputSize, tc.hiddenSize)
}

// build returns the assembled graph (native weights), its input and the reference final states.
func build(t *testing.T, tc testCase, seed uint64) (a *graph.AssembledLSTM, x, wantHidden, wantCell *tensors.Tensor) {
	rng := tensors.NewRNG(seed)
	w := graph.LSTMWeights{
		WInput:      tensors.Normal(rng, shapes.OrderCN, tc.inputSize, 4*tc.hiddenSize),
		WHidden:     tensors.Normal(rng, shapes.OrderCN, tc.hiddenSize, 4*tc.hiddenSize),
		Bias:        tensors.Normal(rng, shapes.OrderC, 4*tc.hiddenSize),
		InitialCell: tensors.Normal(rng, shapes.OrderNC, tc.batchSize, tc.hiddenSize),
	}
	x = tensors.Normal(rng, shapes.OrderNTC, tc.batchSize, tc.sequenceSize, tc.inputSize)
	a = must.M1(graph.AssembleLSTM(tc.String(), tc.batchSize, tc.sequenceSize, w))

	e := must.M1(reference.New(
		must.M1(gates.Convert(w.WInput, gates.Native, gates.Reference)),
		must.M1(gates.Convert(w.WHidden, gates.Native, gates.Reference)),
		must.M1(gates.Convert(w.Bias, gates.Native, gates.Reference))))
	require.NoError(t, e.Start(nil, w.InitialCell))
	wantHidden, wantCell = must.M2(e.Run(x))
	return
}

func TestExecuteMatchesReference(t *testing.T) {
	backend := New()
	require.Equal(t, fixture.Fallback, backend.Backend())
	require.Equal(t, "fallback", backend.String())
	for ii, tc := range []testCase{
		{1, 1, 128, 64},
		{1, 10, 128, 64},
		{3, 4, 5, 2},
		{2, 7, 1, 1},
	} {
		t.Run(tc.String(), func(t *testing.T) {
			a, x, wantHidden, wantCell := build(t, tc, uint64(ii+1))
			outputs := must.M1(backend.Execute(a.Graph, fixture.Tensors{a.X: x}))
			require.Len(t, outputs, 2)
			gotHidden, gotCell := outputs[a.Y], outputs[a.COut]
			require.True(t, gotHidden.Order().Equal(shapes.OrderNC))
			require.Equal(t, wantHidden.Shape(), gotHidden.Shape())
			opt := cmpopts.EquateApprox(1e-5, 1e-5)
			if diff := cmp.Diff(wantHidden.Flat(), gotHidden.Flat(), opt); diff != "" {
				t.Errorf("hidden state mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(wantCell.Flat(), gotCell.Flat(), opt); diff != "" {
				t.Errorf("cell state mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunFixture(t *testing.T) {
	a, x, wantHidden, wantCell := build(t, testCase{2, 3, 4, 5}, 42)
	f := must.M1(fixture.Generate("fallback run", []fixture.Backend{fixture.Fallback}, a.Graph,
		fixture.Tensors{a.X: x}, fixture.Tensors{a.Y: wantHidden, a.COut: wantCell}))
	require.NoError(t, f.Run(New()))

	// Weights in the wrong convention must be caught.
	constant := func(id graph.VariableID) *tensors.Tensor { return a.Graph.Variable(id).Constant() }
	w := graph.LSTMWeights{
		WInput:      must.M1(gates.Convert(constant(a.WInput), gates.Native, gates.Reference)),
		WHidden:     must.M1(gates.Convert(constant(a.WHidden), gates.Native, gates.Reference)),
		Bias:        must.M1(gates.Convert(constant(a.B), gates.Native, gates.Reference)),
		InitialCell: constant(a.CIn),
	}
	wrong := must.M1(graph.AssembleLSTM("wrong convention", 2, 3, w))
	f = must.M1(fixture.Generate("fallback wrong convention", nil, wrong.Graph,
		fixture.Tensors{wrong.X: x}, fixture.Tensors{wrong.Y: wantHidden, wrong.COut: wantCell}))
	var divergence *fixture.NumericDivergenceError
	require.ErrorAs(t, f.Run(New()), &divergence)
}

func TestExecuteErrors(t *testing.T) {
	a, x, _, _ := build(t, testCase{1, 2, 3, 4}, 7)
	backend := New()
	_, err := backend.Execute(a.Graph, nil)
	require.Error(t, err)

	var mismatch *shapes.ShapeMismatchError
	_, err = backend.Execute(a.Graph, fixture.Tensors{a.X: tensors.Zeros(shapes.OrderNTC, 1, 3, 3)})
	require.ErrorAs(t, err, &mismatch)

	g := graph.New("open")
	_ = must.M1(g.NewVariable("x", shapes.Make(dtypes.Float32, 1, 2, 3), shapes.OrderNTC))
	_, err = backend.Execute(g, fixture.Tensors{a.X: x})
	require.Error(t, err, "graph not finalized")
}
