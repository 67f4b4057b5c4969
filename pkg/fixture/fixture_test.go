// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fixture

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kerneltest/pkg/core/graph"
	"github.com/gomlx/kerneltest/pkg/core/shapes"
	"github.com/gomlx/kerneltest/pkg/core/tensors"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const batchSize, sequenceSize, inputSize, hiddenSize = 2, 3, 5, 4

func assemble(t *testing.T) *graph.AssembledLSTM {
	rng := tensors.NewRNG(1)
	return must.M1(graph.AssembleLSTM(t.Name(), batchSize, sequenceSize, graph.LSTMWeights{
		WInput:  tensors.Normal(rng, shapes.OrderCN, inputSize, 4*hiddenSize),
		WHidden: tensors.Normal(rng, shapes.OrderCN, hiddenSize, 4*hiddenSize),
		Bias:    tensors.Normal(rng, shapes.OrderC, 4*hiddenSize),
	}))
}

// data returns matching inputs and (arbitrary) expected tensors for the assembled graph.
func data(a *graph.AssembledLSTM) (inputs, expected Tensors) {
	rng := tensors.NewRNG(2)
	inputs = Tensors{a.X: tensors.Normal(rng, shapes.OrderNTC, batchSize, sequenceSize, inputSize)}
	expected = Tensors{
		a.Y:    tensors.Normal(rng, shapes.OrderNC, batchSize, hiddenSize),
		a.COut: tensors.Normal(rng, shapes.OrderNC, batchSize, hiddenSize),
	}
	return
}

func TestGenerate(t *testing.T) {
	a := assemble(t)
	inputs, expected := data(a)
	f := must.M1(Generate("lstm T=3", []Backend{WebAssembly, "vulkan", WebGPU, WebAssembly}, a.Graph, inputs, expected))
	assert.Equal(t, "lstm T=3", f.Description())
	assert.Equal(t, []Backend{WebAssembly, "vulkan", WebGPU}, f.Backends())
	assert.True(t, f.Targets("vulkan"))
	assert.False(t, f.Targets(Fallback))
	assert.Equal(t, DefaultTolerance, f.Tolerance())
	assert.Same(t, a.Graph, f.Graph())

	// ID is derived from the description only.
	f2 := must.M1(Generate("lstm T=3", nil, a.Graph, inputs, expected))
	assert.Equal(t, f.ID(), f2.ID())
	assert.Equal(t, 5, int(f.ID().Version()))
	f3 := must.M1(Generate("lstm T=3, again", nil, a.Graph, inputs, expected))
	assert.NotEqual(t, f.ID(), f3.ID())

	// Tensors are copies.
	got := f.Inputs()
	require.Len(t, got, 1)
	assert.True(t, inputs[a.X].Equal(got[a.X]))
	assert.NotSame(t, inputs[a.X], got[a.X])
	require.Len(t, f.Expected(), 2)

	loose := f.WithTolerance(Tolerance{Abs: 1})
	assert.Equal(t, float32(1), loose.Tolerance().Abs)
	assert.Equal(t, DefaultTolerance, f.Tolerance())
}

func TestGenerateErrors(t *testing.T) {
	a := assemble(t)
	inputs, expected := data(a)

	t.Run("RankMismatch", func(t *testing.T) {
		var mismatch *shapes.ShapeMismatchError
		bad := Tensors{a.X: tensors.Zeros(shapes.OrderNC, batchSize, inputSize)}
		_, err := Generate("rank", nil, a.Graph, bad, expected)
		require.ErrorAs(t, err, &mismatch)
		require.Equal(t, "x", mismatch.Name)
	})

	t.Run("OrderMismatch", func(t *testing.T) {
		var mismatch *shapes.ShapeMismatchError
		bad := Tensors{a.X: tensors.Zeros(shapes.ParseOrder("TNC"), batchSize, sequenceSize, inputSize)}
		_, err := Generate("order", nil, a.Graph, bad, expected)
		require.ErrorAs(t, err, &mismatch)
	})

	t.Run("MissingExpectation", func(t *testing.T) {
		partial := Tensors{a.Y: expected[a.Y]}
		_, err := Generate("no c_out", nil, a.Graph, inputs, partial)
		require.ErrorIs(t, err, ErrIncompleteFixture)
		var missing *MissingExpectationError
		require.ErrorAs(t, err, &missing)
		require.Equal(t, "lstm0_c_out", missing.Variable)
	})

	t.Run("MissingInput", func(t *testing.T) {
		_, err := Generate("no x", nil, a.Graph, nil, expected)
		require.ErrorIs(t, err, ErrIncompleteFixture)
		var missing *MissingInputError
		require.ErrorAs(t, err, &missing)
		require.Equal(t, "x", missing.Variable)
	})

	t.Run("UnknownVariable", func(t *testing.T) {
		extra := Tensors{a.X: inputs[a.X], a.WInput: tensors.Zeros(shapes.OrderCN, inputSize, 4*hiddenSize)}
		_, err := Generate("extra", nil, a.Graph, extra, expected)
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrIncompleteFixture)
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := Generate("", nil, a.Graph, inputs, expected)
		require.Error(t, err)
		_, err = Generate("nil graph", nil, nil, inputs, expected)
		require.Error(t, err)
	})
}

func TestParseBackends(t *testing.T) {
	backends := ParseBackends("webassembly, webgpu,,webassembly,metal")
	require.Equal(t, []Backend{WebAssembly, WebGPU, "metal"}, backends)
	require.True(t, WebGL.IsKnown())
	require.False(t, Backend("metal").IsKnown())
	require.Empty(t, ParseBackends(""))
}

func TestSuite(t *testing.T) {
	a := assemble(t)
	inputs, expected := data(a)
	s := NewSuite()
	const numFixtures = 20
	var wg sync.WaitGroup
	for ii := range numFixtures {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f := must.M1(Generate(fmt.Sprintf("fixture #%d", ii), nil, a.Graph, inputs, expected))
			assert.NoError(t, s.Add(f))
		}()
	}
	wg.Wait()
	require.Equal(t, numFixtures, s.Len())
	require.NotNil(t, s.Get("fixture #7"))
	require.Nil(t, s.Get("fixture #100"))

	dup := must.M1(Generate("fixture #3", nil, a.Graph, inputs, expected))
	err := s.Add(dup)
	var dupErr *DuplicateDescriptionError
	require.ErrorAs(t, err, &dupErr)
	require.Equal(t, "fixture #3", dupErr.Description)
	require.Len(t, s.Fixtures(), numFixtures)
	require.Error(t, s.Add(nil))
}

// echoExecutor returns the stored outputs, ignoring the graph.
type echoExecutor struct {
	outputs Tensors
	err     error
}

func (e *echoExecutor) Backend() Backend { return "echo" }

func (e *echoExecutor) Execute(_ *graph.Graph, _ Tensors) (Tensors, error) { return e.outputs, e.err }

func TestVerify(t *testing.T) {
	a := assemble(t)
	inputs, expected := data(a)
	f := must.M1(Generate("verify", nil, a.Graph, inputs, expected))
	require.NoError(t, f.Verify(expected))

	// Perturb one element of y, within and beyond tolerance.
	perturbed := func(delta float32) Tensors {
		flat := expected[a.Y].Flat()
		flat[3] += delta
		return Tensors{
			a.Y:    must.M1(tensors.FromFlatDataAndDimensions(shapes.OrderNC, flat, batchSize, hiddenSize)),
			a.COut: expected[a.COut],
		}
	}
	require.NoError(t, f.Verify(perturbed(1e-6)))
	err := f.Verify(perturbed(1))
	var divergence *NumericDivergenceError
	require.ErrorAs(t, err, &divergence)
	assert.Equal(t, "lstm0_y", divergence.Variable)
	assert.Equal(t, 3, divergence.Index)
	assert.Equal(t, 1, divergence.NumDiverging)
	require.NoError(t, f.WithTolerance(Tolerance{Abs: 2}).Verify(perturbed(1)))

	// Missing or misshaped outputs.
	require.Error(t, f.Verify(Tensors{a.Y: expected[a.Y]}))
	var mismatch *shapes.ShapeMismatchError
	err = f.Verify(Tensors{a.Y: tensors.Zeros(shapes.OrderNC, 1, hiddenSize), a.COut: expected[a.COut]})
	require.ErrorAs(t, err, &mismatch)

	// Run through an executor.
	require.NoError(t, f.Run(&echoExecutor{outputs: expected}))
	require.ErrorAs(t, f.Run(&echoExecutor{outputs: perturbed(1)}), &divergence)
	require.Error(t, f.Run(&echoExecutor{err: errors.New("device lost")}))

	s := NewSuite()
	require.NoError(t, s.Add(f))
	require.NoError(t, s.Run(&echoExecutor{outputs: expected}))
}

func TestWithinTolerance(t *testing.T) {
	tol := Tolerance{Abs: 1e-3, Rel: 1e-2}
	assert.True(t, tol.Within(0, 0))
	assert.True(t, tol.Within(1e-3, 0))
	assert.False(t, tol.Within(2e-3, 0))
	assert.True(t, tol.Within(101, 100))
	assert.False(t, tol.Within(-101.5, -100))
	assert.Equal(t, "abs=0.001, rel=0.01", tol.String())
}

func TestArchive(t *testing.T) {
	a := assemble(t)
	inputs, expected := data(a)
	f := must.M1(Generate("archive", []Backend{WebGPU, "metal"}, a.Graph, inputs, expected))
	f = f.WithTolerance(Tolerance{Abs: 1e-6, Rel: 1e-3})

	var buf bytes.Buffer
	require.NoError(t, f.WriteArchive(&buf))
	archive := must.M1(ReadArchive(bytes.NewReader(buf.Bytes()), int64(buf.Len())))
	m := archive.Manifest
	assert.Equal(t, "archive", m.Description)
	assert.Equal(t, f.ID().String(), m.ID)
	assert.Equal(t, a.Graph.Name(), m.Graph)
	assert.Equal(t, []Backend{WebGPU, "metal"}, m.Backends)
	assert.Equal(t, f.Tolerance(), m.Tolerance)
	assert.Equal(t, dtypes.Float32.String(), m.DType)
	require.Len(t, m.Inputs, 1)
	assert.Equal(t, ArchivedTensor{Name: "x", Dimensions: []int{batchSize, sequenceSize, inputSize}, Order: "NTC",
		File: "inputs/x.npy"}, m.Inputs[0])
	require.Len(t, m.Expected, 2)
	assert.Equal(t, "expected/lstm0_y.npy", m.Expected[0].File)

	require.True(t, inputs[a.X].Equal(archive.Inputs["x"]))
	require.True(t, expected[a.Y].Equal(archive.Expected["lstm0_y"]))
	require.True(t, expected[a.COut].Equal(archive.Expected["lstm0_c_out"]))

	// Float16 values lose precision, but stay close.
	buf.Reset()
	require.NoError(t, f.WriteArchiveAs(&buf, dtypes.Float16))
	archive = must.M1(ReadArchive(bytes.NewReader(buf.Bytes()), int64(buf.Len())))
	assert.Equal(t, dtypes.Float16.String(), archive.Manifest.DType)
	if diff := cmp.Diff(inputs[a.X].Flat(), archive.Inputs["x"].Flat(), cmpopts.EquateApprox(1e-3, 1e-3)); diff != "" {
		t.Errorf("float16 archived input mismatch (-want +got):\n%s", diff)
	}

	buf.Reset()
	require.Error(t, f.WriteArchiveAs(&buf, dtypes.Int32))
	assert.Zero(t, buf.Len(), "nothing written on error")
	_, err := ReadArchive(bytes.NewReader([]byte("not a zip")), 9)
	require.Error(t, err)

	// The archive is written in one piece: a failing writer sees a single write.
	w := &failingWriter{}
	require.ErrorIs(t, f.WriteArchive(w), errDiskFull)
	assert.Equal(t, 1, w.numWrites)
}

var errDiskFull = errors.New("disk full")

type failingWriter struct {
	numWrites int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	w.numWrites++
	return 0, errDiskFull
}
