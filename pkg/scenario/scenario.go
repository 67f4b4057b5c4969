// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package scenario builds LSTM fixtures end-to-end from a Config: random weights and inputs
// drawn from a seeded generator, expected values computed by the reference evaluator (with the
// weights converted to its gate convention), and the same weights in the operator's native
// convention bound into an assembled graph.
//
// Independent scenarios share no state, and BuildAll builds them in parallel.
package scenario

import (
	"context"
	"runtime"
	"time"

	"github.com/gomlx/kerneltest/pkg/core/graph"
	"github.com/gomlx/kerneltest/pkg/core/shapes"
	"github.com/gomlx/kerneltest/pkg/core/tensors"
	"github.com/gomlx/kerneltest/pkg/fixture"
	"github.com/gomlx/kerneltest/pkg/lstm/gates"
	"github.com/gomlx/kerneltest/pkg/lstm/reference"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Scenario is a built fixture and the intermediary values used to build it.
type Scenario struct {
	Config  Config
	LSTM    *graph.AssembledLSTM
	Fixture *fixture.Fixture

	// Trajectory of the hidden states computed by the reference evaluator, shaped
	// [SeqLen, Batch, Hidden] (reference.OrderTNC).
	Trajectory *tensors.Tensor

	// Elapsed time to build the scenario.
	Elapsed time.Duration
}

// Build creates the scenario described by cfg.
//
// The random values are drawn, in order: x, wInput, wHidden and bias, all from the standard normal
// distribution, from a generator seeded with cfg.Seed. The initial cell state is zero.
func Build(cfg Config) (*Scenario, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()
	rng := tensors.NewRNG(cfg.Seed)
	x := tensors.Normal(rng, shapes.OrderNTC, cfg.Batch, cfg.SeqLen, cfg.InputChannels)
	native := graph.LSTMWeights{
		WInput:      tensors.Normal(rng, shapes.OrderCN, cfg.InputChannels, 4*cfg.Hidden),
		WHidden:     tensors.Normal(rng, shapes.OrderCN, cfg.Hidden, 4*cfg.Hidden),
		Bias:        tensors.Normal(rng, shapes.OrderC, 4*cfg.Hidden),
		InitialCell: tensors.Zeros(shapes.OrderNC, cfg.Batch, cfg.Hidden),
	}

	// Expected values: the reference evaluator takes the weights in its own gate convention.
	var converted [3]*tensors.Tensor
	for ii, w := range []*tensors.Tensor{native.WInput, native.WHidden, native.Bias} {
		var err error
		if converted[ii], err = gates.Convert(w, gates.Native, gates.Reference); err != nil {
			return nil, errors.WithMessagef(err, "scenario %q", cfg.Description)
		}
	}
	evaluator, err := reference.New(converted[0], converted[1], converted[2])
	if err != nil {
		return nil, errors.WithMessagef(err, "scenario %q", cfg.Description)
	}
	if err = evaluator.Start(nil, native.InitialCell); err != nil {
		return nil, errors.WithMessagef(err, "scenario %q", cfg.Description)
	}
	hidden, cell, err := evaluator.Run(x)
	if err != nil {
		return nil, errors.WithMessagef(err, "scenario %q", cfg.Description)
	}

	s := &Scenario{Config: cfg, Trajectory: evaluator.Trajectory()}
	s.LSTM, err = graph.AssembleLSTM(cfg.Description, cfg.Batch, cfg.SeqLen, native)
	if err != nil {
		return nil, errors.WithMessagef(err, "scenario %q", cfg.Description)
	}
	f, err := fixture.Generate(cfg.Description, cfg.Backends, s.LSTM.Graph,
		fixture.Tensors{s.LSTM.X: x},
		fixture.Tensors{s.LSTM.Y: hidden, s.LSTM.COut: cell})
	if err != nil {
		return nil, err
	}
	s.Fixture = f.WithTolerance(cfg.tolerance())
	s.Elapsed = time.Since(start)
	klog.V(1).Infof("scenario %q: built in %s (N=%d, T=%d, C=%d, H=%d, seed=%d)", cfg.Description, s.Elapsed,
		cfg.Batch, cfg.SeqLen, cfg.InputChannels, cfg.Hidden, cfg.Seed)
	return s, nil
}

// BuildAll builds the scenarios in parallel, with at most parallelism of them at a time (if
// parallelism <= 0, runtime.NumCPU() is used), and registers their fixtures into a new suite.
//
// Scenarios are returned, and registered, in the order of cfgs. It fails on the first error, including
// a *fixture.DuplicateDescriptionError if two configurations share a description.
func BuildAll(ctx context.Context, cfgs []Config, parallelism int) (*fixture.Suite, []*Scenario, error) {
	return BuildAllWithCallback(ctx, cfgs, parallelism, nil)
}

// BuildAllWithCallback is like BuildAll, but calls onBuilt (if not nil) as soon as each scenario is
// built. onBuilt may be called concurrently.
func BuildAllWithCallback(ctx context.Context, cfgs []Config, parallelism int, onBuilt func(s *Scenario)) (
	*fixture.Suite, []*Scenario, error) {
	suite := fixture.NewSuite()
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	seen := make(map[string]bool, len(cfgs))
	for _, cfg := range cfgs {
		if seen[cfg.Description] {
			return nil, nil, &fixture.DuplicateDescriptionError{Description: cfg.Description}
		}
		seen[cfg.Description] = true
	}

	scenarios := make([]*Scenario, len(cfgs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for ii, cfg := range cfgs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := Build(cfg)
			if err != nil {
				return err
			}
			scenarios[ii] = s
			if onBuilt != nil {
				onBuilt(s)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	for _, s := range scenarios {
		if err := suite.Add(s.Fixture); err != nil {
			return nil, nil, err
		}
	}
	klog.V(1).Infof("scenario.BuildAll: %d scenarios built with parallelism %d", len(scenarios), parallelism)
	return suite, scenarios, nil
}
