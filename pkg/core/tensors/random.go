// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"math/rand/v2"

	"github.com/gomlx/kerneltest/pkg/core/shapes"
	"gonum.org/v1/gonum/stat/distuv"
)

// NewRNG returns a random number generator seeded deterministically from seed.
//
// There is no package level random state: every random tensor is drawn from the
// generator given by the caller, so scenarios are reproducible and independent.
func NewRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Normal returns a tensor with values drawn from the standard normal distribution using rng.
func Normal(rng *rand.Rand, order shapes.Order, dimensions ...int) *Tensor {
	t := Zeros(order, dimensions...)
	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
	for ii := range t.flat {
		t.flat[ii] = float32(dist.Rand())
	}
	return t
}
