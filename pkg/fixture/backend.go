// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package fixture

import (
	"slices"
	"strings"
)

// Backend identifies a target execution backend of a fixture.
//
// Values not listed below are accepted and passed through unchanged: the fixture doesn't
// interpret them.
type Backend string

const (
	WebAssembly Backend = "webassembly"
	WebGPU      Backend = "webgpu"
	WebGL       Backend = "webgl"
	// Fallback is the host executor in package backends/fallback.
	Fallback Backend = "fallback"
)

// KnownBackends lists the recognized backends.
var KnownBackends = []Backend{WebAssembly, WebGPU, WebGL, Fallback}

// IsKnown returns whether the backend is one of KnownBackends.
func (b Backend) IsKnown() bool { return slices.Contains(KnownBackends, b) }

// String implements fmt.Stringer.
func (b Backend) String() string { return string(b) }

// ParseBackends splits a comma separated list of backends, e.g. "webassembly,webgpu".
// Empty entries are dropped.
func ParseBackends(list string) []Backend {
	var backends []Backend
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			backends = append(backends, Backend(part))
		}
	}
	return normalizeBackends(backends)
}

// normalizeBackends removes duplicates and empty values, preserving the order of first occurrence.
func normalizeBackends(backends []Backend) []Backend {
	result := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b == "" || slices.Contains(result, b) {
			continue
		}
		result = append(result, b)
	}
	return result
}
