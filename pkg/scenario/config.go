// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package scenario

import (
	"io"

	"github.com/gomlx/kerneltest/pkg/fixture"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config of one scenario: the sizes of the LSTM, the seed of its random weights and inputs, and how
// the fixture is to be verified.
type Config struct {
	// Description is the unique label of the fixture.
	Description string `yaml:"description"`

	// Batch (N), SeqLen (T), InputChannels (C) and Hidden (H) sizes.
	Batch         int `yaml:"batch"`
	SeqLen        int `yaml:"seq_len"`
	InputChannels int `yaml:"input_channels"`
	Hidden        int `yaml:"hidden"`

	// Seed of the random generator used for weights and inputs.
	Seed uint64 `yaml:"seed"`

	Backends []fixture.Backend `yaml:"backends"`

	// Tolerance of the verification. If left zero, fixture.DefaultTolerance is used.
	Tolerance fixture.Tolerance `yaml:"tolerance"`
}

// Validate returns an error if the configuration is not usable.
func (cfg Config) Validate() error {
	if cfg.Description == "" {
		return errors.New("scenario.Config: empty description")
	}
	if cfg.Batch <= 0 || cfg.SeqLen <= 0 || cfg.InputChannels <= 0 || cfg.Hidden <= 0 {
		return errors.Errorf("scenario %q: sizes must be positive, got batch=%d, seq_len=%d, input_channels=%d, hidden=%d",
			cfg.Description, cfg.Batch, cfg.SeqLen, cfg.InputChannels, cfg.Hidden)
	}
	if cfg.Tolerance.Abs < 0 || cfg.Tolerance.Rel < 0 {
		return errors.Errorf("scenario %q: negative tolerance %s", cfg.Description, cfg.Tolerance)
	}
	return nil
}

// tolerance returns the configured tolerance, or the default one if not set.
func (cfg Config) tolerance() fixture.Tolerance {
	if cfg.Tolerance == (fixture.Tolerance{}) {
		return fixture.DefaultTolerance
	}
	return cfg.Tolerance
}

// Defaults returns the built-in scenarios:
//
//   - A: batch=1, T=1, C=128, H=64, verified within 1e-4 relative tolerance.
//   - B: same shapes with T=10, within 1e-3 relative tolerance, since the error compounds over
//     the sequential steps.
func Defaults() []Config {
	backends := []fixture.Backend{fixture.WebAssembly, fixture.WebGPU}
	return []Config{
		{
			Description:   "lstm N=1 T=1 C=128 H=64",
			Batch:         1,
			SeqLen:        1,
			InputChannels: 128,
			Hidden:        64,
			Seed:          1,
			Backends:      backends,
			Tolerance:     fixture.Tolerance{Abs: 1e-5, Rel: 1e-4},
		},
		{
			Description:   "lstm N=1 T=10 C=128 H=64",
			Batch:         1,
			SeqLen:        10,
			InputChannels: 128,
			Hidden:        64,
			Seed:          2,
			Backends:      backends,
			Tolerance:     fixture.Tolerance{Abs: 1e-5, Rel: 1e-3},
		},
	}
}

// LoadConfigs reads a YAML list of scenario configurations, e.g.:
//
//	- description: "lstm N=2 T=5"
//	  batch: 2
//	  seq_len: 5
//	  input_channels: 16
//	  hidden: 8
//	  seed: 7
//	  backends: [webassembly, webgpu]
//	  tolerance: {abs: 1e-5, rel: 1e-3}
//
// Unknown fields are an error, and every configuration is validated.
func LoadConfigs(r io.Reader) ([]Config, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	var cfgs []Config
	if err := decoder.Decode(&cfgs); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("scenario.LoadConfigs: no scenarios given")
		}
		return nil, errors.Wrap(err, "scenario.LoadConfigs: decoding YAML")
	}
	for ii, cfg := range cfgs {
		if err := cfg.Validate(); err != nil {
			return nil, errors.WithMessagef(err, "scenario.LoadConfigs: scenario #%d", ii)
		}
	}
	return cfgs, nil
}
