// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// lstm_fixtures builds the LSTM kernel fixtures, optionally verifies them on the fallback backend,
// and writes one archive (.zip with a manifest.yaml and .npy files) per scenario.
//
// Usage:
//
//	lstm_fixtures -config=scenarios.yaml -out=/tmp/fixtures -verify
//
// Without -config, the built-in scenarios A (T=1) and B (T=10) are used.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kerneltest/backends/fallback"
	"github.com/gomlx/kerneltest/pkg/fixture"
	"github.com/gomlx/kerneltest/pkg/scenario"
	"github.com/gomlx/kerneltest/pkg/support/fsutil"
	"github.com/gomlx/kerneltest/ui/commandline"
	"github.com/janpfeifer/must"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagConfig = flag.String("config", "", "YAML file with the list of scenarios to build. "+
		"If empty, the built-in scenarios are used.")
	flagOut = flag.String("out", "", "Directory where to write one fixture archive per scenario, "+
		"named after the fixture ID. If empty, no archives are written.")
	flagParallelism = flag.Int("parallelism", 0, "Maximum number of scenarios built in parallel. "+
		"If <= 0, the number of CPUs is used.")
	flagVerify   = flag.Bool("verify", true, "Verify every fixture by running it on the fallback backend.")
	flagFloat16  = flag.Bool("float16", false, "Store the archived tensors as float16 instead of float32.")
	flagProgress = flag.Bool("progress", true, "Display a progress bar while building the scenarios.")
	flagColor    = flag.Bool("color", true, "Use colors in the report. If false, plain text is used.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if !*flagColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	*flagConfig = must.M1(fsutil.ReplaceTildeInDir(*flagConfig))
	*flagOut = must.M1(fsutil.ReplaceTildeInDir(*flagOut))
	cfgs := scenario.Defaults()
	if *flagConfig != "" {
		f, err := os.Open(*flagConfig)
		if err != nil {
			klog.Fatalf("Failed to open scenarios configuration: %+v", err)
		}
		cfgs, err = scenario.LoadConfigs(f)
		_ = f.Close()
		if err != nil {
			klog.Fatalf("Failed to load scenarios from %q: %+v", *flagConfig, err)
		}
	}

	var onBuilt func(s *scenario.Scenario)
	var pBar *commandline.ProgressBar
	if *flagProgress {
		pBar = commandline.NewProgressBar(os.Stderr, len(cfgs))
		onBuilt = pBar.Update
	}
	_, scenarios, err := scenario.BuildAllWithCallback(context.Background(), cfgs, *flagParallelism, onBuilt)
	if pBar != nil {
		totalElapsed := pBar.Close()
		klog.V(1).Infof("Scenarios built in %s (sum over scenarios)", commandline.FormatDuration(totalElapsed))
	}
	if err != nil {
		klog.Fatalf("Failed to build scenarios: %+v", err)
	}

	if *flagOut != "" {
		must.M(os.MkdirAll(*flagOut, 0o755))
	}
	results := make([]result, len(scenarios))
	var numFailures int
	for ii, s := range scenarios {
		results[ii] = process(s)
		if results[ii].err != nil {
			numFailures++
		}
	}
	report(scenarios, results)
	if numFailures > 0 {
		for ii, r := range results {
			if r.err != nil {
				klog.Errorf("Scenario %q: %v", scenarios[ii].Config.Description, r.err)
			}
		}
		klog.Fatalf("%d of %d scenarios failed", numFailures, len(scenarios))
	}
}

// result of verifying and archiving one scenario.
type result struct {
	verified    string
	archivePath string
	archiveSize int64
	err         error
}

func process(s *scenario.Scenario) (r result) {
	r.verified = "skipped"
	if *flagVerify {
		if r.err = s.Fixture.Run(fallback.New()); r.err != nil {
			r.verified = "FAILED"
			var divergence *fixture.NumericDivergenceError
			if errors.As(r.err, &divergence) {
				r.verified = fmt.Sprintf("FAILED (%d values)", divergence.NumDiverging)
			}
			return
		}
		r.verified = "ok"
	}
	if *flagOut != "" {
		r.archivePath, r.archiveSize, r.err = writeArchive(s.Fixture)
	}
	return
}

func writeArchive(f *fixture.Fixture) (filePath string, size int64, err error) {
	filePath = filepath.Join(*flagOut, f.ID().String()+".zip")
	file, err := fsutil.CreateAtomic(filePath)
	if err != nil {
		return "", 0, errors.WithMessagef(err, "archive for %q", f.Description())
	}
	dtype := dtypes.Float32
	if *flagFloat16 {
		dtype = dtypes.Float16
	}
	if err = f.WriteArchiveAs(file, dtype); err != nil {
		file.Abort()
		return "", 0, err
	}
	if size, err = file.Commit(); err != nil {
		return "", 0, err
	}
	klog.V(1).Infof("Fixture %q archived to %q (%s)", f.Description(), filePath, humanize.Bytes(uint64(size)))
	return
}

func report(scenarios []*scenario.Scenario, results []result) {
	fmt.Println(commandline.TitleStyle.Render("LSTM fixtures"))
	table := commandline.NewTable(0).
		Headers("#", "Description", "N×T×C×H", "Backends", "Tolerance", "Built in", "Fallback", "Archive")
	for ii, s := range scenarios {
		cfg := s.Config
		backends := make([]string, 0, len(cfg.Backends))
		for _, b := range s.Fixture.Backends() {
			backends = append(backends, b.String())
		}
		archive := "-"
		if results[ii].archivePath != "" {
			archive = fmt.Sprintf("%s (%s)", filepath.Base(results[ii].archivePath),
				humanize.Bytes(uint64(results[ii].archiveSize)))
		}
		table.Row(
			humanize.Comma(int64(ii)),
			cfg.Description,
			fmt.Sprintf("%d×%d×%d×%d", cfg.Batch, cfg.SeqLen, cfg.InputChannels, cfg.Hidden),
			strings.Join(backends, ", "),
			s.Fixture.Tolerance().String(),
			commandline.FormatDuration(s.Elapsed),
			results[ii].verified,
			archive,
		)
	}
	fmt.Println(table.Render())
}
