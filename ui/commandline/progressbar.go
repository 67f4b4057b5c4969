// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/kerneltest/pkg/scenario"
	"github.com/muesli/termenv"
	"github.com/schollz/progressbar/v3"
)

// ProgressbarStyle to use. Defaults to the ASCII version.
// Consider "progressbar.ThemeUnicode" for a prettier version.
// But it requires some of the graphical symbols to be supported.
var ProgressbarStyle = progressbar.ThemeASCII

// ProgressBar displays the progress of scenario.BuildAllWithCallback.
// Update can be called concurrently.
type ProgressBar struct {
	mu           sync.Mutex
	writer       io.Writer
	bar          *progressbar.ProgressBar
	termenv      *termenv.Output
	built        int
	numParams    int
	totalElapsed time.Duration
	closed       bool
}

// NewProgressBar creates a progress bar for numScenarios builds, written to w (usually os.Stderr).
func NewProgressBar(w io.Writer, numScenarios int) *ProgressBar {
	pBar := &ProgressBar{writer: w, termenv: termenv.NewOutput(w)}
	pBar.bar = progressbar.NewOptions(numScenarios,
		progressbar.OptionSetDescription("Building fixtures"),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("scenarios"),
		progressbar.OptionSetTheme(ProgressbarStyle),
	)
	pBar.termenv.HideCursor()
	return pBar
}

// Update reports one more scenario built. Its signature matches the callback of
// scenario.BuildAllWithCallback.
func (pBar *ProgressBar) Update(s *scenario.Scenario) {
	pBar.mu.Lock()
	defer pBar.mu.Unlock()
	if pBar.closed {
		return
	}
	pBar.built++
	pBar.totalElapsed += s.Elapsed
	cfg := s.Config
	pBar.numParams += (cfg.InputChannels + cfg.Hidden + 1) * 4 * cfg.Hidden
	pBar.bar.Describe(fmt.Sprintf("Built %q (%s params so far)", cfg.Description, humanize.Comma(int64(pBar.numParams))))
	_ = pBar.bar.Add(1)
}

// Built returns the number of scenarios reported so far.
func (pBar *ProgressBar) Built() int {
	pBar.mu.Lock()
	defer pBar.mu.Unlock()
	return pBar.built
}

// Close finishes the progress bar and restores the cursor. It returns the sum of the
// build times of the scenarios reported.
func (pBar *ProgressBar) Close() time.Duration {
	pBar.mu.Lock()
	defer pBar.mu.Unlock()
	if !pBar.closed {
		pBar.closed = true
		pBar.termenv.ShowCursor()
		_, _ = fmt.Fprintln(pBar.writer)
	}
	return pBar.totalElapsed
}
