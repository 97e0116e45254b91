// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// ProgressConfig decides whether a progress bar may be drawn.
type ProgressConfig struct {
	Enabled bool
}

// NewProgressConfig disables progress in quiet/CI runs, when explicitly
// turned off, and when stderr is not a terminal (CI logs stay clean).
func NewProgressConfig(opts *Options) ProgressConfig {
	if opts.NoProgress || opts.Quiet {
		return ProgressConfig{}
	}
	if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return ProgressConfig{}
	}
	return ProgressConfig{Enabled: true}
}

// NewProgressBar builds a bar for total items, or nil when disabled.
func NewProgressBar(cfg ProgressConfig, total int64, description string) *progressbar.ProgressBar {
	if !cfg.Enabled || total <= 0 {
		return nil
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}
