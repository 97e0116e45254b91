// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"

	"github.com/kraklabs/codeclone/internal/ui"
	"github.com/kraklabs/codeclone/pkg/runner"
)

// printSummary renders the run accounting. Quiet mode compresses it to two
// lines so CI logs stay terse; either way the output is deterministic.
func printSummary(opts *Options, summary runner.Summary) {
	if opts.Quiet {
		fmt.Printf("input: found=%d analyzed=%d cache_hits=%d skipped=%d\n",
			summary.FilesFound, summary.FilesAnalyzed, summary.CacheHits, summary.FilesSkipped)
		fmt.Printf("clones: function=%d block=%d segment=%d suppressed=%d new=%d\n",
			summary.FunctionGroups, summary.BlockGroups, summary.SegmentGroups,
			summary.SuppressedGroups, summary.NewClones)
	} else {
		ui.Header("Analysis Summary")
		rows := []struct {
			label string
			value int
			warn  bool
		}{
			{"Files found", summary.FilesFound, false},
			{"Files analyzed", summary.FilesAnalyzed, false},
			{"Cache hits", summary.CacheHits, false},
			{"Files skipped", summary.FilesSkipped, false},
			{"Function clone groups", summary.FunctionGroups, summary.FunctionGroups > 0},
			{"Block clone groups", summary.BlockGroups, summary.BlockGroups > 0},
			{"Segment clone groups", summary.SegmentGroups, summary.SegmentGroups > 0},
			{"Suppressed segment groups", summary.SuppressedGroups, false},
			{"New clones (vs baseline)", summary.NewClones, summary.NewClones > 0},
		}
		for _, row := range rows {
			value := ui.CountText(row.value)
			if row.value == 0 {
				value = ui.DimText("0")
			} else if row.warn {
				value = ui.Yellow.Sprintf("%d", row.value)
			}
			fmt.Printf("  %-28s %s\n", row.label, value)
		}
		fmt.Printf("  %-28s %s\n", "Duration", ui.DimText(summary.Duration.Truncate(1e6).String()))
	}

	// Accounting invariant: every discovered file is analyzed, reused, or
	// skipped. A mismatch means a pipeline bug, not bad input.
	if summary.FilesFound != summary.FilesAnalyzed+summary.CacheHits+summary.FilesSkipped {
		ui.Warn("summary accounting mismatch: found=%d analyzed=%d cache_hits=%d skipped=%d",
			summary.FilesFound, summary.FilesAnalyzed, summary.CacheHits, summary.FilesSkipped)
	}
}
