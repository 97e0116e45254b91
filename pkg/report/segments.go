// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package report

import (
	"sort"

	"github.com/kraklabs/codeclone/pkg/analysis"
)

// segmentMinUniqueStmtKinds is the boilerplate floor: a segment group must
// show at least this many distinct statement kinds, or contain control
// flow, to be worth reporting.
const segmentMinUniqueStmtKinds = 2

// PrepareSegmentReportGroups merges each group's overlapping windows into
// one maximal span per site and suppresses pure boilerplate groups (long
// runs of a single statement shape with no control flow). It returns the
// prepared groups and the number suppressed. Segments never feed baselines
// or gating; this whole layer is report-only.
func PrepareSegmentReportGroups(groups SegmentGroups) (SegmentGroups, int) {
	prepared := SegmentGroups{}
	suppressed := 0

	for key, members := range groups {
		if !segmentGroupReportable(members) {
			suppressed++
			continue
		}
		prepared[key] = mergeSegmentItems(members)
	}

	return prepared, suppressed
}

// segmentGroupReportable applies the boilerplate filter using the
// statement-kind stats recorded at extraction time.
func segmentGroupReportable(members []analysis.SegmentUnit) bool {
	for _, m := range members {
		if m.UniqueKinds >= segmentMinUniqueStmtKinds || m.HasControlFlow {
			return true
		}
	}
	return false
}

// mergeSegmentItems merges overlapping or adjacent windows per
// (file, qualname) site into maximal spans, carrying the strongest stats.
func mergeSegmentItems(items []analysis.SegmentUnit) []analysis.SegmentUnit {
	if len(items) == 0 {
		return nil
	}

	sorted := append([]analysis.SegmentUnit(nil), items...)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.Qualname != b.Qualname {
			return a.Qualname < b.Qualname
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.EndLine < b.EndLine
	})

	var merged []analysis.SegmentUnit
	var current *analysis.SegmentUnit

	for _, item := range sorted {
		if item.StartLine <= 0 || item.EndLine < item.StartLine {
			continue
		}
		if current == nil {
			c := item
			c.Size = spanSize(c.StartLine, c.EndLine)
			current = &c
			continue
		}
		sameOwner := current.FilePath == item.FilePath && current.Qualname == item.Qualname
		if sameOwner && item.StartLine <= current.EndLine+1 {
			if item.EndLine > current.EndLine {
				current.EndLine = item.EndLine
			}
			current.Size = spanSize(current.StartLine, current.EndLine)
			if item.UniqueKinds > current.UniqueKinds {
				current.UniqueKinds = item.UniqueKinds
			}
			current.HasControlFlow = current.HasControlFlow || item.HasControlFlow
			continue
		}
		merged = append(merged, *current)
		c := item
		c.Size = spanSize(c.StartLine, c.EndLine)
		current = &c
	}
	if current != nil {
		merged = append(merged, *current)
	}

	return merged
}
