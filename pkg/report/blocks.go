// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package report

import (
	"sort"

	"github.com/kraklabs/codeclone/pkg/analysis"
)

// PrepareBlockReportGroups converts sliding block windows into maximal
// merged regions for reporting. Group keys are never altered: merging is a
// presentation concern and must not leak into baseline identity.
func PrepareBlockReportGroups(groups BlockGroups) BlockGroups {
	prepared := BlockGroups{}
	for key, members := range groups {
		prepared[key] = mergeBlockItems(members)
	}
	return prepared
}

// mergeBlockItems merges overlapping or adjacent windows that share a file
// and function into single maximal ranges.
func mergeBlockItems(items []analysis.BlockUnit) []analysis.BlockUnit {
	if len(items) == 0 {
		return nil
	}

	sorted := append([]analysis.BlockUnit(nil), items...)
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

	var merged []analysis.BlockUnit
	var current *analysis.BlockUnit

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

func spanSize(start, end int) int {
	size := end - start + 1
	if size < 1 {
		return 1
	}
	return size
}
