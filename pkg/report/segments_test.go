// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/codeclone/pkg/analysis"
)

func TestPrepareSegmentGroupsMergesOverlaps(t *testing.T) {
	groups := SegmentGroups{
		"h1|a:f": {
			segmentUnit("a:f", "h1", "s1", 10), // lines 10-15
			segmentUnit("a:f", "h1", "s1", 13), // overlaps, lines 13-18
			segmentUnit("a:f", "h1", "s1", 40), // separate site
		},
	}
	prepared, suppressed := PrepareSegmentReportGroups(groups)
	assert.Equal(t, 0, suppressed)

	members := prepared["h1|a:f"]
	require.Len(t, members, 2, "overlapping windows merge into one span")
	assert.Equal(t, 10, members[0].StartLine)
	assert.Equal(t, 18, members[0].EndLine)
	assert.Equal(t, 9, members[0].Size)
	assert.Equal(t, 40, members[1].StartLine)
}

func TestPrepareSegmentGroupsSuppressesBoilerplate(t *testing.T) {
	boring := analysis.SegmentUnit{
		SegmentHash:    "h1",
		SegmentSig:     "s1",
		FilePath:       "/src/a.py",
		Qualname:       "a:f",
		StartLine:      10,
		EndLine:        15,
		Size:           6,
		UniqueKinds:    1,
		HasControlFlow: false,
	}
	second := boring
	second.StartLine = 30
	second.EndLine = 35

	groups := SegmentGroups{"h1|a:f": {boring, second}}
	prepared, suppressed := PrepareSegmentReportGroups(groups)

	assert.Empty(t, prepared, "single-kind no-control-flow groups are boilerplate")
	assert.Equal(t, 1, suppressed)
}

func TestPrepareSegmentGroupsKeepsControlFlow(t *testing.T) {
	withFlow := analysis.SegmentUnit{
		SegmentHash:    "h1",
		SegmentSig:     "s1",
		FilePath:       "/src/a.py",
		Qualname:       "a:f",
		StartLine:      10,
		EndLine:        15,
		Size:           6,
		UniqueKinds:    1,
		HasControlFlow: true,
	}
	second := withFlow
	second.StartLine = 30
	second.EndLine = 35

	groups := SegmentGroups{"h1|a:f": {withFlow, second}}
	prepared, suppressed := PrepareSegmentReportGroups(groups)

	assert.Len(t, prepared, 1, "control flow rescues a single-kind group")
	assert.Equal(t, 0, suppressed)
}

func TestPrepareBlockGroupsMergesAdjacent(t *testing.T) {
	groups := BlockGroups{
		"h1": {
			blockUnit("/src/a.py", "a:f", "h1", 10, 16),
			blockUnit("/src/a.py", "a:f", "h1", 17, 23), // adjacent
			blockUnit("/src/b.py", "b:g", "h1", 10, 16), // different file
		},
	}
	prepared := PrepareBlockReportGroups(groups)
	members := prepared["h1"]
	require.Len(t, members, 2)
	assert.Equal(t, 10, members[0].StartLine)
	assert.Equal(t, 23, members[0].EndLine)
	assert.Equal(t, "/src/b.py", members[1].FilePath)
}

func TestPrepareBlockGroupsKeysUnchanged(t *testing.T) {
	groups := BlockGroups{
		"h1|h2|h3|h4": {
			blockUnit("/src/a.py", "a:f", "h1|h2|h3|h4", 10, 16),
			blockUnit("/src/b.py", "b:g", "h1|h2|h3|h4", 10, 16),
		},
	}
	prepared := PrepareBlockReportGroups(groups)
	assert.Contains(t, prepared, "h1|h2|h3|h4",
		"report merging never rewrites baseline-visible keys")
}
