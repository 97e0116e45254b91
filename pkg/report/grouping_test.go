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

func unit(file, qualname, fingerprint, bucket string, start int) analysis.Unit {
	return analysis.Unit{
		Qualname:    qualname,
		FilePath:    file,
		StartLine:   start,
		EndLine:     start + 20,
		LOC:         21,
		StmtCount:   8,
		Fingerprint: fingerprint,
		LOCBucket:   bucket,
	}
}

func blockUnit(file, qualname, hash string, start, end int) analysis.BlockUnit {
	return analysis.BlockUnit{
		BlockHash: hash,
		FilePath:  file,
		Qualname:  qualname,
		StartLine: start,
		EndLine:   end,
		Size:      4,
	}
}

func segmentUnit(qualname, hash, sig string, start int) analysis.SegmentUnit {
	return analysis.SegmentUnit{
		SegmentHash:    hash,
		SegmentSig:     sig,
		FilePath:       "/src/a.py",
		Qualname:       qualname,
		StartLine:      start,
		EndLine:        start + 5,
		Size:           6,
		UniqueKinds:    3,
		HasControlFlow: true,
	}
}

func TestBuildFunctionGroups(t *testing.T) {
	units := []analysis.Unit{
		unit("/src/b.py", "b:f", "fp1", "1", 10),
		unit("/src/a.py", "a:g", "fp1", "1", 5),
		unit("/src/c.py", "c:h", "fp2", "1", 1),
	}
	groups := BuildFunctionGroups(units)

	require.Len(t, groups, 1, "singleton groups are discarded")
	members := groups["fp1|1"]
	require.Len(t, members, 2)
	assert.Equal(t, "/src/a.py", members[0].FilePath, "members sorted by file")
}

func TestBuildFunctionGroupsBucketSeparates(t *testing.T) {
	units := []analysis.Unit{
		unit("/src/a.py", "a:f", "fp1", "0", 1),
		unit("/src/b.py", "b:g", "fp1", "5", 1),
	}
	assert.Empty(t, BuildFunctionGroups(units),
		"same fingerprint in different LOC buckets must not group")
}

func TestBuildBlockGroupsRejectsSingleFunction(t *testing.T) {
	blocks := []analysis.BlockUnit{
		blockUnit("/src/a.py", "a:f", "h1", 10, 16),
		blockUnit("/src/a.py", "a:f", "h1", 30, 36),
	}
	assert.Empty(t, BuildBlockGroups(blocks),
		"all members in one function is in-function repetition, not a block clone")
}

func TestBuildBlockGroupsRejectsConstructorMembers(t *testing.T) {
	blocks := []analysis.BlockUnit{
		blockUnit("/src/a.py", "a:C.__init__", "h1", 10, 16),
		blockUnit("/src/b.py", "b:f", "h1", 30, 36),
	}
	assert.Empty(t, BuildBlockGroups(blocks))
}

func TestBuildBlockGroupsAccepts(t *testing.T) {
	blocks := []analysis.BlockUnit{
		blockUnit("/src/a.py", "a:f", "h1", 10, 16),
		blockUnit("/src/b.py", "b:g", "h1", 30, 36),
	}
	groups := BuildBlockGroups(blocks)
	require.Len(t, groups, 1)
	assert.Len(t, groups["h1"], 2)
}

func TestBuildBlockGroupsOverlapSuppression(t *testing.T) {
	// The larger group claims its sites; the smaller overlapping group at
	// the same site is dropped.
	blocks := []analysis.BlockUnit{
		blockUnit("/src/a.py", "a:f", "big", 10, 16),
		blockUnit("/src/b.py", "b:g", "big", 10, 16),
		blockUnit("/src/c.py", "c:h", "big", 10, 16),
		blockUnit("/src/a.py", "a:f", "small", 12, 18),
		blockUnit("/src/d.py", "d:k", "small", 40, 46),
	}
	groups := BuildBlockGroups(blocks)
	require.Contains(t, groups, "big")
	assert.NotContains(t, groups, "small")
}

func TestBuildSegmentGroupsRequiresRepetitionWithinFunction(t *testing.T) {
	segments := []analysis.SegmentUnit{
		segmentUnit("a:f", "h1", "s1", 10),
		segmentUnit("a:f", "h1", "s1", 30),
		segmentUnit("a:other", "h1", "s1", 50),
	}
	groups := BuildSegmentGroups(segments)
	require.Len(t, groups, 1)
	members := groups[SegmentGroupKey("h1", "a:f")]
	assert.Len(t, members, 2, "the lone window in a:other does not group")
}

func TestBuildSegmentGroupsSigClusterHashConfirm(t *testing.T) {
	// Same signature but different strict hashes: candidates cluster,
	// confirmation rejects.
	segments := []analysis.SegmentUnit{
		segmentUnit("a:f", "h1", "shared", 10),
		segmentUnit("a:f", "h2", "shared", 30),
	}
	assert.Empty(t, BuildSegmentGroups(segments))
}

func TestKeysSorted(t *testing.T) {
	groups := FunctionGroups{
		"z|1": nil,
		"a|0": nil,
		"m|2": nil,
	}
	assert.Equal(t, []string{"a|0", "m|2", "z|1"}, Keys(groups))
}
