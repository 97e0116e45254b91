// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package report

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInput(trusted bool) Input {
	return Input{
		Meta: map[string]any{
			"codeclone_version": "dev",
			"python_tag":        "tspy14",
		},
		FunctionGroups: FunctionGroups{
			"fp1|1": {
				unit("/src/b.py", "b:g", "fp1", "1", 5),
				unit("/src/a.py", "a:f", "fp1", "1", 10),
			},
		},
		BlockGroups: BlockGroups{
			"h1": {
				blockUnit("/src/a.py", "a:f", "h1", 10, 16),
				blockUnit("/src/b.py", "b:g", "h1", 20, 26),
			},
		},
		SegmentGroups: SegmentGroups{
			"sh|a:f": {
				segmentUnit("a:f", "sh", "ss", 10),
				segmentUnit("a:f", "sh", "ss", 30),
			},
		},
		BaselineTrusted: trusted,
		NewFunctionKeys: []string{"fp1|1"},
		NewBlockKeys:    []string{},
	}
}

type reportDoc struct {
	Meta   map[string]any      `json:"meta"`
	Files  []string            `json:"files"`
	Groups map[string]map[string][][]any `json:"groups"`
	GroupsSplit map[string]struct {
		New   []string `json:"new"`
		Known []string `json:"known"`
	} `json:"groups_split"`
	GroupItemLayout map[string][]string `json:"group_item_layout"`
}

func decodeReport(t *testing.T, data []byte) reportDoc {
	t.Helper()
	var doc reportDoc
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestToJSONShape(t *testing.T) {
	data, err := ToJSON(sampleInput(true))
	require.NoError(t, err)
	doc := decodeReport(t, data)

	assert.Equal(t, []string{"/src/a.py", "/src/b.py"}, doc.Files)
	assert.Contains(t, doc.Groups["functions"], "fp1|1")
	assert.Contains(t, doc.Groups["blocks"], "h1")
	assert.Contains(t, doc.Groups["segments"], "sh|a:f")
	assert.Equal(t, []string{"file_i", "qualname", "start", "end", "loc", "stmt_count", "fingerprint", "loc_bucket"},
		doc.GroupItemLayout["functions"])
	assert.Equal(t, "1.1", doc.Meta["report_schema_version"])
}

func TestToJSONItemOrdering(t *testing.T) {
	data, err := ToJSON(sampleInput(true))
	require.NoError(t, err)
	doc := decodeReport(t, data)

	items := doc.Groups["functions"]["fp1|1"]
	require.Len(t, items, 2)
	// Sorted by file index: a.py (0) before b.py (1).
	assert.Equal(t, float64(0), items[0][0])
	assert.Equal(t, float64(1), items[1][0])
	assert.Equal(t, "a:f", items[0][1])
}

func TestToJSONSplitContract(t *testing.T) {
	trusted, err := ToJSON(sampleInput(true))
	require.NoError(t, err)
	doc := decodeReport(t, trusted)

	// Trusted baseline: the diff places fp1|1 in new, h1 in known.
	assert.Equal(t, []string{"fp1|1"}, doc.GroupsSplit["functions"].New)
	assert.Empty(t, doc.GroupsSplit["functions"].Known)
	assert.Empty(t, doc.GroupsSplit["blocks"].New)
	assert.Equal(t, []string{"h1"}, doc.GroupsSplit["blocks"].Known)
	// Segments are never diffed: always new.
	assert.Equal(t, []string{"sh|a:f"}, doc.GroupsSplit["segments"].New)
}

func TestToJSONUntrustedBaselineAllNew(t *testing.T) {
	data, err := ToJSON(sampleInput(false))
	require.NoError(t, err)
	doc := decodeReport(t, data)

	for section, split := range doc.GroupsSplit {
		assert.Empty(t, split.Known, "untrusted baseline leaves no known keys in %s", section)
	}
	assert.Equal(t, []string{"fp1|1"}, doc.GroupsSplit["functions"].New)
	assert.Equal(t, []string{"h1"}, doc.GroupsSplit["blocks"].New)
}

func TestSplitPartitionInvariant(t *testing.T) {
	for _, trusted := range []bool{true, false} {
		data, err := ToJSON(sampleInput(trusted))
		require.NoError(t, err)
		doc := decodeReport(t, data)

		for section, split := range doc.GroupsSplit {
			all := map[string]bool{}
			for key := range doc.Groups[section] {
				all[key] = true
			}
			seen := map[string]bool{}
			for _, k := range append(append([]string{}, split.New...), split.Known...) {
				assert.False(t, seen[k], "key %s appears twice in %s split", k, section)
				seen[k] = true
				assert.True(t, all[k])
			}
			assert.Len(t, seen, len(all), "new ∪ known must cover all keys in %s", section)
		}
	}
}

func TestToJSONDeterministic(t *testing.T) {
	first, err := ToJSON(sampleInput(true))
	require.NoError(t, err)
	second, err := ToJSON(sampleInput(true))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestToJSONIncludesFacts(t *testing.T) {
	in := sampleInput(true)
	in.BlockFacts = map[string]Facts{
		"h1": {"match_rule": "normalized_sliding_window", "block_size": "1"},
	}
	data, err := ToJSON(in)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	facts := doc["facts"].(map[string]any)["blocks"].(map[string]any)
	assert.Contains(t, facts, "h1")
}

func TestToTextDeterministicRendering(t *testing.T) {
	in := sampleInput(true)
	first := ToText(in)
	second := ToText(in)
	assert.Equal(t, first, second)

	assert.Contains(t, first, "REPORT METADATA")
	assert.Contains(t, first, "FUNCTION CLONES (NEW) (groups=1)")
	assert.Contains(t, first, "BLOCK CLONES (KNOWN) (groups=1)")
	assert.Contains(t, first, "a:f /src/a.py:10-30 loc=21")
}

func TestToTextUntrustedNote(t *testing.T) {
	text := ToText(sampleInput(false))
	assert.Contains(t, text, "baseline is untrusted")
}
