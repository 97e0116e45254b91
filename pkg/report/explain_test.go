// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/codeclone/pkg/pyast"
)

func TestBaseBlockFactsFromKey(t *testing.T) {
	builder := NewFactsBuilder(nil, pyast.NewParser(nil))
	groups := BlockGroups{
		"h1|h1|h1|h1": {},
	}
	facts := builder.BuildBlockGroupFacts(groups)["h1|h1|h1|h1"]

	assert.Equal(t, "normalized_sliding_window", facts["match_rule"])
	assert.Equal(t, "4", facts["block_size"])
	assert.Equal(t, "stmt_hash_sequence", facts["signature_kind"])
	assert.Equal(t, "repeated_stmt_hash", facts["pattern"])
	assert.Equal(t, "h1 x4", facts["pattern_display"])
}

func TestAssertOnlyHint(t *testing.T) {
	dir := t.TempDir()
	testsDir := filepath.Join(dir, "tests")
	require.NoError(t, os.MkdirAll(testsDir, 0o750))
	path := filepath.Join(testsDir, "test_things.py")

	source := `def test_all(result):
    assert result.ok
    assert result.count
    assert result.name
    assert result.value
`
	require.NoError(t, os.WriteFile(path, []byte(source), 0o644))

	builder := NewFactsBuilder(nil, pyast.NewParser(nil))
	groups := BlockGroups{
		"h|h|h|h": {{
			BlockHash: "h|h|h|h",
			FilePath:  path,
			Qualname:  "tests.test_things:test_all",
			StartLine: 2,
			EndLine:   5,
			Size:      4,
		}},
	}
	facts := builder.BuildBlockGroupFacts(groups)["h|h|h|h"]

	assert.Equal(t, "assert_only", facts["hint"])
	assert.Equal(t, "deterministic", facts["hint_confidence"])
	assert.Equal(t, "likely_test_boilerplate", facts["hint_context"])
	assert.Equal(t, "100%", facts["assert_ratio"])
	assert.Equal(t, "4", facts["consecutive_asserts"])
}

func TestMixedRangeHasNoAssertHint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "logic.py")
	source := `def compute(x):
    a = x + 1
    assert a
    b = a + 2
    return b
`
	require.NoError(t, os.WriteFile(path, []byte(source), 0o644))

	builder := NewFactsBuilder(nil, pyast.NewParser(nil))
	groups := BlockGroups{
		"k1|k2|k3|k4": {{
			BlockHash: "k1|k2|k3|k4",
			FilePath:  path,
			Qualname:  "logic:compute",
			StartLine: 2,
			EndLine:   5,
			Size:      4,
		}},
	}
	facts := builder.BuildBlockGroupFacts(groups)["k1|k2|k3|k4"]

	assert.NotContains(t, facts, "hint")
	assert.Equal(t, "25%", facts["assert_ratio"])
}

func TestUnreadableMemberFileDegradesGracefully(t *testing.T) {
	builder := NewFactsBuilder(nil, pyast.NewParser(nil))
	groups := BlockGroups{
		"x|y": {blockUnit("/nonexistent/gone.py", "gone:f", "x|y", 3, 9)},
	}
	facts := builder.BuildBlockGroupFacts(groups)["x|y"]
	assert.Equal(t, "2", facts["block_size"])
	assert.NotContains(t, facts, "hint")
}
