// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/codeclone/pkg/baseline"
	"github.com/kraklabs/codeclone/pkg/cache"
	"github.com/kraklabs/codeclone/pkg/report"
)

// writeTree materializes a map of relative path -> content under dir.
func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func testOptions(root string) Options {
	return Options{
		Root:         root,
		MinLOC:       2,
		MinStmt:      2,
		Workers:      2,
		CachePath:    filepath.Join(root, ".cache", "codeclone", "cache.json"),
		BaselinePath: filepath.Join(root, "codeclone.baseline.json"),
	}
}

const cloneA = `def a(x):
    result = x + 1
    return result
`

const cloneB = `def b(y):
    outcome = y + 1
    return outcome
`

func TestRunGroupsRenamedClones(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"one.py": cloneA,
		"two.py": cloneB,
	})

	res, err := New(testOptions(root)).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.FunctionGroups, 1)
	for _, members := range res.FunctionGroups {
		require.Len(t, members, 2)
		assert.Equal(t, members[0].Fingerprint, members[1].Fingerprint)
	}
	assert.Equal(t, 2, res.Summary.FilesAnalyzed)
	assert.Equal(t, baseline.StatusMissing, res.BaselineStatus)
}

func TestRunCallTargetDiscrimination(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"one.py": "def f(x):\n    data = load_user(x)\n    return data\n",
		"two.py": "def g(y):\n    data = delete_user(y)\n    return data\n",
	})

	res, err := New(testOptions(root)).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.FunctionGroups, "different call tails must not group")
}

func TestRunShortCircuitGrouping(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"p.py": "def p(a, b):\n    v = a and b\n    return v\n",
		"q.py": "def q(c, d):\n    v = c and d\n    return v\n",
		"r.py": "def r(a, b):\n    v = a or b\n    return v\n",
	})

	res, err := New(testOptions(root)).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.FunctionGroups, 1, "and-pair groups, or stays out")
	for _, members := range res.FunctionGroups {
		assert.Len(t, members, 2)
	}
}

func TestRunBaselineUpdateAndGate(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"one.py": cloneA,
		"two.py": cloneB,
	})

	opts := testOptions(root)
	opts.UpdateBaseline = true
	_, err := New(opts).Run(context.Background())
	require.NoError(t, err)

	loaded := baseline.Load(opts.BaselinePath, 0)
	require.True(t, loaded.Trusted())
	assert.Len(t, loaded.Baseline.Clones.Functions, 1,
		"baseline records the single function group key")

	// Second run against the fresh baseline: nothing new.
	opts.UpdateBaseline = false
	res, err := New(opts).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.BaselineTrusted)
	assert.NotNil(t, res.NewFunctionKeys)
	assert.Empty(t, res.NewFunctionKeys)
	assert.Empty(t, res.NewBlockKeys)

	// A third clone pair appears: exactly the new key shows up.
	writeTree(t, root, map[string]string{
		"three.py": "def t(p, q):\n    while p:\n        p = q(p)\n    return p\n",
		"four.py":  "def u(m, n):\n    while m:\n        m = n(m)\n    return m\n",
	})
	res, err = New(opts).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.NewFunctionKeys, 1)
}

func TestRunPythonTagMismatchDiffsAgainstEmpty(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"one.py": cloneA,
		"two.py": cloneB,
	})

	opts := testOptions(root)
	opts.UpdateBaseline = true
	_, err := New(opts).Run(context.Background())
	require.NoError(t, err)

	// Rewrite the baseline as if generated under a different parser tag.
	raw, err := os.ReadFile(opts.BaselinePath)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	doc["meta"].(map[string]any)["python_tag"] = "cp311"
	modified, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(opts.BaselinePath, modified, 0o644))

	opts.UpdateBaseline = false
	res, err := New(opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, baseline.StatusMismatchPython, res.BaselineStatus)
	assert.False(t, res.BaselineTrusted)
	assert.Len(t, res.NewFunctionKeys, 1, "untrusted baseline diffs against empty")
}

func TestRunCacheReuseIsByteIdentical(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"one.py": cloneA,
		"two.py": cloneB,
	})

	opts := testOptions(root)
	first, err := New(opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, first.Summary.CacheHits)

	second, err := New(opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, second.Summary.CacheHits)
	assert.Equal(t, 0, second.Summary.FilesAnalyzed)
	assert.Equal(t, cache.StatusOK, second.CacheStatus)

	firstJSON := mustReportJSON(t, first)
	secondJSON := mustReportJSON(t, second)
	assert.Equal(t, firstJSON, secondJSON, "cached and fresh runs render identically")
}

func TestRunCacheTamperFailsOpen(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"one.py": cloneA,
		"two.py": cloneB,
	})

	opts := testOptions(root)
	pristine, err := New(opts).Run(context.Background())
	require.NoError(t, err)

	// Flip the signature in place.
	raw, err := os.ReadFile(opts.CachePath)
	require.NoError(t, err)
	tampered := strings.Replace(string(raw), `"sig":"`, `"sig":"00`, 1)
	require.NoError(t, os.WriteFile(opts.CachePath, []byte(tampered), 0o644))

	res, err := New(opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cache.StatusIntegrityFailed, res.CacheStatus)
	assert.NotEmpty(t, res.CacheWarning)
	assert.Equal(t, 2, res.Summary.FilesAnalyzed, "everything re-analyzed")

	assert.Equal(t, mustReportJSON(t, pristine), mustReportJSON(t, res),
		"fail-open output matches a cache-less run byte for byte")
}

func TestRunParseFailureIsNonFatal(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"good.py":   cloneA,
		"broken.py": "def broken(:\n    pass\n",
	})

	res, err := New(testOptions(root)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Summary.FilesAnalyzed)
	assert.Equal(t, 1, res.Summary.ParseFailures)
	assert.Equal(t, res.Summary.FilesFound,
		res.Summary.FilesAnalyzed+res.Summary.CacheHits+res.Summary.FilesSkipped)
}

func TestRunBlockGroupWithSegmentSuppression(t *testing.T) {
	// Two distinct functions full of identical attribute assignments: the
	// block layer reports them, the segment layer suppresses its pure
	// boilerplate in-function groups.
	var body strings.Builder
	for i := 0; i < 45; i++ {
		body.WriteString("    self.attr = value\n")
	}
	fileA := "class A:\n    def fill(self, value):\n" + body.String()
	fileB := "class B:\n    def stuff(self, value):\n" + body.String()

	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.py": fileA,
		"b.py": fileB,
	})

	res, err := New(testOptions(root)).Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, res.BlockGroups, "blocks do not suppress boilerplate")
	assert.Empty(t, res.SegmentGroups, "segment layer suppresses single-kind windows")
	assert.Greater(t, res.Summary.SuppressedGroups, 0)
}

func TestRunDeterministicAcrossWorkerCounts(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{}
	for i := 0; i < 12; i++ {
		files[fmt.Sprintf("mod_%02d.py", i)] = cloneA
	}
	writeTree(t, root, files)

	optsParallel := testOptions(root)
	optsParallel.Workers = 4
	parallel, err := New(optsParallel).Run(context.Background())
	require.NoError(t, err)

	rootSeq := t.TempDir()
	writeTree(t, rootSeq, files)
	optsSeq := testOptions(rootSeq)
	optsSeq.Workers = 1
	sequential, err := New(optsSeq).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, report.Keys(parallel.FunctionGroups), report.Keys(sequential.FunctionGroups))
	require.Len(t, parallel.FunctionGroups, 1)
	for _, members := range parallel.FunctionGroups {
		assert.Len(t, members, 12)
	}
}

func TestRunCancelledContextWritesNothing(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"one.py": cloneA})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := testOptions(root)
	_, err := New(opts).Run(ctx)
	require.Error(t, err)

	_, statErr := os.Stat(opts.CachePath)
	assert.True(t, os.IsNotExist(statErr), "no cache commit after cancellation")
}

// mustReportJSON renders the report document for comparison.
func mustReportJSON(t *testing.T, res *Result) string {
	t.Helper()
	data, err := report.ToJSON(report.Input{
		Meta:            map[string]any{"python_tag": "tspy14"},
		FunctionGroups:  res.FunctionGroups,
		BlockGroups:     res.BlockGroups,
		SegmentGroups:   res.SegmentGroups,
		BlockFacts:      res.BlockFacts,
		BaselineTrusted: res.BaselineTrusted,
		NewFunctionKeys: res.NewFunctionKeys,
		NewBlockKeys:    res.NewBlockKeys,
	})
	require.NoError(t, err)
	return string(data)
}
