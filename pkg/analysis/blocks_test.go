// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package analysis

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// longAssignFunction builds a function of n identical attribute
// assignments.
func longAssignFunction(name string, n int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "def %s(self, v):\n", name)
	for i := 0; i < n; i++ {
		sb.WriteString("    self.field = v\n")
	}
	return sb.String()
}

func TestExtractBlocksWindowing(t *testing.T) {
	fn := firstFunction(t, longAssignFunction("filler", 12))
	blocks := ExtractBlocks(fn.Body, "/src/a.py", "a:filler", DefaultConfig())
	require.NotEmpty(t, blocks)

	for _, b := range blocks {
		assert.Equal(t, BlockWindowSize, b.Size)
		assert.Equal(t, "a:filler", b.Qualname)
		// Identical statements produce a repeated hash join.
		parts := strings.Split(b.BlockHash, "|")
		assert.Len(t, parts, BlockWindowSize)
		for _, p := range parts {
			assert.Equal(t, parts[0], p)
		}
	}

	// Window starts are at least three lines apart.
	for i := 1; i < len(blocks); i++ {
		assert.GreaterOrEqual(t, blocks[i].StartLine-blocks[i-1].StartLine, 3)
	}
}

func TestExtractBlocksTooShort(t *testing.T) {
	fn := firstFunction(t, `
def tiny(x):
    a = x
    return a
`)
	assert.Empty(t, ExtractBlocks(fn.Body, "/src/a.py", "a:tiny", DefaultConfig()))
}

func TestExtractSegmentsHashes(t *testing.T) {
	fn := firstFunction(t, `
def worker(x):
    a = load(x)
    b = parse(a)
    c = check(b)
    d = load(x)
    e = parse(d)
    f = check(e)
    g = load(x)
    h = parse(g)
    i = check(h)
    return i
`)
	segments := ExtractSegments(fn.Body, "/src/a.py", "a:worker", DefaultConfig())
	require.NotEmpty(t, segments)

	// The first two windows hold the same statements in rotated order:
	// same sorted signature, different strict hash.
	first, second := segments[0], segments[1]
	assert.Equal(t, first.SegmentSig, second.SegmentSig)
	assert.NotEqual(t, first.SegmentHash, second.SegmentHash)

	for _, s := range segments {
		assert.Equal(t, SegmentWindowSize, s.Size)
	}
	// Early windows are pure assigns; the last one picks up the return.
	assert.Equal(t, 1, first.UniqueKinds)
	assert.False(t, first.HasControlFlow)
	last := segments[len(segments)-1]
	assert.True(t, last.HasControlFlow)
}

func TestExtractSegmentsRecordControlFlow(t *testing.T) {
	fn := firstFunction(t, `
def mixed(items):
    a = 1
    b = 2
    c = 3
    for i in items:
        use(i)
    d = 4
    e = 5
    return e
`)
	segments := ExtractSegments(fn.Body, "/src/a.py", "a:mixed", DefaultConfig())
	require.NotEmpty(t, segments)
	assert.True(t, segments[0].HasControlFlow)
	assert.GreaterOrEqual(t, segments[0].UniqueKinds, 2)
}

func TestExtractUnitsGates(t *testing.T) {
	source := `
def small(x):
    return x

def big(x):
    a = x
    b = a
    c = b
    d = c
    e = d
    f = e
    return f
`
	mod := parseModule(t, source)
	opts := ExtractOptions{MinLOC: 5, MinStmt: 5}
	units := ExtractUnits(mod, "/src/a.py", "a", DefaultConfig(), opts)

	require.Len(t, units.Units, 1)
	assert.Equal(t, "a:big", units.Units[0].Qualname)
	assert.Equal(t, 7, units.Units[0].StmtCount)
	assert.Equal(t, BucketLOC(units.Units[0].LOC), units.Units[0].LOCBucket)
}

func TestExtractUnitsQualifiedNames(t *testing.T) {
	source := `
class Service:
    def handle(self, req):
        a = req
        b = a
        return b
`
	mod := parseModule(t, source)
	units := ExtractUnits(mod, "/src/svc.py", "svc", DefaultConfig(), ExtractOptions{MinLOC: 2, MinStmt: 2})
	require.Len(t, units.Units, 1)
	assert.Equal(t, "svc:Service.handle", units.Units[0].Qualname)
}

func TestExtractUnitsSkipsConstructorBlocks(t *testing.T) {
	var initBody, plainBody strings.Builder
	for i := 0; i < 45; i++ {
		initBody.WriteString("    self.value = arg\n")
		plainBody.WriteString("    self.value = arg\n")
	}
	source := "class C:\n" +
		"    def __init__(self, arg):\n" + initBody.String() +
		"    def configure(self, arg):\n" + plainBody.String()

	mod := parseModule(t, source)
	units := ExtractUnits(mod, "/src/c.py", "c", DefaultConfig(), ExtractOptions{MinLOC: 10, MinStmt: 5})

	require.Len(t, units.Units, 2, "both functions are units")

	byQualname := map[string][]BlockUnit{}
	for _, b := range units.Blocks {
		byQualname[b.Qualname] = append(byQualname[b.Qualname], b)
	}
	assert.Empty(t, byQualname["c:C.__init__"], "constructor block windows are suppressed")
	assert.NotEmpty(t, byQualname["c:C.configure"])
}

func TestUnitsWithEqualFingerprintsPrintIdentically(t *testing.T) {
	srcA := `
def a(x):
    if x:
        return load(x)
    return None
`
	srcB := `
def b(y):
    if y:
        return load(y)
    return None
`
	fnA := firstFunction(t, srcA)
	fnB := firstFunction(t, srcB)
	graphA := BuildCFG("m:a", fnA.Body)
	graphB := BuildCFG("m:b", fnB.Body)

	cfg := DefaultConfig()
	require.Equal(t, Fingerprint(graphA, cfg), Fingerprint(graphB, cfg))
	assert.Equal(t, CanonicalPrint(graphA, cfg), CanonicalPrint(graphB, cfg),
		"equal fingerprints imply byte-identical canonical prints")
}
