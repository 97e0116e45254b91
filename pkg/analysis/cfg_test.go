// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/codeclone/pkg/pyast"
)

func buildGraph(t *testing.T, source string) *CFG {
	t.Helper()
	fn := firstFunction(t, source)
	return BuildCFG("test:fn", fn.Body)
}

// reachable computes the block ids reachable from the entry block.
func reachable(g *CFG) map[int]bool {
	seen := map[int]bool{}
	stack := []int{g.Entry().ID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, g.Blocks[id].Successors...)
	}
	return seen
}

func TestCFGSequentialStatements(t *testing.T) {
	g := buildGraph(t, `
def f(x):
    a = x
    b = a
    return b
`)
	entry := g.Entry()
	assert.Len(t, entry.Statements, 3)
	assert.True(t, entry.Terminated)
	assert.Equal(t, []int{g.Exit().ID}, entry.Successors)
}

func TestCFGIfCreatesMergeBlock(t *testing.T) {
	g := buildGraph(t, `
def f(x):
    if x:
        a = 1
    b = 2
    return b
`)
	// entry(cond) -> then, else(empty), both -> merge
	entry := g.Entry()
	require.Len(t, entry.Successors, 2)
	thenID, elseID := entry.Successors[0], entry.Successors[1]
	merge := g.Blocks[g.Blocks[thenID].Successors[0]]
	assert.Equal(t, BlockMerge, merge.Kind)
	assert.Equal(t, merge.ID, g.Blocks[elseID].Successors[0], "empty else still reaches the merge")
}

func TestCFGWhileLoopBackEdge(t *testing.T) {
	g := buildGraph(t, `
def f(x):
    while x:
        x = step(x)
    return x
`)
	var cond *Block
	for _, b := range g.Blocks {
		if b.Kind == BlockLoopHead {
			cond = b
		}
	}
	require.NotNil(t, cond)
	require.Len(t, cond.Successors, 2)
	body := g.Blocks[cond.Successors[0]]
	assert.Contains(t, body.Successors, cond.ID, "loop body edges back to the condition")
}

func TestCFGBreakTargetsAfterBlock(t *testing.T) {
	g := buildGraph(t, `
def f(items):
    for item in items:
        if item:
            break
    else:
        return None
    return item
`)
	print := CanonicalPrint(g, DefaultConfig())
	assert.Contains(t, print, "Break")

	// The block holding Break must target the loop's after block, which is
	// different from the loop-else block.
	var breakBlock *Block
	for _, b := range g.Blocks {
		for _, s := range b.Statements {
			if _, ok := s.(*pyast.Break); ok {
				breakBlock = b
			}
		}
	}
	require.NotNil(t, breakBlock)
	require.Len(t, breakBlock.Successors, 1)
	target := g.Blocks[breakBlock.Successors[0]]
	assert.Equal(t, BlockMerge, target.Kind)

	// The loop-else block is the iteration header's second successor;
	// break must bypass it.
	var loopHead *Block
	for _, b := range g.Blocks {
		if b.Kind == BlockLoopHead {
			loopHead = b
		}
	}
	require.NotNil(t, loopHead)
	require.Len(t, loopHead.Successors, 2)
	elseBlock := loopHead.Successors[1]
	assert.NotEqual(t, elseBlock, target.ID, "break must not land in the loop-else block")
}

func TestCFGLoopElseUnreachableOnlyViaBreak(t *testing.T) {
	withBreak := buildGraph(t, `
def f(items):
    for item in items:
        break
    else:
        cleanup()
    return 1
`)
	normal := buildGraph(t, `
def g(items):
    for item in items:
        touch(item)
    else:
        cleanup()
    return 1
`)
	// In both graphs the loop-else is reachable from the iteration header
	// (normal completion); break adds a separate path that bypasses it.
	assert.NotEqual(t, Fingerprint(withBreak, DefaultConfig()), Fingerprint(normal, DefaultConfig()))
}

func TestCFGContinueTargetsLoopHead(t *testing.T) {
	g := buildGraph(t, `
def f(items):
    for item in items:
        if item:
            continue
        use(item)
    return 1
`)
	var continueBlock *Block
	for _, b := range g.Blocks {
		for _, s := range b.Statements {
			if _, ok := s.(*pyast.Continue); ok {
				continueBlock = b
			}
		}
	}
	require.NotNil(t, continueBlock)
	require.Len(t, continueBlock.Successors, 1)
	assert.Equal(t, BlockLoopHead, g.Blocks[continueBlock.Successors[0]].Kind)
}

func TestCFGShortCircuitAndOrDiffer(t *testing.T) {
	and := fingerprintOf(t, `
def p(a, b):
    if a and b:
        return 1
    return 2
`)
	or := fingerprintOf(t, `
def r(a, b):
    if a or b:
        return 1
    return 2
`)
	assert.NotEqual(t, and, or, "and/or expand into different micro-CFGs")
}

func TestCFGShortCircuitGrouping(t *testing.T) {
	p := fingerprintOf(t, `
def p(a, b):
    return a and b
`)
	q := fingerprintOf(t, `
def q(c, d):
    return c and d
`)
	assert.Equal(t, p, q)
}

func TestCFGBoolOpMicroBlocks(t *testing.T) {
	g := buildGraph(t, `
def f(a, b, c):
    if a and b and c:
        return 1
    return 2
`)
	// Three operands produce two extra condition blocks beyond the entry.
	condBlocks := 0
	for _, b := range g.Blocks {
		if b.Kind == BlockCond {
			condBlocks++
		}
	}
	assert.Equal(t, 2, condBlocks)
}

func TestCFGTryMayRaiseEdges(t *testing.T) {
	g := buildGraph(t, `
def f(x):
    try:
        y = x
        z = load(y)
    except ValueError:
        z = None
    return z
`)

	var handlerTest *Block
	for _, b := range g.Blocks {
		if b.Kind == BlockHandler {
			handlerTest = b
			break
		}
	}
	require.NotNil(t, handlerTest)

	// Find blocks with an edge into the handler chain.
	var sources []*Block
	for _, b := range g.Blocks {
		for _, s := range b.Successors {
			if s == handlerTest.ID {
				sources = append(sources, b)
			}
		}
	}
	require.NotEmpty(t, sources)

	// The bare name assignment `y = x` cannot raise: the edge into the
	// handlers must come from the block state after it, carrying the call.
	for _, src := range sources {
		dump := DumpStmts(src.Statements, DefaultConfig())
		assert.Contains(t, dump, "_CALL_load_", "only the may-raise statement links to handlers: %s", dump)
	}
}

func TestCFGBareNameLoadHasNoHandlerEdge(t *testing.T) {
	g := buildGraph(t, `
def f(x):
    try:
        y = x
    except ValueError:
        y = None
    return y
`)
	// No may-raise statement in the try body: entry's try block must not
	// link into the handler chain.
	var handlerTest *Block
	for _, b := range g.Blocks {
		if b.Kind == BlockHandler {
			handlerTest = b
			break
		}
	}
	require.NotNil(t, handlerTest)
	for _, b := range g.Blocks {
		if b.Kind == BlockHandler {
			continue
		}
		for _, s := range b.Successors {
			assert.NotEqual(t, handlerTest.ID, s, "no handler edge expected from block %d", b.ID)
		}
	}
}

func TestCFGHandlerOrderPreserved(t *testing.T) {
	ab := fingerprintOf(t, `
def f():
    try:
        risky()
    except ValueError:
        pass
    except KeyError:
        pass
`)
	ba := fingerprintOf(t, `
def g():
    try:
        risky()
    except KeyError:
        pass
    except ValueError:
        pass
`)
	assert.NotEqual(t, ab, ba, "handler evaluation order is part of the shape")
}

func TestCFGMatchCasesChain(t *testing.T) {
	g := buildGraph(t, `
def f(x):
    match x:
        case 1:
            return "one"
        case _:
            return "other"
`)
	print := CanonicalPrint(g, DefaultConfig())
	assert.Contains(t, print, "MATCH_CASE_INDEX:0")
	assert.Contains(t, print, "MATCH_CASE_INDEX:1")
	assert.Contains(t, print, "MATCH_PATTERN:")
}

func TestCFGReturnTerminatesBlock(t *testing.T) {
	g := buildGraph(t, `
def f(x):
    return x
    unreachable = 1
`)
	entry := g.Entry()
	assert.True(t, entry.Terminated)
	assert.Len(t, entry.Statements, 1, "statements after return are not appended")
}

func TestCFGYieldFromTerminates(t *testing.T) {
	g := buildGraph(t, `
def f(items):
    yield from items
    tail = 1
`)
	entry := g.Entry()
	assert.True(t, entry.Terminated)
	assert.Len(t, entry.Statements, 1)
}

func TestCFGWithBlockLayout(t *testing.T) {
	g := buildGraph(t, `
def f(path):
    with open(path) as fh:
        data = fh.read()
    return data
`)
	entry := g.Entry()
	// Context expression lands in the current block before the body.
	dump := DumpStmts(entry.Statements, DefaultConfig())
	assert.Contains(t, dump, "_CALL_open_")
	require.Len(t, entry.Successors, 1)
}

func TestCFGDeterministicIDs(t *testing.T) {
	source := `
def f(x):
    if x:
        a = 1
    else:
        a = 2
    for i in a:
        use(i)
    return a
`
	first := CanonicalPrint(buildGraph(t, source), DefaultConfig())
	second := CanonicalPrint(buildGraph(t, source), DefaultConfig())
	assert.Equal(t, first, second)
}

func TestCFGEntryAndExitAlwaysPresent(t *testing.T) {
	g := buildGraph(t, `
def f():
    pass
`)
	assert.Equal(t, 0, g.Entry().ID)
	assert.Equal(t, 1, g.Exit().ID)
	assert.True(t, reachable(g)[g.Exit().ID])
}

func TestCanonicalPrintShape(t *testing.T) {
	g := buildGraph(t, `
def f(x):
    return x
`)
	print := CanonicalPrint(g, DefaultConfig())
	assert.True(t, strings.HasPrefix(print, "BLOCK[0](entry):"))
	assert.Contains(t, print, "|SUCCESSORS:")
}

func TestBucketLOC(t *testing.T) {
	assert.Equal(t, "0", BucketLOC(5))
	assert.Equal(t, "0", BucketLOC(19))
	assert.Equal(t, "1", BucketLOC(20))
	assert.Equal(t, "2", BucketLOC(45))
}
