// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package analysis

import "github.com/kraklabs/codeclone/pkg/pyast"

// BlockKind labels the structural role of a basic block in the canonical
// CFG print.
type BlockKind uint8

const (
	BlockPlain BlockKind = iota
	BlockEntry
	BlockExit
	BlockCond
	BlockBody
	BlockMerge
	BlockLoopHead
	BlockHandler
)

func (k BlockKind) tag() string {
	switch k {
	case BlockEntry:
		return "entry"
	case BlockExit:
		return "exit"
	case BlockCond:
		return "cond"
	case BlockBody:
		return "body"
	case BlockMerge:
		return "merge"
	case BlockLoopHead:
		return "loop"
	case BlockHandler:
		return "handler"
	default:
		return "plain"
	}
}

// Block is one basic block. Blocks live in the CFG arena and reference
// each other by integer id, so the naturally cyclic graph never forms
// pointer cycles.
type Block struct {
	ID         int
	Kind       BlockKind
	Statements []pyast.Stmt
	Successors []int
	Terminated bool
}

// AddSuccessor appends id to the ordered successor list, ignoring
// duplicates.
func (b *Block) AddSuccessor(id int) {
	for _, s := range b.Successors {
		if s == id {
			return
		}
	}
	b.Successors = append(b.Successors, id)
}

// CFG is the control-flow graph of a single function. Block 0 is the entry
// and block 1 the synthetic exit; ids are assigned in creation order, which
// follows source order during the build.
type CFG struct {
	Qualname string
	Blocks   []*Block
}

// NewCFG allocates a graph with its entry and exit blocks.
func NewCFG(qualname string) *CFG {
	g := &CFG{Qualname: qualname}
	g.NewBlock(BlockEntry)
	g.NewBlock(BlockExit)
	return g
}

// NewBlock appends a fresh block to the arena and returns it.
func (g *CFG) NewBlock(kind BlockKind) *Block {
	b := &Block{ID: len(g.Blocks), Kind: kind}
	g.Blocks = append(g.Blocks, b)
	return b
}

// Entry returns the entry block.
func (g *CFG) Entry() *Block { return g.Blocks[0] }

// Exit returns the synthetic exit block.
func (g *CFG) Exit() *Block { return g.Blocks[1] }
