// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package analysis

import (
	"sort"
	"strings"

	"github.com/kraklabs/codeclone/pkg/pyast"
)

// BlockUnit is one fixed-size sliding window over a function's top-level
// normalized statement sequence. BlockHash is the '|'-join of the member
// statement hashes; the join itself is the group key so downstream layers
// can recover the window size from it.
type BlockUnit struct {
	BlockHash string
	FilePath  string
	Qualname  string
	StartLine int
	EndLine   int
	Size      int
}

// SegmentUnit is a larger window used only for in-function repetition
// reporting. SegmentHash is order-sensitive; SegmentSig hashes the sorted
// member hashes and is used for candidate clustering. UniqueKinds and
// HasControlFlow feed the report layer's boilerplate suppression and are
// carried through the cache so suppression is stable across cached runs.
type SegmentUnit struct {
	SegmentHash    string
	SegmentSig     string
	FilePath       string
	Qualname       string
	StartLine      int
	EndLine        int
	Size           int
	UniqueKinds    int
	HasControlFlow bool
}

// BlockWindowSize is the sliding window width for block windows.
const BlockWindowSize = 4

// SegmentWindowSize is the sliding window width for segment windows.
const SegmentWindowSize = 6

const (
	maxBlocksPerFunction   = 15
	maxSegmentsPerFunction = 60
)

// ExtractBlocks slides a window of BlockWindowSize over the top-level
// statement sequence of a function body. Consecutive windows must start at
// least three lines apart, which bounds overlap to roughly half a window.
func ExtractBlocks(body []pyast.Stmt, filePath, qualname string, cfg Config) []BlockUnit {
	if len(body) < BlockWindowSize {
		return nil
	}

	hashes := make([]string, len(body))
	for i, s := range body {
		hashes[i] = StmtHash(s, cfg)
	}

	minLineDistance := BlockWindowSize / 2
	if minLineDistance < 3 {
		minLineDistance = 3
	}

	var blocks []BlockUnit
	lastStart := -1

	for i := 0; i+BlockWindowSize <= len(hashes); i++ {
		start, _ := body[i].Lines()
		_, end := body[i+BlockWindowSize-1].Lines()
		if start <= 0 || end <= 0 {
			continue
		}
		if lastStart >= 0 && start-lastStart < minLineDistance {
			continue
		}

		blocks = append(blocks, BlockUnit{
			BlockHash: strings.Join(hashes[i:i+BlockWindowSize], "|"),
			FilePath:  filePath,
			Qualname:  qualname,
			StartLine: start,
			EndLine:   end,
			Size:      BlockWindowSize,
		})

		lastStart = start
		if len(blocks) >= maxBlocksPerFunction {
			break
		}
	}

	return blocks
}

// ExtractSegments slides a window of SegmentWindowSize over the same
// statement sequence, producing both the strict order-sensitive hash and
// the order-insensitive signature, plus the statement-kind stats the report
// layer needs.
func ExtractSegments(body []pyast.Stmt, filePath, qualname string, cfg Config) []SegmentUnit {
	if len(body) < SegmentWindowSize {
		return nil
	}

	hashes := make([]string, len(body))
	kinds := make([]string, len(body))
	control := make([]bool, len(body))
	for i, s := range body {
		hashes[i] = StmtHash(s, cfg)
		kinds[i] = StmtKindName(s)
		control[i] = IsControlFlowStmt(s)
	}

	var segments []SegmentUnit

	for i := 0; i+SegmentWindowSize <= len(hashes); i++ {
		start, _ := body[i].Lines()
		_, end := body[i+SegmentWindowSize-1].Lines()
		if start <= 0 || end <= 0 {
			continue
		}

		window := hashes[i : i+SegmentWindowSize]
		segmentHash := SHA1Hex(strings.Join(window, "|"))
		sorted := append([]string(nil), window...)
		sort.Strings(sorted)
		segmentSig := SHA1Hex(strings.Join(sorted, "|"))

		uniqueKinds := map[string]bool{}
		hasControl := false
		for j := i; j < i+SegmentWindowSize; j++ {
			uniqueKinds[kinds[j]] = true
			if control[j] {
				hasControl = true
			}
		}

		segments = append(segments, SegmentUnit{
			SegmentHash:    segmentHash,
			SegmentSig:     segmentSig,
			FilePath:       filePath,
			Qualname:       qualname,
			StartLine:      start,
			EndLine:        end,
			Size:           SegmentWindowSize,
			UniqueKinds:    len(uniqueKinds),
			HasControlFlow: hasControl,
		})

		if len(segments) >= maxSegmentsPerFunction {
			break
		}
	}

	return segments
}
