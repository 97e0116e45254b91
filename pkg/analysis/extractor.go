// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package analysis

import (
	"strings"

	"github.com/kraklabs/codeclone/pkg/pyast"
)

// Unit is one analyzed function or method. Units are identified across the
// corpus by the (Fingerprint, LOCBucket) pair.
type Unit struct {
	Qualname    string
	FilePath    string
	StartLine   int
	EndLine     int
	LOC         int
	StmtCount   int
	Fingerprint string
	LOCBucket   string
}

// Extraction gates. Functions below the CLI min-loc/min-stmt thresholds are
// skipped entirely; block and segment windows have their own higher floors.
const (
	blockMinLOC    = 40
	blockMinStmts  = 10
	segmentMinLOC  = 30
	segmentMinStmt = 12
)

// ExtractOptions carries the per-run extraction thresholds.
type ExtractOptions struct {
	MinLOC  int
	MinStmt int
}

// FileUnits is the analysis result for one source file.
type FileUnits struct {
	Units    []Unit
	Blocks   []BlockUnit
	Segments []SegmentUnit
}

// ExtractUnits walks a parsed module and produces function units plus their
// block and segment windows. Qualified names nest through classes
// (Class.method, Outer.Inner.method); nested defs are visited too.
func ExtractUnits(mod *pyast.Module, filePath, moduleName string, cfg Config, opts ExtractOptions) *FileUnits {
	out := &FileUnits{}
	var stack []string

	var walk func(stmts []pyast.Stmt)
	walk = func(stmts []pyast.Stmt) {
		for _, s := range stmts {
			switch v := s.(type) {
			case *pyast.ClassDef:
				stack = append(stack, v.Name)
				walk(v.Body)
				stack = stack[:len(stack)-1]
			case *pyast.FunctionDef:
				localName := v.Name
				if len(stack) > 0 {
					localName = strings.Join(stack, ".") + "." + v.Name
				}
				extractFunction(out, v, filePath, moduleName, localName, cfg, opts)
				// Nested functions are their own units as well.
				stack = append(stack, v.Name)
				walk(v.Body)
				stack = stack[:len(stack)-1]
			case *pyast.If:
				walk(v.Body)
				walk(v.Orelse)
			case *pyast.While:
				walk(v.Body)
				walk(v.Orelse)
			case *pyast.For:
				walk(v.Body)
				walk(v.Orelse)
			case *pyast.With:
				walk(v.Body)
			case *pyast.Try:
				walk(v.Body)
				for _, h := range v.Handlers {
					walk(h.Body)
				}
				walk(v.Orelse)
				walk(v.Final)
			case *pyast.Match:
				for _, c := range v.Cases {
					walk(c.Body)
				}
			}
		}
	}
	walk(mod.Body)
	return out
}

func extractFunction(out *FileUnits, fn *pyast.FunctionDef, filePath, moduleName, localName string, cfg Config, opts ExtractOptions) {
	start, end := fn.Lines()
	if start <= 0 || end < start {
		return
	}

	loc := end - start + 1
	stmtCount := len(fn.Body)
	if loc < opts.MinLOC || stmtCount < opts.MinStmt {
		return
	}

	qualname := moduleName + ":" + localName
	graph := BuildCFG(qualname, fn.Body)
	fingerprint := Fingerprint(graph, cfg)

	out.Units = append(out.Units, Unit{
		Qualname:    qualname,
		FilePath:    filePath,
		StartLine:   start,
		EndLine:     end,
		LOC:         loc,
		StmtCount:   stmtCount,
		Fingerprint: fingerprint,
		LOCBucket:   BucketLOC(loc),
	})

	// Constructors are wall-to-wall attribute assignments almost by
	// definition; block windows inside them are pure noise.
	if !strings.HasSuffix(localName, "__init__") && loc >= blockMinLOC && stmtCount >= blockMinStmts {
		out.Blocks = append(out.Blocks, ExtractBlocks(fn.Body, filePath, qualname, cfg)...)
	}

	if loc >= segmentMinLOC && stmtCount >= segmentMinStmt {
		out.Segments = append(out.Segments, ExtractSegments(fn.Body, filePath, qualname, cfg)...)
	}
}
