// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package report

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"log/slog"

	"github.com/kraklabs/codeclone/pkg/analysis"
	"github.com/kraklabs/codeclone/pkg/pyast"
)

// Facts is a flat, deterministic fact set for one clone group. It is the
// source of truth for explanations: renderers display facts, they never
// re-derive them.
type Facts map[string]string

// FactsBuilder computes block-group explainability facts. Member source
// files are re-read and re-parsed once each; results are cached for the
// lifetime of the builder.
type FactsBuilder struct {
	logger *slog.Logger
	parser *pyast.Parser

	trees  map[string]*pyast.Module
	ranges map[string]rangeStats
}

type rangeStats struct {
	total          int
	assertLike     int
	maxConsecutive int
}

// NewFactsBuilder creates a builder sharing the given parser.
func NewFactsBuilder(logger *slog.Logger, parser *pyast.Parser) *FactsBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &FactsBuilder{
		logger: logger,
		parser: parser,
		trees:  map[string]*pyast.Module{},
		ranges: map[string]rangeStats{},
	}
}

// BuildBlockGroupFacts computes facts for every block clone group.
func (f *FactsBuilder) BuildBlockGroupFacts(groups BlockGroups) map[string]Facts {
	out := make(map[string]Facts, len(groups))
	for key, members := range groups {
		facts := baseBlockFacts(key)
		f.enrichAssertFacts(facts, members)
		out[key] = facts
	}
	return out
}

// baseBlockFacts derives structural facts from the group key alone. The
// key is the joined statement-hash sequence, so the window size and
// repeated-shape pattern fall straight out of it.
func baseBlockFacts(groupKey string) Facts {
	parts := make([]string, 0, 4)
	for _, part := range strings.Split(groupKey, "|") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	windowSize := len(parts)
	if windowSize < 1 {
		windowSize = 1
	}

	facts := Facts{
		"match_rule":     "normalized_sliding_window",
		"block_size":     strconv.Itoa(windowSize),
		"signature_kind": "stmt_hash_sequence",
		"merged_regions": "true",
	}

	if len(parts) > 1 {
		repeated := true
		for _, part := range parts {
			if part != parts[0] {
				repeated = false
				break
			}
		}
		if repeated {
			head := parts[0]
			if len(head) > 12 {
				head = head[:12]
			}
			facts["pattern"] = "repeated_stmt_hash"
			facts["pattern_display"] = fmt.Sprintf("%s x%d", head, windowSize)
		}
	}

	return facts
}

func (f *FactsBuilder) enrichAssertFacts(facts Facts, members []analysis.BlockUnit) {
	assertOnly := len(members) > 0
	testLikePaths := len(members) > 0
	totalStatements := 0
	assertStatements := 0
	maxConsecutive := 0

	for _, m := range members {
		valid := m.FilePath != "" && m.StartLine > 0 && m.EndLine > 0
		stats := rangeStats{}
		if valid {
			stats = f.assertRangeStats(m.FilePath, m.StartLine, m.EndLine)
			totalStatements += stats.total
			assertStatements += stats.assertLike
			if stats.maxConsecutive > maxConsecutive {
				maxConsecutive = stats.maxConsecutive
			}
		}

		if !valid || stats.total == 0 || stats.total != stats.assertLike {
			assertOnly = false
		}
		if !looksLikeTestPath(m.FilePath) {
			testLikePaths = false
		}
	}

	if totalStatements > 0 {
		ratio := int(float64(assertStatements)/float64(totalStatements)*100 + 0.5)
		facts["assert_ratio"] = fmt.Sprintf("%d%%", ratio)
		facts["consecutive_asserts"] = strconv.Itoa(maxConsecutive)
	}

	if assertOnly {
		facts["hint"] = "assert_only"
		facts["hint_confidence"] = "deterministic"
		if facts["pattern"] == "repeated_stmt_hash" && testLikePaths {
			facts["hint_context"] = "likely_test_boilerplate"
		}
		facts["hint_note"] = "This block clone consists entirely of assert-only statements. " +
			"This often occurs in test suites."
	}
}

func (f *FactsBuilder) assertRangeStats(path string, startLine, endLine int) rangeStats {
	cacheKey := fmt.Sprintf("%s:%d:%d", path, startLine, endLine)
	if stats, ok := f.ranges[cacheKey]; ok {
		return stats
	}

	tree := f.parsedTree(path)
	stats := rangeStats{}
	if tree != nil {
		consecutive := 0
		pyast.WalkStmts(tree.Body, func(s pyast.Stmt) {
			start, end := s.Lines()
			if start < startLine || end > endLine {
				return
			}
			stats.total++
			if isAssertLike(s) {
				stats.assertLike++
				consecutive++
				if consecutive > stats.maxConsecutive {
					stats.maxConsecutive = consecutive
				}
			} else {
				consecutive = 0
			}
		})
	}

	f.ranges[cacheKey] = stats
	return stats
}

func (f *FactsBuilder) parsedTree(path string) *pyast.Module {
	if tree, ok := f.trees[path]; ok {
		return tree
	}
	var tree *pyast.Module
	source, err := os.ReadFile(path)
	if err == nil {
		tree, err = f.parser.Parse(context.Background(), source, path)
		if err != nil {
			tree = nil
		}
	}
	if err != nil {
		f.logger.Debug("report.facts.parse_skip", "path", path, "err", err)
	}
	f.trees[path] = tree
	return tree
}

// isAssertLike matches assert statements, string-literal expression
// statements, and calls whose target name starts with "assert".
func isAssertLike(s pyast.Stmt) bool {
	switch v := s.(type) {
	case *pyast.Assert:
		return true
	case *pyast.ExprStmt:
		switch value := v.Value.(type) {
		case *pyast.Constant:
			return value.Kind == "str"
		case *pyast.Call:
			switch fn := value.Func.(type) {
			case *pyast.Name:
				return strings.HasPrefix(strings.ToLower(fn.ID), "assert")
			case *pyast.Attribute:
				return strings.HasPrefix(strings.ToLower(fn.Attr), "assert")
			}
		}
	}
	return false
}

func looksLikeTestPath(path string) bool {
	if path == "" {
		return false
	}
	normalized := strings.ToLower(strings.ReplaceAll(path, "\\", "/"))
	filename := normalized
	if idx := strings.LastIndex(normalized, "/"); idx >= 0 {
		filename = normalized[idx+1:]
	}
	return strings.Contains("/"+normalized+"/", "/tests/") || strings.HasPrefix(filename, "test_")
}
