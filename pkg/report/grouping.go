// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package report turns per-file analysis results into clone groups and
// renders them as the deterministic machine-readable report. Grouping and
// serialization are split from the runner so the same structures back the
// JSON report, the text report, and the baseline diff.
package report

import (
	"sort"
	"strings"

	"github.com/kraklabs/codeclone/pkg/analysis"
)

// FunctionGroups maps group key (fingerprint|loc_bucket) to members.
type FunctionGroups map[string][]analysis.Unit

// BlockGroups maps block hash to members.
type BlockGroups map[string][]analysis.BlockUnit

// SegmentGroups maps group key (segment_hash|qualname) to members.
type SegmentGroups map[string][]analysis.SegmentUnit

// FunctionGroupKey builds a function group key.
func FunctionGroupKey(fingerprint, locBucket string) string {
	return fingerprint + "|" + locBucket
}

// BuildFunctionGroups groups units by (fingerprint, loc_bucket) and keeps
// only groups with at least two members, each sorted by
// (file, start, qualname).
func BuildFunctionGroups(units []analysis.Unit) FunctionGroups {
	groups := FunctionGroups{}
	for _, u := range units {
		key := FunctionGroupKey(u.Fingerprint, u.LOCBucket)
		groups[key] = append(groups[key], u)
	}
	for key, members := range groups {
		if len(members) < 2 {
			delete(groups, key)
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			a, b := members[i], members[j]
			if a.FilePath != b.FilePath {
				return a.FilePath < b.FilePath
			}
			if a.StartLine != b.StartLine {
				return a.StartLine < b.StartLine
			}
			return a.Qualname < b.Qualname
		})
	}
	return groups
}

// BuildBlockGroups groups block windows by hash and applies the noise
// filters in order: groups spanning a single function are rejected, then
// groups overlapping an already-accepted larger group at the same site,
// then groups touching constructors. Minimum LOC/statement thresholds were
// already enforced at extraction.
func BuildBlockGroups(blocks []analysis.BlockUnit) BlockGroups {
	groups := BlockGroups{}
	for _, b := range blocks {
		groups[b.BlockHash] = append(groups[b.BlockHash], b)
	}

	type candidate struct {
		key     string
		members []analysis.BlockUnit
	}
	var candidates []candidate
	for key, members := range groups {
		functions := map[string]bool{}
		for _, m := range members {
			functions[m.Qualname] = true
		}
		if len(functions) < 2 {
			continue
		}
		inConstructor := false
		for _, m := range members {
			if strings.HasSuffix(m.Qualname, "__init__") {
				inConstructor = true
				break
			}
		}
		if inConstructor {
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			a, b := members[i], members[j]
			if a.FilePath != b.FilePath {
				return a.FilePath < b.FilePath
			}
			if a.StartLine != b.StartLine {
				return a.StartLine < b.StartLine
			}
			return a.Qualname < b.Qualname
		})
		candidates = append(candidates, candidate{key: key, members: members})
	}

	// Larger groups claim their window sites first; later groups lose any
	// claim to an overlapping window at the same site.
	sort.Slice(candidates, func(i, j int) bool {
		if len(candidates[i].members) != len(candidates[j].members) {
			return len(candidates[i].members) > len(candidates[j].members)
		}
		return candidates[i].key < candidates[j].key
	})

	type interval struct{ start, end int }
	claimed := map[string][]interval{}
	out := BlockGroups{}

	for _, cand := range candidates {
		overlaps := false
		for _, m := range cand.members {
			site := m.FilePath + "\x00" + m.Qualname
			for _, iv := range claimed[site] {
				if m.StartLine <= iv.end && m.EndLine >= iv.start {
					overlaps = true
					break
				}
			}
			if overlaps {
				break
			}
		}
		if overlaps {
			continue
		}
		for _, m := range cand.members {
			site := m.FilePath + "\x00" + m.Qualname
			claimed[site] = append(claimed[site], interval{start: m.StartLine, end: m.EndLine})
		}
		out[cand.key] = cand.members
	}

	return out
}

// SegmentGroupKey builds a segment group key.
func SegmentGroupKey(segmentHash, qualname string) string {
	return segmentHash + "|" + qualname
}

// BuildSegmentGroups clusters segment windows by the order-insensitive
// signature, confirms candidates by the strict order-sensitive hash, and
// emits only repetitions within a single function (two or more windows of
// the same shape in the same qualname).
func BuildSegmentGroups(segments []analysis.SegmentUnit) SegmentGroups {
	const minOccurrences = 2

	bySig := map[string][]analysis.SegmentUnit{}
	for _, s := range segments {
		bySig[s.SegmentSig] = append(bySig[s.SegmentSig], s)
	}

	confirmed := SegmentGroups{}
	for _, sigMembers := range bySig {
		if len(sigMembers) < minOccurrences {
			continue
		}

		byHash := map[string][]analysis.SegmentUnit{}
		for _, s := range sigMembers {
			byHash[s.SegmentHash] = append(byHash[s.SegmentHash], s)
		}

		for segmentHash, hashMembers := range byHash {
			if len(hashMembers) < minOccurrences {
				continue
			}
			byFunc := map[string][]analysis.SegmentUnit{}
			for _, s := range hashMembers {
				byFunc[s.Qualname] = append(byFunc[s.Qualname], s)
			}
			for qualname, funcMembers := range byFunc {
				if len(funcMembers) >= minOccurrences {
					confirmed[SegmentGroupKey(segmentHash, qualname)] = funcMembers
				}
			}
		}
	}

	return confirmed
}

// Keys returns the sorted group keys of any group map.
func Keys[M ~map[string]V, V any](groups M) []string {
	out := make([]string, 0, len(groups))
	for key := range groups {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
