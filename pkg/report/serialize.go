// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package report

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/kraklabs/codeclone/pkg/contracts"
)

// groupItemLayout declares the positional schema of the array-encoded
// group items, one layout per section.
var groupItemLayout = map[string][]string{
	"functions": {"file_i", "qualname", "start", "end", "loc", "stmt_count", "fingerprint", "loc_bucket"},
	"blocks":    {"file_i", "qualname", "start", "end", "size"},
	"segments":  {"file_i", "qualname", "start", "end", "size", "segment_hash", "segment_sig"},
}

// SplitLists is the new/known partition of one section's group keys.
type SplitLists struct {
	New   []string `json:"new"`
	Known []string `json:"known"`
}

// Input bundles everything the serializer needs. NewFunctionKeys and
// NewBlockKeys come from the baseline diff and are only honored when the
// baseline is trusted; segments are always new by contract.
type Input struct {
	Meta            map[string]any
	FunctionGroups  FunctionGroups
	BlockGroups     BlockGroups
	SegmentGroups   SegmentGroups
	BlockFacts      map[string]Facts
	BaselineTrusted bool
	NewFunctionKeys []string
	NewBlockKeys    []string
}

// ToJSON serializes the machine-readable report. All orderings are fixed:
// files sorted lexicographically, group keys sorted per section, items
// sorted by (file_index, qualname, start_line, end_line).
func ToJSON(in Input) ([]byte, error) {
	files := collectFiles(in)
	fileIndex := make(map[string]int, len(files))
	for i, f := range files {
		fileIndex[f] = i
	}

	functionItems := map[string][][]any{}
	for key, members := range in.FunctionGroups {
		records := make([][]any, 0, len(members))
		for _, m := range members {
			records = append(records, []any{
				fileIndex[m.FilePath], m.Qualname, m.StartLine, m.EndLine,
				m.LOC, m.StmtCount, m.Fingerprint, m.LOCBucket,
			})
		}
		functionItems[key] = sortRecords(records)
	}

	blockItems := map[string][][]any{}
	for key, members := range in.BlockGroups {
		records := make([][]any, 0, len(members))
		for _, m := range members {
			records = append(records, []any{
				fileIndex[m.FilePath], m.Qualname, m.StartLine, m.EndLine, m.Size,
			})
		}
		blockItems[key] = sortRecords(records)
	}

	segmentItems := map[string][][]any{}
	for key, members := range in.SegmentGroups {
		records := make([][]any, 0, len(members))
		for _, m := range members {
			records = append(records, []any{
				fileIndex[m.FilePath], m.Qualname, m.StartLine, m.EndLine,
				m.Size, m.SegmentHash, m.SegmentSig,
			})
		}
		segmentItems[key] = sortRecords(records)
	}

	split := map[string]SplitLists{
		"functions": splitFor(Keys(in.FunctionGroups), in.NewFunctionKeys, in.BaselineTrusted),
		"blocks":    splitFor(Keys(in.BlockGroups), in.NewBlockKeys, in.BaselineTrusted),
		"segments":  splitFor(Keys(in.SegmentGroups), nil, in.BaselineTrusted),
	}

	meta := map[string]any{}
	for k, v := range in.Meta {
		meta[k] = v
	}
	meta["report_schema_version"] = contracts.ReportSchemaVersion
	counts := map[string]map[string]int{}
	for section, lists := range split {
		counts[section] = map[string]int{
			"total": len(lists.New) + len(lists.Known),
			"new":   len(lists.New),
			"known": len(lists.Known),
		}
	}
	meta["groups_counts"] = counts

	payload := map[string]any{
		"meta":  meta,
		"files": files,
		"groups": map[string]any{
			"functions": functionItems,
			"blocks":    blockItems,
			"segments":  segmentItems,
		},
		"groups_split":      split,
		"group_item_layout": groupItemLayout,
	}

	if len(in.BlockFacts) > 0 {
		facts := map[string]map[string]string{}
		for key, groupFacts := range in.BlockFacts {
			facts[key] = groupFacts
		}
		payload["facts"] = map[string]any{"blocks": facts}
	}

	return json.MarshalIndent(payload, "", "  ")
}

func collectFiles(in Input) []string {
	seen := map[string]bool{}
	for _, members := range in.FunctionGroups {
		for _, m := range members {
			seen[m.FilePath] = true
		}
	}
	for _, members := range in.BlockGroups {
		for _, m := range members {
			seen[m.FilePath] = true
		}
	}
	for _, members := range in.SegmentGroups {
		for _, m := range members {
			seen[m.FilePath] = true
		}
	}
	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files
}

// sortRecords orders item records by (file_index, qualname, start, end).
func sortRecords(records [][]any) [][]any {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a[0].(int) != b[0].(int) {
			return a[0].(int) < b[0].(int)
		}
		if a[1].(string) != b[1].(string) {
			return a[1].(string) < b[1].(string)
		}
		if a[2].(int) != b[2].(int) {
			return a[2].(int) < b[2].(int)
		}
		return a[3].(int) < b[3].(int)
	})
	return records
}

// splitFor partitions sorted keys into new/known. An untrusted baseline
// makes every key new; a trusted baseline with no diff list does the same
// (segments). The partition always satisfies new ∪ known = all and
// new ∩ known = ∅.
func splitFor(sortedKeys []string, newKeys []string, trusted bool) SplitLists {
	if !trusted || newKeys == nil {
		return SplitLists{New: sortedKeys, Known: []string{}}
	}
	newSet := make(map[string]bool, len(newKeys))
	for _, k := range newKeys {
		newSet[k] = true
	}
	lists := SplitLists{New: []string{}, Known: []string{}}
	for _, key := range sortedKeys {
		if newSet[key] {
			lists.New = append(lists.New, key)
		} else {
			lists.Known = append(lists.Known, key)
		}
	}
	return lists
}

// ---------------------------------------------------------------------------
// Text report
// ---------------------------------------------------------------------------

// textItem is the uniform row the text renderer works from.
type textItem struct {
	filePath  string
	qualname  string
	startLine int
	endLine   int
	metric    int
}

// ToText renders the deterministic text report: a metadata header followed
// by per-section NEW/KNOWN group listings.
func ToText(in Input) string {
	metaLines := []string{
		"REPORT METADATA",
		"Report schema version: " + formatMetaValue(contracts.ReportSchemaVersion),
		"Codeclone version: " + formatMetaValue(in.Meta["codeclone_version"]),
		"Python tag: " + formatMetaValue(in.Meta["python_tag"]),
		"Baseline path: " + formatMetaValue(in.Meta["baseline_path"]),
		"Baseline status: " + formatMetaValue(in.Meta["baseline_status"]),
		"Baseline loaded: " + formatMetaValue(in.Meta["baseline_loaded"]),
		"Baseline payload sha256: " + formatMetaValue(in.Meta["baseline_payload_sha256"]),
		"Cache path: " + formatMetaValue(in.Meta["cache_path"]),
		"Cache status: " + formatMetaValue(in.Meta["cache_status"]),
		"Cache used: " + formatMetaValue(in.Meta["cache_used"]),
		"Source IO skipped: " + formatMetaValue(in.Meta["files_skipped_source_io"]),
	}

	if !in.BaselineTrusted {
		metaLines = append(metaLines, "Note: baseline is untrusted; all groups are treated as NEW.")
	}

	lines := metaLines

	sections := []struct {
		title   string
		keys    SplitLists
		items   map[string][]textItem
		metric  string
	}{
		{
			title:  "FUNCTION CLONES",
			keys:   splitFor(Keys(in.FunctionGroups), in.NewFunctionKeys, in.BaselineTrusted),
			items:  functionTextItems(in.FunctionGroups),
			metric: "loc",
		},
		{
			title:  "BLOCK CLONES",
			keys:   splitFor(Keys(in.BlockGroups), in.NewBlockKeys, in.BaselineTrusted),
			items:  blockTextItems(in.BlockGroups),
			metric: "size",
		},
		{
			title:  "SEGMENT CLONES",
			keys:   splitFor(Keys(in.SegmentGroups), nil, in.BaselineTrusted),
			items:  segmentTextItems(in.SegmentGroups),
			metric: "size",
		},
	}

	for _, section := range sections {
		lines = append(lines, "")
		lines = append(lines, fmt.Sprintf("%s (NEW) (groups=%d)", section.title, len(section.keys.New)))
		lines = append(lines, renderGroupList(section.keys.New, section.items, section.metric)...)
		lines = append(lines, "")
		lines = append(lines, fmt.Sprintf("%s (KNOWN) (groups=%d)", section.title, len(section.keys.Known)))
		lines = append(lines, renderGroupList(section.keys.Known, section.items, section.metric)...)
	}

	return strings.Join(lines, "\n") + "\n"
}

func renderGroupList(keys []string, items map[string][]textItem, metric string) []string {
	if len(keys) == 0 {
		return []string{"(none)"}
	}
	var lines []string
	for i, key := range keys {
		members := items[key]
		lines = append(lines, fmt.Sprintf("=== Clone group #%d (count=%d) ===", i+1, len(members)))
		for _, item := range members {
			lines = append(lines, fmt.Sprintf("- %s %s:%d-%d %s=%d",
				item.qualname, item.filePath, item.startLine, item.endLine, metric, item.metric))
		}
	}
	return lines
}

func functionTextItems(groups FunctionGroups) map[string][]textItem {
	out := map[string][]textItem{}
	for key, members := range groups {
		items := make([]textItem, 0, len(members))
		for _, m := range members {
			items = append(items, textItem{m.FilePath, m.Qualname, m.StartLine, m.EndLine, m.LOC})
		}
		out[key] = sortTextItems(items)
	}
	return out
}

func blockTextItems(groups BlockGroups) map[string][]textItem {
	out := map[string][]textItem{}
	for key, members := range groups {
		items := make([]textItem, 0, len(members))
		for _, m := range members {
			items = append(items, textItem{m.FilePath, m.Qualname, m.StartLine, m.EndLine, m.Size})
		}
		out[key] = sortTextItems(items)
	}
	return out
}

func segmentTextItems(groups SegmentGroups) map[string][]textItem {
	out := map[string][]textItem{}
	for key, members := range groups {
		items := make([]textItem, 0, len(members))
		for _, m := range members {
			items = append(items, textItem{m.FilePath, m.Qualname, m.StartLine, m.EndLine, m.Size})
		}
		out[key] = sortTextItems(items)
	}
	return out
}

func sortTextItems(items []textItem) []textItem {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.filePath != b.filePath {
			return a.filePath < b.filePath
		}
		if a.startLine != b.startLine {
			return a.startLine < b.startLine
		}
		if a.endLine != b.endLine {
			return a.endLine < b.endLine
		}
		return a.qualname < b.qualname
	})
	return items
}

func formatMetaValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "(none)"
	case bool:
		if v {
			return "true"
		}
		return "false"
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return "(none)"
		}
		return trimmed
	default:
		return fmt.Sprintf("%v", v)
	}
}
