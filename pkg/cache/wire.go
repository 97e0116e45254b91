// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"encoding/json"
	"sort"

	"github.com/kraklabs/codeclone/pkg/analysis"
	"github.com/kraklabs/codeclone/pkg/scanner"
)

// Wire layout: each file entry is {st: [mtime_ns, size], u: [...], b: [...],
// s: [...]} with positional rows and empty sections omitted. Row layouts:
//
//	u: [qualname, start, end, loc, stmt_count, fingerprint, loc_bucket]
//	b: [qualname, start, end, size, block_hash]
//	s: [qualname, start, end, size, segment_hash, segment_sig,
//	    unique_kinds, has_control_flow]
//
// Runtime file paths never hit the wire; entries are keyed by root-relative
// wire path and paths are rebuilt against the current root on load.

func encodeEntry(entry Entry) map[string]any {
	wire := map[string]any{
		"st": []any{entry.Stat.MtimeNS, entry.Stat.Size},
	}

	units := append([]analysis.Unit(nil), entry.Units...)
	sort.Slice(units, func(i, j int) bool {
		a, b := units[i], units[j]
		if a.Qualname != b.Qualname {
			return a.Qualname < b.Qualname
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		if a.EndLine != b.EndLine {
			return a.EndLine < b.EndLine
		}
		return a.Fingerprint < b.Fingerprint
	})
	if len(units) > 0 {
		rows := make([]any, len(units))
		for i, u := range units {
			rows[i] = []any{u.Qualname, u.StartLine, u.EndLine, u.LOC, u.StmtCount, u.Fingerprint, u.LOCBucket}
		}
		wire["u"] = rows
	}

	blocks := append([]analysis.BlockUnit(nil), entry.Blocks...)
	sort.Slice(blocks, func(i, j int) bool {
		a, b := blocks[i], blocks[j]
		if a.Qualname != b.Qualname {
			return a.Qualname < b.Qualname
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		if a.EndLine != b.EndLine {
			return a.EndLine < b.EndLine
		}
		return a.BlockHash < b.BlockHash
	})
	if len(blocks) > 0 {
		rows := make([]any, len(blocks))
		for i, b := range blocks {
			rows[i] = []any{b.Qualname, b.StartLine, b.EndLine, b.Size, b.BlockHash}
		}
		wire["b"] = rows
	}

	segments := append([]analysis.SegmentUnit(nil), entry.Segments...)
	sort.Slice(segments, func(i, j int) bool {
		a, b := segments[i], segments[j]
		if a.Qualname != b.Qualname {
			return a.Qualname < b.Qualname
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		if a.EndLine != b.EndLine {
			return a.EndLine < b.EndLine
		}
		return a.SegmentHash < b.SegmentHash
	})
	if len(segments) > 0 {
		rows := make([]any, len(segments))
		for i, s := range segments {
			hasControl := 0
			if s.HasControlFlow {
				hasControl = 1
			}
			rows[i] = []any{s.Qualname, s.StartLine, s.EndLine, s.Size, s.SegmentHash, s.SegmentSig, s.UniqueKinds, hasControl}
		}
		wire["s"] = rows
	}

	return wire
}

func decodeEntry(value any, runtimePath string) (Entry, bool) {
	obj, ok := value.(map[string]any)
	if !ok {
		return Entry{}, false
	}

	statList, ok := obj["st"].([]any)
	if !ok || len(statList) != 2 {
		return Entry{}, false
	}
	mtimeNS, ok1 := asInt64(statList[0])
	size, ok2 := asInt64(statList[1])
	if !ok1 || !ok2 {
		return Entry{}, false
	}

	entry := Entry{Stat: scanner.StatSig{MtimeNS: mtimeNS, Size: size}}

	if unitsObj, present := obj["u"]; present {
		rows, ok := unitsObj.([]any)
		if !ok {
			return Entry{}, false
		}
		for _, row := range rows {
			unit, ok := decodeUnit(row, runtimePath)
			if !ok {
				return Entry{}, false
			}
			entry.Units = append(entry.Units, unit)
		}
	}

	if blocksObj, present := obj["b"]; present {
		rows, ok := blocksObj.([]any)
		if !ok {
			return Entry{}, false
		}
		for _, row := range rows {
			block, ok := decodeBlock(row, runtimePath)
			if !ok {
				return Entry{}, false
			}
			entry.Blocks = append(entry.Blocks, block)
		}
	}

	if segmentsObj, present := obj["s"]; present {
		rows, ok := segmentsObj.([]any)
		if !ok {
			return Entry{}, false
		}
		for _, row := range rows {
			segment, ok := decodeSegment(row, runtimePath)
			if !ok {
				return Entry{}, false
			}
			entry.Segments = append(entry.Segments, segment)
		}
	}

	return entry, true
}

func decodeUnit(value any, runtimePath string) (analysis.Unit, bool) {
	row, ok := value.([]any)
	if !ok || len(row) != 7 {
		return analysis.Unit{}, false
	}
	qualname, ok0 := row[0].(string)
	start, ok1 := asInt(row[1])
	end, ok2 := asInt(row[2])
	loc, ok3 := asInt(row[3])
	stmtCount, ok4 := asInt(row[4])
	fingerprint, ok5 := row[5].(string)
	locBucket, ok6 := row[6].(string)
	if !(ok0 && ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return analysis.Unit{}, false
	}
	return analysis.Unit{
		Qualname:    qualname,
		FilePath:    runtimePath,
		StartLine:   start,
		EndLine:     end,
		LOC:         loc,
		StmtCount:   stmtCount,
		Fingerprint: fingerprint,
		LOCBucket:   locBucket,
	}, true
}

func decodeBlock(value any, runtimePath string) (analysis.BlockUnit, bool) {
	row, ok := value.([]any)
	if !ok || len(row) != 5 {
		return analysis.BlockUnit{}, false
	}
	qualname, ok0 := row[0].(string)
	start, ok1 := asInt(row[1])
	end, ok2 := asInt(row[2])
	size, ok3 := asInt(row[3])
	blockHash, ok4 := row[4].(string)
	if !(ok0 && ok1 && ok2 && ok3 && ok4) {
		return analysis.BlockUnit{}, false
	}
	return analysis.BlockUnit{
		BlockHash: blockHash,
		FilePath:  runtimePath,
		Qualname:  qualname,
		StartLine: start,
		EndLine:   end,
		Size:      size,
	}, true
}

func decodeSegment(value any, runtimePath string) (analysis.SegmentUnit, bool) {
	row, ok := value.([]any)
	if !ok || len(row) != 8 {
		return analysis.SegmentUnit{}, false
	}
	qualname, ok0 := row[0].(string)
	start, ok1 := asInt(row[1])
	end, ok2 := asInt(row[2])
	size, ok3 := asInt(row[3])
	segmentHash, ok4 := row[4].(string)
	segmentSig, ok5 := row[5].(string)
	uniqueKinds, ok6 := asInt(row[6])
	hasControl, ok7 := asInt(row[7])
	if !(ok0 && ok1 && ok2 && ok3 && ok4 && ok5 && ok6 && ok7) {
		return analysis.SegmentUnit{}, false
	}
	return analysis.SegmentUnit{
		SegmentHash:    segmentHash,
		SegmentSig:     segmentSig,
		FilePath:       runtimePath,
		Qualname:       qualname,
		StartLine:      start,
		EndLine:        end,
		Size:           size,
		UniqueKinds:    uniqueKinds,
		HasControlFlow: hasControl != 0,
	}, true
}

func asInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

func asInt(value any) (int, bool) {
	n, ok := asInt64(value)
	return int(n), ok
}
