// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package analysis

import (
	"crypto/sha1" //nolint:gosec // identity hash, not a security boundary
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/kraklabs/codeclone/pkg/pyast"
)

// SHA1Hex returns the hex digest of s. SHA-1 is used for identity, not
// security: fingerprints only need to be stable and collision-sparse.
func SHA1Hex(s string) string {
	sum := sha1.Sum([]byte(s)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// BucketLOC classifies a function length into a coarse 20-line bucket.
// Two functions compare equal only when fingerprint and bucket both match,
// which keeps identical shapes at wildly different sizes apart.
func BucketLOC(loc int) string {
	return strconv.Itoa(loc / 20)
}

// CanonicalPrint serializes a CFG to its canonical string form: blocks in
// id order, each with its kind tag, normalized statement dumps, and sorted
// successor ids. Equal fingerprints imply byte-identical canonical prints.
func CanonicalPrint(g *CFG, cfg Config) string {
	parts := make([]string, 0, len(g.Blocks))
	for _, block := range g.Blocks {
		succ := append([]int(nil), block.Successors...)
		sort.Ints(succ)
		succIDs := make([]string, len(succ))
		for i, id := range succ {
			succIDs[i] = strconv.Itoa(id)
		}
		var sb strings.Builder
		sb.WriteString("BLOCK[")
		sb.WriteString(strconv.Itoa(block.ID))
		sb.WriteString("](")
		sb.WriteString(block.Kind.tag())
		sb.WriteString("):")
		sb.WriteString(DumpStmts(block.Statements, cfg))
		sb.WriteString("|SUCCESSORS:")
		sb.WriteString(strings.Join(succIDs, ","))
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, "|")
}

// Fingerprint hashes the canonical CFG print of a function body.
func Fingerprint(g *CFG, cfg Config) string {
	return SHA1Hex(CanonicalPrint(g, cfg))
}

// StmtHash hashes the normalized dump of one statement. Block and segment
// windows are sequences of these.
func StmtHash(s pyast.Stmt, cfg Config) string {
	return SHA1Hex(DumpStmt(s, cfg))
}
