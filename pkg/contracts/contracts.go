// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package contracts pins the version constants and exit codes that form the
// stable external contract of codeclone: baseline/cache/report schema
// versions, the fingerprint version, the parser compatibility tag, and the
// CLI exit-code taxonomy.
package contracts

// Version is the tool version (set via ldflags during release builds).
var Version = "dev"

const (
	// GeneratorName identifies baselines produced by this tool.
	GeneratorName = "codeclone"

	// BaselineSchemaVersion is the supported baseline document schema.
	BaselineSchemaVersion = "1.0"

	// FingerprintVersion changes whenever normalization or CFG canonical
	// printing changes in a way that shifts fingerprints. Incrementing it
	// invalidates every existing baseline and cache; there is no migration.
	FingerprintVersion = "1"

	// CacheVersion is the cache document schema version.
	CacheVersion = "1.1"

	// ReportSchemaVersion is the JSON report schema version.
	ReportSchemaVersion = "1.1"
)

// PythonTag is the opaque compatibility tag for the surface parser.
// Analyses are only comparable when produced under the same tag; it is gated
// on baseline and cache load exactly like a runtime version would be.
// The tag tracks the tree-sitter Python grammar line bundled with the
// go-tree-sitter dependency.
const PythonTag = "tspy14"

// ExitCode is the stable CLI exit-code contract.
type ExitCode int

const (
	ExitSuccess       ExitCode = 0
	ExitContractError ExitCode = 2
	ExitGatingFailure ExitCode = 3
	ExitInternalError ExitCode = 5
)

// DebugEnvVar enables stack traces on internal errors when set to "1".
const DebugEnvVar = "CODECLONE_DEBUG"
