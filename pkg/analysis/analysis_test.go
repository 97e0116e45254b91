// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/codeclone/pkg/pyast"
)

// parseModule parses source through the real surface parser; the analysis
// layer is exercised end to end on actual trees.
func parseModule(t *testing.T, source string) *pyast.Module {
	t.Helper()
	parser := pyast.NewParser(nil)
	mod, err := parser.Parse(context.Background(), []byte(source), "test.py")
	require.NoError(t, err)
	return mod
}

// firstFunction returns the first top-level function of source.
func firstFunction(t *testing.T, source string) *pyast.FunctionDef {
	t.Helper()
	mod := parseModule(t, source)
	for _, s := range mod.Body {
		if fn, ok := s.(*pyast.FunctionDef); ok {
			return fn
		}
	}
	t.Fatal("no function found in source")
	return nil
}

// fingerprintOf builds the CFG of the first function and fingerprints it.
func fingerprintOf(t *testing.T, source string) string {
	t.Helper()
	fn := firstFunction(t, source)
	graph := BuildCFG("test:fn", fn.Body)
	return Fingerprint(graph, DefaultConfig())
}
