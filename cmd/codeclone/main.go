// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main implements the codeclone CLI: a structural code clone
// detector for Python source trees, built for CI gating against a
// baseline snapshot.
//
// Usage:
//
//	codeclone [root] [options]
//	codeclone . --update-baseline     Snapshot current duplication
//	codeclone . --ci                  Gate on new clones
package main

import (
	"fmt"
	"os"

	"github.com/kraklabs/codeclone/internal/errors"
	"github.com/kraklabs/codeclone/internal/ui"
	"github.com/kraklabs/codeclone/pkg/contracts"
)

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(argv []string) (exitCode int) {
	debugMode := os.Getenv(contracts.DebugEnvVar) == "1"

	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "INTERNAL ERROR: %v\n", r)
			if debugMode {
				panic(r)
			}
			exitCode = int(contracts.ExitInternalError)
		}
	}()

	opts, explicitFlags, err := parseArgs(argv)
	if err != nil {
		printError(err, debugMode)
		return int(errors.ExitCodeFor(err))
	}
	debugMode = debugMode || opts.Debug

	if opts.ShowVersion {
		fmt.Printf("codeclone version %s\n", contracts.Version)
		return 0
	}

	if err := validateArgs(opts); err != nil {
		printError(err, debugMode)
		return int(errors.ExitCodeFor(err))
	}

	ui.InitColors(opts.NoColor)

	if err := run(opts, explicitFlags); err != nil {
		if err == errInterrupted {
			fmt.Fprintln(os.Stderr, "Interrupted.")
			return 130
		}
		printError(err, debugMode)
		return int(errors.ExitCodeFor(err))
	}
	return 0
}

func printError(err error, debugMode bool) {
	code := errors.ExitCodeFor(err)
	if code == contracts.ExitInternalError {
		fmt.Fprintf(os.Stderr, "INTERNAL ERROR: %v\n", err)
		return
	}
	ue, ok := err.(*errors.UserError)
	if !ok {
		ui.Error("%v", err)
		return
	}
	ui.Error("%s", ue.Title)
	if ue.Cause != "" {
		fmt.Fprintf(os.Stderr, "  %s\n", ue.Cause)
	}
	if ue.Hint != "" {
		fmt.Fprintf(os.Stderr, "  hint: %s\n", ue.Hint)
	}
	if debugMode && ue.Err != nil {
		fmt.Fprintf(os.Stderr, "  cause: %v\n", ue.Err)
	}
}
