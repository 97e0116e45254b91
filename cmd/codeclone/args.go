// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/codeclone/internal/errors"
	"github.com/kraklabs/codeclone/pkg/contracts"
)

// Options is the fully resolved CLI configuration for one invocation.
type Options struct {
	Root string

	MinLOC    int
	MinStmt   int
	Processes int

	CachePath      string
	MaxCacheSizeMB int

	BaselinePath      string
	MaxBaselineSizeMB int
	UpdateBaseline    bool

	FailOnNew     bool
	FailThreshold int
	CI            bool

	HTMLOut string
	JSONOut string
	TextOut string

	NoProgress  bool
	NoColor     bool
	Quiet       bool
	Verbose     bool
	Debug       bool
	MetricsAddr string

	ShowVersion bool
}

// GatingMode reports whether this invocation gates: --ci, --fail-on-new,
// or an enabled --fail-threshold.
func (o *Options) GatingMode() bool {
	return o.CI || o.FailOnNew || o.FailThreshold >= 0
}

// newFlagSet declares the full flag surface.
func newFlagSet(opts *Options) *flag.FlagSet {
	fs := flag.NewFlagSet("codeclone", flag.ContinueOnError)

	fs.IntVar(&opts.MinLOC, "min-loc", 15, "Minimum lines of code for a function to be considered")
	fs.IntVar(&opts.MinStmt, "min-stmt", 6, "Minimum top-level statements for a function to be considered")
	fs.IntVar(&opts.Processes, "processes", 4, "Number of parallel analysis workers")

	fs.StringVar(&opts.CachePath, "cache-path", "", "Cache file path (default <root>/.cache/codeclone/cache.json)")
	fs.IntVar(&opts.MaxCacheSizeMB, "max-cache-size-mb", 50, "Maximum cache file size in MB")

	fs.StringVar(&opts.BaselinePath, "baseline", "codeclone.baseline.json", "Baseline file path")
	fs.IntVar(&opts.MaxBaselineSizeMB, "max-baseline-size-mb", 5, "Maximum baseline file size in MB")
	fs.BoolVar(&opts.UpdateBaseline, "update-baseline", false, "Overwrite the baseline with current results")

	fs.BoolVar(&opts.FailOnNew, "fail-on-new", false, "Exit 3 if clones not present in the baseline are detected")
	fs.IntVar(&opts.FailThreshold, "fail-threshold", -1, "Exit 3 if total clone groups exceed this number")
	fs.BoolVar(&opts.CI, "ci", false, "CI mode: implies --fail-on-new --no-color --quiet")

	fs.StringVar(&opts.HTMLOut, "html", "", "Write an HTML report to FILE (.html)")
	fs.StringVar(&opts.JSONOut, "json", "", "Write a JSON report to FILE (.json)")
	fs.StringVar(&opts.TextOut, "text", "", "Write a text report to FILE (.txt)")

	fs.BoolVar(&opts.NoProgress, "no-progress", false, "Disable the progress bar")
	fs.BoolVar(&opts.NoColor, "no-color", false, "Disable color output (NO_COLOR is also honored)")
	fs.BoolVarP(&opts.Quiet, "quiet", "q", false, "Suppress non-essential output")
	fs.BoolVarP(&opts.Verbose, "verbose", "v", false, "Verbose logging")
	fs.BoolVar(&opts.Debug, "debug", false, "Debug logging and stack traces on internal errors")
	fs.StringVar(&opts.MetricsAddr, "metrics-addr", "", "HTTP listen address for Prometheus metrics (empty to disable)")

	fs.BoolVarP(&opts.ShowVersion, "version", "V", false, "Show version and exit")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `codeclone - structural code clone detector

Detects structural duplication by comparing the control-flow shape of
functions rather than their text. Designed for CI gating: a baseline
snapshot captures existing duplication, and subsequent runs fail only
when new duplication appears.

Usage:
  codeclone [root] [options]

Options:
%s
Exit codes:
  0  success
  2  contract error (invalid arguments, untrusted baseline in gating
     mode, unreadable source in gating mode, failed atomic write)
  3  gating failure (new clones under --fail-on-new, or threshold exceeded)
  5  internal error

Examples:
  codeclone .                              Analyze the current tree
  codeclone src --json report.json         Analyze src/, write JSON report
  codeclone . --update-baseline            Snapshot current duplication
  codeclone . --ci                         Gate on new clones in CI

Environment Variables:
  %s=1    Include stack traces in internal error output
  NO_COLOR            Disable color output

`, fs.FlagUsages(), contracts.DebugEnvVar)
	}

	return fs
}

// parseArgs parses argv and applies defaults, CI implications, and the
// debug environment variable. It also reports which flags the user set
// explicitly, so file-config values never override them. Validation is
// separate so tests can probe it.
func parseArgs(argv []string) (*Options, map[string]bool, error) {
	opts := &Options{}
	fs := newFlagSet(opts)

	if err := fs.Parse(argv); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		return nil, nil, errors.NewContractError("invalid arguments", err.Error(), "see codeclone --help", err)
	}

	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	rest := fs.Args()
	switch len(rest) {
	case 0:
		opts.Root = "."
	case 1:
		opts.Root = rest[0]
	default:
		return nil, nil, errors.NewContractError("invalid arguments",
			fmt.Sprintf("unexpected extra arguments: %v", rest[1:]),
			"pass a single root directory", nil)
	}

	if opts.CI {
		opts.FailOnNew = true
		opts.NoColor = true
		opts.Quiet = true
	}

	if os.Getenv(contracts.DebugEnvVar) == "1" {
		opts.Debug = true
	}

	if opts.CachePath == "" {
		opts.CachePath = filepath.Join(opts.Root, ".cache", "codeclone", "cache.json")
	}

	return opts, explicit, nil
}

// validateArgs enforces the argument contract: positive numeric flags and
// matching report file extensions.
func validateArgs(opts *Options) error {
	if opts.MinLOC < 1 {
		return errors.NewContractError("invalid arguments", "--min-loc must be >= 1", "", nil)
	}
	if opts.MinStmt < 1 {
		return errors.NewContractError("invalid arguments", "--min-stmt must be >= 1", "", nil)
	}
	if opts.Processes < 1 {
		return errors.NewContractError("invalid arguments", "--processes must be >= 1", "", nil)
	}
	if opts.MaxCacheSizeMB < 1 {
		return errors.NewContractError("invalid arguments", "--max-cache-size-mb must be >= 1", "", nil)
	}
	if opts.MaxBaselineSizeMB < 1 {
		return errors.NewContractError("invalid arguments", "--max-baseline-size-mb must be >= 1", "", nil)
	}

	if err := checkExtension("--html", opts.HTMLOut, ".html"); err != nil {
		return err
	}
	if err := checkExtension("--json", opts.JSONOut, ".json"); err != nil {
		return err
	}
	if err := checkExtension("--text", opts.TextOut, ".txt"); err != nil {
		return err
	}

	return nil
}

func checkExtension(flagName, path, wantExt string) error {
	if path == "" {
		return nil
	}
	if !strings.EqualFold(filepath.Ext(path), wantExt) {
		return errors.NewContractError("invalid output path",
			fmt.Sprintf("%s requires a %s file, got %q", flagName, wantExt, path),
			fmt.Sprintf("rename the output file to end in %s", wantExt), nil)
	}
	return nil
}
