// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"

	"github.com/kraklabs/codeclone/internal/errors"
	"github.com/kraklabs/codeclone/internal/ui"
	"github.com/kraklabs/codeclone/pkg/report"
	"github.com/kraklabs/codeclone/pkg/runner"
)

// errInterrupted marks a user-cancelled run; main exits 130 without
// writing any artifact.
var errInterrupted = fmt.Errorf("interrupted")

// run executes one full analysis invocation. A nil return means exit 0;
// typed errors carry their exit codes.
func run(opts *Options, flagSet map[string]bool) error {
	logger := newLogger(opts)
	slog.SetDefault(logger)

	fileCfg, err := loadFileConfig(opts.Root)
	if err != nil {
		return errors.NewContractError("invalid configuration file", err.Error(),
			"fix or remove "+ConfigFileName, err)
	}
	extraExcludes := applyFileConfig(opts, fileCfg, flagSet)

	if opts.MetricsAddr != "" {
		startMetricsServer(logger, opts.MetricsAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
	}()

	progressCfg := NewProgressConfig(opts)
	var bar *progressbar.ProgressBar

	r := runner.New(runner.Options{
		Root:                 opts.Root,
		MinLOC:               opts.MinLOC,
		MinStmt:              opts.MinStmt,
		Workers:              opts.Processes,
		CachePath:            opts.CachePath,
		MaxCacheSizeBytes:    int64(opts.MaxCacheSizeMB) * 1024 * 1024,
		BaselinePath:         opts.BaselinePath,
		MaxBaselineSizeBytes: int64(opts.MaxBaselineSizeMB) * 1024 * 1024,
		UpdateBaseline:       opts.UpdateBaseline,
		ExcludeDirs:          extraExcludes,
		Logger:               logger,
		OnProgress: func(current, total int64, _ string) {
			if bar == nil {
				bar = NewProgressBar(progressCfg, total, "Analyzing files")
			}
			if bar != nil {
				_ = bar.Set64(current)
			}
		},
	})

	res, err := r.Run(ctx)
	if bar != nil {
		_ = bar.Finish()
	}
	if err != nil {
		if ctx.Err() != nil {
			return errInterrupted
		}
		return errors.NewContractError("analysis run failed", err.Error(), "", err)
	}

	if res.CacheWarning != "" && !opts.Quiet {
		ui.Warn("%s", res.CacheWarning)
	}
	if res.BaselineWarning != "" && !opts.Quiet && !opts.UpdateBaseline {
		ui.Warn("%s", res.BaselineWarning)
	}

	input := report.Input{
		Meta:            res.Meta,
		FunctionGroups:  res.FunctionGroups,
		BlockGroups:     res.BlockGroups,
		SegmentGroups:   res.SegmentGroups,
		BlockFacts:      res.BlockFacts,
		BaselineTrusted: res.BaselineTrusted,
		NewFunctionKeys: res.NewFunctionKeys,
		NewBlockKeys:    res.NewBlockKeys,
	}

	if err := writeReports(opts, input); err != nil {
		return err
	}

	if opts.UpdateBaseline && !opts.Quiet {
		_, _ = ui.Green.Printf("Baseline updated: %s\n", opts.BaselinePath)
	}

	printSummary(opts, res.Summary)

	return decideExit(opts, res)
}

// decideExit applies the exit-code contract. Contract errors take
// priority over gating failures when both would apply.
func decideExit(opts *Options, res *runner.Result) error {
	gating := opts.GatingMode()

	if gating && !res.BaselineTrusted {
		return errors.NewContractError("untrusted baseline in gating mode",
			fmt.Sprintf("baseline_status = %q at %s", res.BaselineStatus, opts.BaselinePath),
			"regenerate the baseline with --update-baseline", nil)
	}
	if gating && len(res.SourceIOErrors) > 0 {
		return errors.NewContractError("unreadable source in gating mode",
			fmt.Sprintf("%d file(s) could not be read, first: %s",
				len(res.SourceIOErrors), res.SourceIOErrors[0]),
			"fix file permissions or encoding, or exclude the paths", nil)
	}

	newClones := len(res.NewFunctionKeys) + len(res.NewBlockKeys)
	if opts.FailOnNew && newClones > 0 {
		detail := describeNewClones(res)
		ui.Error("FAILED: new code clones detected")
		return errors.NewGatingError("new code clones detected", detail)
	}

	totalGroups := res.Summary.FunctionGroups + res.Summary.BlockGroups
	if opts.FailThreshold >= 0 && totalGroups > opts.FailThreshold {
		ui.Error("FAILED: total clone groups (%d) exceed threshold (%d)", totalGroups, opts.FailThreshold)
		return errors.NewGatingError("clone threshold exceeded",
			fmt.Sprintf("total clone groups (%d) exceed threshold (%d)", totalGroups, opts.FailThreshold))
	}

	if !opts.UpdateBaseline && !opts.FailOnNew && newClones > 0 && !opts.Quiet {
		ui.Warn("new clones detected but --fail-on-new not set; run with --update-baseline to accept them")
	}

	return nil
}

func describeNewClones(res *runner.Result) string {
	var parts []string
	if len(res.NewFunctionKeys) > 0 {
		parts = append(parts, fmt.Sprintf("new function groups: %s", strings.Join(res.NewFunctionKeys, ", ")))
	}
	if len(res.NewBlockKeys) > 0 {
		parts = append(parts, fmt.Sprintf("new block groups: %d", len(res.NewBlockKeys)))
	}
	return strings.Join(parts, "; ")
}

// writeReports emits the requested report files, each written atomically.
func writeReports(opts *Options, input report.Input) error {
	if opts.JSONOut != "" {
		data, err := report.ToJSON(input)
		if err != nil {
			return errors.NewContractError("JSON report failed", err.Error(), "", err)
		}
		if err := writeFileAtomic(opts.JSONOut, append(data, '\n')); err != nil {
			return errors.NewContractError("JSON report write failed", err.Error(), "", err)
		}
		if !opts.Quiet {
			fmt.Printf("JSON report saved: %s\n", opts.JSONOut)
		}
	}

	if opts.TextOut != "" {
		text := report.ToText(input)
		if err := writeFileAtomic(opts.TextOut, []byte(text)); err != nil {
			return errors.NewContractError("text report write failed", err.Error(), "", err)
		}
		if !opts.Quiet {
			fmt.Printf("Text report saved: %s\n", opts.TextOut)
		}
	}

	if opts.HTMLOut != "" {
		html := renderHTML(report.ToText(input))
		if err := writeFileAtomic(opts.HTMLOut, []byte(html)); err != nil {
			return errors.NewContractError("HTML report write failed", err.Error(), "", err)
		}
		if !opts.Quiet {
			fmt.Printf("HTML report saved: %s\n", opts.HTMLOut)
		}
	}

	return nil
}

// renderHTML wraps the deterministic text report; rich rendering is an
// external concern.
func renderHTML(text string) string {
	escaped := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(text)
	return "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\">" +
		"<title>codeclone report</title></head>\n" +
		"<body><pre>\n" + escaped + "</pre></body></html>\n"
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func newLogger(opts *Options) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelInfo
	}
	if opts.Debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func startMetricsServer(logger *slog.Logger, addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		logger.Info("metrics.http.start", "addr", addr, "path", "/metrics")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics.http.error", "err", err)
		}
	}()
}
