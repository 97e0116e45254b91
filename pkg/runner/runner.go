// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package runner orchestrates a full analysis run: scan, cache gating, the
// parallel per-file pipeline, grouping, baseline diff, and report
// preparation. Workers own their inputs exclusively; the driver re-sorts
// every externally visible structure after the parallel phase so worker
// completion order is never observable.
package runner

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"log/slog"

	"github.com/kraklabs/codeclone/pkg/analysis"
	"github.com/kraklabs/codeclone/pkg/baseline"
	"github.com/kraklabs/codeclone/pkg/cache"
	"github.com/kraklabs/codeclone/pkg/contracts"
	"github.com/kraklabs/codeclone/pkg/pyast"
	"github.com/kraklabs/codeclone/pkg/report"
	"github.com/kraklabs/codeclone/pkg/scanner"
)

// ParseTimeout is the per-file parse time budget. Breaching it classifies
// the file as a parse failure; the run continues.
const ParseTimeout = 5 * time.Second

// ProgressCallback reports per-file progress (1-based current, total).
type ProgressCallback func(current, total int64, phase string)

// Options configures one run.
type Options struct {
	Root    string
	MinLOC  int
	MinStmt int
	Workers int

	CachePath         string
	MaxCacheSizeBytes int64

	BaselinePath         string
	MaxBaselineSizeBytes int64
	UpdateBaseline       bool

	ExcludeDirs []string

	Logger     *slog.Logger
	OnProgress ProgressCallback
}

// Summary carries the run accounting shown to the user. The invariant
// FilesFound == FilesAnalyzed + CacheHits + FilesSkipped holds for every
// completed run.
type Summary struct {
	FilesFound       int
	FilesAnalyzed    int
	CacheHits        int
	FilesSkipped     int
	FunctionGroups   int
	BlockGroups      int
	SegmentGroups    int
	SuppressedGroups int
	NewClones        int
	SourceIOSkipped  int
	ParseFailures    int
	Duration         time.Duration
}

// Result is the complete outcome of a run, ready for serialization and
// the exit-code decision.
type Result struct {
	Summary Summary

	FunctionGroups report.FunctionGroups
	BlockGroups    report.BlockGroups
	SegmentGroups  report.SegmentGroups
	BlockFacts     map[string]report.Facts

	BaselineStatus  baseline.Status
	BaselineWarning string
	BaselineTrusted bool

	CacheStatus  cache.Status
	CacheWarning string
	CacheUsed    bool

	// NewFunctionKeys/NewBlockKeys are non-nil whenever the baseline is
	// trusted, empty meaning "nothing new".
	NewFunctionKeys []string
	NewBlockKeys    []string

	// SourceIOErrors lists files that could not be read; gating mode turns
	// a non-empty list into a contract error.
	SourceIOErrors []string

	Meta map[string]any

	baselineMeta *baseline.Meta
}

// Runner executes analysis runs.
type Runner struct {
	opts   Options
	logger *slog.Logger
	parser *pyast.Parser
}

// New creates a runner.
func New(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MinLOC <= 0 {
		opts.MinLOC = 15
	}
	if opts.MinStmt <= 0 {
		opts.MinStmt = 6
	}
	return &Runner{
		opts:   opts,
		logger: logger,
		parser: pyast.NewParser(logger),
	}
}

// fileResult is the typed per-file outcome returned by workers.
type fileResult struct {
	index    int
	wirePath string
	stat     scanner.StatSig
	units    *analysis.FileUnits
	readErr  error
	parseErr error
}

// Run executes the pipeline. Cancellation via ctx aborts before any
// baseline or cache write; there is no partial-result commit.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	r.logger.Info("run.start", "root", r.opts.Root, "workers", r.opts.Workers)

	scn := scanner.New(r.logger, r.opts.ExcludeDirs)
	scanResult, err := scn.Scan(r.opts.Root)
	if err != nil {
		return nil, err
	}

	store := cache.New(r.opts.CachePath, scanResult.Root)
	store.Load(r.opts.MaxCacheSizeBytes)
	r.logger.Info("cache.load.status", "path", r.opts.CachePath, "status", string(store.Status))

	var allUnits []analysis.Unit
	var allBlocks []analysis.BlockUnit
	var allSegments []analysis.SegmentUnit

	cacheHits := 0
	var toProcess []scanner.File
	for _, f := range scanResult.Files {
		if entry, ok := store.Hit(f.Rel, f.Stat); ok {
			cacheHits++
			metricCacheHits.Inc()
			allUnits = append(allUnits, entry.Units...)
			allBlocks = append(allBlocks, entry.Blocks...)
			allSegments = append(allSegments, entry.Segments...)
			continue
		}
		toProcess = append(toProcess, f)
	}

	r.logger.Info("run.discovery",
		"files_found", len(scanResult.Files),
		"cache_hits", cacheHits,
		"to_process", len(toProcess),
		"skipped_oversize", len(scanResult.Skips),
	)

	results := r.processFiles(ctx, toProcess)
	if err := ctx.Err(); err != nil {
		r.logger.Info("run.cancelled")
		return nil, err
	}

	// Rebuild the cache from this scan only, so stale files age out.
	fresh := cache.New(r.opts.CachePath, scanResult.Root)
	for _, f := range scanResult.Files {
		if entry, ok := store.Hit(f.Rel, f.Stat); ok {
			fresh.Put(f.Rel, entry)
		}
	}

	analyzed := 0
	parseFailures := 0
	var sourceIOErrors []string

	for _, fr := range results {
		switch {
		case fr.readErr != nil:
			metricSourceIOErrors.Inc()
			sourceIOErrors = append(sourceIOErrors, toProcess[fr.index].Path)
			r.logger.Warn("run.file.read_error", "path", toProcess[fr.index].Path, "err", fr.readErr)
		case fr.parseErr != nil:
			metricParseErrors.Inc()
			parseFailures++
			r.logger.Warn("run.file.parse_error", "path", toProcess[fr.index].Path, "err", fr.parseErr)
		default:
			analyzed++
			metricFilesAnalyzed.Inc()
			allUnits = append(allUnits, fr.units.Units...)
			allBlocks = append(allBlocks, fr.units.Blocks...)
			allSegments = append(allSegments, fr.units.Segments...)
			fresh.Put(fr.wirePath, cache.Entry{
				Stat:     fr.stat,
				Units:    fr.units.Units,
				Blocks:   fr.units.Blocks,
				Segments: fr.units.Segments,
			})
		}
	}

	sortUnits(allUnits)
	sortBlocks(allBlocks)
	sortSegments(allSegments)

	functionGroups := report.BuildFunctionGroups(allUnits)
	blockGroups := report.BuildBlockGroups(allBlocks)
	segmentGroups := report.BuildSegmentGroups(allSegments)

	res := &Result{
		FunctionGroups: functionGroups,
		SegmentGroups:  segmentGroups,
		CacheStatus:    store.Status,
		CacheWarning:   store.Warning,
		CacheUsed:      store.Status == cache.StatusOK,
		SourceIOErrors: sourceIOErrors,
	}

	r.applyBaseline(res, functionGroups, blockGroups)

	// Report preparation: block windows merge per site, segment groups
	// merge and suppress boilerplate. Group keys are untouched.
	res.BlockGroups = report.PrepareBlockReportGroups(blockGroups)
	preparedSegments, suppressed := report.PrepareSegmentReportGroups(segmentGroups)
	res.SegmentGroups = preparedSegments

	facts := report.NewFactsBuilder(r.logger, r.parser)
	res.BlockFacts = facts.BuildBlockGroupFacts(res.BlockGroups)

	if err := fresh.Save(); err != nil {
		return nil, fmt.Errorf("cache write failed: %w", err)
	}

	res.Summary = Summary{
		FilesFound:       len(scanResult.Files) + len(scanResult.Skips),
		FilesAnalyzed:    analyzed,
		CacheHits:        cacheHits,
		FilesSkipped:     len(scanResult.Skips) + parseFailures + len(sourceIOErrors),
		FunctionGroups:   len(functionGroups),
		BlockGroups:      len(res.BlockGroups),
		SegmentGroups:    len(preparedSegments),
		SuppressedGroups: suppressed,
		NewClones:        len(res.NewFunctionKeys) + len(res.NewBlockKeys),
		SourceIOSkipped:  len(sourceIOErrors),
		ParseFailures:    parseFailures,
		Duration:         time.Since(start),
	}

	res.Meta = r.buildMeta(res)

	r.logger.Info("run.complete",
		"files_analyzed", analyzed,
		"cache_hits", cacheHits,
		"function_groups", len(functionGroups),
		"block_groups", len(res.BlockGroups),
		"segment_groups", len(preparedSegments),
		"new_clones", res.Summary.NewClones,
		"duration_ms", res.Summary.Duration.Milliseconds(),
	)

	return res, nil
}

// applyBaseline loads (and in update mode rewrites) the baseline, then
// computes the diff against the current group keys.
func (r *Runner) applyBaseline(res *Result, functionGroups report.FunctionGroups, blockGroups report.BlockGroups) {
	functionKeys := report.Keys(functionGroups)
	blockKeys := report.Keys(blockGroups)

	loaded := baseline.Load(r.opts.BaselinePath, r.opts.MaxBaselineSizeBytes)
	res.BaselineStatus = loaded.Status
	res.BaselineWarning = loaded.Warning
	res.BaselineTrusted = loaded.Trusted()
	if loaded.Trusted() {
		res.baselineMeta = &loaded.Baseline.Meta
	}

	if r.opts.UpdateBaseline {
		fresh := baseline.New(r.opts.BaselinePath, functionKeys, blockKeys, time.Now())
		if err := fresh.Save(); err != nil {
			res.BaselineWarning = fmt.Sprintf("baseline write failed: %v", err)
			res.BaselineStatus = baseline.StatusInvalidJSON
			res.BaselineTrusted = false
			return
		}
		r.logger.Info("baseline.updated", "path", r.opts.BaselinePath,
			"functions", len(functionKeys), "blocks", len(blockKeys))
	}

	if loaded.Trusted() {
		newFunctions, newBlocks := loaded.Baseline.Diff(functionKeys, blockKeys)
		if newFunctions == nil {
			newFunctions = []string{}
		}
		if newBlocks == nil {
			newBlocks = []string{}
		}
		res.NewFunctionKeys = newFunctions
		res.NewBlockKeys = newBlocks
		return
	}

	// Untrusted baseline: diff against empty, every key is new.
	res.NewFunctionKeys = functionKeys
	res.NewBlockKeys = blockKeys
}

func (r *Runner) buildMeta(res *Result) map[string]any {
	baselinePayloadSHA := ""
	baselineSchema := ""
	baselineFingerprint := ""
	if res.baselineMeta != nil {
		baselinePayloadSHA = res.baselineMeta.PayloadSHA256
		baselineSchema = res.baselineMeta.SchemaVersion
		baselineFingerprint = res.baselineMeta.FingerprintVersion
	}
	return map[string]any{
		"codeclone_version":            contracts.Version,
		"python_tag":                   contracts.PythonTag,
		"baseline_path":                r.opts.BaselinePath,
		"baseline_status":              string(res.BaselineStatus),
		"baseline_loaded":              res.BaselineTrusted,
		"baseline_payload_sha256":      baselinePayloadSHA,
		"baseline_schema_version":      baselineSchema,
		"baseline_fingerprint_version": baselineFingerprint,
		"cache_path":                   r.opts.CachePath,
		"cache_status":                 string(res.CacheStatus),
		"cache_used":                   res.CacheUsed,
		"files_skipped_source_io":      res.Summary.SourceIOSkipped,
	}
}

// processFiles analyzes files in parallel using a worker pool; small sets
// fall back to sequential processing.
func (r *Runner) processFiles(ctx context.Context, files []scanner.File) []fileResult {
	if len(files) == 0 {
		return nil
	}
	if len(files) < 10 || r.opts.Workers <= 1 {
		return r.processSequential(ctx, files)
	}

	jobs := make(chan int, len(files))
	resultsChan := make(chan fileResult, len(files))

	var progressCount int64
	total := int64(len(files))

	var wg sync.WaitGroup
	for w := 0; w < r.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				select {
				case <-ctx.Done():
					return
				default:
				}
				resultsChan <- r.processOne(ctx, i, files[i])
				current := atomic.AddInt64(&progressCount, 1)
				r.reportProgress(current, total)
			}
		}()
	}

	for i := range files {
		jobs <- i
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	results := make([]fileResult, 0, len(files))
	for fr := range resultsChan {
		results = append(results, fr)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })
	return results
}

func (r *Runner) processSequential(ctx context.Context, files []scanner.File) []fileResult {
	results := make([]fileResult, 0, len(files))
	total := int64(len(files))
	for i, f := range files {
		select {
		case <-ctx.Done():
			return results
		default:
		}
		results = append(results, r.processOne(ctx, i, f))
		r.reportProgress(int64(i+1), total)
	}
	return results
}

// processOne runs the full per-file pipeline: read, parse (bounded by the
// parse budget), extract units and windows.
func (r *Runner) processOne(ctx context.Context, index int, f scanner.File) fileResult {
	out := fileResult{index: index, wirePath: f.Rel, stat: f.Stat}

	content, err := os.ReadFile(f.Path)
	if err != nil {
		out.readErr = err
		return out
	}
	if !utf8.Valid(content) {
		out.readErr = fmt.Errorf("not valid UTF-8")
		return out
	}

	parseCtx, cancel := context.WithTimeout(ctx, ParseTimeout)
	defer cancel()

	mod, err := r.parser.Parse(parseCtx, content, f.Path)
	if err != nil {
		out.parseErr = err
		return out
	}

	out.units = analysis.ExtractUnits(mod, f.Path, scanner.ModuleName(f.Rel), analysis.DefaultConfig(), analysis.ExtractOptions{
		MinLOC:  r.opts.MinLOC,
		MinStmt: r.opts.MinStmt,
	})
	return out
}

func (r *Runner) reportProgress(current, total int64) {
	if r.opts.OnProgress != nil {
		r.opts.OnProgress(current, total, "analyzing")
	}
}

func sortUnits(units []analysis.Unit) {
	sort.Slice(units, func(i, j int) bool {
		a, b := units[i], units[j]
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.Qualname < b.Qualname
	})
}

func sortBlocks(blocks []analysis.BlockUnit) {
	sort.Slice(blocks, func(i, j int) bool {
		a, b := blocks[i], blocks[j]
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.Qualname < b.Qualname
	})
}

func sortSegments(segments []analysis.SegmentUnit) {
	sort.Slice(segments, func(i, j int) bool {
		a, b := segments[i], segments[j]
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		if a.StartLine != b.StartLine {
			return a.StartLine < b.StartLine
		}
		return a.Qualname < b.Qualname
	})
}
