// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package scanner walks a rooted source tree deterministically and hands
// the pipeline a sorted list of candidate Python files with their stat
// signatures. It refuses to scan sensitive system directories and silently
// skips paths that resolve outside the root through symlinks.
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"log/slog"
)

// DefaultExcludes are directory names pruned from every scan.
var DefaultExcludes = []string{
	".git",
	".venv",
	"venv",
	"__pycache__",
	"site-packages",
	"migrations",
	"alembic",
	"dist",
	"build",
	".tox",
}

// sensitiveDirs are roots the scanner refuses outright.
var sensitiveDirs = map[string]bool{
	"/etc":         true,
	"/sys":         true,
	"/proc":        true,
	"/dev":         true,
	"/root":        true,
	"/boot":        true,
	"/var":         true,
	"/private/var": true,
	"/usr/bin":     true,
	"/usr/sbin":    true,
	"/private/etc": true,
}

// MaxFiles bounds the scan so adversarial trees cannot wedge a run.
const MaxFiles = 100_000

// MaxFileSizeBytes is the per-file size ceiling; larger files are recorded
// as skips.
const MaxFileSizeBytes = 10 * 1024 * 1024

// StatSig is the (mtime_ns, size) signature used for cache gating.
type StatSig struct {
	MtimeNS int64
	Size    int64
}

// SkipReason classifies why a discovered file was not analyzed.
type SkipReason string

const (
	SkipTooLarge   SkipReason = "too_large"
	SkipUnreadable SkipReason = "unreadable"
	SkipDecode     SkipReason = "decode_error"
	SkipParse      SkipReason = "parse_error"
)

// File is one discovered source file.
type File struct {
	Path string // absolute path
	Rel  string // root-relative wire path, forward slashes
	Stat StatSig
}

// Skip records a discovered-but-unusable file.
type Skip struct {
	Path   string
	Reason SkipReason
}

// Result is the outcome of a scan.
type Result struct {
	Root  string
	Files []File
	Skips []Skip
}

// Scanner discovers Python files under a root.
type Scanner struct {
	logger   *slog.Logger
	excludes map[string]bool
}

// New creates a scanner with the default exclude set plus extra names.
func New(logger *slog.Logger, extraExcludes []string) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	excludes := make(map[string]bool, len(DefaultExcludes)+len(extraExcludes))
	for _, name := range DefaultExcludes {
		excludes[name] = true
	}
	for _, name := range extraExcludes {
		if name != "" {
			excludes[name] = true
		}
	}
	return &Scanner{logger: logger, excludes: excludes}
}

// Scan validates root and walks it, returning files sorted by path.
func (s *Scanner) Scan(root string) (*Result, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("invalid root path %q: %w", root, err)
	}
	rootResolved, err := filepath.EvalSymlinks(rootAbs)
	if err != nil {
		return nil, fmt.Errorf("invalid root path %q: %w", root, err)
	}
	info, err := os.Stat(rootResolved)
	if err != nil {
		return nil, fmt.Errorf("invalid root path %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory: %s", root)
	}

	if err := checkSensitive(rootResolved); err != nil {
		return nil, err
	}

	result := &Result{Root: rootResolved}
	count := 0

	err = filepath.WalkDir(rootResolved, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		base := filepath.Base(path)
		if d.IsDir() {
			if path != rootResolved && s.excludes[base] {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(base, ".py") {
			return nil
		}
		if isSymlink(d) {
			// Resolve and verify the target stays under the root.
			resolved, err := filepath.EvalSymlinks(path)
			if err != nil || !isUnder(resolved, rootResolved) {
				return nil
			}
		}

		// os.Stat follows symlinks, so size and mtime describe the target.
		fi, err := os.Stat(path)
		if err != nil || !fi.Mode().IsRegular() {
			return nil
		}

		count++
		if count > MaxFiles {
			return fmt.Errorf("file count exceeds limit of %d; use a more specific root", MaxFiles)
		}

		if fi.Size() > MaxFileSizeBytes {
			result.Skips = append(result.Skips, Skip{Path: path, Reason: SkipTooLarge})
			return nil
		}

		rel, err := filepath.Rel(rootResolved, path)
		if err != nil {
			return nil
		}

		result.Files = append(result.Files, File{
			Path: path,
			Rel:  filepath.ToSlash(rel),
			Stat: statSig(fi),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result.Files, func(i, j int) bool {
		return result.Files[i].Path < result.Files[j].Path
	})
	sort.Slice(result.Skips, func(i, j int) bool {
		return result.Skips[i].Path < result.Skips[j].Path
	})

	s.logger.Debug("scan.complete",
		"root", rootResolved,
		"files", len(result.Files),
		"skips", len(result.Skips),
	)
	return result, nil
}

// StatFile returns the current stat signature of path.
func StatFile(path string) (StatSig, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return StatSig{}, err
	}
	return statSig(fi), nil
}

func statSig(fi fs.FileInfo) StatSig {
	return StatSig{
		MtimeNS: fi.ModTime().UnixNano(),
		Size:    fi.Size(),
	}
}

func isSymlink(d fs.DirEntry) bool {
	return d.Type()&fs.ModeSymlink != 0
}

func isUnder(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// checkSensitive rejects roots inside system directories. Temp directories
// are always allowed so tests and tooling can scan scratch trees.
func checkSensitive(root string) error {
	tempRoot, err := filepath.EvalSymlinks(os.TempDir())
	if err == nil && isUnder(root, tempRoot) {
		return nil
	}
	if sensitiveDirs[root] {
		return fmt.Errorf("cannot scan sensitive directory: %s", root)
	}
	for dir := range sensitiveDirs {
		if strings.HasPrefix(root, dir+string(filepath.Separator)) {
			return fmt.Errorf("cannot scan under sensitive directory: %s", root)
		}
	}
	return nil
}

// ModuleName derives the dotted module name of a file relative to the scan
// root: pkg/mod.py -> pkg.mod, pkg/__init__.py -> pkg.
func ModuleName(rel string) string {
	stem := strings.TrimSuffix(rel, ".py")
	parts := strings.Split(filepath.ToSlash(stem), "/")
	if len(parts) > 0 && parts[len(parts)-1] == "__init__" {
		parts = parts[:len(parts)-1]
	}
	return strings.Join(parts, ".")
}
