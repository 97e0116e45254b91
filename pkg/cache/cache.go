// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache implements the incremental per-file result cache. The
// cache is tamper-evident (HMAC over the canonical payload JSON) but never
// load-bearing: any trust failure degrades to an empty cache with a
// warning, and the run proceeds from scratch.
package cache

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kraklabs/codeclone/pkg/analysis"
	"github.com/kraklabs/codeclone/pkg/canonjson"
	"github.com/kraklabs/codeclone/pkg/contracts"
	"github.com/kraklabs/codeclone/pkg/scanner"
)

// MaxSizeBytes is the default cache size ceiling.
const MaxSizeBytes = 50 * 1024 * 1024

// signingKey derives the HMAC key. The cache is integrity-checked, not
// secret: the key only has to be fixed per process policy so casual edits
// and truncation are detected.
var signingKey = []byte("codeclone-cache-hmac-v1")

// Status classifies a cache load attempt.
type Status string

const (
	StatusOK                  Status = "ok"
	StatusMissing             Status = "missing"
	StatusTooLarge            Status = "too_large"
	StatusUnreadable          Status = "unreadable"
	StatusInvalidJSON         Status = "invalid_json"
	StatusInvalidType         Status = "invalid_type"
	StatusVersionMismatch     Status = "version_mismatch"
	StatusPythonTagMismatch   Status = "python_tag_mismatch"
	StatusFingerprintMismatch Status = "mismatch_fingerprint_version"
	StatusIntegrityFailed     Status = "integrity_failed"
)

// Entry is the cached analysis of one file, keyed by its wire path
// (path relative to the scan root).
type Entry struct {
	Stat     scanner.StatSig
	Units    []analysis.Unit
	Blocks   []analysis.BlockUnit
	Segments []analysis.SegmentUnit
}

// Cache holds per-file entries for one scan root.
type Cache struct {
	Path string
	Root string

	Status  Status
	Warning string

	entries map[string]Entry
}

// New creates an empty cache bound to path and root.
func New(path, root string) *Cache {
	return &Cache{
		Path:    path,
		Root:    root,
		Status:  StatusMissing,
		entries: map[string]Entry{},
	}
}

// ignore resets the cache to empty with the given status and warning.
// Every trust failure funnels through here: the cache fails open.
func (c *Cache) ignore(status Status, warning string) {
	c.Status = status
	c.Warning = warning
	c.entries = map[string]Entry{}
}

// Load reads and verifies the cache file. It never returns an error;
// failures leave an empty cache and a warning for the driver to surface.
func (c *Cache) Load(maxSizeBytes int64) {
	if maxSizeBytes <= 0 {
		maxSizeBytes = MaxSizeBytes
	}

	info, err := os.Stat(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			c.Status = StatusMissing
			return
		}
		c.ignore(StatusUnreadable, fmt.Sprintf("cache unreadable; ignoring cache: %v", err))
		return
	}
	if info.Size() > maxSizeBytes {
		c.ignore(StatusTooLarge,
			fmt.Sprintf("cache file too large (%d bytes, max %d); ignoring cache", info.Size(), maxSizeBytes))
		return
	}

	raw, err := os.ReadFile(c.Path)
	if err != nil {
		c.ignore(StatusUnreadable, fmt.Sprintf("cache unreadable; ignoring cache: %v", err))
		return
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var anyDoc any
	if err := dec.Decode(&anyDoc); err != nil {
		c.ignore(StatusInvalidJSON, "cache corrupted; ignoring cache")
		return
	}
	doc, ok := anyDoc.(map[string]any)
	if !ok {
		c.ignore(StatusInvalidType, "cache format invalid; ignoring cache")
		return
	}

	version, ok := doc["v"].(string)
	if !ok {
		c.ignore(StatusInvalidType, "cache format invalid; ignoring cache")
		return
	}
	if version != contracts.CacheVersion {
		c.ignore(StatusVersionMismatch,
			fmt.Sprintf("cache version mismatch (found %s); ignoring cache", version))
		return
	}

	sig, ok := doc["sig"].(string)
	payload, payloadOK := doc["payload"].(map[string]any)
	if !ok || !payloadOK {
		c.ignore(StatusInvalidType, "cache format invalid; ignoring cache")
		return
	}

	expected, err := signPayload(payload)
	if err != nil {
		c.ignore(StatusInvalidType, "cache format invalid; ignoring cache")
		return
	}
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		c.ignore(StatusIntegrityFailed, "cache signature mismatch; ignoring cache")
		return
	}

	pyTag, ok := payload["py"].(string)
	if !ok {
		c.ignore(StatusInvalidType, "cache format invalid; ignoring cache")
		return
	}
	if pyTag != contracts.PythonTag {
		c.ignore(StatusPythonTagMismatch,
			fmt.Sprintf("cache python tag mismatch (found %s, expected %s); ignoring cache", pyTag, contracts.PythonTag))
		return
	}

	fpVersion, ok := payload["fp"].(string)
	if !ok {
		c.ignore(StatusInvalidType, "cache format invalid; ignoring cache")
		return
	}
	if fpVersion != contracts.FingerprintVersion {
		c.ignore(StatusFingerprintMismatch,
			fmt.Sprintf("cache fingerprint version mismatch (found %s, expected %s); ignoring cache",
				fpVersion, contracts.FingerprintVersion))
		return
	}

	filesObj, ok := payload["files"].(map[string]any)
	if !ok {
		c.ignore(StatusInvalidType, "cache format invalid; ignoring cache")
		return
	}

	entries := make(map[string]Entry, len(filesObj))
	for wirePath, entryObj := range filesObj {
		entry, ok := decodeEntry(entryObj, filepath.Join(c.Root, filepath.FromSlash(wirePath)))
		if !ok {
			c.ignore(StatusInvalidType, "cache format invalid; ignoring cache")
			return
		}
		entries[wirePath] = entry
	}

	c.entries = entries
	c.Status = StatusOK
	c.Warning = ""
}

// Get returns the entry for a wire path if present.
func (c *Cache) Get(wirePath string) (Entry, bool) {
	entry, ok := c.entries[wirePath]
	return entry, ok
}

// Hit returns the entry only when the cached stat signature matches the
// file's current one. Any mismatch invalidates that file alone.
func (c *Cache) Hit(wirePath string, stat scanner.StatSig) (Entry, bool) {
	entry, ok := c.entries[wirePath]
	if !ok || entry.Stat != stat {
		return Entry{}, false
	}
	return entry, true
}

// Put records the analysis of one file.
func (c *Cache) Put(wirePath string, entry Entry) {
	c.entries[wirePath] = entry
}

// Len returns the number of cached files.
func (c *Cache) Len() int { return len(c.entries) }

// Save writes the cache atomically in canonical JSON with a fresh
// signature over the payload.
func (c *Cache) Save() error {
	files := map[string]any{}
	wirePaths := make([]string, 0, len(c.entries))
	for wirePath := range c.entries {
		wirePaths = append(wirePaths, wirePath)
	}
	sort.Strings(wirePaths)
	for _, wirePath := range wirePaths {
		files[wirePath] = encodeEntry(c.entries[wirePath])
	}

	payload := map[string]any{
		"py":    contracts.PythonTag,
		"fp":    contracts.FingerprintVersion,
		"files": files,
	}
	sig, err := signPayload(payload)
	if err != nil {
		return fmt.Errorf("sign cache payload: %w", err)
	}

	doc := map[string]any{
		"v":       contracts.CacheVersion,
		"payload": payload,
		"sig":     sig,
	}
	data, err := canonjson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.Path), 0o750); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	tmp := c.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	if err := os.Rename(tmp, c.Path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace cache: %w", err)
	}
	return nil
}

// signPayload computes the HMAC-SHA256 over the canonical JSON of payload.
func signPayload(payload map[string]any) (string, error) {
	canonical, err := canonjson.Marshal(payload)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, signingKey)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}
