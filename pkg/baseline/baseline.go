// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package baseline implements the versioned, tamper-evident snapshot of
// known clone group keys used for CI gating. A baseline is trusted only
// after every compatibility gate and the canonical payload hash check pass;
// anything else yields a typed status the driver turns into warnings or
// contract errors depending on gating mode.
package baseline

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kraklabs/codeclone/pkg/canonjson"
	"github.com/kraklabs/codeclone/pkg/contracts"
)

// MaxSizeBytes is the default baseline size ceiling.
const MaxSizeBytes = 5 * 1024 * 1024

// Status classifies the outcome of loading a baseline. Exactly one status
// applies per run.
type Status string

const (
	StatusOK                  Status = "ok"
	StatusMissing             Status = "missing"
	StatusTooLarge            Status = "too_large"
	StatusInvalidJSON         Status = "invalid_json"
	StatusInvalidType         Status = "invalid_type"
	StatusMissingFields       Status = "missing_fields"
	StatusMismatchSchema      Status = "mismatch_schema_version"
	StatusMismatchFingerprint Status = "mismatch_fingerprint_version"
	StatusMismatchPython      Status = "mismatch_python_version"
	StatusGeneratorMismatch   Status = "generator_mismatch"
	StatusIntegrityMissing    Status = "integrity_missing"
	StatusIntegrityFailed     Status = "integrity_failed"
)

// Generator identifies the producing tool inside baseline meta.
type Generator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Meta is the baseline metadata section.
type Meta struct {
	Generator          Generator `json:"generator"`
	SchemaVersion      string    `json:"schema_version"`
	FingerprintVersion string    `json:"fingerprint_version"`
	PythonTag          string    `json:"python_tag"`
	CreatedAt          string    `json:"created_at"`
	PayloadSHA256      string    `json:"payload_sha256"`
}

// Clones holds the sorted unique group-key lists. Segment keys are
// excluded from baselines by design.
type Clones struct {
	Functions []string `json:"functions"`
	Blocks    []string `json:"blocks"`
}

// Baseline is a loaded or freshly built snapshot.
type Baseline struct {
	Path   string
	Meta   Meta
	Clones Clones
}

// document is the wire shape.
type document struct {
	Meta   *Meta   `json:"meta"`
	Clones *Clones `json:"clones"`
}

// New builds a baseline from the current run's group keys. The key lists
// are sorted and deduplicated; meta is stamped with the runtime contract
// versions and the canonical payload hash.
func New(path string, functionKeys, blockKeys []string, now time.Time) *Baseline {
	functions := sortedUnique(functionKeys)
	blocks := sortedUnique(blockKeys)
	b := &Baseline{
		Path: path,
		Meta: Meta{
			Generator: Generator{
				Name:    contracts.GeneratorName,
				Version: contracts.Version,
			},
			SchemaVersion:      contracts.BaselineSchemaVersion,
			FingerprintVersion: contracts.FingerprintVersion,
			PythonTag:          contracts.PythonTag,
			CreatedAt:          now.UTC().Truncate(time.Second).Format(time.RFC3339),
		},
		Clones: Clones{Functions: functions, Blocks: blocks},
	}
	b.Meta.PayloadSHA256 = PayloadSHA256(functions, blocks, b.Meta.FingerprintVersion, b.Meta.PythonTag)
	return b
}

// LoadResult carries a load attempt's status and, when trusted, the
// baseline content.
type LoadResult struct {
	Status   Status
	Baseline *Baseline
	Warning  string
}

// Trusted reports whether the loaded baseline passed every gate.
func (r *LoadResult) Trusted() bool { return r.Status == StatusOK }

// Load reads and validates the baseline at path. Validation order is
// fixed: size guard, JSON decode, top-level shape, required fields,
// compatibility gates, integrity check; the first failure wins.
func Load(path string, maxSizeBytes int64) *LoadResult {
	if maxSizeBytes <= 0 {
		maxSizeBytes = MaxSizeBytes
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &LoadResult{Status: StatusMissing, Warning: fmt.Sprintf("baseline not found at %s", path)}
		}
		return &LoadResult{Status: StatusInvalidJSON, Warning: fmt.Sprintf("cannot stat baseline at %s: %v", path, err)}
	}
	if info.Size() > maxSizeBytes {
		return &LoadResult{
			Status:  StatusTooLarge,
			Warning: fmt.Sprintf("baseline too large (%d bytes, max %d) at %s", info.Size(), maxSizeBytes, path),
		}
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return &LoadResult{Status: StatusInvalidJSON, Warning: fmt.Sprintf("cannot read baseline at %s: %v", path, err)}
	}

	var anyDoc any
	if err := json.Unmarshal(raw, &anyDoc); err != nil {
		return &LoadResult{Status: StatusInvalidJSON, Warning: fmt.Sprintf("corrupted baseline at %s: %v", path, err)}
	}
	probe, ok := anyDoc.(map[string]any)
	if !ok {
		return &LoadResult{Status: StatusInvalidType, Warning: fmt.Sprintf("baseline payload must be an object at %s", path)}
	}

	// Legacy layout: functions/blocks at the root without a meta section.
	if _, hasMeta := probe["meta"]; !hasMeta {
		return &LoadResult{
			Status:  StatusMissingFields,
			Warning: fmt.Sprintf("legacy baseline layout at %s; regenerate with --update-baseline", path),
		}
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &LoadResult{Status: StatusInvalidType, Warning: fmt.Sprintf("invalid baseline shape at %s: %v", path, err)}
	}
	if doc.Meta == nil || doc.Clones == nil {
		return &LoadResult{Status: StatusMissingFields, Warning: fmt.Sprintf("baseline missing required sections at %s", path)}
	}
	if doc.Clones.Functions == nil || doc.Clones.Blocks == nil {
		return &LoadResult{Status: StatusMissingFields, Warning: fmt.Sprintf("baseline missing clone lists at %s", path)}
	}

	meta := doc.Meta
	if meta.Generator.Name != contracts.GeneratorName {
		return &LoadResult{
			Status:  StatusGeneratorMismatch,
			Warning: fmt.Sprintf("baseline generator mismatch: expected %q, found %q", contracts.GeneratorName, meta.Generator.Name),
		}
	}
	if meta.SchemaVersion != contracts.BaselineSchemaVersion {
		return &LoadResult{
			Status:  StatusMismatchSchema,
			Warning: fmt.Sprintf("baseline schema version mismatch: expected %s, found %s", contracts.BaselineSchemaVersion, meta.SchemaVersion),
		}
	}
	if meta.FingerprintVersion != contracts.FingerprintVersion {
		return &LoadResult{
			Status:  StatusMismatchFingerprint,
			Warning: fmt.Sprintf("baseline fingerprint version mismatch: expected %s, found %s", contracts.FingerprintVersion, meta.FingerprintVersion),
		}
	}
	if meta.PythonTag != contracts.PythonTag {
		return &LoadResult{
			Status:  StatusMismatchPython,
			Warning: fmt.Sprintf("baseline python tag mismatch: expected %s, found %s", contracts.PythonTag, meta.PythonTag),
		}
	}
	if meta.PayloadSHA256 == "" {
		return &LoadResult{Status: StatusIntegrityMissing, Warning: "baseline integrity payload hash is missing"}
	}

	expected := PayloadSHA256(doc.Clones.Functions, doc.Clones.Blocks, meta.FingerprintVersion, meta.PythonTag)
	if !hmac.Equal([]byte(meta.PayloadSHA256), []byte(expected)) {
		return &LoadResult{Status: StatusIntegrityFailed, Warning: "baseline integrity check failed: payload_sha256 mismatch"}
	}

	return &LoadResult{
		Status: StatusOK,
		Baseline: &Baseline{
			Path:   path,
			Meta:   *meta,
			Clones: *doc.Clones,
		},
	}
}

// Save writes the baseline atomically: a tmp file on the same filesystem,
// then a rename over the destination.
func (b *Baseline) Save() error {
	if err := os.MkdirAll(filepath.Dir(b.Path), 0o750); err != nil {
		return fmt.Errorf("create baseline directory: %w", err)
	}

	doc := document{Meta: &b.Meta, Clones: &b.Clones}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}
	data = append(data, '\n')

	tmp := b.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write baseline: %w", err)
	}
	if err := os.Rename(tmp, b.Path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace baseline: %w", err)
	}
	return nil
}

// Diff returns the group keys present in the current run but absent from
// the baseline, per section. Keys only in the baseline are ignored:
// removing duplication is always allowed.
func (b *Baseline) Diff(functionKeys, blockKeys []string) (newFunctions, newBlocks []string) {
	return subtract(functionKeys, b.Clones.Functions), subtract(blockKeys, b.Clones.Blocks)
}

func subtract(current, known []string) []string {
	knownSet := make(map[string]bool, len(known))
	for _, k := range known {
		knownSet[k] = true
	}
	var out []string
	for _, k := range sortedUnique(current) {
		if !knownSet[k] {
			out = append(out, k)
		}
	}
	return out
}

// PayloadSHA256 computes the canonical payload hash. The hashed object is
// exactly {functions, blocks, fingerprint_version, python_tag}; generator
// identity, schema version, and timestamps are excluded so cosmetic meta
// changes cannot invalidate a snapshot.
func PayloadSHA256(functions, blocks []string, fingerprintVersion, pythonTag string) string {
	payload := map[string]any{
		"functions":           sortedUnique(functions),
		"blocks":              sortedUnique(blocks),
		"fingerprint_version": fingerprintVersion,
		"python_tag":          pythonTag,
	}
	data, err := canonjson.Marshal(payload)
	if err != nil {
		// The payload is built from strings only; this cannot fail.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sortedUnique(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	dedup := out[:0]
	var prev string
	for i, v := range out {
		if i == 0 || v != prev {
			dedup = append(dedup, v)
		}
		prev = v
	}
	if dedup == nil {
		return []string{}
	}
	return dedup
}
