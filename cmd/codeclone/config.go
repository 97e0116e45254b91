// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the optional per-project configuration file, looked up
// at the scan root. CLI flags always win over file values.
const ConfigFileName = ".codeclone.yaml"

// FileConfig mirrors the tuning surface of the CLI.
type FileConfig struct {
	MinLOC    int      `yaml:"min_loc"`
	MinStmt   int      `yaml:"min_stmt"`
	Processes int      `yaml:"processes"`
	Exclude   []string `yaml:"exclude"`
}

// loadFileConfig reads <root>/.codeclone.yaml if present. A missing file
// is not an error; a malformed one is.
func loadFileConfig(root string) (*FileConfig, error) {
	path := filepath.Join(root, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// applyFileConfig fills options from the file for flags the user left at
// their defaults.
func applyFileConfig(opts *Options, cfg *FileConfig, flagSet map[string]bool) []string {
	if cfg == nil {
		return nil
	}
	if cfg.MinLOC > 0 && !flagSet["min-loc"] {
		opts.MinLOC = cfg.MinLOC
	}
	if cfg.MinStmt > 0 && !flagSet["min-stmt"] {
		opts.MinStmt = cfg.MinStmt
	}
	if cfg.Processes > 0 && !flagSet["processes"] {
		opts.Processes = cfg.Processes
	}
	return cfg.Exclude
}
