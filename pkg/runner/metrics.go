// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package runner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run-level Prometheus counters, exposed when the CLI enables the metrics
// endpoint.
var (
	metricFilesAnalyzed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codeclone_files_analyzed_total",
		Help: "Number of source files parsed and analyzed.",
	})
	metricCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codeclone_cache_hits_total",
		Help: "Number of files reused wholesale from the cache.",
	})
	metricParseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codeclone_parse_errors_total",
		Help: "Number of files skipped due to parse failures.",
	})
	metricSourceIOErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codeclone_source_io_errors_total",
		Help: "Number of files skipped due to read or decode failures.",
	})
)
