// Copyright 2025 James Ross
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	BlocksChunked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patchkit_blocks_chunked_total",
		Help: "Total number of blocks produced by the chunker",
	})
	BytesChunked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patchkit_bytes_chunked_total",
		Help: "Total number of source bytes processed by the chunker",
	})
	BlocksNew = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patchkit_blocks_new_total",
		Help: "Total number of blocks written to the block store",
	})
	BundlesPacked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patchkit_bundles_packed_total",
		Help: "Total number of bundles produced by the packer",
	})
	BlocksReusedLocal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patchkit_blocks_reused_local_total",
		Help: "Total number of blocks satisfied from an existing local file during apply",
	})
	BlocksFetchedRemote = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patchkit_blocks_fetched_remote_total",
		Help: "Total number of blocks fetched from the remote object store during apply",
	})
	BundleFetchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "patchkit_bundle_fetch_duration_seconds",
		Help:    "Histogram of remote bundle fetch durations",
		Buckets: prometheus.DefBuckets,
	})
	BundleFetchRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patchkit_bundle_fetch_retries_total",
		Help: "Total number of bundle fetch retries after a transient network or integrity failure",
	})
	CircuitBreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "patchkit_circuit_breaker_state",
		Help: "0 Closed, 1 HalfOpen, 2 Open",
	})
	FilesMaterialized = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patchkit_files_materialized_total",
		Help: "Total number of files written during apply",
	})
	FilesSkippedClean = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patchkit_files_skipped_clean_total",
		Help: "Total number of files left untouched because they already matched the manifest",
	})
	OrphansRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patchkit_orphans_removed_total",
		Help: "Total number of files removed from the install directory because they are not in the manifest",
	})
	IntegrityFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "patchkit_integrity_failures_total",
		Help: "Total number of block hash mismatches encountered after fetch or decompression",
	})
)

func init() {
	prometheus.MustRegister(
		BlocksChunked, BytesChunked, BlocksNew, BundlesPacked,
		BlocksReusedLocal, BlocksFetchedRemote, BundleFetchDuration,
		BundleFetchRetries, CircuitBreakerState, FilesMaterialized,
		FilesSkippedClean, OrphansRemoved, IntegrityFailures,
	)
}
