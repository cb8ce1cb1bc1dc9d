// Copyright 2025 James Ross

// Package apply implements the reconstruction half of the patch
// engine: given a manifest and an installation directory, it scans
// what already exists, plans where every block's bytes should come
// from, fetches whatever is missing, materializes files, and prunes
// orphans, in that strict order.
package apply

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/flyingrobots/patchkit/internal/block"
	"github.com/flyingrobots/patchkit/internal/breaker"
	"github.com/flyingrobots/patchkit/internal/chunk"
	"github.com/flyingrobots/patchkit/internal/codec"
	"github.com/flyingrobots/patchkit/internal/config"
	"github.com/flyingrobots/patchkit/internal/manifest"
)

// Engine reconstructs an installation directory from a manifest. A
// single Engine performs one apply run; the installation directory is
// exclusively owned by the running process, and concurrent Run calls
// against it are undefined behavior.
type Engine struct {
	installDir string
	manifest   *manifest.Changelog
	blocks     *block.Store
	chunker    *chunk.Chunker
	codec      *codec.Codec // nil when manifest.Compressed is false
	fetcher    BundleFetcher
	cb         *breaker.CircuitBreaker
	cfg        config.Apply
	log        *zap.Logger
	progress   Progress
	dryRun     bool
}

// New builds an Engine. codec may be nil iff m.Compressed is false;
// fetcher may be nil iff the manifest's bundles are all already
// satisfied locally (a pure-local re-apply or dry run).
func New(
	installDir string,
	m *manifest.Changelog,
	blocks *block.Store,
	chunker *chunk.Chunker,
	cdc *codec.Codec,
	fetcher BundleFetcher,
	cfg config.Apply,
	log *zap.Logger,
	progress Progress,
	dryRun bool,
) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if progress == nil {
		progress = NopProgress{}
	}
	cbCfg := cfg.CircuitBreaker
	if cbCfg.Window <= 0 {
		cbCfg.Window = time.Minute
	}
	if cbCfg.CooldownPeriod <= 0 {
		cbCfg.CooldownPeriod = 30 * time.Second
	}
	if cbCfg.FailureThreshold <= 0 {
		cbCfg.FailureThreshold = 0.5
	}
	if cbCfg.MinSamples <= 0 {
		cbCfg.MinSamples = 10
	}
	cb := breaker.New(cbCfg.Window, cbCfg.CooldownPeriod, cbCfg.FailureThreshold, cbCfg.MinSamples)
	return &Engine{
		installDir: installDir,
		manifest:   m,
		blocks:     blocks,
		chunker:    chunker,
		codec:      cdc,
		fetcher:    fetcher,
		cb:         cb,
		cfg:        cfg,
		log:        log,
		progress:   progress,
		dryRun:     dryRun,
	}
}

// Result summarizes one Run.
type Result struct {
	FilesTotal     int
	FilesClean     int
	FilesWritten   int
	FilesPruned    int
	BundlesFetched int
	Plans          []FilePlan // only populated for dry runs
}

// Run executes scan, plan, acquire, materialize, prune in sequence.
// No target file is ever observable half-written (temp-then-rename),
// and orphan pruning happens strictly after every file has been
// successfully materialized.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	localBlocks, clean, err := e.scan(ctx)
	if err != nil {
		return nil, err
	}

	plans, err := e.plan(localBlocks, clean)
	if err != nil {
		return nil, err
	}

	for _, p := range plans {
		e.progress.OnFile(p.Path, p.Clean)
	}

	res := &Result{FilesTotal: len(plans)}
	for _, p := range plans {
		if p.Clean {
			res.FilesClean++
		}
	}

	if e.dryRun {
		res.Plans = plans
		return res, nil
	}

	fetched, err := e.acquire(ctx, plans)
	if err != nil {
		return nil, err
	}
	res.BundlesFetched = fetched

	if err := e.materialize(ctx, plans); err != nil {
		return nil, err
	}
	res.FilesWritten = res.FilesTotal - res.FilesClean

	pruned, err := e.prune(ctx)
	if err != nil {
		return nil, err
	}
	res.FilesPruned = pruned

	return res, nil
}
