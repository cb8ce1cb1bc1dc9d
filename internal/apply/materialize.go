// Copyright 2025 James Ross
package apply

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/flyingrobots/patchkit/internal/obs"
	"github.com/flyingrobots/patchkit/internal/patcherr"
)

// materialize writes every non-clean file plan to disk in two phases.
// Phase one concatenates each file's bytes from its planned sources
// into a temp file beside the target and fsyncs it; phase two renames
// every temp file over its target. The barrier between the phases
// matters for correctness, not just atomicity: a plan may read a
// SourceLocal range out of a file that is itself being rewritten, so
// no rename may happen until every plan has finished reading from the
// old tree. Within one file writes stay strictly sequential; across
// files phase one runs on a bounded worker pool.
func (e *Engine) materialize(ctx context.Context, plans []FilePlan) error {
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}

	type staged struct {
		tmpPath string
		target  string
	}
	var mu sync.Mutex
	var ready []staged
	cleanup := func() {
		for _, s := range ready {
			os.Remove(s.tmpPath)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, workers)
	for _, p := range plans {
		if p.Clean {
			obs.FilesSkippedClean.Inc()
			continue
		}
		p := p
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			tmpPath, target, err := e.stageFile(gctx, p)
			if err != nil {
				return err
			}
			mu.Lock()
			ready = append(ready, staged{tmpPath: tmpPath, target: target})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		cleanup()
		return err
	}

	for _, s := range ready {
		if err := os.Rename(s.tmpPath, s.target); err != nil {
			cleanup()
			return patcherr.Storage("apply.materialize: rename", err).WithPath(s.target)
		}
		obs.FilesMaterialized.Inc()
	}
	return nil
}

// stageFile writes one plan's bytes to a temp file beside its target
// and returns the temp and target paths, leaving the rename to the
// caller.
func (e *Engine) stageFile(ctx context.Context, p FilePlan) (string, string, error) {
	target := filepath.Join(e.installDir, filepath.FromSlash(p.Path))
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", patcherr.Storage("apply.materialize: mkdir", err).WithPath(dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(target)+".tmp-*")
	if err != nil {
		return "", "", patcherr.Storage("apply.materialize: create temp", err).WithPath(dir)
	}
	tmpPath := tmp.Name()
	succeeded := false
	defer func() {
		if !succeeded {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	for _, src := range p.Sources {
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		default:
		}
		data, err := e.readSource(src)
		if err != nil {
			return "", "", err
		}
		if _, err := tmp.Write(data); err != nil {
			return "", "", patcherr.Storage("apply.materialize: write", err).WithPath(tmpPath)
		}
		e.progress.OnBlock(src.BlockID, src.Kind)
	}

	if err := tmp.Sync(); err != nil {
		return "", "", patcherr.Storage("apply.materialize: fsync", err).WithPath(tmpPath)
	}
	if err := tmp.Close(); err != nil {
		return "", "", patcherr.Storage("apply.materialize: close", err).WithPath(tmpPath)
	}
	succeeded = true
	return tmpPath, target, nil
}

// readSource returns one block's bytes per its planned source. Local
// sources read directly from the existing file at its recorded
// offset; block-store and remote-bundle sources (the latter already
// pulled into the local store by acquire) read and, if the manifest
// is compressed, decompress from the block store.
func (e *Engine) readSource(src BlockSource) ([]byte, error) {
	switch src.Kind {
	case SourceLocal:
		f, err := os.Open(src.LocalPath)
		if err != nil {
			return nil, patcherr.Storage("apply.readSource: open", err).WithPath(src.LocalPath)
		}
		defer f.Close()
		buf := make([]byte, src.LocalLength)
		if _, err := f.ReadAt(buf, src.LocalOffset); err != nil {
			return nil, patcherr.Storage("apply.readSource: read", err).WithPath(src.LocalPath)
		}
		obs.BlocksReusedLocal.Inc()
		return buf, nil
	default:
		stored, err := e.blocks.Get(src.BlockID)
		if err != nil {
			return nil, err
		}
		if e.codec == nil {
			return stored, nil
		}
		return e.codec.Decompress(stored)
	}
}

// prune removes every file under the installation directory that is
// not in the manifest, then removes directories left empty by that
// removal, bottom-up. Pruning runs strictly after every file has been
// materialized.
func (e *Engine) prune(ctx context.Context) (int, error) {
	var toRemove []string
	var allDirs []string

	err := filepath.WalkDir(e.installDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return patcherr.Input("apply.prune: walk", err).WithPath(path)
		}
		if path == e.installDir {
			return nil
		}
		if d.IsDir() {
			if e.isBlockStoreDir(path) {
				return filepath.SkipDir
			}
			allDirs = append(allDirs, path)
			return nil
		}
		rel, err := filepath.Rel(e.installDir, path)
		if err != nil {
			return patcherr.Input("apply.prune: relativize", err).WithPath(path)
		}
		rel = filepath.ToSlash(rel)
		if _, ok := e.manifest.Files[rel]; !ok {
			toRemove = append(toRemove, path)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, path := range toRemove {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		if err := os.Remove(path); err != nil {
			return 0, patcherr.Storage("apply.prune: remove", err).WithPath(path)
		}
		e.progress.OnPrune(path)
		obs.OrphansRemoved.Inc()
	}

	// Remove directories left empty, deepest first.
	sort.Slice(allDirs, func(i, j int) bool { return len(allDirs[i]) > len(allDirs[j]) })
	for _, dir := range allDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		if len(entries) == 0 {
			_ = os.Remove(dir)
		}
	}

	return len(toRemove), nil
}
