// Copyright 2025 James Ross
package apply

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/flyingrobots/patchkit/internal/patcherr"
)

// SourceKind identifies where a block's bytes should come from during
// materialization.
type SourceKind int

const (
	// SourceLocal reuses bytes already present in an existing file in
	// the installation directory, read from the path and offset where
	// scan found the block.
	SourceLocal SourceKind = iota
	// SourceBlockStore reads the block from the local content-addressed
	// block store.
	SourceBlockStore
	// SourceRemoteBundle fetches the block from a remote bundle,
	// sliced per the manifest's bundle entry.
	SourceRemoteBundle
)

// BlockSource describes where to find one block's bytes.
type BlockSource struct {
	Kind         SourceKind
	BlockID      string
	LocalPath    string
	LocalOffset  int64
	LocalLength  int64
	BundleID     string
	BundleOffset int64
	BundleLength int64
}

// FilePlan is the acquisition plan for one manifest file.
type FilePlan struct {
	Path    string
	Clean   bool
	Sources []BlockSource
}

type localRange struct {
	path   string
	offset int64
	length int64
}

// scan walks the installation directory, rechunking every existing
// file to discover which blocks are already present and at what
// offset, and which files already match their manifest entry exactly
// (clean, left untouched).
func (e *Engine) scan(ctx context.Context) (map[string]localRange, map[string]bool, error) {
	localBlocks := make(map[string]localRange)
	clean := make(map[string]bool)

	err := filepath.WalkDir(e.installDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return patcherr.Input("apply.scan: walk", err).WithPath(path)
		}
		if path == e.installDir {
			return nil
		}
		if d.IsDir() {
			if e.isBlockStoreDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(e.installDir, path)
		if err != nil {
			return patcherr.Input("apply.scan: relativize", err).WithPath(path)
		}
		rel = filepath.ToSlash(rel)

		f, err := os.Open(path)
		if err != nil {
			return patcherr.Input("apply.scan: open", err).WithPath(path)
		}
		defer f.Close()

		out, errc := e.chunker.ChunkStream(ctx, f)
		var offset int64
		var ids []string
		for blk := range out {
			id := blk.HexHash()
			ids = append(ids, id)
			if _, exists := localBlocks[id]; !exists {
				localBlocks[id] = localRange{path: path, offset: offset, length: int64(blk.Size)}
			}
			offset += int64(blk.Size)
		}
		if err := <-errc; err != nil {
			return err
		}

		if want, ok := e.manifest.Files[rel]; ok && sameBlockList(want, ids) {
			clean[rel] = true
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return localBlocks, clean, nil
}

func sameBlockList(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// isBlockStoreDir reports whether path is the engine's local block
// store root, which may sit inside the installation directory when
// applying from a remote patch-data URL. Scan and prune both skip it:
// its contents are cache, not installation files.
func (e *Engine) isBlockStoreDir(path string) bool {
	if e.blocks == nil {
		return false
	}
	root, err := filepath.Abs(e.blocks.Root())
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	return abs == root
}

// plan builds a FilePlan for every file in the manifest in sorted
// path order (deterministic dry-run output), preferring local reuse,
// then the local block store, then a remote bundle.
func (e *Engine) plan(localBlocks map[string]localRange, clean map[string]bool) ([]FilePlan, error) {
	paths := make([]string, 0, len(e.manifest.Files))
	for path := range e.manifest.Files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	plans := make([]FilePlan, 0, len(paths))
	for _, path := range paths {
		if clean[path] {
			plans = append(plans, FilePlan{Path: path, Clean: true})
			continue
		}

		blockIDs := e.manifest.Files[path]
		sources := make([]BlockSource, 0, len(blockIDs))
		for _, id := range blockIDs {
			src, err := e.sourceFor(id, localBlocks)
			if err != nil {
				return nil, err
			}
			sources = append(sources, src)
		}
		plans = append(plans, FilePlan{Path: path, Sources: sources})
	}
	return plans, nil
}

func (e *Engine) sourceFor(id string, localBlocks map[string]localRange) (BlockSource, error) {
	if lr, ok := localBlocks[id]; ok {
		return BlockSource{Kind: SourceLocal, BlockID: id, LocalPath: lr.path, LocalOffset: lr.offset, LocalLength: lr.length}, nil
	}
	if e.blocks.Has(id) {
		return BlockSource{Kind: SourceBlockStore, BlockID: id}, nil
	}

	bundleID, ok := e.manifest.BlockIndex[id]
	if !ok {
		return BlockSource{}, patcherr.Integrity("apply.plan", patcherr.ErrBlockNotFound).WithPath(id)
	}
	entries, ok := e.manifest.Bundles[bundleID]
	if !ok {
		return BlockSource{}, patcherr.Integrity("apply.plan", patcherr.ErrBundleNotFound).WithPath(bundleID)
	}
	for _, entry := range entries {
		if entry.BlockID == id {
			return BlockSource{
				Kind:         SourceRemoteBundle,
				BlockID:      id,
				BundleID:     bundleID,
				BundleOffset: entry.Offset,
				BundleLength: entry.Length,
			}, nil
		}
	}
	return BlockSource{}, patcherr.Integrity("apply.plan", patcherr.ErrBundleOutOfRange).WithPath(id)
}
