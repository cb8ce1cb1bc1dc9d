// Copyright 2025 James Ross
package manifest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/flyingrobots/patchkit/internal/chunk"
	"github.com/flyingrobots/patchkit/internal/obs"
	"github.com/flyingrobots/patchkit/internal/patcherr"
)

// Builder walks a source tree and chunks every regular file into
// blocks, fanning the CPU-bound chunking work out across a bounded
// worker pool.
type Builder struct {
	chunker *chunk.Chunker
	workers int
	log     *zap.Logger
}

// NewBuilder constructs a Builder. workers bounds how many files are
// chunked concurrently; callers typically pass min(NumCPU, 2*NumCPU).
func NewBuilder(chunker *chunk.Chunker, workers int, log *zap.Logger) *Builder {
	if workers < 1 {
		workers = 1
	}
	return &Builder{chunker: chunker, workers: workers, log: log}
}

// BuildResult is a candidate manifest (without bundle assignments)
// plus the set of unique blocks discovered, keyed by block id, ready
// to hand to the bundle packer and block store.
type BuildResult struct {
	Changelog *Changelog
	Blocks    map[string]chunk.Block
}

// Build walks root in sorted order, chunking every regular file.
// Symlinks, devices, named pipes and sockets are skipped with a
// logged warning rather than an error, per the manifest builder's
// contract: directories are implicit in file paths and never
// recorded directly.
func (b *Builder) Build(ctx context.Context, root string, version string, avgBlockSize int) (*BuildResult, error) {
	runID := uuid.NewString()
	log := b.log
	if log != nil {
		log = log.With(obs.String("run_id", runID))
	}

	paths, err := b.discover(root, log)
	if err != nil {
		return nil, err
	}
	if log != nil {
		log.Info("build started", obs.Int("file_count", len(paths)))
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, b.workers)

	var mu sync.Mutex
	fileBlocks := make(map[string][]string, len(paths))
	blocks := make(map[string]chunk.Block)
	var totalBytes int64

	for _, rel := range paths {
		rel := rel
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			return b.chunkFile(gctx, root, rel, &mu, fileBlocks, blocks, &totalBytes)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	cl := &Changelog{
		Version:                version,
		CreatedAt:              time.Now().UTC(),
		BlockSize:              avgBlockSize,
		Files:                  fileBlocks,
		Bundles:                map[string][]BundleEntry{},
		BlockIndex:             map[string]string{},
		TotalUncompressedBytes: totalBytes,
	}
	return &BuildResult{Changelog: cl, Blocks: blocks}, nil
}

func (b *Builder) chunkFile(
	ctx context.Context,
	root, rel string,
	mu *sync.Mutex,
	fileBlocks map[string][]string,
	blocks map[string]chunk.Block,
	totalBytes *int64,
) error {
	f, err := os.Open(filepath.Join(root, rel))
	if err != nil {
		return patcherr.Input("manifest.Builder: open file", err).WithPath(rel)
	}
	defer f.Close()

	out, errc := b.chunker.ChunkStream(ctx, f)

	ids := make([]string, 0, 8)
	var size int64
	for blk := range out {
		id := blk.HexHash()
		ids = append(ids, id)
		size += int64(blk.Size)
		obs.BlocksChunked.Inc()
		obs.BytesChunked.Add(float64(blk.Size))

		mu.Lock()
		if _, exists := blocks[id]; !exists {
			blocks[id] = blk
		}
		mu.Unlock()
	}
	if err := <-errc; err != nil {
		return err
	}

	mu.Lock()
	fileBlocks[rel] = ids
	*totalBytes += size
	mu.Unlock()
	return nil
}

// discover walks root and returns every regular file's path relative
// to root, using forward slashes, in sorted order. fs.WalkDir already
// visits entries in lexical order within each directory.
func (b *Builder) discover(root string, log *zap.Logger) ([]string, error) {
	var paths []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return patcherr.Input("manifest.Builder: walk", err).WithPath(path)
		}
		if path == root || d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return patcherr.Input("manifest.Builder: stat", err).WithPath(path)
		}
		mode := info.Mode()
		if mode&(os.ModeSymlink|os.ModeDevice|os.ModeSocket|os.ModeNamedPipe|os.ModeCharDevice) != 0 {
			if log != nil {
				log.Warn("skipping non-regular file", obs.String("path", path))
			}
			return nil
		}
		if !mode.IsRegular() {
			if log != nil {
				log.Warn("skipping non-regular file", obs.String("path", path))
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return patcherr.Input("manifest.Builder: relativize path", err).WithPath(path)
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}
