// Copyright 2025 James Ross
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"

	"github.com/dustin/go-humanize"

	"github.com/flyingrobots/patchkit/internal/block"
	"github.com/flyingrobots/patchkit/internal/bundle"
	"github.com/flyingrobots/patchkit/internal/chunk"
	"github.com/flyingrobots/patchkit/internal/codec"
	"github.com/flyingrobots/patchkit/internal/config"
	"github.com/flyingrobots/patchkit/internal/differ"
	"github.com/flyingrobots/patchkit/internal/manifest"
	"github.com/flyingrobots/patchkit/internal/obs"
	"github.com/flyingrobots/patchkit/internal/patchdata"
	"github.com/flyingrobots/patchkit/internal/patcherr"
)

func runCreate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config")
	blockSize := fs.Int("block-size", 0, "Average block size in bytes (0 = use config default)")
	compress := fs.Bool("compress", false, "Compress blocks and bundles with a trained Zstd dictionary")
	compressionLevel := fs.Int("compression-level", 0, "Zstd compression level (0 = use config default)")
	dictPath := fs.String("dict-path", "", "Path to an existing dictionary to use instead of training a new one")
	regenDict := fs.Bool("regen-dict", false, "Force dictionary retraining even if a prior one is referenced")
	output := fs.String("output", "", "Output patch-data directory (required)")
	prevPatchData := fs.String("patch-data", "", "Path or URL to the previous patch-data directory, for incremental bundling")
	bundleSizeCap := fs.Int64("bundle-size-cap", 0, "Bundle size cap in bytes (0 = use config default)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: patchctl create [flags] <dir>")
	}
	sourceDir := fs.Arg(0)
	if *output == "" {
		return patcherr.Config("create", fmt.Errorf("--output is required"))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer log.Sync()

	avg := cfg.Chunking.AvgBlockSize
	if *blockSize > 0 {
		avg = *blockSize
	}
	level := cfg.Compression.Level
	if *compressionLevel > 0 {
		level = *compressionLevel
	}
	sizeCap := cfg.Bundling.SizeCap
	if *bundleSizeCap > 0 {
		sizeCap = *bundleSizeCap
	}

	prevCL, err := patchdata.LoadChangelog(*prevPatchData)
	if err != nil {
		return err
	}

	chunker, err := chunk.New(avg)
	if err != nil {
		return err
	}
	builder := manifest.NewBuilder(chunker, cfg.Chunking.WorkerCount, log)

	res, err := builder.Build(ctx, sourceDir, nextVersion(prevCL), avg)
	if err != nil {
		return err
	}
	log.Info("chunked source tree",
		obs.Int("files", len(res.Changelog.Files)),
		obs.Int("unique_blocks", len(res.Blocks)),
		obs.String("total_bytes", humanize.Bytes(uint64(res.Changelog.TotalUncompressedBytes))),
	)

	compressed := *compress
	var dictionary []byte
	var cdc *codec.Codec
	if compressed {
		dictionary, err = resolveDictionary(res, prevCL, *dictPath, *prevPatchData, *regenDict, cfg, log)
		if err != nil {
			return err
		}
		if len(dictionary) == 0 {
			log.Warn("compression requested but no usable dictionary, emitting uncompressed manifest")
			compressed = false
		} else {
			cdc, err = codec.New(level)
			if err != nil {
				return err
			}
			defer cdc.Close()
			if err := cdc.WithDictionary(dictionary); err != nil {
				return err
			}
		}
	}

	storedBytes := make(map[string][]byte, len(res.Blocks))
	for id, blk := range res.Blocks {
		if compressed {
			storedBytes[id] = cdc.Compress(blk.Data)
		} else {
			storedBytes[id] = blk.Data
		}
	}

	files := make([]bundle.FileBlocks, 0, len(res.Changelog.Files))
	for path, ids := range res.Changelog.Files {
		fb := bundle.FileBlocks{Path: path}
		for _, id := range ids {
			fb.Blocks = append(fb.Blocks, bundle.BlockInput{ID: id, Data: storedBytes[id], RawBytes: res.Blocks[id].Data})
		}
		files = append(files, fb)
	}

	var prevIndex map[string]string
	if prevCL != nil {
		prevIndex = prevCL.BlockIndex
	}
	packer := bundle.NewPacker(sizeCap)
	packed := packer.Pack(files, prevIndex)

	cl := res.Changelog
	cl.Compressed = compressed
	if compressed {
		sum := sha256.Sum256(dictionary)
		dictID := hex.EncodeToString(sum[:])
		cl.DictionaryID = &dictID
	}
	cl.Bundles = make(map[string][]manifest.BundleEntry, len(packed.NewBundles))
	for id, bdl := range packed.NewBundles {
		entries := make([]manifest.BundleEntry, 0, len(bdl.Entries))
		for _, e := range bdl.Entries {
			entries = append(entries, manifest.BundleEntry{BlockID: e.BlockID, Offset: e.Offset, Length: e.Length})
		}
		cl.Bundles[id] = entries
	}
	if prevCL != nil {
		for id, entries := range prevCL.Bundles {
			if _, already := cl.Bundles[id]; !already {
				if bundleStillReferenced(id, packed.BlockIndex) {
					cl.Bundles[id] = entries
				}
			}
		}
	}
	cl.BlockIndex = packed.BlockIndex

	store, err := block.Open(patchdata.BlocksDir(*output), compressed)
	if err != nil {
		return err
	}
	for id, data := range storedBytes {
		if err := store.Put(id, data); err != nil {
			return err
		}
		obs.BlocksNew.Inc()
	}
	obs.BundlesPacked.Add(float64(len(packed.NewBundles)))

	if err := patchdata.WriteBundles(*output, packed.BundleData); err != nil {
		return err
	}
	if compressed {
		if err := patchdata.WriteDictionary(*output, dictionary); err != nil {
			return err
		}
	}
	if err := patchdata.WriteChangelog(*output, cl); err != nil {
		return err
	}

	diff := differ.Compare(cl, prevCL)
	log.Info("create complete",
		obs.String("version", cl.Version),
		obs.Int("new_blocks", len(diff.NewBlocks)),
		obs.Int("new_bundles", len(diff.NewBundles)),
		obs.Int("obsolete_blocks", len(diff.ObsoleteBlocks)),
		obs.Int("obsolete_bundles", len(diff.ObsoleteBundles)),
		obs.Bool("compressed", compressed),
	)
	return nil
}

// resolveDictionary decides between reusing the previous manifest's
// dictionary and training a fresh one: retrain iff --regen-dict is set
// or no prior dictionary id is referenced. An explicit --dict-path
// always wins, since the operator asked for that exact dictionary.
func resolveDictionary(
	res *manifest.BuildResult,
	prevCL *manifest.Changelog,
	dictPath string,
	prevPatchData string,
	regenDict bool,
	cfg *config.Config,
	log *zap.Logger,
) ([]byte, error) {
	if dictPath != "" {
		data, err := os.ReadFile(dictPath)
		if err != nil {
			return nil, patcherr.Input("create.resolveDictionary: read dict-path", err).WithPath(dictPath)
		}
		return data, nil
	}

	needRegen := regenDict || prevCL == nil || prevCL.DictionaryID == nil
	if !needRegen {
		dict, err := patchdata.LoadDictionary(prevPatchData)
		if err != nil {
			return nil, err
		}
		if len(dict) > 0 {
			log.Info("reusing prior dictionary", obs.String("dictionary_id", *prevCL.DictionaryID))
			return dict, nil
		}
		log.Warn("prior dictionary referenced but unreadable, retraining")
	}

	trainer := codec.NewTrainer(cfg.Compression.SampleBlockCap, cfg.Compression.SampleByteCap)
	for _, blk := range res.Blocks {
		trainer.AddSample(blk.Data)
	}
	dict, err := trainer.Train(cfg.Compression.TargetDictSize)
	if err != nil {
		return nil, err
	}
	log.Info("trained dictionary", obs.Int("sample_count", trainer.SampleCount()), obs.Int("dictionary_bytes", len(dict)))
	return dict, nil
}

func bundleStillReferenced(bundleID string, blockIndex map[string]string) bool {
	for _, id := range blockIndex {
		if id == bundleID {
			return true
		}
	}
	return false
}

func nextVersion(prev *manifest.Changelog) string {
	if prev == nil || prev.Version == "" {
		return "1"
	}
	n, err := strconv.Atoi(prev.Version)
	if err != nil {
		return "1"
	}
	return strconv.Itoa(n + 1)
}
