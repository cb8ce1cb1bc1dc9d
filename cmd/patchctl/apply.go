// Copyright 2025 James Ross
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/flyingrobots/patchkit/internal/apply"
	"github.com/flyingrobots/patchkit/internal/block"
	"github.com/flyingrobots/patchkit/internal/chunk"
	"github.com/flyingrobots/patchkit/internal/codec"
	"github.com/flyingrobots/patchkit/internal/config"
	"github.com/flyingrobots/patchkit/internal/obs"
	"github.com/flyingrobots/patchkit/internal/patchdata"
	"github.com/flyingrobots/patchkit/internal/patcherr"
)

func runApply(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("apply", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config")
	patchData := fs.String("patch-data", "", "Path or URL to the patch-data directory (required)")
	noCompression := fs.Bool("no-compression", false, "Treat stored blocks as already-uncompressed even if the manifest says compressed")
	dryRun := fs.Bool("dry-run", false, "Build and print the acquisition plan without writing anything")
	blockCache := fs.String("block-cache", "", "Local block-store cache directory, used when --patch-data is a URL (default: <install_dir>.patchkit-blocks, beside <install_dir>)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: patchctl apply [flags] <install_dir>")
	}
	installDir := fs.Arg(0)
	if *patchData == "" {
		return patcherr.Config("apply", fmt.Errorf("--patch-data is required"))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer log.Sync()

	cl, err := patchdata.LoadChangelog(*patchData)
	if err != nil {
		return err
	}
	if cl == nil {
		return patcherr.Input("apply", fmt.Errorf("no changelog.json found at %s", *patchData))
	}

	remote := patchdata.IsRemote(*patchData)
	blockStoreRoot := patchdata.BlocksDir(*patchData)
	if remote {
		blockStoreRoot = *blockCache
		if blockStoreRoot == "" {
			// Beside the install dir, not inside it: the validator
			// treats any file under the installation that the manifest
			// doesn't name as a mismatch.
			blockStoreRoot = filepath.Clean(installDir) + ".patchkit-blocks"
		}
	}

	compressed := cl.Compressed && !*noCompression
	store, err := block.Open(blockStoreRoot, compressed)
	if err != nil {
		return err
	}

	chunker, err := chunk.New(cl.BlockSize)
	if err != nil {
		return err
	}

	var cdc *codec.Codec
	if compressed {
		dict, err := patchdata.LoadDictionary(*patchData)
		if err != nil {
			return err
		}
		if len(dict) == 0 {
			return patcherr.Config("apply", patcherr.ErrNoDictionary)
		}
		if cl.DictionaryID != nil {
			sum := sha256.Sum256(dict)
			if hex.EncodeToString(sum[:]) != *cl.DictionaryID {
				return patcherr.Integrity("apply", patcherr.ErrUnknownDictID).WithPath(*patchData)
			}
		}
		cdc, err = codec.New(cfg.Compression.Level)
		if err != nil {
			return err
		}
		defer cdc.Close()
		if err := cdc.WithDictionary(dict); err != nil {
			return err
		}
	}

	var fetcher apply.BundleFetcher
	if remote {
		fetcher = apply.NewHTTPFetcher(*patchData, cfg.Apply.RequestTimeout)
	}

	if !*dryRun {
		srv := obs.StartHTTPServer(cfg, nil)
		defer srv.Shutdown(ctx)
	}

	eng := apply.New(installDir, cl, store, chunker, cdc, fetcher, cfg.Apply, log, apply.LogProgress{Log: log}, *dryRun)
	res, err := eng.Run(ctx)
	if err != nil {
		return err
	}

	if *dryRun {
		for _, p := range res.Plans {
			status := "write"
			if p.Clean {
				status = "clean"
			}
			fmt.Printf("%-6s %s\n", status, p.Path)
		}
		return nil
	}

	log.Info("apply complete",
		obs.Int("files_total", res.FilesTotal),
		obs.Int("files_clean", res.FilesClean),
		obs.Int("files_written", res.FilesWritten),
		obs.Int("files_pruned", res.FilesPruned),
		obs.Int("bundles_fetched", res.BundlesFetched),
	)
	fmt.Printf("applied %s: %d files written, %d clean, %d pruned (%d bundles fetched)\n",
		humanize.Comma(int64(res.FilesTotal)), res.FilesWritten, res.FilesClean, res.FilesPruned, res.BundlesFetched)
	return nil
}
