// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flyingrobots/patchkit/internal/block"
	"github.com/flyingrobots/patchkit/internal/config"
	"github.com/flyingrobots/patchkit/internal/differ"
	"github.com/flyingrobots/patchkit/internal/manifest"
	"github.com/flyingrobots/patchkit/internal/obs"
	"github.com/flyingrobots/patchkit/internal/objectstore"
	"github.com/flyingrobots/patchkit/internal/patchdata"
	"github.com/flyingrobots/patchkit/internal/patcherr"
)

func runUpload(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config")
	all := fs.Bool("all", false, "Upload every object, not just ones new since the remote changelog")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: patchctl upload [flags] <patch_data_dir>")
	}
	patchDataDir := fs.Arg(0)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	defer log.Sync()

	if !cfg.ObjectStore.Configured() {
		return patcherr.Config("upload", fmt.Errorf("missing object store credentials, upload disabled"))
	}

	cl, err := patchdata.LoadChangelog(patchDataDir)
	if err != nil {
		return err
	}
	if cl == nil {
		return patcherr.Input("upload", fmt.Errorf("no changelog.json found at %s", patchDataDir))
	}

	store, err := objectstore.New(cfg.ObjectStore, log)
	if err != nil {
		return err
	}

	var prevCL *manifest.Changelog
	if !*all {
		remoteChangelog, err := store.Get(ctx, objectstore.ChangelogKey())
		if err != nil && patcherr.KindOf(err) != patcherr.KindIntegrity {
			return err
		}
		if err == nil {
			prevCL, err = manifest.Decode(remoteChangelog)
			if err != nil {
				return err
			}
		}
	}

	diff := differ.Compare(cl, prevCL)
	blocksToUpload := diff.NewBlocks
	bundlesToUpload := diff.NewBundles
	if *all {
		blocksToUpload = nil
		for id := range cl.BlockIndex {
			blocksToUpload = append(blocksToUpload, id)
		}
		bundlesToUpload = nil
		for id := range cl.Bundles {
			bundlesToUpload = append(bundlesToUpload, id)
		}
	}

	blockStore, err := block.Open(patchdata.BlocksDir(patchDataDir), cl.Compressed)
	if err != nil {
		return err
	}
	for _, id := range blocksToUpload {
		data, err := blockStore.Get(id)
		if err != nil {
			return err
		}
		if err := store.Put(ctx, objectstore.BlockKey(id), data); err != nil {
			return err
		}
	}

	bundleDir := patchdata.BundlesDir(patchDataDir)
	for _, id := range bundlesToUpload {
		data, err := readBundleFile(bundleDir, id)
		if err != nil {
			return err
		}
		if err := store.Put(ctx, objectstore.BundleKey(id), data); err != nil {
			return err
		}
	}

	if cl.Compressed {
		dict, err := patchdata.LoadDictionary(patchDataDir)
		if err != nil {
			return err
		}
		if len(dict) > 0 {
			if err := store.Put(ctx, objectstore.DictionaryKey(), dict); err != nil {
				return err
			}
		}
	}

	encoded, err := cl.Encode()
	if err != nil {
		return err
	}
	if err := store.Put(ctx, objectstore.ChangelogKey(), encoded); err != nil {
		return err
	}
	if err := store.PurgeCache(ctx, objectstore.ChangelogKey()); err != nil {
		return err
	}

	log.Info("upload complete",
		obs.Int("blocks_uploaded", len(blocksToUpload)),
		obs.Int("bundles_uploaded", len(bundlesToUpload)),
	)
	return nil
}

func readBundleFile(dir, id string) ([]byte, error) {
	path := filepath.Join(dir, id)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, patcherr.Storage("upload.readBundleFile", err).WithPath(path)
	}
	return data, nil
}
