// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/flyingrobots/patchkit/internal/chunk"
	"github.com/flyingrobots/patchkit/internal/config"
	"github.com/flyingrobots/patchkit/internal/patchdata"
	"github.com/flyingrobots/patchkit/internal/patcherr"
	"github.com/flyingrobots/patchkit/internal/validate"
)

func runValidate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config")
	patchData := fs.String("patch-data", "", "Path or URL to the patch-data directory (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: patchctl validate [flags] <install_dir>")
	}
	installDir := fs.Arg(0)
	if *patchData == "" {
		return patcherr.Config("validate", fmt.Errorf("--patch-data is required"))
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
		return patcherr.Input("validate", fmt.Errorf("no changelog.json found at %s", *patchData))
	}

	chunker, err := chunk.New(cl.BlockSize)
	if err != nil {
		return err
	}

	res, err := validate.Validate(ctx, chunker, cl, installDir)
	if err != nil {
		return err
	}

	if res.OK {
		fmt.Println("ok")
		return nil
	}
	for _, m := range res.Mismatches {
		fmt.Printf("%-24s %s\n", m.Reason, m.Path)
	}
	os.Exit(1)
	return nil
}
