// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/flyingrobots/patchkit/internal/config"
	"github.com/flyingrobots/patchkit/internal/obs"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	var showVersion bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	args := fs.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: patchctl <create|upload|apply|validate> ...")
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "signal received (%s), cancelling in-flight work\n", sig)
		cancel()
		select {
		case <-sigCh:
			os.Exit(1)
		case <-time.After(5 * time.Second):
		}
	}()

	var err error
	switch args[0] {
	case "create":
		err = runCreate(ctx, args[1:])
	case "upload":
		err = runUpload(ctx, args[1:])
	case "apply":
		err = runApply(ctx, args[1:])
	case "validate":
		err = runValidate(ctx, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "patchctl %s: %v\n", args[0], err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *zap.Logger {
	log, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		log = zap.NewNop()
	}
	return log
}
