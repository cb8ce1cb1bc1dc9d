// Copyright 2025 James Ross
package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("PATCHKIT_CHUNKING_WORKER_COUNT")
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Chunking.AvgBlockSize != 64*1024 {
		t.Fatalf("expected default avg block size 65536, got %d", cfg.Chunking.AvgBlockSize)
	}
	if cfg.Bundling.SizeCap != 16*1024*1024 {
		t.Fatalf("expected default bundle size cap 16MiB, got %d", cfg.Bundling.SizeCap)
	}
	if cfg.ObjectStore.Configured() {
		t.Fatalf("expected object store to be unconfigured without credentials")
	}
}

func TestValidateFails(t *testing.T) {
	cfg := defaultConfig()
	cfg.Chunking.WorkerCount = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for chunking.worker_count < 1")
	}

	cfg = defaultConfig()
	cfg.Bundling.SizeCap = 10
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for bundle size cap smaller than block size")
	}

	cfg = defaultConfig()
	cfg.Apply.FetchConcurrency = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for apply.fetch_concurrency < 1")
	}

	cfg = defaultConfig()
	cfg.Compression.Enabled = true
	cfg.Compression.Level = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for compression enabled with level < 1")
	}
}
