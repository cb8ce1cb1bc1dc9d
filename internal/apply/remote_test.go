// Copyright 2025 James Ross
package apply

import (
	"bytes"
	"context"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flyingrobots/patchkit/internal/block"
	"github.com/flyingrobots/patchkit/internal/bundle"
	"github.com/flyingrobots/patchkit/internal/chunk"
	"github.com/flyingrobots/patchkit/internal/config"
	"github.com/flyingrobots/patchkit/internal/manifest"
	"github.com/flyingrobots/patchkit/internal/patcherr"
)

// buildRemoteManifest chunks sourceDir and packs bundles without
// filling any local block store, so an apply against it has to fetch
// everything remotely.
func buildRemoteManifest(t *testing.T, sourceDir string) (*manifest.Changelog, map[string][]byte) {
	t.Helper()
	c, err := chunk.New(4096)
	if err != nil {
		t.Fatal(err)
	}
	b := manifest.NewBuilder(c, 4, nil)
	res, err := b.Build(context.Background(), sourceDir, "1", 4096)
	if err != nil {
		t.Fatal(err)
	}

	var files []bundle.FileBlocks
	for path, ids := range res.Changelog.Files {
		fb := bundle.FileBlocks{Path: path}
		for _, id := range ids {
			blk := res.Blocks[id]
			fb.Blocks = append(fb.Blocks, bundle.BlockInput{ID: id, Data: blk.Data, RawBytes: blk.Data})
		}
		files = append(files, fb)
	}
	packed := bundle.NewPacker(16 * 1024 * 1024).Pack(files, nil)

	res.Changelog.Bundles = make(map[string][]manifest.BundleEntry)
	for id, bdl := range packed.NewBundles {
		entries := make([]manifest.BundleEntry, 0, len(bdl.Entries))
		for _, e := range bdl.Entries {
			entries = append(entries, manifest.BundleEntry{BlockID: e.BlockID, Offset: e.Offset, Length: e.Length})
		}
		res.Changelog.Bundles[id] = entries
	}
	res.Changelog.BlockIndex = packed.BlockIndex

	return res.Changelog, packed.BundleData
}

func fastRetryConfig() config.Apply {
	return config.Apply{
		FetchConcurrency: 4,
		MaxRetries:       3,
		RetryBaseDelay:   time.Millisecond,
		RetryMaxDelay:    5 * time.Millisecond,
	}
}

func TestApplyRecoversFromOneServerErrorPerBundle(t *testing.T) {
	source := t.TempDir()
	writeFile(t, filepath.Join(source, "app/data.bin"), bytes.Repeat([]byte("patchkit"), 8192))
	writeFile(t, filepath.Join(source, "readme.txt"), []byte("remote fetch round trip"))

	cl, bundleData := buildRemoteManifest(t, source)

	var mu sync.Mutex
	failed := make(map[string]bool)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/bundles/")
		mu.Lock()
		first := !failed[id]
		failed[id] = true
		mu.Unlock()
		if first {
			http.Error(w, "transient", http.StatusInternalServerError)
			return
		}
		data, ok := bundleData[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	install := t.TempDir()
	store, err := block.Open(filepath.Join(install, ".patchkit-blocks"), false)
	if err != nil {
		t.Fatal(err)
	}
	chunker, err := chunk.New(4096)
	if err != nil {
		t.Fatal(err)
	}
	fetcher := NewHTTPFetcher(srv.URL, 5*time.Second)

	eng := New(install, cl, store, chunker, nil, fetcher, fastRetryConfig(), nil, nil, false)
	res, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if res.BundlesFetched != len(cl.Bundles) {
		t.Fatalf("expected %d bundles fetched, got %d", len(cl.Bundles), res.BundlesFetched)
	}

	for path := range cl.Files {
		want, err := os.ReadFile(filepath.Join(source, filepath.FromSlash(path)))
		if err != nil {
			t.Fatal(err)
		}
		got, err := os.ReadFile(filepath.Join(install, filepath.FromSlash(path)))
		if err != nil {
			t.Fatalf("reading applied %s: %v", path, err)
		}
		if !bytes.Equal(want, got) {
			t.Fatalf("content mismatch for %s", path)
		}
	}

	// The block cache living inside the install dir must survive prune.
	if _, err := os.Stat(filepath.Join(install, ".patchkit-blocks")); err != nil {
		t.Fatalf("block cache should not be pruned: %v", err)
	}
}

func TestApplyFailsCleanlyOnPersistentServerError(t *testing.T) {
	source := t.TempDir()
	writeFile(t, filepath.Join(source, "a.bin"), bytes.Repeat([]byte{0xAB}, 64*1024))

	cl, _ := buildRemoteManifest(t, source)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	install := t.TempDir()
	store, err := block.Open(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	chunker, err := chunk.New(4096)
	if err != nil {
		t.Fatal(err)
	}
	fetcher := NewHTTPFetcher(srv.URL, 5*time.Second)

	eng := New(install, cl, store, chunker, nil, fetcher, fastRetryConfig(), nil, nil, false)
	_, err = eng.Run(context.Background())
	if err == nil {
		t.Fatal("expected apply to fail against a persistently broken server")
	}
	if patcherr.KindOf(err) != patcherr.KindNetwork {
		t.Fatalf("expected a network error, got kind %q: %v", patcherr.KindOf(err), err)
	}

	// No partial files, no leftover temp files.
	entries := 0
	werr := filepath.WalkDir(install, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != install && !d.IsDir() {
			entries++
		}
		return nil
	})
	if werr != nil {
		t.Fatal(werr)
	}
	if entries != 0 {
		t.Fatalf("expected an empty install dir after failed apply, found %d files", entries)
	}
}

func TestApplyMissingBundleIsNotRetried(t *testing.T) {
	source := t.TempDir()
	writeFile(t, filepath.Join(source, "a.bin"), bytes.Repeat([]byte{0x42}, 32*1024))

	cl, _ := buildRemoteManifest(t, source)

	var mu sync.Mutex
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		http.NotFound(w, r)
	}))
	defer srv.Close()

	install := t.TempDir()
	store, err := block.Open(t.TempDir(), false)
	if err != nil {
		t.Fatal(err)
	}
	chunker, err := chunk.New(4096)
	if err != nil {
		t.Fatal(err)
	}
	fetcher := NewHTTPFetcher(srv.URL, 5*time.Second)

	eng := New(install, cl, store, chunker, nil, fetcher, fastRetryConfig(), nil, nil, false)
	if _, err := eng.Run(context.Background()); err == nil {
		t.Fatal("expected apply to fail when a bundle is missing remotely")
	}

	mu.Lock()
	defer mu.Unlock()
	if requests != len(cl.Bundles) {
		t.Fatalf("a 404 should not be retried: expected %d requests, got %d", len(cl.Bundles), requests)
	}
}
