// Copyright 2025 James Ross
package manifest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/flyingrobots/patchkit/internal/chunk"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBuildWalksTreeDeterministically(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), []byte("hello world"))
	writeFile(t, filepath.Join(root, "sub", "b.txt"), []byte("nested file content"))
	writeFile(t, filepath.Join(root, "empty.txt"), nil)

	c, err := chunk.New(4096)
	if err != nil {
		t.Fatal(err)
	}
	b := NewBuilder(c, 4, nil)

	res, err := b.Build(context.Background(), root, "1", 4096)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := res.Changelog.Files["a.txt"]; !ok {
		t.Fatalf("expected a.txt in manifest")
	}
	if _, ok := res.Changelog.Files["sub/b.txt"]; !ok {
		t.Fatalf("expected sub/b.txt with forward-slash separators")
	}
	if blocks, ok := res.Changelog.Files["empty.txt"]; !ok || len(blocks) != 0 {
		t.Fatalf("expected empty.txt to have zero blocks, got %v", blocks)
	}
	if res.Changelog.TotalUncompressedBytes == 0 {
		t.Fatalf("expected nonzero total bytes")
	}
	if len(res.Blocks) == 0 {
		t.Fatalf("expected at least one discovered block")
	}
}

func TestBuildSkipsSymlinks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "real.txt"), []byte("real content"))
	if err := os.Symlink(filepath.Join(root, "real.txt"), filepath.Join(root, "link.txt")); err != nil {
		t.Skipf("symlinks unsupported in this environment: %v", err)
	}

	c, err := chunk.New(4096)
	if err != nil {
		t.Fatal(err)
	}
	b := NewBuilder(c, 2, nil)

	res, err := b.Build(context.Background(), root, "1", 4096)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Changelog.Files["link.txt"]; ok {
		t.Fatalf("expected symlink to be skipped")
	}
	if _, ok := res.Changelog.Files["real.txt"]; !ok {
		t.Fatalf("expected real.txt to be present")
	}
}
