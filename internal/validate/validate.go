// Copyright 2025 James Ross

// Package validate implements the read-only validator: it confirms an
// installation directory matches a manifest by rechunking every file
// and comparing its block-hash sequence, and reports any files present
// on disk that the manifest doesn't know about. It never mutates.
package validate

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/flyingrobots/patchkit/internal/chunk"
	"github.com/flyingrobots/patchkit/internal/manifest"
	"github.com/flyingrobots/patchkit/internal/patcherr"
)

// Mismatch describes one way a validation failed.
type Mismatch struct {
	Path   string
	Reason string
}

// Result is the outcome of a Validate call. OK reports whether the
// installation matched the manifest exactly; Mismatches explains
// every way it didn't, for diagnostics.
type Result struct {
	OK         bool
	Mismatches []Mismatch
}

// Validate rechunks every file named in m under installDir and
// compares its block-id sequence to the manifest's. It also confirms
// there are no files under installDir outside the manifest.
func Validate(ctx context.Context, chunker *chunk.Chunker, m *manifest.Changelog, installDir string) (*Result, error) {
	res := &Result{OK: true}

	for path, want := range m.Files {
		got, err := chunkFile(ctx, chunker, filepath.Join(installDir, filepath.FromSlash(path)))
		if err != nil {
			if os.IsNotExist(err) {
				res.OK = false
				res.Mismatches = append(res.Mismatches, Mismatch{Path: path, Reason: "missing"})
				continue
			}
			return nil, err
		}
		if !sameBlockList(want, got) {
			res.OK = false
			res.Mismatches = append(res.Mismatches, Mismatch{Path: path, Reason: "block list mismatch"})
		}
	}

	extra, err := extraneousFiles(installDir, m)
	if err != nil {
		return nil, err
	}
	for _, path := range extra {
		res.OK = false
		res.Mismatches = append(res.Mismatches, Mismatch{Path: path, Reason: "not in manifest"})
	}

	return res, nil
}

func chunkFile(ctx context.Context, chunker *chunk.Chunker, path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out, errc := chunker.ChunkStream(ctx, f)
	var ids []string
	for blk := range out {
		ids = append(ids, blk.HexHash())
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	return ids, nil
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

func extraneousFiles(installDir string, m *manifest.Changelog) ([]string, error) {
	var extra []string
	err := filepath.WalkDir(installDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return patcherr.Input("validate.extraneousFiles: walk", err).WithPath(path)
		}
		if path == installDir || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(installDir, path)
		if err != nil {
			return patcherr.Input("validate.extraneousFiles: relativize", err).WithPath(path)
		}
		rel = filepath.ToSlash(rel)
		if _, ok := m.Files[rel]; !ok {
			extra = append(extra, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return extra, nil
}
