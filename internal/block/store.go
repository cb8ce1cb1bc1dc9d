// Copyright 2025 James Ross

// Package block implements the on-disk, content-addressed block
// store: raw or compressed blocks named by the hex of their SHA-256
// identity, sharded by the first two hex characters so the store
// never keeps a single directory with a million entries.
package block

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flyingrobots/patchkit/internal/patcherr"
)

// Store is a sharded content-addressed repository rooted at a
// directory. Compressed reports whether stored bytes are zstd
// compressed; Get always returns raw stored bytes and leaves
// decompression to the caller.
type Store struct {
	root       string
	Compressed bool
}

// Open ensures root exists and returns a Store rooted there.
func Open(root string, compressed bool) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, patcherr.Storage("block.Open", err).WithPath(root)
	}
	return &Store{root: root, Compressed: compressed}, nil
}

// Root returns the directory the store lives under, so callers that
// walk nearby trees (the apply engine's scan and prune) can avoid
// descending into it.
func (s *Store) Root() string { return s.root }

func (s *Store) shardDir(id string) string {
	return filepath.Join(s.root, id[:2])
}

func (s *Store) path(id string) string {
	return filepath.Join(s.shardDir(id), id)
}

// Has reports whether a block with the given hex id is present.
func (s *Store) Has(id string) bool {
	_, err := os.Stat(s.path(id))
	return err == nil
}

// Put writes bytes under id atomically: a temp file in the shard
// directory, fsynced, then renamed into place. Put is idempotent; if
// a block with this id already exists its content is trusted to be
// identical, since the id is the hash of the content.
func (s *Store) Put(id string, data []byte) error {
	if len(id) < 2 {
		return patcherr.Input("block.Put", fmt.Errorf("invalid block id %q", id)).WithPath(id)
	}
	if s.Has(id) {
		return nil
	}

	dir := s.shardDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return patcherr.Storage("block.Put: mkdir", err).WithPath(dir)
	}

	tmp, err := os.CreateTemp(dir, id+".tmp-*")
	if err != nil {
		return patcherr.Storage("block.Put: create temp", err).WithPath(dir)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return patcherr.Storage("block.Put: write", err).WithPath(tmpPath)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return patcherr.Storage("block.Put: fsync", err).WithPath(tmpPath)
	}
	if err := tmp.Close(); err != nil {
		return patcherr.Storage("block.Put: close", err).WithPath(tmpPath)
	}

	if err := os.Rename(tmpPath, s.path(id)); err != nil {
		return patcherr.Storage("block.Put: rename", err).WithPath(s.path(id))
	}
	return nil
}

// Get reads the raw stored bytes for id. If the store is marked
// Compressed the caller must decompress before use.
func (s *Store) Get(id string) ([]byte, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, patcherr.Integrity("block.Get", patcherr.ErrBlockNotFound).WithPath(id)
		}
		return nil, patcherr.Storage("block.Get", err).WithPath(id)
	}
	return data, nil
}

// Iter enumerates every block id in the store, for GC and upload
// planning. It walks shard directories in sorted order.
func (s *Store) Iter(fn func(id string) error) error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return patcherr.Storage("block.Iter: readdir", err).WithPath(s.root)
	}

	for _, shard := range entries {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		shardPath := filepath.Join(s.root, shard.Name())
		files, err := os.ReadDir(shardPath)
		if err != nil {
			return patcherr.Storage("block.Iter: readdir shard", err).WithPath(shardPath)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			if err := fn(f.Name()); err != nil {
				return err
			}
		}
	}
	return nil
}

// VerifyID reports whether data's SHA-256 hex digest equals id,
// guarding against a corrupt or mismatched write before it reaches
// Put.
func VerifyID(id string, data []byte) error {
	want, err := hex.DecodeString(id)
	if err != nil {
		return patcherr.Input("block.VerifyID: decode id", err).WithPath(id)
	}
	sum := sha256.Sum256(data)
	if !bytes.Equal(want, sum[:]) {
		return patcherr.Integrity("block.VerifyID", patcherr.ErrHashMismatch).WithPath(id)
	}
	return nil
}
