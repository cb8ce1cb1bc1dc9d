// Copyright 2025 James Ross

// Package patchdata reads and writes the local patch-data directory
// layout: changelog.json, an optional dictionary, and the blocks/ and
// bundles/ subtrees the block store and bundle packer already know how
// to address. It is the thin glue `create`, `upload`, `apply`, and
// `validate` share so none of them hardcode the directory shape
// directly.
package patchdata

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flyingrobots/patchkit/internal/manifest"
	"github.com/flyingrobots/patchkit/internal/patcherr"
)

const (
	changelogFile  = "changelog.json"
	dictionaryFile = "dictionary"
	blocksDir      = "blocks"
	bundlesDir     = "bundles"
)

// BlocksDir and BundlesDir return the conventional subdirectory paths
// for a patch-data root, for callers that open a block.Store or write
// bundle files directly against them.
func BlocksDir(root string) string  { return filepath.Join(root, blocksDir) }
func BundlesDir(root string) string { return filepath.Join(root, bundlesDir) }

// WriteChangelog encodes cl as indented JSON and writes it to
// <root>/changelog.json.
func WriteChangelog(root string, cl *manifest.Changelog) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return patcherr.Storage("patchdata.WriteChangelog: mkdir", err).WithPath(root)
	}
	data, err := cl.Encode()
	if err != nil {
		return patcherr.Input("patchdata.WriteChangelog: encode", err)
	}
	path := filepath.Join(root, changelogFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return patcherr.Storage("patchdata.WriteChangelog: write", err).WithPath(path)
	}
	return nil
}

// WriteDictionary writes the trained dictionary bytes to
// <root>/dictionary. A manifest with no compression has no
// dictionary file; callers should not call this in that case.
func WriteDictionary(root string, dict []byte) error {
	path := filepath.Join(root, dictionaryFile)
	if err := os.WriteFile(path, dict, 0o644); err != nil {
		return patcherr.Storage("patchdata.WriteDictionary: write", err).WithPath(path)
	}
	return nil
}

// WriteBundles writes each bundle's stored-form bytes to
// <root>/bundles/<bundle_id>.
func WriteBundles(root string, bundleData map[string][]byte) error {
	dir := BundlesDir(root)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return patcherr.Storage("patchdata.WriteBundles: mkdir", err).WithPath(dir)
	}
	for id, data := range bundleData {
		path := filepath.Join(dir, id)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return patcherr.Storage("patchdata.WriteBundles: write", err).WithPath(path)
		}
	}
	return nil
}

// LoadChangelog reads and decodes a changelog from a local path or an
// http(s) URL. It returns (nil, nil) if the local path doesn't exist,
// since a missing previous manifest simply means every block and
// bundle in the new one is new.
func LoadChangelog(pathOrURL string) (*manifest.Changelog, error) {
	if pathOrURL == "" {
		return nil, nil
	}
	data, err := readBytes(pathOrURL, changelogFile)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	cl, err := manifest.Decode(data)
	if err != nil {
		return nil, patcherr.Input("patchdata.LoadChangelog: decode", err).WithPath(pathOrURL)
	}
	return cl, nil
}

// IsRemote reports whether pathOrURL names a remote patch-data
// location (http/https) rather than a local directory.
func IsRemote(pathOrURL string) bool {
	return strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://")
}

// readBytes reads <pathOrURL>/<name>, over HTTP(S) if pathOrURL is a
// URL, or from the local filesystem otherwise. A missing local file
// or a 404 response yields (nil, nil): "absent" is not an error for
// either a previous manifest or a never-trained dictionary.
func readBytes(pathOrURL, name string) ([]byte, error) {
	if IsRemote(pathOrURL) {
		url := strings.TrimSuffix(pathOrURL, "/") + "/" + name
		client := &http.Client{Timeout: 30 * time.Second}
		resp, err := client.Get(url)
		if err != nil {
			return nil, patcherr.Network("patchdata.readBytes: get", err).WithPath(url)
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		if resp.StatusCode != http.StatusOK {
			return nil, patcherr.Network("patchdata.readBytes", fmt.Errorf("unexpected status %d", resp.StatusCode)).WithPath(url)
		}
		return io.ReadAll(resp.Body)
	}

	path := filepath.Join(pathOrURL, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, patcherr.Storage("patchdata.readBytes: read", err).WithPath(path)
	}
	return data, nil
}

// LoadDictionary reads <root>/dictionary if present, from a local
// path or a remote patch-data URL.
func LoadDictionary(pathOrURL string) ([]byte, error) {
	return readBytes(pathOrURL, dictionaryFile)
}
