// Copyright 2025 James Ross

// Package manifest defines the changelog schema that ties together a
// directory tree snapshot's files, blocks, and bundles, and the
// builder that walks a tree to produce one.
package manifest

import (
	"encoding/json"
	"time"
)

// BundleEntry is one block's position inside a bundle, matching
// bundle.Entry but kept as an independent, explicitly-tagged type so
// the manifest's on-disk schema does not change shape if the bundle
// package's internal representation ever does.
type BundleEntry struct {
	BlockID string `json:"block_id"`
	Offset  int64  `json:"offset"`
	Length  int64  `json:"length"`
}

// Changelog is the root manifest document. Every field is explicit
// and statically typed; there is no dynamic map-of-interface{} escape
// hatch, so a manifest either matches this shape or fails to decode
// instead of silently carrying untyped data forward.
type Changelog struct {
	Version                string                   `json:"version"`
	CreatedAt              time.Time                `json:"created_at"`
	BlockSize              int                      `json:"block_size"`
	Compressed             bool                     `json:"compressed"`
	DictionaryID           *string                  `json:"dictionary_id,omitempty"`
	Files                  map[string][]string      `json:"files"`
	Bundles                map[string][]BundleEntry `json:"bundles"`
	BlockIndex             map[string]string        `json:"block_index"`
	TotalUncompressedBytes int64                    `json:"total_uncompressed_bytes"`
}

// Encode writes the changelog as indented JSON, forward-compatible:
// readers on a future schema version can add fields without breaking
// this writer, since it only ever emits what it knows about.
func (c *Changelog) Encode() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Decode parses a changelog from JSON. Unknown fields are tolerated
// (json.Unmarshal already ignores them by default; we deliberately
// never opt into DisallowUnknownFields) so a manifest produced by a
// newer version of this tool can still be read by an older one for
// diffing purposes.
func Decode(data []byte) (*Changelog, error) {
	var c Changelog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	if c.Files == nil {
		c.Files = map[string][]string{}
	}
	if c.Bundles == nil {
		c.Bundles = map[string][]BundleEntry{}
	}
	if c.BlockIndex == nil {
		c.BlockIndex = map[string]string{}
	}
	return &c, nil
}
