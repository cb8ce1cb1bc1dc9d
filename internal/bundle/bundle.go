// Copyright 2025 James Ross

// Package bundle packs a manifest's per-file block lists into
// bundles: concatenated objects that amortize request overhead when
// fetching blocks over the network, while keeping the blocks of a
// previous manifest pinned to their existing bundle for CDN cache
// stability.
package bundle

import (
	"crypto/sha256"
	"encoding/hex"
)

// Entry is one block's position inside a bundle's stored-form byte
// stream.
type Entry struct {
	BlockID string
	Offset  int64
	Length  int64
}

// Bundle is a packed object: its id (SHA-256 of its concatenated
// uncompressed block payloads) and the ordered entries inside it.
type Bundle struct {
	ID      string
	Entries []Entry
}

// BlockInput is one block ready to be packed: its id, its stored-form
// bytes (already compressed, if the manifest is compressed, and what
// actually lands in the bundle file and defines entry offsets), and
// its uncompressed payload. The bundle's content identity is hashed
// over the uncompressed payloads even though the bundle itself stores
// the compressed form, so a bundle's id is stable across compression
// settings.
type BlockInput struct {
	ID       string
	Data     []byte
	RawBytes []byte
}

// FileBlocks is a single file's ordered block list, as produced by
// the manifest builder.
type FileBlocks struct {
	Path   string
	Blocks []BlockInput
}

// Result is the output of a pack operation: any newly created
// bundles (with their stored-form bytes, ready for upload) plus the
// complete block-to-bundle index covering both reused and new blocks.
type Result struct {
	NewBundles map[string]Bundle
	BundleData map[string][]byte
	BlockIndex map[string]string
}

// Packer packs file block lists into bundles capped at sizeCap bytes
// of stored-form content each.
type Packer struct {
	sizeCap int64
}

// NewPacker builds a Packer with the given bundle size cap.
func NewPacker(sizeCap int64) *Packer {
	return &Packer{sizeCap: sizeCap}
}

// Pack packs files in order, reusing any block's existing bundle
// assignment found in prevIndex, and grouping newly-seen blocks into
// fresh bundles capped at the packer's size limit. Blocks belonging
// to one file stay contiguous within a bundle except where the size
// cap forces a split.
func (p *Packer) Pack(files []FileBlocks, prevIndex map[string]string) *Result {
	blockIndex := make(map[string]string)
	newBundles := make(map[string]Bundle)
	bundleData := make(map[string][]byte)

	var curEntries []Entry
	var curData []byte
	var curRaw []byte
	var curSize int64

	flush := func() {
		if len(curEntries) == 0 {
			return
		}
		sum := sha256.Sum256(curRaw)
		id := hex.EncodeToString(sum[:])
		newBundles[id] = Bundle{ID: id, Entries: curEntries}
		bundleData[id] = curData
		for _, e := range curEntries {
			blockIndex[e.BlockID] = id
		}
		curEntries = nil
		curData = nil
		curRaw = nil
		curSize = 0
	}

	for _, f := range files {
		for _, blk := range f.Blocks {
			if _, already := blockIndex[blk.ID]; already {
				continue
			}
			if bid, reused := prevIndex[blk.ID]; reused {
				blockIndex[blk.ID] = bid
				continue
			}

			if curSize+int64(len(blk.Data)) > p.sizeCap && len(curEntries) > 0 {
				flush()
			}

			curEntries = append(curEntries, Entry{
				BlockID: blk.ID,
				Offset:  curSize,
				Length:  int64(len(blk.Data)),
			})
			curData = append(curData, blk.Data...)
			curRaw = append(curRaw, blk.RawBytes...)
			curSize += int64(len(blk.Data))
		}
	}
	flush()

	return &Result{
		NewBundles: newBundles,
		BundleData: bundleData,
		BlockIndex: blockIndex,
	}
}
