// Copyright 2025 James Ross
package bundle

import (
	"testing"
)

func blocks(n int, size int) []BlockInput {
	out := make([]BlockInput, n)
	for i := 0; i < n; i++ {
		data := make([]byte, size)
		for j := range data {
			data[j] = byte(i)
		}
		out[i] = BlockInput{ID: string(rune('a' + i)), Data: data, RawBytes: data}
	}
	return out
}

func TestPackSingleFileFitsOneBundle(t *testing.T) {
	p := NewPacker(1024)
	files := []FileBlocks{{Path: "a.bin", Blocks: blocks(3, 100)}}

	res := p.Pack(files, nil)
	if len(res.NewBundles) != 1 {
		t.Fatalf("expected 1 bundle, got %d", len(res.NewBundles))
	}
	for _, blk := range files[0].Blocks {
		if _, ok := res.BlockIndex[blk.ID]; !ok {
			t.Fatalf("block %s missing from block index", blk.ID)
		}
	}
}

func TestPackSplitsAtSizeCap(t *testing.T) {
	p := NewPacker(250)
	files := []FileBlocks{{Path: "a.bin", Blocks: blocks(3, 100)}}

	res := p.Pack(files, nil)
	if len(res.NewBundles) < 2 {
		t.Fatalf("expected at least 2 bundles when blocks exceed the cap, got %d", len(res.NewBundles))
	}
}

func TestPackReusesPreviousAssignment(t *testing.T) {
	p := NewPacker(1024)
	fileBlocks := blocks(2, 100)
	files := []FileBlocks{{Path: "a.bin", Blocks: fileBlocks}}

	prevIndex := map[string]string{fileBlocks[0].ID: "old-bundle-id"}

	res := p.Pack(files, prevIndex)
	if res.BlockIndex[fileBlocks[0].ID] != "old-bundle-id" {
		t.Fatalf("expected reused block to keep its previous bundle id")
	}
	if _, ok := res.NewBundles["old-bundle-id"]; ok {
		t.Fatalf("reused bundle should not be repacked")
	}
	if _, ok := res.BlockIndex[fileBlocks[1].ID]; !ok {
		t.Fatalf("expected the new block to be assigned a bundle")
	}
}

func TestPackDeduplicatesRepeatedBlockAcrossFiles(t *testing.T) {
	p := NewPacker(1024)
	shared := BlockInput{ID: "shared", Data: []byte("shared content"), RawBytes: []byte("shared content")}

	files := []FileBlocks{
		{Path: "a.bin", Blocks: []BlockInput{shared}},
		{Path: "b.bin", Blocks: []BlockInput{shared}},
	}

	res := p.Pack(files, nil)
	if len(res.NewBundles) != 1 {
		t.Fatalf("expected the shared block to be packed exactly once, got %d bundles", len(res.NewBundles))
	}
}

func TestBundleIDIsContentAddressed(t *testing.T) {
	p := NewPacker(1024)
	files := []FileBlocks{{Path: "a.bin", Blocks: blocks(2, 50)}}

	res1 := p.Pack(files, nil)
	res2 := p.Pack(files, nil)

	var id1, id2 string
	for id := range res1.NewBundles {
		id1 = id
	}
	for id := range res2.NewBundles {
		id2 = id
	}
	if id1 != id2 {
		t.Fatalf("expected identical packing to produce identical bundle ids: %s vs %s", id1, id2)
	}
}
