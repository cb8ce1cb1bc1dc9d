// Copyright 2025 James Ross

// Package differ compares two manifests to determine which blocks
// and bundles are genuinely new versus carried over from a previous
// version.
package differ

import "github.com/flyingrobots/patchkit/internal/manifest"

// Diff is the result of comparing a new manifest N against a
// previous one P. Obsolete entries are reported, not deleted; garbage
// collection is a separate, explicit operation.
type Diff struct {
	NewBlocks       []string
	NewBundles      []string
	ObsoleteBlocks  []string
	ObsoleteBundles []string
}

// Compare returns the blocks and bundles introduced by n relative to
// p, and the ones p had that n no longer references. p may be nil, in
// which case every block and bundle in n is reported as new.
func Compare(n *manifest.Changelog, p *manifest.Changelog) Diff {
	var prevBlocks, prevBundles map[string]bool
	if p != nil {
		prevBlocks = make(map[string]bool, len(p.BlockIndex))
		for id := range p.BlockIndex {
			prevBlocks[id] = true
		}
		prevBundles = make(map[string]bool, len(p.Bundles))
		for id := range p.Bundles {
			prevBundles[id] = true
		}
	}

	var diff Diff
	for id := range n.BlockIndex {
		if !prevBlocks[id] {
			diff.NewBlocks = append(diff.NewBlocks, id)
		}
	}
	for id := range n.Bundles {
		if !prevBundles[id] {
			diff.NewBundles = append(diff.NewBundles, id)
		}
	}

	if p == nil {
		return diff
	}

	curBlocks := make(map[string]bool, len(n.BlockIndex))
	for id := range n.BlockIndex {
		curBlocks[id] = true
	}
	curBundles := make(map[string]bool, len(n.Bundles))
	for id := range n.Bundles {
		curBundles[id] = true
	}

	for id := range p.BlockIndex {
		if !curBlocks[id] {
			diff.ObsoleteBlocks = append(diff.ObsoleteBlocks, id)
		}
	}
	for id := range p.Bundles {
		if !curBundles[id] {
			diff.ObsoleteBundles = append(diff.ObsoleteBundles, id)
		}
	}

	return diff
}
