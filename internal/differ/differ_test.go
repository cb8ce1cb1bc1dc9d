// Copyright 2025 James Ross
package differ

import (
	"sort"
	"testing"

	"github.com/flyingrobots/patchkit/internal/manifest"
)

func manifestWith(blockIndex map[string]string, bundles map[string][]manifest.BundleEntry) *manifest.Changelog {
	return &manifest.Changelog{
		BlockIndex: blockIndex,
		Bundles:    bundles,
		Files:      map[string][]string{},
	}
}

func TestCompareNilPreviousMarksEverythingNew(t *testing.T) {
	n := manifestWith(
		map[string]string{"b1": "bundleA", "b2": "bundleA"},
		map[string][]manifest.BundleEntry{"bundleA": nil},
	)

	diff := Compare(n, nil)
	if len(diff.NewBlocks) != 2 {
		t.Fatalf("expected 2 new blocks, got %d", len(diff.NewBlocks))
	}
	if len(diff.NewBundles) != 1 {
		t.Fatalf("expected 1 new bundle, got %d", len(diff.NewBundles))
	}
	if len(diff.ObsoleteBlocks) != 0 || len(diff.ObsoleteBundles) != 0 {
		t.Fatalf("expected no obsolete entries with nil previous manifest")
	}
}

func TestCompareFindsNewAndObsolete(t *testing.T) {
	p := manifestWith(
		map[string]string{"b1": "bundleA", "b2": "bundleA", "b3": "bundleB"},
		map[string][]manifest.BundleEntry{"bundleA": nil, "bundleB": nil},
	)
	n := manifestWith(
		map[string]string{"b1": "bundleA", "b4": "bundleC"},
		map[string][]manifest.BundleEntry{"bundleA": nil, "bundleC": nil},
	)

	diff := Compare(n, p)

	sort.Strings(diff.NewBlocks)
	sort.Strings(diff.ObsoleteBlocks)
	sort.Strings(diff.NewBundles)
	sort.Strings(diff.ObsoleteBundles)

	if len(diff.NewBlocks) != 1 || diff.NewBlocks[0] != "b4" {
		t.Fatalf("expected new block b4, got %v", diff.NewBlocks)
	}
	if len(diff.ObsoleteBlocks) != 2 {
		t.Fatalf("expected 2 obsolete blocks (b2, b3), got %v", diff.ObsoleteBlocks)
	}
	if len(diff.NewBundles) != 1 || diff.NewBundles[0] != "bundleC" {
		t.Fatalf("expected new bundle bundleC, got %v", diff.NewBundles)
	}
	if len(diff.ObsoleteBundles) != 1 || diff.ObsoleteBundles[0] != "bundleB" {
		t.Fatalf("expected obsolete bundle bundleB, got %v", diff.ObsoleteBundles)
	}
}

func TestCompareIdenticalManifestsProduceNoDiff(t *testing.T) {
	m := manifestWith(
		map[string]string{"b1": "bundleA"},
		map[string][]manifest.BundleEntry{"bundleA": nil},
	)
	diff := Compare(m, m)
	if len(diff.NewBlocks) != 0 || len(diff.NewBundles) != 0 ||
		len(diff.ObsoleteBlocks) != 0 || len(diff.ObsoleteBundles) != 0 {
		t.Fatalf("expected empty diff for identical manifests, got %+v", diff)
	}
}
