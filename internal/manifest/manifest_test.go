// Copyright 2025 James Ross
package manifest

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	dictID := "deadbeef"
	cl := &Changelog{
		Version:      "1",
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
		BlockSize:    65536,
		Compressed:   true,
		DictionaryID: &dictID,
		Files: map[string][]string{
			"a.txt": {"block1", "block2"},
		},
		Bundles: map[string][]BundleEntry{
			"bundleA": {{BlockID: "block1", Offset: 0, Length: 10}, {BlockID: "block2", Offset: 10, Length: 20}},
		},
		BlockIndex:             map[string]string{"block1": "bundleA", "block2": "bundleA"},
		TotalUncompressedBytes: 30,
	}

	data, err := cl.Encode()
	if err != nil {
		t.Fatal(err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	if got.Version != cl.Version {
		t.Fatalf("version mismatch: %s vs %s", got.Version, cl.Version)
	}
	if !got.CreatedAt.Equal(cl.CreatedAt) {
		t.Fatalf("created_at mismatch")
	}
	if got.DictionaryID == nil || *got.DictionaryID != dictID {
		t.Fatalf("dictionary id mismatch")
	}
	if len(got.Files["a.txt"]) != 2 {
		t.Fatalf("expected 2 blocks for a.txt")
	}
	if got.BlockIndex["block1"] != "bundleA" {
		t.Fatalf("block index mismatch")
	}
}

func TestDecodeToleratesUnknownFields(t *testing.T) {
	raw := `{
		"version": "1",
		"created_at": "2026-01-01T00:00:00Z",
		"block_size": 65536,
		"compressed": false,
		"files": {},
		"bundles": {},
		"block_index": {},
		"total_uncompressed_bytes": 0,
		"a_future_field_we_do_not_know_about": {"nested": true}
	}`

	cl, err := Decode([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if cl.Version != "1" {
		t.Fatalf("expected version 1, got %s", cl.Version)
	}
}

func TestDecodeNilMapsAreInitialized(t *testing.T) {
	raw := `{"version": "1", "created_at": "2026-01-01T00:00:00Z", "block_size": 1}`
	cl, err := Decode([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if cl.Files == nil || cl.Bundles == nil || cl.BlockIndex == nil {
		t.Fatalf("expected nil maps to be initialized to empty maps")
	}
}

func TestEncodeOmitsNilDictionaryID(t *testing.T) {
	cl := &Changelog{
		Version:    "1",
		CreatedAt:  time.Now().UTC(),
		Files:      map[string][]string{},
		Bundles:    map[string][]BundleEntry{},
		BlockIndex: map[string]string{},
	}
	data, err := cl.Encode()
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if _, present := raw["dictionary_id"]; present {
		t.Fatalf("expected dictionary_id to be omitted when nil")
	}
}
