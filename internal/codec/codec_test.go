// Copyright 2025 James Ross
package codec

import (
	"bytes"
	"fmt"
	"testing"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	c, err := New(5)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	data := []byte("the quick brown fox jumps over the lazy dog, repeated. " +
		"the quick brown fox jumps over the lazy dog, repeated.")

	compressed := c.Compress(data)
	if len(compressed) == 0 {
		t.Fatalf("expected non-empty compressed output")
	}

	decompressed, err := c.Decompress(compressed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecompressCorruptDataFails(t *testing.T) {
	c, err := New(5)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, err = c.Decompress([]byte("not actually zstd framed data"))
	if err == nil {
		t.Fatalf("expected error decompressing garbage")
	}
}

func TestWithDictionaryRoundTrip(t *testing.T) {
	c, err := New(5)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	tr := NewTrainer(2000, 10<<20)
	for i := 0; i < 1000; i++ {
		tr.AddSample([]byte(fmt.Sprintf("shared pattern across blocks, sample %d with trailing bytes that vary", i)))
	}
	dict, err := tr.Train(8 * 1024)
	if err != nil {
		t.Fatal(err)
	}
	if len(dict) == 0 {
		t.Fatalf("expected a trained dictionary")
	}
	if err := c.WithDictionary(dict); err != nil {
		t.Fatal(err)
	}

	data := []byte("shared pattern across blocks appears in this block too")
	compressed := c.Compress(data)
	decompressed, err := c.Decompress(compressed)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Fatalf("round trip mismatch with dictionary attached")
	}
}
