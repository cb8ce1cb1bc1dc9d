// Copyright 2025 James Ross
package codec

import (
	"fmt"
	"testing"
)

func TestTrainReturnsNilBelowMinSamples(t *testing.T) {
	tr := NewTrainer(100, 1<<20)
	tr.AddSample([]byte("only one sample"))

	dict, err := tr.Train(1024)
	if err != nil {
		t.Fatal(err)
	}
	if dict != nil {
		t.Fatalf("expected nil dictionary below the minimum sample count")
	}
}

func TestTrainerRespectsSampleCap(t *testing.T) {
	tr := NewTrainer(5, 1<<20)
	for i := 0; i < 20; i++ {
		tr.AddSample([]byte(fmt.Sprintf("sample number %d with enough content to matter", i)))
	}
	if tr.SampleCount() != 5 {
		t.Fatalf("expected sample count capped at 5, got %d", tr.SampleCount())
	}
}

func TestTrainerRespectsByteCap(t *testing.T) {
	tr := NewTrainer(1000, 50)
	for i := 0; i < 20; i++ {
		tr.AddSample([]byte("0123456789"))
	}
	if tr.totalBytes > 50 {
		t.Fatalf("expected total bytes capped at 50, got %d", tr.totalBytes)
	}
}

func TestTrainProducesUsableDictionary(t *testing.T) {
	tr := NewTrainer(2000, 10<<20)
	for i := 0; i < 1000; i++ {
		tr.AddSample([]byte(fmt.Sprintf("a shared preamble used by every sample %d and some trailing bytes that vary", i)))
	}

	dict, err := tr.Train(8 * 1024)
	if err != nil {
		t.Fatal(err)
	}
	if len(dict) == 0 {
		t.Fatalf("expected a non-empty trained dictionary")
	}

	c, err := New(5)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if err := c.WithDictionary(dict); err != nil {
		t.Fatal(err)
	}
}

func TestResetClearsSamples(t *testing.T) {
	tr := NewTrainer(10, 1<<20)
	tr.AddSample([]byte("sample"))
	tr.Reset()
	if tr.SampleCount() != 0 {
		t.Fatalf("expected sample count 0 after Reset")
	}
}
