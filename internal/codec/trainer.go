// Copyright 2025 James Ross
package codec

import (
	"sort"
	"sync"

	"github.com/dolthub/gozstd"
)

// minSamplesForTraining is the fewest distinct blocks worth spending
// dictionary training time on; below this the dictionary would be
// overfit to a handful of blocks and unlikely to generalize.
const minSamplesForTraining = 8

// Trainer accumulates sample blocks, bounded by count and total
// bytes, and trains a Zstandard dictionary from them with ZDICT's
// real training algorithm rather than concatenating raw samples.
type Trainer struct {
	mu         sync.Mutex
	samples    [][]byte
	totalBytes int64
	maxSamples int
	maxBytes   int64
}

// NewTrainer builds a Trainer capped at maxSamples blocks or maxBytes
// of sample data, whichever is reached first.
func NewTrainer(maxSamples int, maxBytes int64) *Trainer {
	return &Trainer{maxSamples: maxSamples, maxBytes: maxBytes}
}

// AddSample records a copy of a block's content as training material.
// Samples are kept in arrival order: once the sample cap is reached,
// or when a sample would push the total past the byte cap, that
// sample is dropped. No random selection is made among the samples
// offered.
func (t *Trainer) AddSample(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) >= t.maxSamples || t.totalBytes+int64(len(data)) > t.maxBytes {
		return
	}
	cp := append([]byte(nil), data...)
	t.samples = append(t.samples, cp)
	t.totalBytes += int64(len(cp))
}

// SampleCount reports how many samples have been collected so far.
func (t *Trainer) SampleCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samples)
}

// Train builds a dictionary of at most targetSize bytes from the
// collected samples using gozstd's ZDICT_trainFromBuffer binding. If
// fewer than minSamplesForTraining samples were collected, Train
// returns a nil dictionary and no error; callers should ship the
// manifest uncompressed in that case.
func (t *Trainer) Train(targetSize int) ([]byte, error) {
	t.mu.Lock()
	samples := make([][]byte, len(t.samples))
	copy(samples, t.samples)
	t.mu.Unlock()

	if len(samples) < minSamplesForTraining {
		return nil, nil
	}

	// Largest samples first tends to produce more representative
	// dictionaries for ZDICT's frequency analysis.
	sort.Slice(samples, func(i, j int) bool { return len(samples[i]) > len(samples[j]) })

	// ZDICT refuses degenerate corpora (too small, too repetitive) by
	// yielding nothing; treat that like the too-few-samples case and
	// let the caller ship uncompressed.
	dict := gozstd.BuildDict(samples, targetSize)
	if len(dict) == 0 {
		return nil, nil
	}
	return dict, nil
}

// Reset discards all collected samples.
func (t *Trainer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = nil
	t.totalBytes = 0
}
