// Copyright 2025 James Ross

// Package codec wraps Zstandard compression for block and bundle
// payloads, and dictionary training for the patch engine's shared
// compression dictionary.
package codec

import (
	"fmt"
	"sync"

	"github.com/flyingrobots/patchkit/internal/patcherr"
	"github.com/klauspost/compress/zstd"
)

// levelFor maps a 1-22 style compression level (as used in config)
// onto klauspost's coarser encoder-level buckets.
func levelFor(level int) zstd.EncoderLevel {
	switch {
	case level <= 3:
		return zstd.SpeedFastest
	case level <= 6:
		return zstd.SpeedDefault
	case level <= 9:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// Codec compresses and decompresses block payloads, optionally using
// a shared dictionary trained by Trainer. A Codec is safe for
// concurrent use.
type Codec struct {
	mu         sync.RWMutex
	encoder    *zstd.Encoder
	decoder    *zstd.Decoder
	dictionary []byte
	level      zstd.EncoderLevel
}

// New builds a Codec at the given level with no dictionary. Call
// WithDictionary to attach one trained by Trainer.
func New(level int) (*Codec, error) {
	c := &Codec{level: levelFor(level)}
	if err := c.rebuild(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Codec) rebuild() error {
	encOpts := []zstd.EOption{
		zstd.WithEncoderLevel(c.level),
		zstd.WithEncoderConcurrency(1),
	}
	decOpts := []zstd.DOption{
		zstd.WithDecoderConcurrency(1),
	}
	if len(c.dictionary) > 0 {
		encOpts = append(encOpts, zstd.WithEncoderDict(c.dictionary))
		decOpts = append(decOpts, zstd.WithDecoderDicts(c.dictionary))
	}

	enc, err := zstd.NewWriter(nil, encOpts...)
	if err != nil {
		return patcherr.Config("codec.rebuild: new encoder", err)
	}
	dec, err := zstd.NewReader(nil, decOpts...)
	if err != nil {
		return patcherr.Config("codec.rebuild: new decoder", err)
	}

	if c.encoder != nil {
		c.encoder.Close()
	}
	if c.decoder != nil {
		c.decoder.Close()
	}
	c.encoder = enc
	c.decoder = dec
	return nil
}

// WithDictionary reinitializes the codec to use dict for both
// encoding and decoding.
func (c *Codec) WithDictionary(dict []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dictionary = dict
	return c.rebuild()
}

// Compress encodes data, using the attached dictionary if any.
func (c *Codec) Compress(data []byte) []byte {
	c.mu.RLock()
	enc := c.encoder
	c.mu.RUnlock()
	return enc.EncodeAll(data, nil)
}

// Decompress decodes data previously produced by Compress with a
// codec sharing the same dictionary.
func (c *Codec) Decompress(data []byte) ([]byte, error) {
	c.mu.RLock()
	dec := c.decoder
	c.mu.RUnlock()

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, patcherr.Integrity("codec.Decompress", fmt.Errorf("%w: %v", patcherr.ErrHashMismatch, err))
	}
	return out, nil
}

// Close releases the encoder and decoder.
func (c *Codec) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.encoder != nil {
		c.encoder.Close()
		c.encoder = nil
	}
	if c.decoder != nil {
		c.decoder.Close()
		c.decoder = nil
	}
}
