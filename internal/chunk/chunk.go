// Copyright 2025 James Ross

// Package chunk implements content-defined chunking with FastCDC, the
// gear-hash based algorithm used to split a byte stream into blocks
// whose boundaries depend only on local content, so an insertion or
// deletion in one part of a file does not reshuffle block boundaries
// anywhere else.
package chunk

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"math/bits"

	"github.com/flyingrobots/patchkit/internal/patcherr"
)

// normalizationLevel biases the gear hash toward the average block
// size: a stricter mask below the average discourages tiny blocks,
// a looser mask above it discourages oversized ones. Level 2 is the
// value used by production FastCDC implementations.
const normalizationLevel = 2

// Block is one content-defined chunk of a larger stream: its byte
// range, its content, and its identity hash.
type Block struct {
	Hash   [32]byte
	Data   []byte
	Offset int64
	Size   int
}

// HexHash renders the block's identity hash as the lowercase hex
// string used for block-store paths and manifest entries.
func (b Block) HexHash() string {
	return fmt.Sprintf("%x", b.Hash)
}

// Chunker splits a byte stream into content-defined blocks with
// FastCDC. Zero value is not usable; construct with New.
type Chunker struct {
	min, avg, max int
	maskS, maskL  uint64
}

// New builds a Chunker targeting avg-byte blocks, with min = avg/4
// and max = avg*4 per the chunking algorithm's standard bounds.
func New(avg int) (*Chunker, error) {
	if avg < 64 {
		return nil, patcherr.Config("chunk.New", fmt.Errorf("average block size must be >= 64 bytes, got %d", avg))
	}
	bitsForAvg := bits.Len(uint(avg)) - 1

	small := bitsForAvg + normalizationLevel
	large := bitsForAvg - normalizationLevel
	if large < 1 {
		large = 1
	}

	return &Chunker{
		min:   avg / 4,
		avg:   avg,
		max:   avg * 4,
		maskS: (uint64(1) << uint(small)) - 1,
		maskL: (uint64(1) << uint(large)) - 1,
	}, nil
}

// ChunkStream reads r to EOF, emitting each Block on the returned
// channel as its boundary is found. The channel is closed when the
// stream is exhausted or ctx is canceled; callers should drain it via
// range and check the returned error channel for a terminal failure.
func (c *Chunker) ChunkStream(ctx context.Context, r io.Reader) (<-chan Block, <-chan error) {
	out := make(chan Block)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		buf := make([]byte, 0, c.max*2)
		tmp := make([]byte, 64*1024)
		var offset int64
		eof := false

		for {
			// Top up the buffer until we have enough to find a
			// boundary or have hit EOF.
			for !eof && len(buf) < c.max {
				n, err := r.Read(tmp)
				if n > 0 {
					buf = append(buf, tmp[:n]...)
				}
				if err == io.EOF {
					eof = true
					break
				}
				if err != nil {
					errc <- patcherr.Input("chunk.ChunkStream: read", err)
					return
				}
				if n == 0 {
					break
				}
			}

			if len(buf) == 0 {
				return
			}

			cut := c.findCutPoint(buf, eof)
			if cut == 0 {
				// No boundary found and not at EOF. findCutPoint
				// returns 0 only while the buffer is short of c.max,
				// which after the top-up loop means a Read returned
				// no bytes and no error; cut what is buffered.
				cut = len(buf)
			}

			select {
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			default:
			}

			block := Block{
				Data:   append([]byte(nil), buf[:cut]...),
				Offset: offset,
				Size:   cut,
			}
			block.Hash = sha256.Sum256(block.Data)

			select {
			case out <- block:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}

			offset += int64(cut)
			buf = buf[cut:]

			if eof && len(buf) == 0 {
				return
			}
		}
	}()

	return out, errc
}

// findCutPoint scans buf for a FastCDC boundary and returns the
// length of the block to cut, or 0 if none was found before the
// available data ran out (caller decides what to do at EOF).
func (c *Chunker) findCutPoint(buf []byte, eof bool) int {
	n := len(buf)
	if n > c.max {
		n = c.max
	}
	if n < c.min {
		if eof {
			return n
		}
		return 0
	}

	var hash uint64
	i := c.min
	for ; i < n; i++ {
		hash = (hash << 1) + gearTable[buf[i]]
		mask := c.maskL
		if i < c.avg {
			mask = c.maskS
		}
		if hash&mask == 0 {
			return i + 1
		}
	}

	if n >= c.max || eof {
		return n
	}
	return 0
}

// ChunkBytes is a convenience wrapper around ChunkStream for
// already-resident data; large files should prefer ChunkStream.
func (c *Chunker) ChunkBytes(ctx context.Context, data []byte) ([]Block, error) {
	out, errc := c.ChunkStream(ctx, bytes.NewReader(data))

	var blocks []Block
	for b := range out {
		blocks = append(blocks, b)
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	return blocks, nil
}
