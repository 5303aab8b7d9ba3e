// Package blockcodec implements the single-buffer block codec consumed by the
// super-chunk engine. Compress produces a self-describing chunk (see package
// chunk for the prefix layout); Decompress reverses it.
//
// A chunk which would grow under compression is written in stored form
// instead, the same fallback the SquashFS kernel driver forces for
// incompressible blocks. Compression level 0 always stores, which the DELTA
// reference machinery relies on: a stored chunk's body is directly
// addressable.
package blockcodec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/distr1/superchunk/chunk"
	"github.com/distr1/superchunk/delta"
	"golang.org/x/xerrors"
)

// chunkFormat is the chunk prefix format version this package writes.
const chunkFormat = 1

// Shuffle codes accepted in CompressOptions.Shuffle.
const (
	NoShuffle  uint8 = 0
	Shuffle    uint8 = 1
	BitShuffle uint8 = 2
)

// Flag bits in the chunk prefix flags byte.
const (
	FlagShuffle    uint8 = 1 << 0
	FlagBitShuffle uint8 = 1 << 1
	FlagStored     uint8 = 1 << 2
	FlagDelta      uint8 = 1 << 3
)

// CompressOptions parameterize a single Compress call.
type CompressOptions struct {
	// Level is the compression level, 0 through 9. Level 0 stores the
	// payload verbatim.
	Level int

	// Shuffle selects the transposition filter applied before compression:
	// NoShuffle, Shuffle or BitShuffle.
	Shuffle uint8

	// TypeSize is the element size in bytes the shuffle filters operate on.
	// Values below 1 are treated as 1.
	TypeSize int

	// DeltaRef, when non-nil, is the stored-form reference chunk the payload
	// is delta-encoded against before any shuffle stage. Decompress must then
	// be handed the same reference.
	DeltaRef []byte
}

// DecompressOptions parameterize a single Decompress call.
type DecompressOptions struct {
	// DeltaRef is the reference chunk for chunks carrying FlagDelta.
	DeltaRef []byte
}

// Compress compresses src into a freshly allocated chunk using the compressor
// registered under code. The result carries at most chunk.MaxOverhead bytes
// on top of len(src).
func Compress(code uint8, opts CompressOptions, src []byte) ([]byte, error) {
	be, ok := backends[code]
	if !ok {
		return nil, fmt.Errorf("unknown compressor code %d", code)
	}
	n := len(src)
	if n > math.MaxInt32-chunk.MaxOverhead {
		return nil, fmt.Errorf("buffer of %d bytes exceeds the chunk size limit", n)
	}
	ts := opts.TypeSize
	if ts < 1 {
		ts = 1
	}

	var flags uint8
	payload := src
	if opts.DeltaRef != nil {
		tmp := make([]byte, n)
		delta.Encode(opts.DeltaRef, 0, n, payload, tmp)
		payload = tmp
		flags |= FlagDelta
	}
	switch opts.Shuffle {
	case NoShuffle:
	case Shuffle:
		// A typesize of 1 makes the byte shuffle an identity.
		if ts > 1 && ts <= math.MaxUint8 {
			payload = shuffleBytes(ts, payload)
			flags |= FlagShuffle
		}
	case BitShuffle:
		if ts <= math.MaxUint8 {
			payload = bitShuffle(ts, payload)
			flags |= FlagBitShuffle
		}
	default:
		return nil, fmt.Errorf("unknown shuffle code %d", opts.Shuffle)
	}

	var body []byte
	if opts.Level <= 0 {
		flags |= FlagStored
		body = payload
	} else {
		enc, err := be.compress(opts.Level, payload)
		if err != nil {
			return nil, xerrors.Errorf("%s: %w", be.name, err)
		}
		if len(enc) == 0 || len(enc) >= n {
			// Incompressible, keep the payload verbatim.
			flags |= FlagStored
			body = payload
		} else {
			body = enc
		}
	}

	c := make([]byte, chunk.PrefixLen+len(body))
	c[0] = chunkFormat
	c[1] = code
	c[2] = flags
	if ts <= math.MaxUint8 {
		c[3] = byte(ts)
	}
	binary.LittleEndian.PutUint32(c[4:], uint32(n))
	binary.LittleEndian.PutUint32(c[8:], uint32(n))
	binary.LittleEndian.PutUint32(c[12:], uint32(len(c)))
	copy(c[chunk.PrefixLen:], body)
	return c, nil
}

// Decompress expands the chunk c into dst and returns the number of bytes
// produced (the chunk's nbytes). dst must hold at least that many bytes.
func Decompress(c []byte, dst []byte, opts DecompressOptions) (int, error) {
	v := chunk.View(c)
	if err := v.Valid(); err != nil {
		return 0, err
	}
	n := int(v.NBytes())
	if len(dst) < n {
		return 0, fmt.Errorf("destination holds %d bytes, chunk expands to %d", len(dst), n)
	}
	flags := v.Flags()
	body := v.Body()

	var work []byte
	if flags&FlagStored != 0 {
		if len(body) != n {
			return 0, fmt.Errorf("stored chunk body is %d bytes, want %d", len(body), n)
		}
		work = body
	} else {
		be, ok := backends[v.Codec()]
		if !ok {
			return 0, fmt.Errorf("unknown compressor code %d", v.Codec())
		}
		dec, err := be.decompress(body, n)
		if err != nil {
			return 0, xerrors.Errorf("%s: %w", be.name, err)
		}
		if len(dec) != n {
			return 0, fmt.Errorf("%s produced %d bytes, want %d", be.name, len(dec), n)
		}
		work = dec
	}

	ts := v.TypeSize()
	if ts < 1 {
		ts = 1
	}
	switch {
	case flags&FlagShuffle != 0:
		work = unshuffleBytes(ts, work)
	case flags&FlagBitShuffle != 0:
		work = bitUnshuffle(ts, work)
	}

	copy(dst, work[:n])
	if flags&FlagDelta != 0 {
		if opts.DeltaRef == nil {
			return 0, fmt.Errorf("chunk is delta-encoded but no reference was provided")
		}
		delta.Decode(opts.DeltaRef, 0, n, dst[:n])
	}
	return n, nil
}
