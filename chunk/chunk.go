// Package chunk provides a read-only view over the byte representation of a
// compressed chunk.
//
// A chunk is an opaque byte sequence produced by the block codec. It is
// self-describing via a fixed-length prefix which carries, among other
// fields, the uncompressed size (nbytes) and the total chunk length including
// the prefix (cbytes). The view never copies and never modifies the
// underlying bytes.
package chunk

import (
	"encoding/binary"
	"fmt"
)

const (
	// PrefixLen is the length of the chunk prefix in bytes.
	PrefixLen = 16

	// MaxOverhead is the maximum number of bytes the codec adds on top of
	// the uncompressed payload. Destination buffers for compression must
	// provide len(src)+MaxOverhead bytes of capacity.
	MaxOverhead = PrefixLen
)

// Prefix layout (all integers little-endian):
//
//	[0]      format version
//	[1]      compressor code
//	[2]      flag bits (owned by the codec)
//	[3]      typesize, or 0 if it does not fit a byte
//	[4..8)   nbytes, uncompressed payload size
//	[8..12)  blocksize
//	[12..16) cbytes, total chunk length including this prefix

// View interprets a byte slice as a chunk. The slice is borrowed: the view is
// only valid for as long as the underlying bytes stay unmodified.
type View []byte

// Valid checks that the prefix is complete and internally consistent with the
// length of the underlying slice.
func (v View) Valid() error {
	if len(v) < PrefixLen {
		return fmt.Errorf("chunk too short: %d bytes, prefix alone is %d", len(v), PrefixLen)
	}
	if nb := v.NBytes(); nb < 0 {
		return fmt.Errorf("negative nbytes %d in chunk prefix", nb)
	}
	cb := v.CBytes()
	if cb < PrefixLen {
		return fmt.Errorf("cbytes %d in chunk prefix smaller than the prefix itself", cb)
	}
	if int64(cb) > int64(len(v)) {
		return fmt.Errorf("cbytes %d in chunk prefix exceeds the %d available bytes", cb, len(v))
	}
	return nil
}

// Version returns the chunk format version byte.
func (v View) Version() uint8 { return v[0] }

// Codec returns the compressor code the chunk was produced with.
func (v View) Codec() uint8 { return v[1] }

// Flags returns the raw flag bits. Their meaning belongs to the codec.
func (v View) Flags() uint8 { return v[2] }

// TypeSize returns the element size recorded in the prefix. A zero means the
// original typesize did not fit the prefix byte.
func (v View) TypeSize() int { return int(v[3]) }

// NBytes returns the uncompressed size of the chunk payload.
func (v View) NBytes() int32 {
	return int32(binary.LittleEndian.Uint32(v[4:8]))
}

// BlockSize returns the codec-internal block size.
func (v View) BlockSize() int32 {
	return int32(binary.LittleEndian.Uint32(v[8:12]))
}

// CBytes returns the total chunk length, prefix included.
func (v View) CBytes() int32 {
	return int32(binary.LittleEndian.Uint32(v[12:16]))
}

// Body returns the chunk payload following the prefix, borrowed from the
// underlying slice.
func (v View) Body() []byte { return v[PrefixLen:v.CBytes()] }

// Bytes returns exactly the chunk's bytes, trimming any excess capacity the
// underlying slice may have.
func (v View) Bytes() []byte { return v[:v.CBytes()] }
