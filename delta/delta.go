// Package delta implements the DELTA reference codec: buffers are encoded as
// the XOR difference against a reference chunk, the first buffer ever stored
// under a DELTA pipeline.
//
// The reference is a regular chunk in stored form (compression level 0), so
// its body is the raw reference bytes. XOR is its own inverse, which keeps
// Encode and Decode symmetric. Bytes past the end of the reference are passed
// through unchanged.
package delta

import (
	"github.com/distr1/superchunk/chunk"
)

// Encode writes the difference of src against ref's body (starting at offset)
// into dst. ref must be a stored-form chunk; src and dst must both hold
// nbytes bytes. src and dst may alias.
func Encode(ref []byte, offset, nbytes int, src, dst []byte) {
	body := chunk.View(ref).Body()
	n := len(body) - offset
	if n > nbytes {
		n = nbytes
	}
	if n < 0 {
		n = 0
	}
	for i := 0; i < n; i++ {
		dst[i] = src[i] ^ body[offset+i]
	}
	copy(dst[n:nbytes], src[n:nbytes])
}

// Decode reverses Encode in place: buf must hold nbytes delta-encoded bytes
// and is overwritten with the original data.
func Decode(ref []byte, offset, nbytes int, buf []byte) {
	Encode(ref, offset, nbytes, buf, buf)
}
