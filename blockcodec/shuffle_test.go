package blockcodec

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestShuffleBytesKnown(t *testing.T) {
	t.Parallel()

	src := []byte{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
	}
	want := []byte{
		1, 5, 9,
		2, 6, 10,
		3, 7, 11,
		4, 8, 12,
	}
	if diff := cmp.Diff(want, shuffleBytes(4, src)); diff != "" {
		t.Fatalf("shuffleBytes: diff (-want +got):\n%s", diff)
	}
}

func TestShuffleBytesRemainderStays(t *testing.T) {
	t.Parallel()

	src := []byte{1, 2, 3, 4, 5, 6, 7}
	got := shuffleBytes(4, src)
	if !bytes.Equal(got[4:], src[4:]) {
		t.Fatalf("trailing remainder moved: got %v, want %v", got[4:], src[4:])
	}
	if !bytes.Equal(unshuffleBytes(4, got), src) {
		t.Fatal("unshuffleBytes did not restore the remainder input")
	}
}

func TestShuffleRoundTrip(t *testing.T) {
	t.Parallel()

	for _, typesize := range []int{2, 3, 4, 8, 16} {
		src := make([]byte, 1000)
		for i := range src {
			src[i] = byte(31 * i)
		}
		if got := unshuffleBytes(typesize, shuffleBytes(typesize, src)); !bytes.Equal(got, src) {
			t.Errorf("typesize %d: byte shuffle round trip mismatch", typesize)
		}
		if got := bitUnshuffle(typesize, bitShuffle(typesize, src)); !bytes.Equal(got, src) {
			t.Errorf("typesize %d: bit shuffle round trip mismatch", typesize)
		}
	}
}

func TestBitShuffleGathersBits(t *testing.T) {
	t.Parallel()

	// Eight single-byte elements whose lowest bits spell out one byte.
	src := []byte{1, 0, 1, 0, 1, 0, 1, 1}
	got := bitShuffle(1, src)
	// Lowest bits of all elements land in the first output byte.
	if want := byte(0x1 | 0x4 | 0x10 | 0x40 | 0x80); got[0] != want {
		t.Fatalf("bitShuffle first byte = %#x, want %#x", got[0], want)
	}
	for _, b := range got[1:] {
		if b != 0 {
			t.Fatalf("bitShuffle = %v, want zeros after first byte", got)
		}
	}
}
