package superchunk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/distr1/superchunk/blockcodec"
	"github.com/google/go-cmp/cmp"
)

func testSuperChunk(t *testing.T, filters [MaxFilters]uint8, nchunks int) *SuperChunk {
	t.Helper()
	sc, err := New(Params{
		Compressor: blockcodec.LZ4,
		CLevel:     5,
		Filters:    filters,
	})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < nchunks; i++ {
		if _, err := sc.AppendBuffer(4, buffer1000(i)); err != nil {
			t.Fatal(err)
		}
	}
	return sc
}

func TestPackLength(t *testing.T) {
	t.Parallel()

	sc := testSuperChunk(t, [MaxFilters]uint8{FilterShuffle}, 3)
	p, err := sc.Pack()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := int64(len(p)), sc.PackedLength(); got != want {
		t.Fatalf("len(Pack()) = %d, PackedLength() = %d", got, want)
	}
	if got, want := p.CBytes(), int64(len(p)); got != want {
		t.Fatalf("stored cbytes = %d, image length = %d", got, want)
	}
	if got, want := p.NChunks(), int64(3); got != want {
		t.Fatalf("NChunks() = %d, want %d", got, want)
	}
	if got, want := int64(len(p)), sc.CBytes()+PackedHeaderLen-headerSize; got != want {
		t.Fatalf("image length = %d, live cbytes translates to %d", got, want)
	}
}

func TestPackHeaderPrefixMatchesLiveHeader(t *testing.T) {
	t.Parallel()

	sc := testSuperChunk(t, [MaxFilters]uint8{FilterShuffle, FilterBitShuffle}, 1)
	p, err := sc.Pack()
	if err != nil {
		t.Fatal(err)
	}
	if got, want := p[0], sc.version; got != want {
		t.Errorf("version byte = %d, want %d", got, want)
	}
	if got, want := p[1], sc.compressor; got != want {
		t.Errorf("compressor byte = %d, want %d", got, want)
	}
	if got, want := p[2], sc.clevel; got != want {
		t.Errorf("clevel byte = %d, want %d", got, want)
	}
	if got, want := binary.LittleEndian.Uint16(p[4:]), uint16(sc.compressor); got != want {
		t.Errorf("compressor word = %d, want %d", got, want)
	}
	if got, want := binary.LittleEndian.Uint16(p[6:]), uint16(sc.clevel); got != want {
		t.Errorf("clevel word = %d, want %d", got, want)
	}
	if got, want := binary.LittleEndian.Uint16(p[8:]), sc.filters; got != want {
		t.Errorf("filters word = %#x, want %#x", got, want)
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	t.Parallel()

	sc := testSuperChunk(t, [MaxFilters]uint8{FilterDelta, FilterShuffle}, 3)
	if _, err := sc.SetMetadata([]byte("three chunks of sequence data")); err != nil {
		t.Fatal(err)
	}
	if _, err := sc.SetUserData([]byte("opaque")); err != nil {
		t.Fatal(err)
	}
	p, err := sc.Pack()
	if err != nil {
		t.Fatal(err)
	}
	sc2, err := Unpack(p)
	if err != nil {
		t.Fatal(err)
	}

	if got, want := sc2.NChunks(), sc.NChunks(); got != want {
		t.Fatalf("unpacked nchunks = %d, want %d", got, want)
	}
	if got, want := sc2.NBytes(), sc.NBytes(); got != want {
		t.Fatalf("unpacked nbytes = %d, want %d", got, want)
	}
	if got, want := sc2.CBytes(), sc.CBytes(); got != want {
		t.Fatalf("unpacked cbytes = %d, want %d", got, want)
	}
	if got, want := sc2.Filters(), sc.Filters(); got != want {
		t.Fatalf("unpacked filters = %v, want %v", got, want)
	}
	if diff := cmp.Diff(sc.filtersChunk, sc2.filtersChunk); diff != "" {
		t.Fatalf("delta reference chunk: diff (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(sc.metadataChunk, sc2.metadataChunk); diff != "" {
		t.Fatalf("metadata chunk: diff (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(sc.userdataChunk, sc2.userdataChunk); diff != "" {
		t.Fatalf("userdata chunk: diff (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(sc.data, sc2.data); diff != "" {
		t.Fatalf("data chunks: diff (-want +got):\n%s", diff)
	}
	checkAccounting(t, sc2)

	for i := 0; i < 3; i++ {
		dst := make([]byte, 1000)
		if _, err := sc2.DecompressChunk(int64(i), dst); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(dst, buffer1000(i)) {
			t.Fatalf("unpacked chunk %d does not round trip", i)
		}
	}
}

func TestUnpackSharesNothing(t *testing.T) {
	t.Parallel()

	sc := testSuperChunk(t, [MaxFilters]uint8{FilterShuffle}, 1)
	p, err := sc.Pack()
	if err != nil {
		t.Fatal(err)
	}
	sc2, err := Unpack(p)
	if err != nil {
		t.Fatal(err)
	}
	for i := range p {
		p[i] = 0xFF
	}
	dst := make([]byte, 1000)
	if _, err := sc2.DecompressChunk(0, dst); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dst, buffer1000(0)) {
		t.Fatal("clobbering the image corrupted the unpacked super-chunk")
	}
}

func TestPackedDecompressMatchesLive(t *testing.T) {
	t.Parallel()

	for _, filters := range [][MaxFilters]uint8{
		{FilterShuffle},
		{FilterDelta, FilterShuffle},
	} {
		sc := testSuperChunk(t, filters, 3)
		p, err := sc.Pack()
		if err != nil {
			t.Fatal(err)
		}
		for i := int64(0); i < 3; i++ {
			live := make([]byte, 1000)
			if _, err := sc.DecompressChunk(i, live); err != nil {
				t.Fatal(err)
			}
			packed, err := p.DecompressChunk(i)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(live, packed) {
				t.Fatalf("filters %v: packed and live decompression differ for chunk %d", filters, i)
			}
		}
	}
}

func TestPackedAppendChunk(t *testing.T) {
	t.Parallel()

	sc := testSuperChunk(t, [MaxFilters]uint8{}, 0)
	p, err := sc.Pack()
	if err != nil {
		t.Fatal(err)
	}

	const n = 5
	for i := 0; i < n; i++ {
		c, err := blockcodec.Compress(blockcodec.LZ4, blockcodec.CompressOptions{Level: 5, TypeSize: 4}, buffer1000(i))
		if err != nil {
			t.Fatal(err)
		}
		before := p.CBytes()
		if p, err = p.AppendChunk(c); err != nil {
			t.Fatal(err)
		}
		if got, want := p.CBytes(), before+int64(len(c)+pointerSlotSize); got != want {
			t.Fatalf("append %d: cbytes = %d, want %d", i, got, want)
		}
		if got, want := int64(len(p)), p.CBytes(); got != want {
			t.Fatalf("append %d: image length %d, stored cbytes %d", i, got, want)
		}
	}
	if got, want := p.NChunks(), int64(n); got != want {
		t.Fatalf("NChunks() = %d, want %d", got, want)
	}

	sc2, err := Unpack(p)
	if err != nil {
		t.Fatal(err)
	}
	checkAccounting(t, sc2)
	for i := 0; i < n; i++ {
		dst := make([]byte, 1000)
		if _, err := sc2.DecompressChunk(int64(i), dst); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(dst, buffer1000(i)) {
			t.Fatalf("chunk %d lost in packed append order", i)
		}
	}
}

func TestPackedAppendBuffer(t *testing.T) {
	t.Parallel()

	sc := testSuperChunk(t, [MaxFilters]uint8{FilterShuffle}, 1)
	p, err := sc.Pack()
	if err != nil {
		t.Fatal(err)
	}
	if p, err = p.AppendBuffer(4, buffer1000(1)); err != nil {
		t.Fatal(err)
	}
	for i := int64(0); i < 2; i++ {
		dst, err := p.DecompressChunk(i)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(dst, buffer1000(int(i))) {
			t.Fatalf("chunk %d does not round trip", i)
		}
	}
}

func TestPackedAppendBufferDelta(t *testing.T) {
	t.Parallel()

	sc := testSuperChunk(t, [MaxFilters]uint8{FilterDelta, FilterShuffle}, 2)
	p, err := sc.Pack()
	if err != nil {
		t.Fatal(err)
	}
	if !p.HasDeltaRef() {
		t.Fatal("image of a delta super-chunk carries no reference")
	}
	if p, err = p.AppendBuffer(4, buffer1000(2)); err != nil {
		t.Fatal(err)
	}
	for i := int64(0); i < 3; i++ {
		dst, err := p.DecompressChunk(i)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(dst, buffer1000(int(i))) {
			t.Fatalf("chunk %d does not round trip across the packed delta append", i)
		}
	}

	// The unpacked live form must keep decompressing the mixed chunks.
	sc2, err := Unpack(p)
	if err != nil {
		t.Fatal(err)
	}
	for i := int64(0); i < 3; i++ {
		dst := make([]byte, 1000)
		if _, err := sc2.DecompressChunk(i, dst); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(dst, buffer1000(int(i))) {
			t.Fatalf("unpacked chunk %d does not round trip", i)
		}
	}
}

func TestPackedAppendBufferDeltaWithoutRef(t *testing.T) {
	t.Parallel()

	// A delta-configured super-chunk which never saw an append has no
	// reference chunk, and its image cannot accept buffers.
	sc := testSuperChunk(t, [MaxFilters]uint8{FilterDelta, FilterShuffle}, 0)
	p, err := sc.Pack()
	if err != nil {
		t.Fatal(err)
	}
	if p.HasDeltaRef() {
		t.Fatal("empty delta super-chunk has a reference")
	}
	if _, err := p.AppendBuffer(4, buffer1000(0)); !errors.Is(err, ErrDeltaRefMissing) {
		t.Fatalf("AppendBuffer = %v, want ErrDeltaRefMissing", err)
	}
}

func TestPackedDecompressChunkOutOfRange(t *testing.T) {
	t.Parallel()

	sc := testSuperChunk(t, [MaxFilters]uint8{}, 2)
	p, err := sc.Pack()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.DecompressChunk(2); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("DecompressChunk(2) = %v, want ErrOutOfRange", err)
	}
	if _, err := p.DecompressChunk(-1); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("DecompressChunk(-1) = %v, want ErrOutOfRange", err)
	}
}

func TestUnpackCorruptImages(t *testing.T) {
	t.Parallel()

	sc := testSuperChunk(t, [MaxFilters]uint8{FilterShuffle}, 2)
	p, err := sc.Pack()
	if err != nil {
		t.Fatal(err)
	}

	corrupt := func(f func(Packed)) Packed {
		c := append(Packed(nil), p...)
		f(c)
		return c
	}
	for _, tt := range []struct {
		name string
		p    Packed
	}{
		{"truncated header", p[:PackedHeaderLen-1]},
		{"truncated image", p[:len(p)-1]},
		{"cbytes mismatch", corrupt(func(c Packed) {
			binary.LittleEndian.PutUint64(c[offCBytes:], uint64(len(c)+7))
		})},
		{"nbytes mismatch", corrupt(func(c Packed) {
			binary.LittleEndian.PutUint64(c[offNBytes:], 1)
		})},
		{"table offset outside image", corrupt(func(c Packed) {
			binary.LittleEndian.PutUint64(c[offDataTable:], uint64(len(c)))
		})},
		{"chunk offset outside image", corrupt(func(c Packed) {
			tableOff := binary.LittleEndian.Uint64(c[offDataTable:])
			binary.LittleEndian.PutUint64(c[tableOff:], uint64(len(c)+100))
		})},
	} {
		_, err := Unpack(tt.p)
		var cie *CorruptImageError
		if !errors.As(err, &cie) {
			t.Errorf("%s: Unpack = %v, want CorruptImageError", tt.name, err)
		}
	}
}
