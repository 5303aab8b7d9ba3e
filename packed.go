package superchunk

import (
	"encoding/binary"
	"fmt"

	"github.com/distr1/superchunk/blockcodec"
	"github.com/distr1/superchunk/chunk"
	"github.com/distr1/superchunk/delta"
)

// PackedHeaderLen is the length of the fixed header of a packed image.
//
// Packed image layout (all integers little-endian):
//
//	[0]       version
//	[1]       compressor code
//	[2]       compression level
//	[3]       filters meta byte
//	[4..6)    compressor code, duplicated as 16 bit for packed-path operations
//	[6..8)    compression level, duplicated as 16 bit
//	[8..10)   encoded filter pipeline descriptor
//	[10..16)  reserved
//	[16..24)  nchunks
//	[24..32)  nbytes total (header-relative, offset-table entries included)
//	[32..40)  cbytes total, equals the image length
//	[40..48)  offset of the delta reference chunk, 0 when absent
//	[48..56)  offset of the codec chunk, 0 when absent
//	[56..64)  offset of the metadata chunk, 0 when absent
//	[64..72)  offset of the userdata chunk, 0 when absent
//	[72..80)  offset of the data-offsets table
//	[80..96)  reserved
//
// The payload region follows: ancillary chunks in slot order, then data
// chunks in index order, each verbatim. The image ends with the data-offsets
// table, one 8-byte entry per data chunk.
const PackedHeaderLen = 96

// Fixed header field offsets.
const (
	offNChunks       = 16
	offNBytes        = 24
	offCBytes        = 32
	offFiltersChunk  = 40
	offCodecChunk    = 48
	offMetadataChunk = 56
	offUserdataChunk = 64
	offDataTable     = 72
)

// Packed is the contiguous byte-image form of a super-chunk. It is a value:
// an image shares no memory with the live form it was produced from, and the
// appending operations return a new, longer image.
type Packed []byte

// PackedLength returns the exact length Pack will produce.
func (sc *SuperChunk) PackedLength() int64 {
	length := int64(PackedHeaderLen)
	for _, c := range [][]byte{sc.filtersChunk, sc.codecChunk, sc.metadataChunk, sc.userdataChunk} {
		if c != nil {
			length += int64(chunk.View(c).CBytes())
		}
	}
	for _, c := range sc.data {
		length += int64(chunk.View(c).CBytes()) + pointerSlotSize
	}
	return length
}

// Pack serializes the super-chunk into a packed image.
func (sc *SuperChunk) Pack() (Packed, error) {
	length := sc.PackedLength()
	p := make([]byte, length)

	p[0] = sc.version
	p[1] = sc.compressor
	p[2] = sc.clevel
	p[3] = sc.filtersMeta
	binary.LittleEndian.PutUint16(p[4:], uint16(sc.compressor))
	binary.LittleEndian.PutUint16(p[6:], uint16(sc.clevel))
	binary.LittleEndian.PutUint16(p[8:], sc.filters)

	// cursor doubles as the packed compressed total: both start right after
	// the fixed header.
	cursor := int64(PackedHeaderLen)
	nbytes := int64(PackedHeaderLen)
	ancillary := []struct {
		off int
		c   []byte
	}{
		{offFiltersChunk, sc.filtersChunk},
		{offCodecChunk, sc.codecChunk},
		{offMetadataChunk, sc.metadataChunk},
		{offUserdataChunk, sc.userdataChunk},
	}
	for _, a := range ancillary {
		if a.c == nil {
			continue // offset slot stays 0
		}
		v := chunk.View(a.c)
		copy(p[cursor:], v.Bytes())
		binary.LittleEndian.PutUint64(p[a.off:], uint64(cursor))
		cursor += int64(v.CBytes())
		nbytes += int64(v.NBytes())
	}

	tableOff := length - sc.nchunks*pointerSlotSize
	binary.LittleEndian.PutUint64(p[offDataTable:], uint64(tableOff))
	for i, c := range sc.data {
		v := chunk.View(c)
		copy(p[cursor:], v.Bytes())
		binary.LittleEndian.PutUint64(p[tableOff+int64(i)*pointerSlotSize:], uint64(cursor))
		cursor += int64(v.CBytes())
		nbytes += int64(v.NBytes())
	}
	cursor += sc.nchunks * pointerSlotSize
	nbytes += sc.nchunks * pointerSlotSize
	if cursor != length {
		return nil, fmt.Errorf("packed %d bytes, computed length was %d", cursor, length)
	}

	binary.LittleEndian.PutUint64(p[offNChunks:], uint64(sc.nchunks))
	binary.LittleEndian.PutUint64(p[offNBytes:], uint64(nbytes))
	binary.LittleEndian.PutUint64(p[offCBytes:], uint64(cursor))
	return p, nil
}

// copyChunkAt bounds-checks and copies the chunk starting at off.
func (p Packed) copyChunkAt(off int64, what string) ([]byte, error) {
	if off < PackedHeaderLen || off >= int64(len(p)) {
		return nil, &CorruptImageError{Reason: fmt.Sprintf("%s offset %d outside image of %d bytes", what, off, len(p))}
	}
	v := chunk.View(p[off:])
	if err := v.Valid(); err != nil {
		return nil, &CorruptImageError{Reason: fmt.Sprintf("%s at offset %d: %v", what, off, err)}
	}
	return append([]byte(nil), v.Bytes()...), nil
}

// Unpack rebuilds a live super-chunk from a packed image. The result owns
// fresh copies of every chunk and shares no memory with p. The image's
// stored totals are validated against the chunks actually found.
func Unpack(p Packed) (*SuperChunk, error) {
	if len(p) < PackedHeaderLen {
		return nil, &CorruptImageError{Reason: fmt.Sprintf("image of %d bytes shorter than the %d-byte header", len(p), PackedHeaderLen)}
	}
	storedCBytes := int64(binary.LittleEndian.Uint64(p[offCBytes:]))
	if storedCBytes != int64(len(p)) {
		return nil, &CorruptImageError{Reason: fmt.Sprintf("header says %d bytes, image has %d", storedCBytes, len(p))}
	}
	nchunks := int64(binary.LittleEndian.Uint64(p[offNChunks:]))
	if nchunks < 0 || nchunks > int64(len(p))/pointerSlotSize {
		return nil, &CorruptImageError{Reason: fmt.Sprintf("chunk count %d impossible for an image of %d bytes", nchunks, len(p))}
	}

	sc := &SuperChunk{
		version:     p[0],
		compressor:  p[1],
		clevel:      p[2],
		filtersMeta: p[3],
		filters:     binary.LittleEndian.Uint16(p[8:]),
		cbytes:      headerSize,
	}

	// packedNBytes retraces the packed accounting for validation against the
	// stored total.
	packedNBytes := int64(PackedHeaderLen)
	ancillary := []struct {
		off  int
		slot *[]byte
		what string
	}{
		{offFiltersChunk, &sc.filtersChunk, "delta reference chunk"},
		{offCodecChunk, &sc.codecChunk, "codec chunk"},
		{offMetadataChunk, &sc.metadataChunk, "metadata chunk"},
		{offUserdataChunk, &sc.userdataChunk, "userdata chunk"},
	}
	for _, a := range ancillary {
		off := int64(binary.LittleEndian.Uint64(p[a.off:]))
		if off == 0 {
			continue
		}
		c, err := p.copyChunkAt(off, a.what)
		if err != nil {
			return nil, err
		}
		v := chunk.View(c)
		*a.slot = c
		sc.nbytes += int64(v.NBytes())
		sc.cbytes += int64(v.CBytes())
		packedNBytes += int64(v.NBytes())
	}

	tableOff := int64(binary.LittleEndian.Uint64(p[offDataTable:]))
	if tableOff < PackedHeaderLen || tableOff+nchunks*pointerSlotSize > int64(len(p)) {
		return nil, &CorruptImageError{Reason: fmt.Sprintf("data-offsets table at %d does not fit %d entries", tableOff, nchunks)}
	}
	sc.data = make([][]byte, 0, nchunks)
	for i := int64(0); i < nchunks; i++ {
		off := int64(binary.LittleEndian.Uint64(p[tableOff+i*pointerSlotSize:]))
		c, err := p.copyChunkAt(off, fmt.Sprintf("data chunk %d", i))
		if err != nil {
			return nil, err
		}
		v := chunk.View(c)
		sc.data = append(sc.data, c)
		sc.nbytes += int64(v.NBytes())
		sc.cbytes += int64(v.CBytes()) + pointerSlotSize
		packedNBytes += int64(v.NBytes())
	}
	sc.nchunks = nchunks
	packedNBytes += nchunks * pointerSlotSize

	if stored := int64(binary.LittleEndian.Uint64(p[offNBytes:])); stored != packedNBytes {
		return nil, &CorruptImageError{Reason: fmt.Sprintf("header says %d uncompressed bytes, chunks add up to %d", stored, packedNBytes)}
	}
	if want := sc.cbytes + (PackedHeaderLen - headerSize); storedCBytes != want {
		return nil, &CorruptImageError{Reason: fmt.Sprintf("image length %d does not match the %d bytes of chunks it describes", storedCBytes, want)}
	}
	return sc, nil
}

// NChunks returns the number of data chunks in the image.
func (p Packed) NChunks() int64 {
	return int64(binary.LittleEndian.Uint64(p[offNChunks:]))
}

// NBytes returns the image's stored uncompressed total (header-relative,
// offset-table entries included).
func (p Packed) NBytes() int64 {
	return int64(binary.LittleEndian.Uint64(p[offNBytes:]))
}

// CBytes returns the image's stored compressed total, which equals the image
// length.
func (p Packed) CBytes() int64 {
	return int64(binary.LittleEndian.Uint64(p[offCBytes:]))
}

// Compressor returns the block compressor code recorded in the image.
func (p Packed) Compressor() uint8 { return p[1] }

// CLevel returns the compression level recorded in the image.
func (p Packed) CLevel() int { return int(p[2]) }

// Filters returns the decoded filter pipeline recorded in the image.
func (p Packed) Filters() [MaxFilters]uint8 {
	return DecodeFilters(binary.LittleEndian.Uint16(p[8:]))
}

// HasDeltaRef reports whether the image carries a delta reference chunk.
func (p Packed) HasDeltaRef() bool {
	return binary.LittleEndian.Uint64(p[offFiltersChunk:]) != 0
}

// valid performs the minimal structural checks the packed-path operations
// rely on.
func (p Packed) valid() error {
	if len(p) < PackedHeaderLen {
		return &CorruptImageError{Reason: fmt.Sprintf("image of %d bytes shorter than the %d-byte header", len(p), PackedHeaderLen)}
	}
	if cb := p.CBytes(); cb != int64(len(p)) {
		return &CorruptImageError{Reason: fmt.Sprintf("header says %d bytes, image has %d", cb, len(p))}
	}
	return nil
}

// chunkAt returns a borrowed view of data chunk i.
func (p Packed) chunkAt(i int64) (chunk.View, error) {
	nchunks := p.NChunks()
	if i < 0 || i >= nchunks {
		return nil, ErrOutOfRange
	}
	if nchunks > int64(len(p))/pointerSlotSize {
		return nil, &CorruptImageError{Reason: fmt.Sprintf("chunk count %d impossible for an image of %d bytes", nchunks, len(p))}
	}
	tableOff := int64(binary.LittleEndian.Uint64(p[offDataTable:]))
	if tableOff < PackedHeaderLen || tableOff+nchunks*pointerSlotSize > int64(len(p)) {
		return nil, &CorruptImageError{Reason: fmt.Sprintf("data-offsets table at %d does not fit %d entries", tableOff, nchunks)}
	}
	off := int64(binary.LittleEndian.Uint64(p[tableOff+i*pointerSlotSize:]))
	if off < PackedHeaderLen || off >= int64(len(p)) {
		return nil, &CorruptImageError{Reason: fmt.Sprintf("data chunk %d offset %d outside image of %d bytes", i, off, len(p))}
	}
	v := chunk.View(p[off:])
	if err := v.Valid(); err != nil {
		return nil, &CorruptImageError{Reason: fmt.Sprintf("data chunk %d at offset %d: %v", i, off, err)}
	}
	return v, nil
}

// Chunk returns the raw bytes of data chunk i, borrowed from the image.
// Callers must not modify them.
func (p Packed) Chunk(i int64) ([]byte, error) {
	v, err := p.chunkAt(i)
	if err != nil {
		return nil, err
	}
	return v.Bytes(), nil
}

// deltaRef returns a borrowed view of the image's delta reference chunk, or
// nil when the image carries none.
func (p Packed) deltaRef() ([]byte, error) {
	off := int64(binary.LittleEndian.Uint64(p[offFiltersChunk:]))
	if off == 0 {
		return nil, nil
	}
	if off < PackedHeaderLen || off >= int64(len(p)) {
		return nil, &CorruptImageError{Reason: fmt.Sprintf("delta reference chunk offset %d outside image of %d bytes", off, len(p))}
	}
	v := chunk.View(p[off:])
	if err := v.Valid(); err != nil {
		return nil, &CorruptImageError{Reason: fmt.Sprintf("delta reference chunk at offset %d: %v", off, err)}
	}
	return v.Bytes(), nil
}

// AppendChunk appends a codec-produced chunk to the image and returns the
// new image, which is longer by the chunk length plus one offset-table entry.
// The new image is a fresh copy; p itself is left unchanged.
func (p Packed) AppendChunk(c []byte) (Packed, error) {
	if err := p.valid(); err != nil {
		return nil, err
	}
	v := chunk.View(c)
	if err := v.Valid(); err != nil {
		return nil, err
	}
	nb, cb := int64(v.NBytes()), int64(v.CBytes())

	nchunks := p.NChunks()
	if nchunks < 0 || nchunks > int64(len(p))/pointerSlotSize {
		return nil, &CorruptImageError{Reason: fmt.Sprintf("chunk count %d impossible for an image of %d bytes", nchunks, len(p))}
	}
	length := int64(len(p))
	tableOff := int64(binary.LittleEndian.Uint64(p[offDataTable:]))
	if tableOff != length-nchunks*pointerSlotSize {
		return nil, &CorruptImageError{Reason: fmt.Sprintf("data-offsets table at %d, want image tail %d", tableOff, length-nchunks*pointerSlotSize)}
	}

	np := make(Packed, length+cb+pointerSlotSize)
	copy(np, p[:tableOff])
	// The new chunk lands where the table used to be; the table moves to the
	// new tail, gaining one entry.
	copy(np[tableOff:], v.Bytes())
	newTableOff := tableOff + cb
	copy(np[newTableOff:], p[tableOff:tableOff+nchunks*pointerSlotSize])
	binary.LittleEndian.PutUint64(np[newTableOff+nchunks*pointerSlotSize:], uint64(tableOff))

	binary.LittleEndian.PutUint64(np[offNChunks:], uint64(nchunks+1))
	binary.LittleEndian.PutUint64(np[offNBytes:], uint64(p.NBytes()+nb+pointerSlotSize))
	binary.LittleEndian.PutUint64(np[offCBytes:], uint64(length+cb+pointerSlotSize))
	binary.LittleEndian.PutUint64(np[offDataTable:], uint64(newTableOff))
	return np, nil
}

// AppendBuffer compresses src using the configuration recorded in the image
// and appends the produced chunk, returning the new image. Under a delta
// pipeline the image must already carry a reference chunk; unlike the live
// form, a packed image cannot install one retroactively.
func (p Packed) AppendBuffer(typesize int, src []byte) (Packed, error) {
	if err := p.valid(); err != nil {
		return nil, err
	}
	compressor := uint8(binary.LittleEndian.Uint16(p[4:]))
	clevel := int(binary.LittleEndian.Uint16(p[6:]))
	filters := p.Filters()

	doshuffle := filters[0]
	payload := src
	if filters[0] == FilterDelta {
		doshuffle = filters[1]
		ref, err := p.deltaRef()
		if err != nil {
			return nil, err
		}
		if ref == nil {
			return nil, ErrDeltaRefMissing
		}
		tmp := make([]byte, len(src))
		delta.Encode(ref, 0, len(src), src, tmp)
		payload = tmp
	}

	c, err := blockcodec.Compress(compressor, blockcodec.CompressOptions{
		Level:    clevel,
		Shuffle:  doshuffle,
		TypeSize: typesize,
	}, payload)
	if err != nil {
		return nil, err
	}
	return p.AppendChunk(c)
}

// DecompressChunk expands data chunk i into a freshly allocated buffer.
func (p Packed) DecompressChunk(i int64) ([]byte, error) {
	if err := p.valid(); err != nil {
		return nil, err
	}
	v, err := p.chunkAt(i)
	if err != nil {
		return nil, err
	}
	filters := p.Filters()
	var ref []byte
	if filters[0] == FilterDelta {
		if ref, err = p.deltaRef(); err != nil {
			return nil, err
		}
	}

	n := int(v.NBytes())
	dst := make([]byte, n)
	m, err := blockcodec.Decompress(v, dst, blockcodec.DecompressOptions{DeltaRef: ref})
	if err != nil {
		return nil, err
	}
	if m < n {
		return nil, ErrShortDecompress
	}
	// Chunks appended to the packed image are delta-encoded outside the
	// codec and carry no delta flag; reverse that stage here.
	if filters[0] == FilterDelta && v.Flags()&blockcodec.FlagDelta == 0 {
		if ref == nil {
			return nil, ErrDeltaRefMissing
		}
		delta.Decode(ref, 0, n, dst)
	}
	return dst, nil
}
