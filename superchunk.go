// Package superchunk implements an append-only container aggregating many
// independently compressed chunks under a shared compression and filter
// configuration, with optional ancillary sections for a delta reference,
// codec data, metadata and user data.
//
// The container exists in two isomorphic representations: the live form
// implemented by SuperChunk, and the packed form implemented by Packed, a
// single contiguous byte image suitable for persistence. Pack and Unpack
// convert between the two; chunks can additionally be appended to and
// retrieved from a packed image directly, without unpacking it.
//
// A SuperChunk is a plain mutable aggregate without internal locking; callers
// must not use one from multiple goroutines concurrently.
package superchunk

import (
	"fmt"

	"github.com/distr1/superchunk/blockcodec"
	"github.com/distr1/superchunk/chunk"
	"github.com/distr1/superchunk/delta"
)

const (
	// headerSize is the length of the stable header prefix shared between
	// the live accounting base and the packed image.
	headerSize = 40

	// pointerSlotSize is accounted per data chunk in the live form so that
	// live and packed compressed totals differ only by the header length
	// delta: every chunk costs one 8-byte entry in the packed image's
	// trailing offset table.
	pointerSlotSize = 8
)

// Params configures a new super-chunk.
type Params struct {
	// Compressor is the block compressor code (see package blockcodec).
	Compressor uint8

	// CLevel is the compression level, 0 through 9. Level 0 stores chunks
	// verbatim.
	CLevel int

	// Filters is the filter pipeline, outermost filter in slot 0.
	Filters [MaxFilters]uint8

	// FiltersMeta is an opaque byte carried alongside the filter pipeline.
	FiltersMeta uint8
}

// SuperChunk is the live, pointer-based form of the container. The zero value
// is not usable; create instances with New or Unpack.
type SuperChunk struct {
	version     uint8
	compressor  uint8
	clevel      uint8
	filtersMeta uint8
	filters     uint16

	nchunks int64
	nbytes  int64
	cbytes  int64

	// Ancillary chunks, nil when absent. filtersChunk holds the delta
	// reference in stored form.
	filtersChunk  []byte
	codecChunk    []byte
	metadataChunk []byte
	userdataChunk []byte

	data [][]byte
}

// New creates an empty super-chunk with the given configuration.
func New(p Params) (*SuperChunk, error) {
	if p.CLevel < 0 || p.CLevel > 9 {
		return nil, fmt.Errorf("compression level %d outside 0..9", p.CLevel)
	}
	if !blockcodec.Registered(p.Compressor) {
		return nil, fmt.Errorf("unknown compressor code %d", p.Compressor)
	}
	for i, f := range p.Filters {
		if f > 7 {
			return nil, fmt.Errorf("filter code %d in slot %d outside 0..7", f, i)
		}
		if f == FilterDelta && i != 0 {
			return nil, fmt.Errorf("delta filter must occupy slot 0, not slot %d", i)
		}
	}
	return &SuperChunk{
		compressor:  p.Compressor,
		clevel:      uint8(p.CLevel),
		filtersMeta: p.FiltersMeta,
		filters:     EncodeFilters(p.Filters),
		cbytes:      headerSize,
	}, nil
}

// NChunks returns the number of data chunks.
func (sc *SuperChunk) NChunks() int64 { return sc.nchunks }

// NBytes returns the cumulative uncompressed size of all data and ancillary
// chunks.
func (sc *SuperChunk) NBytes() int64 { return sc.nbytes }

// CBytes returns the cumulative compressed size: header, data and ancillary
// chunks, plus one offset-table slot per data chunk.
func (sc *SuperChunk) CBytes() int64 { return sc.cbytes }

// Compressor returns the configured block compressor code.
func (sc *SuperChunk) Compressor() uint8 { return sc.compressor }

// CLevel returns the configured compression level.
func (sc *SuperChunk) CLevel() int { return int(sc.clevel) }

// Filters returns the decoded filter pipeline.
func (sc *SuperChunk) Filters() [MaxFilters]uint8 { return DecodeFilters(sc.filters) }

// Chunk returns the raw bytes of data chunk i, borrowed from the container.
// Callers must not modify them.
func (sc *SuperChunk) Chunk(i int64) ([]byte, error) {
	if i < 0 || i >= sc.nchunks {
		return nil, ErrOutOfRange
	}
	return sc.data[i], nil
}

// AppendChunk appends a codec-produced chunk. With copyChunk set, the
// super-chunk stores a private copy; otherwise it takes ownership of c and
// the caller must neither modify nor reuse it afterwards. Returns the new
// number of chunks.
func (sc *SuperChunk) AppendChunk(c []byte, copyChunk bool) (int64, error) {
	v := chunk.View(c)
	if err := v.Valid(); err != nil {
		return 0, err
	}
	nb, cb := v.NBytes(), v.CBytes()
	stored := c[:cb]
	if copyChunk {
		stored = append([]byte(nil), stored...)
	}
	sc.data = append(sc.data, stored)
	sc.nchunks++
	sc.nbytes += int64(nb)
	sc.cbytes += int64(cb) + pointerSlotSize
	return sc.nchunks, nil
}

// AppendBuffer compresses src as one chunk using the super-chunk's
// configuration and appends it. typesize is the element size the shuffle
// filters operate on. Under a delta pipeline, the first appended buffer
// additionally becomes the delta reference. Returns the new number of
// chunks.
func (sc *SuperChunk) AppendBuffer(typesize int, src []byte) (int64, error) {
	filters := DecodeFilters(sc.filters)

	doshuffle := filters[0]
	var deltaRef []byte
	if filters[0] == FilterDelta {
		doshuffle = filters[1]
		if sc.filtersChunk == nil {
			if _, err := sc.SetDeltaRef(src); err != nil {
				return 0, err
			}
		}
		deltaRef = sc.filtersChunk
	}

	c, err := blockcodec.Compress(sc.compressor, blockcodec.CompressOptions{
		Level:    int(sc.clevel),
		Shuffle:  doshuffle,
		TypeSize: typesize,
		DeltaRef: deltaRef,
	}, src)
	if err != nil {
		return 0, err
	}
	return sc.AppendChunk(c, false)
}

// SetDeltaRef installs ref as the delta reference, replacing any previous
// one. The reference is stored as a regular chunk (compression level 0, so
// its body stays directly addressable). Returns the compressed size of the
// installed reference chunk.
func (sc *SuperChunk) SetDeltaRef(ref []byte) (int, error) {
	if DecodeFilters(sc.filters)[0] != FilterDelta {
		return 0, ErrDeltaNotConfigured
	}
	if sc.filtersChunk != nil {
		old := chunk.View(sc.filtersChunk)
		sc.nbytes -= int64(old.NBytes())
		sc.cbytes -= int64(old.CBytes())
		sc.filtersChunk = nil
	}
	c, err := blockcodec.Compress(sc.compressor, blockcodec.CompressOptions{
		Level:    0,
		TypeSize: 1,
	}, ref)
	if err != nil {
		return 0, err
	}
	v := chunk.View(c)
	sc.filtersChunk = c
	sc.nbytes += int64(v.NBytes())
	sc.cbytes += int64(v.CBytes())
	return int(v.CBytes()), nil
}

// DecompressChunk expands data chunk i into dst and returns the number of
// bytes produced. dst must hold the chunk's full uncompressed size; on
// ErrBufferTooSmall it is left untouched.
func (sc *SuperChunk) DecompressChunk(i int64, dst []byte) (int, error) {
	if i < 0 || i >= sc.nchunks {
		return 0, ErrOutOfRange
	}
	c := chunk.View(sc.data[i])
	n := int(c.NBytes())
	if len(dst) < n {
		return 0, ErrBufferTooSmall
	}
	m, err := blockcodec.Decompress(c, dst, blockcodec.DecompressOptions{
		DeltaRef: sc.filtersChunk,
	})
	if err != nil {
		return 0, err
	}
	if m < n {
		return 0, ErrShortDecompress
	}
	// Chunks appended to a packed image are delta-encoded outside the codec
	// and carry no delta flag; reverse that stage here.
	if f := DecodeFilters(sc.filters); f[0] == FilterDelta && c.Flags()&blockcodec.FlagDelta == 0 {
		if sc.filtersChunk == nil {
			return 0, ErrDeltaRefMissing
		}
		delta.Decode(sc.filtersChunk, 0, n, dst[:n])
	}
	return m, nil
}

// setAncillary replaces one of the compressed ancillary sections, keeping the
// running totals consistent.
func (sc *SuperChunk) setAncillary(slot *[]byte, src []byte) (int, error) {
	if *slot != nil {
		old := chunk.View(*slot)
		sc.nbytes -= int64(old.NBytes())
		sc.cbytes -= int64(old.CBytes())
		*slot = nil
	}
	c, err := blockcodec.Compress(sc.compressor, blockcodec.CompressOptions{
		Level:    int(sc.clevel),
		TypeSize: 1,
	}, src)
	if err != nil {
		return 0, err
	}
	v := chunk.View(c)
	*slot = c
	sc.nbytes += int64(v.NBytes())
	sc.cbytes += int64(v.CBytes())
	return int(v.CBytes()), nil
}

// ancillary decompresses one of the ancillary sections, or returns nil when
// the section is absent.
func (sc *SuperChunk) ancillary(c []byte) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	v := chunk.View(c)
	dst := make([]byte, v.NBytes())
	if _, err := blockcodec.Decompress(c, dst, blockcodec.DecompressOptions{}); err != nil {
		return nil, err
	}
	return dst, nil
}

// SetCodecData stores codec-specific configuration in the codec section.
// Returns the compressed size of the stored section.
func (sc *SuperChunk) SetCodecData(src []byte) (int, error) {
	return sc.setAncillary(&sc.codecChunk, src)
}

// CodecData returns the codec section contents, or nil when absent.
func (sc *SuperChunk) CodecData() ([]byte, error) {
	return sc.ancillary(sc.codecChunk)
}

// SetMetadata stores application metadata in the metadata section. Returns
// the compressed size of the stored section.
func (sc *SuperChunk) SetMetadata(src []byte) (int, error) {
	return sc.setAncillary(&sc.metadataChunk, src)
}

// Metadata returns the metadata section contents, or nil when absent.
func (sc *SuperChunk) Metadata() ([]byte, error) {
	return sc.ancillary(sc.metadataChunk)
}

// SetUserData stores opaque user data in the userdata section. Returns the
// compressed size of the stored section.
func (sc *SuperChunk) SetUserData(src []byte) (int, error) {
	return sc.setAncillary(&sc.userdataChunk, src)
}

// UserData returns the userdata section contents, or nil when absent.
func (sc *SuperChunk) UserData() ([]byte, error) {
	return sc.ancillary(sc.userdataChunk)
}
