package blockcodec

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compressor codes. They are recorded in the chunk prefix and must never be
// renumbered.
const (
	LZ4    uint8 = 1
	Snappy uint8 = 3
	Zlib   uint8 = 4
	Zstd   uint8 = 5
)

type backend struct {
	name       string
	compress   func(level int, src []byte) ([]byte, error)
	decompress func(src []byte, n int) ([]byte, error)
}

var backends = map[uint8]backend{
	LZ4:    {name: "lz4", compress: lz4Compress, decompress: lz4Decompress},
	Snappy: {name: "snappy", compress: snappyCompress, decompress: snappyDecompress},
	Zlib:   {name: "zlib", compress: zlibCompress, decompress: zlibDecompress},
	Zstd:   {name: "zstd", compress: zstdCompress, decompress: zstdDecompress},
}

// Registered reports whether a compressor is registered under code.
func Registered(code uint8) bool {
	_, ok := backends[code]
	return ok
}

// CompressorName returns the name registered for code.
func CompressorName(code uint8) (string, error) {
	be, ok := backends[code]
	if !ok {
		return "", fmt.Errorf("unknown compressor code %d", code)
	}
	return be.name, nil
}

// CompressorCode returns the code registered for name.
func CompressorCode(name string) (uint8, error) {
	for code, be := range backends {
		if be.name == name {
			return code, nil
		}
	}
	return 0, fmt.Errorf("unknown compressor %q", name)
}

// Names returns the names of all registered compressors, sorted.
func Names() []string {
	names := make([]string, 0, len(backends))
	for _, be := range backends {
		names = append(names, be.name)
	}
	sort.Strings(names)
	return names
}

func lz4Compress(level int, src []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	var (
		n   int
		err error
	)
	if level < 4 {
		var c lz4.Compressor
		n, err = c.CompressBlock(src, dst)
	} else {
		c := lz4.CompressorHC{Level: lz4HCLevel(level)}
		n, err = c.CompressBlock(src, dst)
	}
	if err != nil {
		return nil, err
	}
	// n == 0 means incompressible, which Compress turns into stored form.
	return dst[:n], nil
}

func lz4HCLevel(level int) lz4.CompressionLevel {
	switch level {
	case 4:
		return lz4.Level4
	case 5:
		return lz4.Level5
	case 6:
		return lz4.Level6
	case 7:
		return lz4.Level7
	case 8:
		return lz4.Level8
	default:
		return lz4.Level9
	}
}

func lz4Decompress(src []byte, n int) ([]byte, error) {
	dst := make([]byte, n)
	m, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, err
	}
	return dst[:m], nil
}

func snappyCompress(level int, src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func snappyDecompress(src []byte, n int) ([]byte, error) {
	return snappy.Decode(make([]byte, 0, n), src)
}

func zlibCompress(level int, src []byte) ([]byte, error) {
	if level > 9 {
		level = 9
	}
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(src); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func zlibDecompress(src []byte, n int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	dst := make([]byte, n)
	if _, err := io.ReadFull(zr, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

func zstdCompress(level int, src []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstdLevel(level)),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(src, nil), nil
}

func zstdLevel(level int) zstd.EncoderLevel {
	switch {
	case level <= 2:
		return zstd.SpeedFastest
	case level <= 5:
		return zstd.SpeedDefault
	case level <= 7:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func zstdDecompress(src []byte, n int) ([]byte, error) {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(src, make([]byte, 0, n))
}
