package main

import (
	"bytes"
	"io"
	"io/ioutil"

	"github.com/distr1/superchunk"
	"github.com/google/renameio"
	"github.com/klauspost/pgzip"
	"golang.org/x/exp/mmap"
	"golang.org/x/xerrors"
)

var gzipMagic = []byte{0x1f, 0x8b}

// readImage reads a packed image from fn, transparently decompressing
// gzip-wrapped images.
func readImage(fn string) (superchunk.Packed, error) {
	rd, err := mmap.Open(fn)
	if err != nil {
		return nil, err
	}
	defer rd.Close()
	b := make([]byte, rd.Len())
	if _, err := rd.ReadAt(b, 0); err != nil {
		return nil, err
	}
	if bytes.HasPrefix(b, gzipMagic) {
		zr, err := pgzip.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		if b, err = ioutil.ReadAll(zr); err != nil {
			return nil, err
		}
	}
	return superchunk.Packed(b), nil
}

// writeImage atomically replaces fn with the image, gzip-wrapping it when gz
// is set.
func writeImage(fn string, img superchunk.Packed, gz bool) error {
	f, err := renameio.TempFile("", fn)
	if err != nil {
		return err
	}
	defer f.Cleanup()
	var w io.Writer = f
	var zw *pgzip.Writer
	if gz {
		zw = pgzip.NewWriter(f)
		w = zw
	}
	if _, err := w.Write(img); err != nil {
		return xerrors.Errorf("writing %s: %w", fn, err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return err
		}
	}
	return f.CloseAtomicallyReplace()
}
