package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"
)

const extractHelp = `superchunk extract [-flags] <image> <directory>

Decompress every chunk of a packed super-chunk image into numbered files in
the given directory.

Example:
  % superchunk extract samples.sc /tmp/samples
`

func extract(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("extract", flag.ExitOnError)
	fset.Usage = usage(fset, extractHelp)
	fset.Parse(args)
	if fset.NArg() != 2 {
		return xerrors.Errorf("syntax: extract <image> <directory>")
	}
	fn, dir := fset.Arg(0), fset.Arg(1)

	img, err := readImage(fn)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for i := int64(0); i < img.NChunks(); i++ {
		b, err := img.DecompressChunk(i)
		if err != nil {
			return xerrors.Errorf("chunk %d: %w", i, err)
		}
		out := filepath.Join(dir, fmt.Sprintf("chunk%06d.bin", i))
		if err := ioutil.WriteFile(out, b, 0644); err != nil {
			return err
		}
	}
	return nil
}
