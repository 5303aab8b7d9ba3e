package main

import (
	"context"
	"flag"
	"io/ioutil"
	"log"
	"strings"

	"github.com/distr1/superchunk"
	"github.com/distr1/superchunk/blockcodec"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

const createHelp = `superchunk create [-flags] <image> <input>...

Compress each input file into one chunk of a new packed super-chunk image.

Example:
  % superchunk create -compressor=zstd -clevel=7 samples.sc samples/*.raw
`

func create(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("create", flag.ExitOnError)
	var (
		compressor = fset.String("compressor",
			"zstd",
			"block compressor: "+strings.Join(blockcodec.Names(), ", "))
		clevel = fset.Int("clevel",
			5,
			"compression level (0-9, 0 stores chunks verbatim)")
		typesize = fset.Int("typesize",
			1,
			"element size in bytes the shuffle filters operate on")
		shuffle = fset.Bool("shuffle",
			false,
			"transpose element bytes before compression")
		bitshuffle = fset.Bool("bitshuffle",
			false,
			"transpose element bits before compression")
		deltaref = fset.Bool("delta",
			false,
			"delta-encode chunks against the first input")
		gz = fset.Bool("z",
			false,
			"gzip the packed image")
	)
	fset.Usage = usage(fset, createHelp)
	fset.Parse(args)
	if fset.NArg() < 2 {
		return xerrors.Errorf("syntax: create <image> <input>...")
	}
	out, inputs := fset.Arg(0), fset.Args()[1:]

	code, err := blockcodec.CompressorCode(*compressor)
	if err != nil {
		return err
	}
	var filters [superchunk.MaxFilters]uint8
	slot := 0
	if *deltaref {
		filters[0] = superchunk.FilterDelta
		slot = 1
	}
	switch {
	case *shuffle && *bitshuffle:
		return xerrors.Errorf("-shuffle and -bitshuffle are mutually exclusive")
	case *shuffle:
		filters[slot] = superchunk.FilterShuffle
	case *bitshuffle:
		filters[slot] = superchunk.FilterBitShuffle
	}

	sc, err := superchunk.New(superchunk.Params{
		Compressor: code,
		CLevel:     *clevel,
		Filters:    filters,
	})
	if err != nil {
		return err
	}

	// Read all inputs concurrently, then append in argument order: the chunk
	// index is part of the contract.
	bufs := make([][]byte, len(inputs))
	eg, _ := errgroup.WithContext(ctx)
	for i, fn := range inputs {
		i, fn := i, fn
		eg.Go(func() error {
			b, err := ioutil.ReadFile(fn)
			if err != nil {
				return err
			}
			bufs[i] = b
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	for i, b := range bufs {
		if _, err := sc.AppendBuffer(*typesize, b); err != nil {
			return xerrors.Errorf("compressing %s: %w", inputs[i], err)
		}
	}

	img, err := sc.Pack()
	if err != nil {
		return err
	}
	if err := writeImage(out, img, *gz); err != nil {
		return err
	}
	log.Printf("%s: %d chunks, %d -> %d bytes (%.2fx)",
		out, sc.NChunks(), sc.NBytes(), len(img), float64(sc.NBytes())/float64(len(img)))
	return nil
}
