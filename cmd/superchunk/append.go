package main

import (
	"context"
	"flag"
	"io/ioutil"
	"log"

	"golang.org/x/xerrors"
)

const appendHelp = `superchunk append [-flags] <image> <input>...

Append each input file as one chunk to an existing packed super-chunk image,
without unpacking it. Images of a delta-filtered super-chunk must already
carry their reference chunk.

Example:
  % superchunk append -typesize=4 samples.sc more/*.raw
`

func appendcmd(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("append", flag.ExitOnError)
	var (
		typesize = fset.Int("typesize",
			1,
			"element size in bytes the shuffle filters operate on")
		gz = fset.Bool("z",
			false,
			"gzip the updated image")
	)
	fset.Usage = usage(fset, appendHelp)
	fset.Parse(args)
	if fset.NArg() < 2 {
		return xerrors.Errorf("syntax: append <image> <input>...")
	}
	fn, inputs := fset.Arg(0), fset.Args()[1:]

	img, err := readImage(fn)
	if err != nil {
		return err
	}
	before := img.NChunks()
	for _, in := range inputs {
		b, err := ioutil.ReadFile(in)
		if err != nil {
			return err
		}
		if img, err = img.AppendBuffer(*typesize, b); err != nil {
			return xerrors.Errorf("appending %s: %w", in, err)
		}
	}
	if err := writeImage(fn, img, *gz); err != nil {
		return err
	}
	log.Printf("%s: %d chunks (+%d), %d bytes", fn, img.NChunks(), img.NChunks()-before, len(img))
	return nil
}
