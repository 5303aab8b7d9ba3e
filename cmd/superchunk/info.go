package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cespare/xxhash/v2"
	"github.com/distr1/superchunk"
	"github.com/distr1/superchunk/blockcodec"
	"github.com/distr1/superchunk/chunk"
	"github.com/mattn/go-isatty"
	"golang.org/x/xerrors"
)

const infoHelp = `superchunk info [-flags] <image>

Show the header fields and the chunk table of a packed super-chunk image.

Example:
  % superchunk info samples.sc
`

func filterName(code uint8) string {
	switch code {
	case superchunk.FilterNone:
		return "none"
	case superchunk.FilterShuffle:
		return "shuffle"
	case superchunk.FilterBitShuffle:
		return "bitshuffle"
	case superchunk.FilterDelta:
		return "delta"
	default:
		return fmt.Sprintf("filter%d", code)
	}
}

func info(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("info", flag.ExitOnError)
	fset.Usage = usage(fset, infoHelp)
	fset.Parse(args)
	if fset.NArg() != 1 {
		return xerrors.Errorf("syntax: info <image>")
	}

	img, err := readImage(fset.Arg(0))
	if err != nil {
		return err
	}
	// Parsing validates the image before any field is trusted.
	if _, err := superchunk.Unpack(img); err != nil {
		return err
	}

	name, err := blockcodec.CompressorName(img.Compressor())
	if err != nil {
		name = fmt.Sprintf("unknown (%d)", img.Compressor())
	}
	fmt.Printf("compressor: %s, level %d\n", name, img.CLevel())
	filters := img.Filters()
	fmt.Printf("filters:   ")
	for _, f := range filters {
		fmt.Printf(" %s", filterName(f))
	}
	fmt.Println()
	fmt.Printf("chunks:     %d\n", img.NChunks())
	fmt.Printf("nbytes:     %d\n", img.NBytes())
	fmt.Printf("cbytes:     %d\n", img.CBytes())
	fmt.Printf("delta ref:  %v\n", img.HasDeltaRef())
	fmt.Printf("xxh64:      %016x\n", xxhash.Sum64(img))

	// The ratio column is decoration, skip it when piping.
	tty := isatty.IsTerminal(os.Stdout.Fd())
	tw := tabwriter.NewWriter(os.Stdout, 1, 8, 2, ' ', 0)
	if tty {
		fmt.Fprintf(tw, "chunk\tnbytes\tcbytes\tratio\n")
	} else {
		fmt.Fprintf(tw, "chunk\tnbytes\tcbytes\n")
	}
	for i := int64(0); i < img.NChunks(); i++ {
		c, err := img.Chunk(i)
		if err != nil {
			return err
		}
		v := chunk.View(c)
		if tty {
			fmt.Fprintf(tw, "%d\t%d\t%d\t%.2fx\n", i, v.NBytes(), v.CBytes(), float64(v.NBytes())/float64(v.CBytes()))
		} else {
			fmt.Fprintf(tw, "%d\t%d\t%d\n", i, v.NBytes(), v.CBytes())
		}
	}
	return tw.Flush()
}
