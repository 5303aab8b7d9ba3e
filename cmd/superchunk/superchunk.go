// Binary superchunk creates, inspects and modifies packed super-chunk images
// on disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

var debug = flag.Bool("debug", false, "enable debug mode: format error messages with additional detail")

// interruptibleContext returns a context which is canceled when the program
// is interrupted (i.e. receiving SIGINT or SIGTERM).
func interruptibleContext() (context.Context, context.CancelFunc) {
	ctx, canc := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		// Subsequent signals will result in immediate termination, which is
		// useful in case cleanup hangs:
		signal.Stop(sig)
		canc()
	}()
	return ctx, canc
}

func funcmain() error {
	flag.Parse()

	type cmd struct {
		fn func(ctx context.Context, args []string) error
	}
	verbs := map[string]cmd{
		"create":  {create},
		"append":  {appendcmd},
		"extract": {extract},
		"info":    {info},
	}

	args := flag.Args()
	verb := "info"
	if len(args) > 0 {
		verb, args = args[0], args[1:]
	}

	if verb == "help" {
		if len(args) != 1 {
			fmt.Fprintf(os.Stderr, "superchunk [-flags] <command> [-flags] <args>\n")
			fmt.Fprintln(os.Stderr)
			fmt.Fprintf(os.Stderr, "To get help on any command, use superchunk <command> -help or superchunk help <command>.\n")
			fmt.Fprintln(os.Stderr)
			fmt.Fprintf(os.Stderr, "Commands:\n")
			fmt.Fprintf(os.Stderr, "\tcreate   - compress files into a new image\n")
			fmt.Fprintf(os.Stderr, "\tappend   - append files to an existing image\n")
			fmt.Fprintf(os.Stderr, "\textract  - decompress all chunks of an image\n")
			fmt.Fprintf(os.Stderr, "\tinfo     - show image header and chunk table\n")
			os.Exit(2)
		}
		verb = args[0]
		args = []string{"-help"}
	}

	ctx, canc := interruptibleContext()
	defer canc()
	v, ok := verbs[verb]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", verb)
		fmt.Fprintf(os.Stderr, "syntax: superchunk <command> [options]\n")
		os.Exit(2)
	}
	if err := v.fn(ctx, args); err != nil {
		if *debug {
			return fmt.Errorf("%s: %+v", verb, err)
		}
		return fmt.Errorf("%s: %v", verb, err)
	}
	return nil
}

func main() {
	log.SetFlags(0)
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
