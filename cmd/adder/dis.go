package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/chazu/adder/compiler"
	"github.com/chazu/adder/pkg/bytecode"
)

// cmdDis compiles a file and prints its code objects without running it.
func cmdDis(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("dis", flag.ContinueOnError)
	fs.SetOutput(stderr)
	format := fs.String("format", "text", "Output format: text or yaml")
	optimize := fs.Int("O", 0, "Optimization level")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: adder dis [-format text|yaml] [-O level] file\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return exitUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return exitUsage
	}
	if *format != "text" && *format != "yaml" {
		fmt.Fprintf(stderr, "adder dis: unknown format %q\n", *format)
		return exitUsage
	}

	path := fs.Arg(0)
	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "adder dis: %v\n", err)
		return exitUsage
	}
	code, err := compiler.CompileSource(string(source), bytecode.ModeExec, path, compiler.CompileOpts{Optimize: uint8(*optimize)})
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitException
	}

	if *format == "yaml" {
		err = bytecode.WriteYAML(stdout, code)
	} else {
		err = code.Disassemble(stdout, true)
	}
	if err != nil {
		fmt.Fprintf(stderr, "adder dis: %v\n", err)
		return exitException
	}
	return 0
}
