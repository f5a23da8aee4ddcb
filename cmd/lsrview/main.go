// Command lsrview lowers Go functions to the loop IR, runs loop strength
// reduction on their innermost loops and prints the IR before and after.
package main

import (
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/nickng/lsr/ir"
	"github.com/nickng/lsr/lower"
	"github.com/nickng/lsr/lsr"
	"github.com/nickng/lsr/ssa"
	"github.com/nickng/lsr/ssa/build"
	"github.com/nickng/lsr/target"
	"github.com/pkg/errors"
	gossa "golang.org/x/tools/go/ssa"
)

const (
	Usage = `lsrview is a tool for viewing loop strength reduction on Go source code.

Usage:

  lsrview [options] file.go [files.go...]

Options:

`
)

var (
	logPath    string
	outPath    string
	viewFunc   string
	targetName string
	showSSA    bool
	reachable  bool
	noChains   bool

	out       io.Writer
	logWriter = ioutil.Discard
)

func init() {
	flag.StringVar(&logPath, "log", "", "Specify analysis log file (use '-' for stderr)")
	flag.StringVar(&outPath, "out", "", "Specify output file (default: stdout)")
	flag.StringVar(&viewFunc, "func", "", `Specify the function to transform (format: (import/path).FuncName, default: all)`)
	flag.StringVar(&targetName, "target", "x86-64", "Target ("+strings.Join(target.Names(), ", ")+")")
	flag.BoolVar(&showSSA, "ssa", false, "Also print the SSA of each function")
	flag.BoolVar(&reachable, "reachable", false, "Only transform functions reachable from main (rta)")
	flag.BoolVar(&noChains, "no-chains", false, "Disable IV chains")
}

func main() {
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprintf(os.Stderr, Usage)
		flag.PrintDefaults()
		os.Exit(0)
	}

	tti, err := target.Lookup(targetName)
	if err != nil {
		log.Fatal("Cannot select target:", err)
	}
	cfg := lsr.ConfigFromEnv()
	if noChains {
		cfg.EnableChains = false
	}

	conf := build.FromFiles(flag.Args()...).Default()
	logger := lsr.NopLogger()
	switch logPath {
	case "":
	case "-":
		logWriter = os.Stderr
		conf = conf.WithBuildLog(logWriter, log.LstdFlags)
		logger = lsr.NewDevelopmentLogger()
	default:
		f, err := os.Create(logPath)
		if err != nil {
			log.Fatalf("Cannot create log %s: %v", logPath, err)
		}
		defer f.Close()
		conf = conf.WithBuildLog(f, log.LstdFlags)
		logWriter = f
		logger = lsr.NewFileLogger(f.Name())
	}

	switch outPath {
	case "":
		out = os.Stdout
	default:
		f, err := os.Create(outPath)
		if err != nil {
			log.Fatalf("Cannot create output file %s: %v", outPath, err)
		}
		defer f.Close()
		out = f
	}

	info, err := conf.Build()
	if err != nil {
		log.Fatal("Cannot build SSA from files:", err)
	}
	fns, err := functions(info)
	if err != nil {
		log.Fatal(err)
	}
	for _, fn := range fns {
		if err := view(fn, tti, cfg, logger); err != nil {
			if viewFunc != "" {
				log.Fatal(err)
			}
			color.New(color.FgYellow).Fprintf(os.Stderr, "skipping %s: %v\n", fn, err)
		}
	}
}

func functions(info *ssa.Info) ([]*gossa.Function, error) {
	switch {
	case viewFunc != "":
		fn, err := info.FindFunc(viewFunc)
		if err != nil {
			return nil, err
		}
		return []*gossa.Function{fn}, nil
	case reachable:
		return info.UsedFunctions("rta")
	}
	return info.Functions(), nil
}

func view(fn *gossa.Function, tti target.Oracle, cfg lsr.Config, logger *lsr.Logger) error {
	if showSSA {
		if _, err := fn.WriteTo(out); err != nil {
			return err
		}
	}
	f, err := lower.FuncWithLog(fn, logWriter)
	if err != nil {
		return err
	}
	header := color.New(color.Bold)
	header.Fprintf(out, "# %s (before)\n", f.Name)
	if _, err := f.WriteTo(out); err != nil {
		return err
	}
	for _, r := range lsr.RunFunc(f, tti, cfg, logger) {
		switch {
		case r.Err != nil:
			color.New(color.FgYellow).Fprintf(out, "# loop %s: %v\n", r.Loop, r.Err)
		case r.Changed:
			color.New(color.FgGreen).Fprintf(out, "# loop %s: reduced\n", r.Loop)
		default:
			fmt.Fprintf(out, "# loop %s: unchanged\n", r.Loop)
		}
	}
	if err := ir.Verify(f); err != nil {
		return errors.Wrap(err, "after strength reduction")
	}
	header.Fprintf(out, "# %s (after)\n", f.Name)
	_, err = f.WriteTo(out)
	return err
}
