// Adder CLI - the main entry point for running adder programs
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/adder/manifest"
	"github.com/chazu/adder/vm"
)

// Exit statuses besides the program's own sys.exit codes.
const (
	exitException = 1
	exitUsage     = 2
	exitFatal     = 70
)

var log = commonlog.GetLogger("adder.cli")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// countFlag is a boolean flag that counts repetitions, so "-O -O" is 2.
type countFlag int

func (c *countFlag) String() string   { return strconv.Itoa(int(*c)) }
func (c *countFlag) IsBoolFlag() bool { return true }

// Set takes an explicit count ("-O=2"), or a boolean where true adds one
// and false resets.
func (c *countFlag) Set(s string) error {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return fmt.Errorf("negative count %d", n)
		}
		*c = countFlag(n)
		return nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	if v {
		*c++
	} else {
		*c = 0
	}
	return nil
}

type options struct {
	verbosity int
	trace     bool
	optimize  countFlag
	noCache   bool
	command   string
	module    string
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "dis" {
		return cmdDis(args[1:], stdout, stderr)
	}

	var opts options
	fs := flag.NewFlagSet("adder", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&opts.verbosity, "v", -1, "Log verbosity (overrides [log] verbosity)")
	fs.BoolVar(&opts.trace, "trace", false, "Log every executed instruction")
	fs.Var(&opts.optimize, "O", "Optimize: once drops asserts, twice also drops docstrings")
	fs.BoolVar(&opts.noCache, "no-cache", false, "Do not read or write compiled module caches")
	fs.StringVar(&opts.command, "c", "", "Program passed in as a string")
	fs.StringVar(&opts.module, "m", "", "Run a library module as a script")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: adder [options] [file | -c cmd | -m module] [args...]\n")
		fmt.Fprintf(stderr, "       adder dis [-format text|yaml] file\n\n")
		fmt.Fprintf(stderr, "Runs a program, or starts the interactive interpreter when none is given.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  adder                      # Start REPL\n")
		fmt.Fprintf(stderr, "  adder main.py a b          # Run main.py with sys.argv ['main.py', 'a', 'b']\n")
		fmt.Fprintf(stderr, "  adder -c 'print(1 + 1)'    # Run a one-line program\n")
		fmt.Fprintf(stderr, "  adder -m __hello__         # Run a module found on the module path\n")
		fmt.Fprintf(stderr, "  adder dis -format yaml f.py  # Dump the compiled code objects\n")
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return exitUsage
	}
	if opts.command != "" && opts.module != "" {
		fmt.Fprintf(stderr, "adder: -c and -m are mutually exclusive\n")
		fs.Usage()
		return exitUsage
	}

	rest := fs.Args()
	var script string
	var argv []string
	switch {
	case opts.command != "":
		argv = append([]string{"-c"}, rest...)
	case opts.module != "":
		argv = append([]string{opts.module}, rest...)
	case len(rest) > 0:
		script = rest[0]
		argv = rest
	default:
		argv = []string{""}
	}

	startDir := "."
	if script != "" {
		startDir = filepath.Dir(script)
	}
	settings, m, err := loadSettings(startDir, opts)
	if err != nil {
		fmt.Fprintf(stderr, "adder: %v\n", err)
		return exitUsage
	}
	settings.Argv = argv
	settings.Stdout = stdout
	settings.Stderr = stderr
	// The script's directory, or the working directory, is searched first.
	settings.Path = append([]string{startDir}, settings.Path...)

	v := vm.New(settings)
	v.Initialize()
	color := isTerminal(stderr)

	if m != nil {
		for _, name := range m.Modules.Frozen {
			if _, err := v.ImportFrozen(name); err != nil {
				return report(v, err, stderr, color)
			}
		}
	}

	switch {
	case opts.command != "":
		_, err = v.RunSource(opts.command+"\n", "<string>")
	case opts.module != "":
		_, err = v.RunModule(opts.module)
	case script != "":
		source, rerr := os.ReadFile(script)
		if rerr != nil {
			fmt.Fprintf(stderr, "adder: can't open file '%s': %v\n", script, rerr)
			return exitUsage
		}
		_, err = v.RunSource(string(source), script)
	case isTerminal(stdin):
		return runREPL(v, stdout, stderr, color)
	default:
		source, rerr := io.ReadAll(stdin)
		if rerr != nil {
			fmt.Fprintf(stderr, "adder: reading stdin: %v\n", rerr)
			return exitUsage
		}
		_, err = v.RunSource(string(source), "<stdin>")
	}
	return report(v, err, stderr, color)
}

// loadSettings builds VM settings from the nearest adder.toml, if any,
// with command-line flags taking precedence.
func loadSettings(startDir string, opts options) (vm.Settings, *manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(startDir)
	if err != nil {
		return vm.Settings{}, nil, err
	}

	var settings vm.Settings
	verbosity := 0
	var logFile *string
	cacheDir := ""
	if m != nil {
		deps, err := manifest.NewResolver(m).Resolve()
		if err != nil {
			return vm.Settings{}, nil, fmt.Errorf("resolving dependencies: %w", err)
		}
		settings = m.Settings(deps)
		verbosity = m.Log.Verbosity
		if m.Log.File != "" {
			f := m.Log.File
			if !filepath.IsAbs(f) {
				f = filepath.Join(m.Dir, f)
			}
			logFile = &f
		}
		cacheDir = m.CacheDir()
	} else if dir, err := os.UserCacheDir(); err == nil {
		cacheDir = filepath.Join(dir, "adder")
	}

	if opts.verbosity >= 0 {
		verbosity = opts.verbosity
	}
	commonlog.Configure(verbosity, logFile)

	if opts.trace {
		settings.TraceInstructions = true
	}
	if opts.optimize > 0 {
		settings.Optimize = uint8(opts.optimize)
	}
	if !opts.noCache && cacheDir != "" {
		settings.Cache = newDiskCache(cacheDir)
	}
	if m != nil {
		log.Infof("using %s (%s)", filepath.Join(m.Dir, manifest.FileName), m.Project.Name)
	}
	return settings, m, nil
}

// report turns the outcome of a run into an exit status, printing uncaught
// exceptions the conventional way.
func report(v *vm.VM, err error, stderr io.Writer, color bool) int {
	if err == nil {
		return 0
	}
	if status, ok := v.ExitStatus(stderr, err); ok {
		return status
	}
	v.PrintException(stderr, err, vm.TracebackStyle{Color: color})
	if vm.IsFatal(err) {
		return exitFatal
	}
	return exitException
}

func isTerminal(stream any) bool {
	f, ok := stream.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
