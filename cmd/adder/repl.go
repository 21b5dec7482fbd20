package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/chazu/adder/compiler"
	"github.com/chazu/adder/pkg/bytecode"
	"github.com/chazu/adder/vm"
)

const (
	promptMain  = ">>> "
	promptCont  = "... "
	historyFile = ".adder_history"
)

// lineReader is the part of liner.State the REPL reads through.
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
}

func runREPL(v *vm.VM, stdout, stderr io.Writer, color bool) int {
	fmt.Fprintf(stdout, "adder (vm %s)\nType sys.exit() or Ctrl-D to leave.\n", v.ID)

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	s, err := newSession(v, ln, stdout, stderr, color)
	if err != nil {
		return report(v, err, stderr, color)
	}
	return s.loop()
}

// session is one interactive interpreter over a persistent __main__.
type session struct {
	vm      *vm.VM
	globals *vm.Dict
	in      lineReader
	out     io.Writer
	errOut  io.Writer
	color   bool
}

func newSession(v *vm.VM, in lineReader, stdout, stderr io.Writer, color bool) (*session, error) {
	mainMod, err := v.RunSource("", "<stdin>")
	if err != nil {
		return nil, err
	}
	return &session{vm: v, globals: mainMod.Dict(), in: in, out: stdout, errOut: stderr, color: color}, nil
}

// loop reads and runs entries until end of input or SystemExit, and
// returns the exit status.
func (s *session) loop() int {
	for {
		src, ok := s.read()
		if !ok {
			fmt.Fprintln(s.out)
			return 0
		}
		if strings.TrimSpace(src) == "" {
			continue
		}
		s.in.AppendHistory(src)

		err := s.vm.Interactive(src+"\n", s.globals)
		if err == nil {
			continue
		}
		if status, ok := s.vm.ExitStatus(s.errOut, err); ok {
			return status
		}
		s.vm.PrintException(s.errOut, err, vm.TracebackStyle{Color: s.color})
	}
}

// read collects one complete entry. A block header keeps reading until a
// blank line, the same way the conventional interpreter does.
func (s *session) read() (string, bool) {
	var b strings.Builder
	block := false
	for {
		prompt := promptMain
		if b.Len() > 0 {
			prompt = promptCont
		}
		line, err := s.in.Prompt(prompt)
		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			fmt.Fprintln(s.errOut, "KeyboardInterrupt")
			b.Reset()
			block = false
			continue
		case errors.Is(err, io.EOF):
			if b.Len() == 0 {
				return "", false
			}
			return b.String(), true
		case err != nil:
			return "", false
		}

		if b.Len() > 0 {
			if block && strings.TrimSpace(line) == "" {
				return b.String(), true
			}
			b.WriteByte('\n')
		} else {
			block = strings.HasSuffix(strings.TrimSpace(line), ":")
		}
		b.WriteString(line)

		if !block && !incomplete(b.String()) {
			return b.String(), true
		}
	}
}

// incomplete reports whether src stops in the middle of a construct, such
// as an open bracket or a header with no body.
func incomplete(src string) bool {
	_, err := compiler.CompileSource(src+"\n", bytecode.ModeSingle, "<stdin>", compiler.CompileOpts{})
	var ce *compiler.CompileError
	return errors.As(err, &ce) && ce.Incomplete
}
