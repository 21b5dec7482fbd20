package vm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	causeMessage   = "\nThe above exception was the direct cause of the following exception:\n\n"
	contextMessage = "\nDuring handling of the above exception, another exception occurred:\n\n"
)

// TracebackStyle controls how PrintException decorates its output.
type TracebackStyle struct {
	// Color highlights the header and the exception line with ANSI escapes.
	Color bool
}

// PrintException writes err the way an uncaught exception is reported:
// chained causes and contexts first, then the traceback of err itself.
// Errors that are not language exceptions are written on one line.
func (vm *VM) PrintException(w io.Writer, err error, style TracebackStyle) {
	exc, ok := AsException(err)
	if !ok {
		fmt.Fprintf(w, "fatal: %s\n", err)
		return
	}
	p := &tracebackPrinter{vm: vm, w: w, style: style, seen: map[*BaseException]bool{}, sources: map[string][]string{}}
	p.chain(exc)
}

type tracebackPrinter struct {
	vm      *VM
	w       io.Writer
	style   TracebackStyle
	seen    map[*BaseException]bool
	sources map[string][]string
}

func (p *tracebackPrinter) chain(exc *BaseException) {
	p.seen[exc] = true
	switch {
	case exc.Cause != nil && !p.seen[exc.Cause]:
		p.chain(exc.Cause)
		io.WriteString(p.w, causeMessage)
	case exc.Context != nil && !exc.SuppressContext && !p.seen[exc.Context]:
		p.chain(exc.Context)
		io.WriteString(p.w, contextMessage)
	}
	p.one(exc)
}

func (p *tracebackPrinter) one(exc *BaseException) {
	if exc.Traceback != nil {
		p.paint("\x1b[1m", "Traceback (most recent call last):")
		for tb := exc.Traceback; tb != nil; tb = tb.Next {
			fmt.Fprintf(p.w, "  File \"%s\", line %d, in %s\n", tb.Code.Source, tb.Line, tb.Code.ObjName)
			if line := p.sourceLine(tb.Code.Source, tb.Line); line != "" {
				fmt.Fprintf(p.w, "    %s\n", line)
			}
		}
	}
	if exc.Type().IsSubtype(p.vm.Exceptions.SyntaxError) {
		p.syntaxDetail(exc)
	}
	p.paint("\x1b[31m", p.vm.exceptionLine(exc))
}

func (p *tracebackPrinter) paint(color, s string) {
	if p.style.Color {
		fmt.Fprintf(p.w, "%s%s\x1b[0m\n", color, s)
		return
	}
	fmt.Fprintln(p.w, s)
}

// syntaxDetail prints the offending line with a caret under the column.
func (p *tracebackPrinter) syntaxDetail(exc *BaseException) {
	if len(exc.Args) < 2 {
		return
	}
	details, ok := exc.Args[1].Payload.(Tuple)
	if !ok || len(details) < 4 {
		return
	}
	file, _ := asStr(details[0])
	line, _ := asInt(details[1])
	col, _ := asInt(details[2])
	fmt.Fprintf(p.w, "  File \"%s\", line %d\n", file, line)
	text, ok := asStr(details[3])
	if !ok {
		return
	}
	text = strings.TrimRight(text, "\n")
	trimmed := strings.TrimLeft(text, " \t")
	col -= int64(len(text) - len(trimmed))
	fmt.Fprintf(p.w, "    %s\n", trimmed)
	if col >= 1 {
		fmt.Fprintf(p.w, "    %s^\n", strings.Repeat(" ", int(col-1)))
	}
}

func (p *tracebackPrinter) sourceLine(path string, line int) string {
	lines, ok := p.sources[path]
	if !ok {
		if f, err := os.Open(path); err == nil {
			sc := bufio.NewScanner(f)
			for sc.Scan() {
				lines = append(lines, sc.Text())
			}
			f.Close()
		}
		p.sources[path] = lines
	}
	if line < 1 || line > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[line-1])
}

// exceptionLine renders "module.Name: message", calling the exception's
// __str__.
func (vm *VM) exceptionLine(exc *BaseException) string {
	name := exc.Type().FullName()
	name = strings.TrimPrefix(name, "__main__.")
	msg, err := vm.Str(exc.obj)
	if err != nil {
		msg = "<exception str() failed>"
	}
	if msg == "" {
		return name
	}
	return name + ": " + msg
}

// ExitStatus reports the process status an uncaught SystemExit asks for.
// A None code is 0, an int is used as is, and any other value is written
// to w and gives 1. ok is false when err is not a SystemExit.
func (vm *VM) ExitStatus(w io.Writer, err error) (status int, ok bool) {
	exc, isExc := AsException(err)
	if !isExc || !exc.Type().IsSubtype(vm.Exceptions.SystemExit) {
		return 0, false
	}
	code := exc.obj.dict.GetStr("code")
	switch {
	case code == nil || code == vm.None:
		return 0, true
	case code.typ.IsSubtype(vm.IntType):
		if n, err := IntValue(code); err == nil {
			return int(n), true
		}
	}
	if s, err := vm.Str(code); err == nil {
		fmt.Fprintln(w, s)
	}
	return 1, true
}
