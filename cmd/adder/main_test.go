package main

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/chazu/adder/compiler"
	"github.com/chazu/adder/pkg/bytecode"
	"github.com/chazu/adder/vm"
)

func runCLI(t *testing.T, stdin io.Reader, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(args, stdin, &out, &errOut)
	return code, out.String(), errOut.String()
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunCommand(t *testing.T) {
	code, out, errOut := runCLI(t, nil, "-no-cache", "-c", "import sys\nprint(1 + 1, sys.argv)", "x")
	if code != 0 {
		t.Fatalf("exit %d, stderr %q", code, errOut)
	}
	if out != "2 ['-c', 'x']\n" {
		t.Errorf("stdout = %q", out)
	}
}

func TestExitStatus(t *testing.T) {
	tests := []struct {
		name       string
		src        string
		wantCode   int
		wantStderr string
	}{
		{"clean", "x = 1", 0, ""},
		{"sys.exit()", "import sys\nsys.exit()", 0, ""},
		{"sys.exit(3)", "import sys\nsys.exit(3)", 3, ""},
		{"message", "raise SystemExit('bye')", 1, "bye\n"},
		{"uncaught", "1 / 0", exitException, "ZeroDivisionError: division by zero\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			code, _, errOut := runCLI(t, nil, "-no-cache", "-c", tc.src)
			if code != tc.wantCode {
				t.Errorf("exit %d, want %d (stderr %q)", code, tc.wantCode, errOut)
			}
			if !strings.HasSuffix(errOut, tc.wantStderr) {
				t.Errorf("stderr = %q, want suffix %q", errOut, tc.wantStderr)
			}
		})
	}
}

func TestUncaughtTraceback(t *testing.T) {
	script := filepath.Join(t.TempDir(), "boom.py")
	writeFile(t, script, "def boom():\n    raise ValueError('no')\nboom()\n")
	code, _, errOut := runCLI(t, nil, "-no-cache", script)
	if code != exitException {
		t.Fatalf("exit %d", code)
	}
	want := "Traceback (most recent call last):\n" +
		"  File \"" + script + "\", line 3, in <module>\n"
	if !strings.HasPrefix(errOut, want) {
		t.Errorf("stderr = %q", errOut)
	}
	if strings.Contains(errOut, "\x1b[") {
		t.Error("stderr is not a terminal and must not be colored")
	}
}

func TestRunScriptWithArgs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sibling.py"), "greeting = 'hi'\n")
	script := filepath.Join(dir, "main.py")
	writeFile(t, script, "import sys, sibling\nprint(sibling.greeting, sys.argv[1:], __name__)\n")

	code, out, errOut := runCLI(t, nil, "-no-cache", script, "a", "b")
	if code != 0 {
		t.Fatalf("exit %d, stderr %q", code, errOut)
	}
	if out != "hi ['a', 'b'] __main__\n" {
		t.Errorf("stdout = %q", out)
	}
}

func TestRunModuleFlag(t *testing.T) {
	code, out, errOut := runCLI(t, nil, "-no-cache", "-m", "__hello__")
	if code != 0 || out != "Hello world!\n" {
		t.Errorf("exit %d, stdout %q, stderr %q", code, out, errOut)
	}
}

func TestRunStdin(t *testing.T) {
	code, out, _ := runCLI(t, strings.NewReader("print('piped')\n"), "-no-cache")
	if code != 0 || out != "piped\n" {
		t.Errorf("exit %d, stdout %q", code, out)
	}
}

func TestOptimizeFlag(t *testing.T) {
	if code, _, _ := runCLI(t, nil, "-no-cache", "-c", "assert False"); code != exitException {
		t.Errorf("assert without -O: exit %d", code)
	}
	code, out, _ := runCLI(t, nil, "-no-cache", "-O", "-c", "assert False\nimport sys\nprint(sys.flags['optimize'])")
	if code != 0 || out != "1\n" {
		t.Errorf("assert with -O: exit %d, stdout %q", code, out)
	}
}

func TestUsageErrors(t *testing.T) {
	tests := [][]string{
		{"-c", "1", "-m", "x"},
		{"-bogus"},
		{filepath.Join(os.TempDir(), "does-not-exist.py")},
	}
	for _, args := range tests {
		if code, _, _ := runCLI(t, nil, args...); code != exitUsage {
			t.Errorf("%v: exit %d, want %d", args, code, exitUsage)
		}
	}
	if code, _, errOut := runCLI(t, nil, "-h"); code != 0 || !strings.Contains(errOut, "Usage: adder") {
		t.Errorf("-h: exit %d, stderr %q", code, errOut)
	}
}

func TestManifestSettings(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "adder.toml"), `[project]
name = "demo"

[runtime]
recursion-limit = 77

[modules]
path = ["lib"]
frozen = ["__hello__"]
`)
	writeFile(t, filepath.Join(dir, "lib", "helper.py"), "def double(x):\n    return 2 * x\n")
	script := filepath.Join(dir, "app", "main.py")
	writeFile(t, script, "import sys, helper\nprint(sys.getrecursionlimit(), helper.double(21))\n")

	code, out, errOut := runCLI(t, nil, script)
	if code != 0 {
		t.Fatalf("exit %d, stderr %q", code, errOut)
	}
	if out != "Hello world!\n77 42\n" {
		t.Errorf("stdout = %q", out)
	}
	entries, _ := filepath.Glob(filepath.Join(dir, ".adder", "cache", "*.adc"))
	if len(entries) != 1 {
		t.Errorf("cache entries = %v, want one for helper.py", entries)
	}

	// A second run is served from the cache and behaves the same.
	if code, again, _ := runCLI(t, nil, script); code != 0 || again != out {
		t.Errorf("cached run: exit %d, stdout %q", code, again)
	}
}

func TestBadManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "adder.toml"), "[runtime]\nrecursion-limit = \"lots\"\n")
	script := filepath.Join(dir, "main.py")
	writeFile(t, script, "pass\n")
	code, _, errOut := runCLI(t, nil, script)
	if code != exitUsage || !strings.Contains(errOut, "adder.toml") {
		t.Errorf("exit %d, stderr %q", code, errOut)
	}
}

func TestCountFlag(t *testing.T) {
	var c countFlag
	for _, s := range []string{"true", "true"} {
		if err := c.Set(s); err != nil {
			t.Fatal(err)
		}
	}
	if c != 2 {
		t.Errorf("count = %d, want 2", c)
	}
	if err := c.Set("0"); err != nil || c != 0 {
		t.Errorf("Set(0): %v, count %d", err, c)
	}
	if err := c.Set("3"); err != nil || c != 3 {
		t.Errorf("Set(3): %v, count %d", err, c)
	}
	if err := c.Set("false"); err != nil || c != 0 {
		t.Errorf("Set(false): %v, count %d", err, c)
	}
	if err := c.Set("-1"); err == nil {
		t.Error("Set(-1) should fail")
	}
	if err := c.Set("many"); err == nil {
		t.Error("Set(many) should fail")
	}
}

func TestDis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prog.py")
	writeFile(t, path, "def f(x):\n    return x + 1\nprint(f(1))\n")

	code, out, errOut := runCLI(t, nil, "dis", path)
	if code != 0 {
		t.Fatalf("exit %d, stderr %q", code, errOut)
	}
	if !strings.Contains(out, "Disassembly of <module>") || !strings.Contains(out, "Disassembly of f") {
		t.Errorf("text listing = %q", out)
	}

	code, out, errOut = runCLI(t, nil, "dis", "-format", "yaml", path)
	if code != 0 {
		t.Fatalf("yaml: exit %d, stderr %q", code, errOut)
	}
	var summary bytecode.CodeSummary
	if err := yaml.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("yaml output does not parse: %v", err)
	}
	if summary.Name != "<module>" || len(summary.Children) != 1 || summary.Children[0].Name != "f" {
		t.Errorf("summary = %+v", summary)
	}

	if code, _, _ := runCLI(t, nil, "dis", "-format", "xml", path); code != exitUsage {
		t.Errorf("unknown format: exit %d", code)
	}
	bad := filepath.Join(t.TempDir(), "bad.py")
	writeFile(t, bad, "def (:\n")
	if code, _, _ := runCLI(t, nil, "dis", bad); code != exitException {
		t.Errorf("syntax error: exit %d", code)
	}
}

func TestDiskCache(t *testing.T) {
	c := newDiskCache(filepath.Join(t.TempDir(), "cache"))
	source := []byte("x = 1\n")
	code, err := compiler.CompileSource(string(source), bytecode.ModeExec, "m.py", compiler.CompileOpts{})
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := c.Load("m.py", source); ok {
		t.Fatal("empty cache should miss")
	}
	if err := c.Store("m.py", source, code); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, ok := c.Load("m.py", source)
	if !ok || got.ObjName != "<module>" || len(got.Instructions) != len(code.Instructions) {
		t.Fatalf("Load = %+v, %v", got, ok)
	}
	if _, ok := c.Load("other.py", source); ok {
		t.Error("same text at another path should miss")
	}
	if _, ok := c.Load("m.py", []byte("x = 2\n")); ok {
		t.Error("changed source should miss")
	}

	files, _ := filepath.Glob(filepath.Join(c.dir, "*.adc"))
	if len(files) != 1 {
		t.Fatalf("files = %v", files)
	}
	if err := os.WriteFile(files[0], []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Load("m.py", source); ok {
		t.Error("corrupt entry should miss")
	}
}

// scriptedReader feeds the REPL a fixed sequence of lines.
type scriptedReader struct {
	lines   []string
	prompts []string
	history []string
}

func (r *scriptedReader) Prompt(prompt string) (string, error) {
	r.prompts = append(r.prompts, prompt)
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line := r.lines[0]
	r.lines = r.lines[1:]
	return line, nil
}

func (r *scriptedReader) AppendHistory(item string) {
	r.history = append(r.history, item)
}

func newTestSession(t *testing.T, lines ...string) (*session, *scriptedReader, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	v := vm.New(vm.Settings{Stdout: &out, Stderr: &errOut})
	v.Initialize()
	in := &scriptedReader{lines: lines}
	s, err := newSession(v, in, &out, &errOut, false)
	if err != nil {
		t.Fatal(err)
	}
	return s, in, &out, &errOut
}

func TestREPLSession(t *testing.T) {
	s, in, out, errOut := newTestSession(t,
		"x = 2",
		"if x:",
		"    print(x * 3)",
		"",
		"x",
		"items = [1,",
		"  2]",
		"items",
		"1 / 0",
		"raise SystemExit(4)",
		"never = 1",
	)
	if code := s.loop(); code != 4 {
		t.Errorf("exit %d, want 4", code)
	}
	if out.String() != "6\n2\n[1, 2]\n" {
		t.Errorf("stdout = %q", out.String())
	}
	if !strings.Contains(errOut.String(), "ZeroDivisionError: division by zero") {
		t.Errorf("stderr = %q", errOut.String())
	}
	if len(in.lines) != 1 {
		t.Errorf("REPL kept reading after SystemExit: %v", in.lines)
	}
	wantPrompts := []string{promptMain, promptMain, promptCont, promptCont, promptMain, promptMain, promptCont}
	if strings.Join(in.prompts[:len(wantPrompts)], "|") != strings.Join(wantPrompts, "|") {
		t.Errorf("prompts = %q", in.prompts)
	}
	if in.history[1] != "if x:\n    print(x * 3)" {
		t.Errorf("history = %q", in.history)
	}
}

func TestREPLEndOfInput(t *testing.T) {
	s, _, out, _ := newTestSession(t, "y = 5", "def f():", "    return y")
	if code := s.loop(); code != 0 {
		t.Errorf("exit %d", code)
	}
	// the pending block runs before the session ends
	if got := s.globals.GetStr("f"); got == nil {
		t.Error("f was not defined")
	}
	if out.String() != "\n" {
		t.Errorf("stdout = %q", out.String())
	}
}

func TestIncomplete(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{"def f():", true},
		{"(1,", true},
		{"x = [", true},
		{"x = 1", false},
		{"1 +", false},
		{"print('done')", false},
	}
	for _, tc := range tests {
		if got := incomplete(tc.src); got != tc.want {
			t.Errorf("incomplete(%q) = %v, want %v", tc.src, got, tc.want)
		}
	}
}

func TestReportFatal(t *testing.T) {
	v := vm.New(vm.Settings{})
	v.Initialize()
	var errOut bytes.Buffer
	err := vm.ErrFatal.New("block stack underflow")
	if code := report(v, err, &errOut, false); code != exitFatal {
		t.Errorf("exit %d, want %d", code, exitFatal)
	}
	if code := report(v, errors.New("plain"), &errOut, false); code != exitException {
		t.Errorf("exit %d, want %d", code, exitException)
	}
}
