package vm

import (
	"bytes"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// try/finally runs exactly once on every exit path
// ---------------------------------------------------------------------------

func TestFinallyRunsOnce(t *testing.T) {
	runPrograms(t, []programCase{
		{
			name: "normal completion",
			src: `n = 0
try:
    pass
finally:
    n += 1
print(n)
`,
			want: "1\n",
		},
		{
			name: "break",
			src: `n = 0
for i in range(5):
    try:
        break
    finally:
        n += 1
print(n, i)
`,
			want: "1 0\n",
		},
		{
			name: "continue",
			src: `n = 0
for i in range(3):
    try:
        continue
    finally:
        n += 1
print(n)
`,
			want: "3\n",
		},
		{
			name: "return",
			src: `n = 0
def f():
    global n
    try:
        return "r"
    finally:
        n += 1
print(f(), n)
`,
			want: "r 1\n",
		},
		{
			name: "raise",
			src: `n = 0
try:
    try:
        raise ValueError
    finally:
        n += 1
except ValueError:
    pass
print(n)
`,
			want: "1\n",
		},
		{
			name: "finally return swallows raise",
			src: `def f():
    try:
        raise ValueError
    finally:
        return "swallowed"
print(f())
`,
			want: "swallowed\n",
		},
		{
			name: "nested finally during return",
			src: `log = []
def f():
    try:
        try:
            return 1
        finally:
            log.append("inner")
    finally:
        log.append("outer")
print(f(), log)
`,
			want: "1 ['inner', 'outer']\n",
		},
		{
			name: "break out of nested loops through finally",
			src: `log = []
for i in range(2):
    for j in range(2):
        try:
            if j == 1:
                break
        finally:
            log.append((i, j))
print(log)
`,
			want: "[(0, 0), (0, 1), (1, 0), (1, 1)]\n",
		},
	})
}

// ---------------------------------------------------------------------------
// Handling and chaining
// ---------------------------------------------------------------------------

func TestExceptionHandling(t *testing.T) {
	runPrograms(t, []programCase{
		{
			name: "matching order",
			src: `try:
    {}["missing"]
except IndexError:
    print("index")
except LookupError as e:
    print("lookup", type(e).__name__)
`,
			want: "lookup KeyError\n",
		},
		{
			name: "tuple of classes",
			src: `try:
    1 / 0
except (TypeError, ZeroDivisionError) as e:
    print(type(e).__name__, e)
`,
			want: "ZeroDivisionError division by zero\n",
		},
		{
			name: "explicit cause",
			src: `try:
    try:
        int("x")
    except ValueError as e:
        raise RuntimeError("wrapped") from e
except RuntimeError as e:
    print(type(e.__cause__).__name__, e.__suppress_context__)
`,
			want: "ValueError True\n",
		},
		{
			name: "implicit context",
			src: `try:
    try:
        raise KeyError("a")
    except KeyError:
        raise TypeError("b")
except TypeError as e:
    print(type(e.__context__).__name__, e.__cause__)
`,
			want: "KeyError None\n",
		},
		{
			name: "bare raise re-raises",
			src: `try:
    try:
        raise ValueError("again")
    except ValueError:
        raise
except ValueError as e:
    print(e)
`,
			want: "again\n",
		},
		{
			name: "handler name is deleted",
			src: `try:
    raise ValueError
except ValueError as e:
    pass
print("e" in globals())
`,
			want: "False\n",
		},
		{
			name: "else clause",
			src: `try:
    x = 1
except Exception:
    x = 2
else:
    x = 3
print(x)
`,
			want: "3\n",
		},
		{
			name: "user exception class",
			src: `class AppError(Exception):
    def __init__(self, code):
        super().__init__("code %d" % code)
        self.code = code

try:
    raise AppError(4)
except Exception as e:
    print(e.code, e.args, str(e))
`,
			want: "4 ('code 4',) code 4\n",
		},
		{
			name: "exc_info inside and outside handler",
			src: `import sys
try:
    raise KeyError("k")
except KeyError:
    print(sys.exc_info()[0].__name__)
print(sys.exc_info())
`,
			want: "KeyError\n(None, None, None)\n",
		},
		{
			name: "assert",
			src: `try:
    assert 1 == 2, "nope"
except AssertionError as e:
    print(e)
`,
			want: "nope\n",
		},
	})
}

func TestUncaughtNameError(t *testing.T) {
	exc := runError(t, "print(undefined_name)\n")
	if got := exc.Error(); got != "NameError: name 'undefined_name' is not defined" {
		t.Errorf("message = %q", got)
	}
}

func TestUnboundLocal(t *testing.T) {
	exc := runError(t, `def f():
    print(v)
    v = 1
f()
`)
	if exc.Type().Name != "UnboundLocalError" {
		t.Fatalf("expected UnboundLocalError, got %s", exc.Type().Name)
	}
}

// ---------------------------------------------------------------------------
// Tracebacks
// ---------------------------------------------------------------------------

func TestTracebackRecordsFrames(t *testing.T) {
	exc := runError(t, `def inner():
    raise ValueError("deep")

def outer():
    inner()

outer()
`)
	var lines []int
	var names []string
	for tb := exc.Traceback; tb != nil; tb = tb.Next {
		lines = append(lines, tb.Line)
		names = append(names, tb.Code.ObjName)
	}
	if got := strings.Join(names, ","); got != "<module>,outer,inner" {
		t.Errorf("traceback frames = %s", got)
	}
	if len(lines) == 3 && (lines[0] != 7 || lines[1] != 5 || lines[2] != 2) {
		t.Errorf("traceback lines = %v", lines)
	}
}

func TestPrintExceptionChain(t *testing.T) {
	vm, _ := newTestVM(t)
	_, err := vm.RunSource(`try:
    {}["k"]
except KeyError as e:
    raise RuntimeError("failed") from e
`, "<chain>")
	if err == nil {
		t.Fatal("expected an exception")
	}
	var buf bytes.Buffer
	vm.PrintException(&buf, err, TracebackStyle{})
	out := buf.String()
	for _, want := range []string{
		"KeyError: 'k'",
		"The above exception was the direct cause of the following exception:",
		"Traceback (most recent call last):",
		`File "<chain>", line 4, in <module>`,
		"RuntimeError: failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "KeyError") > strings.Index(out, "RuntimeError") {
		t.Error("the cause should be printed before the exception")
	}
}

func TestPrintSuppressedContext(t *testing.T) {
	vm, _ := newTestVM(t)
	_, err := vm.RunSource(`try:
    raise KeyError("k")
except KeyError:
    raise ValueError("v") from None
`, "<chain>")
	var buf bytes.Buffer
	vm.PrintException(&buf, err, TracebackStyle{})
	if strings.Contains(buf.String(), "KeyError") {
		t.Errorf("suppressed context printed:\n%s", buf.String())
	}
}

func TestPrintSyntaxError(t *testing.T) {
	vm, _ := newTestVM(t)
	_, err := vm.RunSource("x = (1,\n", "bad.py")
	var buf bytes.Buffer
	vm.PrintException(&buf, err, TracebackStyle{})
	if !strings.Contains(buf.String(), "SyntaxError") {
		t.Errorf("output:\n%s", buf.String())
	}
}
