package vm

import (
	"testing"
)

func TestGenerators(t *testing.T) {
	runPrograms(t, []programCase{
		{
			name: "for loop",
			src: `def count(n):
    i = 0
    while i < n:
        yield i
        i += 1
print(list(count(4)), sum(count(5)))
`,
			want: "[0, 1, 2, 3] 10\n",
		},
		{
			name: "send",
			src: `def acc():
    total = 0
    while True:
        v = yield total
        total += v

g = acc()
next(g)
g.send(3)
print(g.send(4))
`,
			want: "7\n",
		},
		{
			name: "send non-None to a new generator",
			src: `def g():
    yield 1
try:
    g().send(5)
except TypeError as e:
    print(e)
`,
			want: "can't send non-None value to a just-started generator\n",
		},
		{
			name: "return value",
			src: `def g():
    yield 1
    return "done"
it = g()
next(it)
try:
    next(it)
except StopIteration as e:
    print(e.value, e.args)
print(next(it, "default"))
`,
			want: "done ('done',)\ndefault\n",
		},
		{
			name: "bare return",
			src: `def g():
    yield 1
it = g()
print(next(it), next(it, None))
try:
    next(it)
except StopIteration as e:
    print(e.args, e.value)
`,
			want: "1 None\n() None\n",
		},
		{
			name: "throw handled",
			src: `def g():
    try:
        yield 1
    except ValueError:
        yield "caught"
it = g()
next(it)
print(it.throw(ValueError))
`,
			want: "caught\n",
		},
		{
			name: "throw unhandled",
			src: `def g():
    yield 1
it = g()
next(it)
try:
    it.throw(KeyError("k"))
except KeyError:
    print("propagated", it.gi_running)
try:
    next(it)
except StopIteration:
    print("closed")
`,
			want: "propagated False\nclosed\n",
		},
		{
			name: "close runs finally",
			src: `def g():
    try:
        yield 1
    finally:
        print("cleanup")
it = g()
next(it)
it.close()
it.close()
print("closed")
`,
			want: "cleanup\nclosed\n",
		},
		{
			name: "close ignored",
			src: `def g():
    while True:
        try:
            yield 1
        except GeneratorExit:
            pass
it = g()
next(it)
try:
    it.close()
except RuntimeError as e:
    print(e)
`,
			want: "generator ignored GeneratorExit\n",
		},
		{
			name: "stop iteration inside generator",
			src: `def g():
    yield 1
    raise StopIteration("inner")
it = g()
next(it)
try:
    next(it)
except RuntimeError as e:
    print(e, type(e.__cause__).__name__)
`,
			want: "generator raised StopIteration StopIteration\n",
		},
		{
			name: "already executing",
			src: `def g():
    yield next(me)
me = g()
try:
    next(me)
except ValueError as e:
    print(e)
`,
			want: "generator already executing\n",
		},
		{
			name: "generator expression",
			src: `print(sorted(x * 2 for x in [3, 1, 2]))
`,
			want: "[2, 4, 6]\n",
		},
	})
}

func TestYieldFrom(t *testing.T) {
	runPrograms(t, []programCase{
		{
			name: "delegation and result",
			src: `def inner():
    yield 1
    yield 2
    return "inner done"

def outer():
    r = yield from inner()
    yield r

print(list(outer()))
`,
			want: "[1, 2, 'inner done']\n",
		},
		{
			name: "send passes through",
			src: `def inner():
    got = yield "ready"
    yield "inner got %s" % got

def outer():
    yield from inner()

g = outer()
print(next(g))
print(g.send("x"))
`,
			want: "ready\ninner got x\n",
		},
		{
			name: "throw is delegated",
			src: `def inner():
    try:
        yield 1
    except ValueError:
        yield "inner handled"

def outer():
    yield from inner()
    yield "outer resumed"

g = outer()
next(g)
print(g.throw(ValueError))
print(next(g))
`,
			want: "inner handled\nouter resumed\n",
		},
		{
			name: "close is delegated",
			src: `def inner():
    try:
        yield 1
    finally:
        print("inner closed")

def outer():
    try:
        yield from inner()
    finally:
        print("outer closed")

g = outer()
next(g)
g.close()
`,
			want: "inner closed\nouter closed\n",
		},
		{
			name: "from a list",
			src: `def g():
    yield from [1, 2]
    yield from (3,)
print(list(g()))
`,
			want: "[1, 2, 3]\n",
		},
		{
			name: "yieldfrom attribute",
			src: `def inner():
    yield 1
def outer():
    yield from inner()
g = outer()
print(g.gi_yieldfrom)
next(g)
print(g.gi_yieldfrom.__name__)
`,
			want: "None\ninner\n",
		},
	})
}

func TestCoroutines(t *testing.T) {
	runPrograms(t, []programCase{
		{
			name: "await chain driven by send",
			src: `class Ready:
    def __await__(self):
        v = yield "suspended"
        return v * 2

async def leaf():
    return await Ready()

async def root():
    a = await leaf()
    return a + 1

c = root()
print(c.send(None))
try:
    c.send(20)
except StopIteration as e:
    print(e.value)
`,
			want: "suspended\n41\n",
		},
		{
			name: "reuse after completion",
			src: `async def f():
    return 1
c = f()
try:
    c.send(None)
except StopIteration:
    pass
try:
    c.send(None)
except RuntimeError as e:
    print(e)
`,
			want: "cannot reuse already awaited coroutine\n",
		},
		{
			name: "await non-awaitable",
			src: `async def f():
    await 3
try:
    f().send(None)
except TypeError as e:
    print(e)
`,
			want: "object int can't be used in 'await' expression\n",
		},
		{
			name: "coroutine close",
			src: `async def f():
    return 1
c = f()
c.close()
print(c.cr_running)
`,
			want: "False\n",
		},
	})
}

func TestAsyncGeneratorRejected(t *testing.T) {
	vm, _ := newTestVM(t)
	_, err := vm.RunSource("async def f():\n    yield 1\n", "<async>")
	if !vm.errorMatches(err, vm.Exceptions.SyntaxError) {
		t.Fatalf("expected SyntaxError, got %v", err)
	}
}
