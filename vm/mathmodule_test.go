package vm

import "testing"

func TestMathModule(t *testing.T) {
	out := runOutput(t, `import math
print(math.sqrt(2.25), math.floor(-0.5), math.ceil(1.2), math.trunc(-1.7))
print(round(math.log(8, 2), 9), math.pow(2, 0.5) ** 2 > 1.99, math.gcd(12, -18, 8), math.gcd())
print(math.isnan(math.nan), math.isinf(-math.inf), math.isfinite(1e308), math.fabs(-2))
print(round(math.pi, 5), round(math.tau / math.pi), round(math.e, 3))
class Fl:
    def __floor__(self):
        return "custom"
print(math.floor(Fl()), math.floor(True))
`)
	want := "1.5 -1 2 -1\n" +
		"3.0 True 2 0\n" +
		"True True True 2.0\n" +
		"3.14159 2 2.718\n" +
		"custom 1\n"
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}
}

func TestMathErrors(t *testing.T) {
	cases := []struct {
		src string
		exc string
	}{
		{"import math\nmath.sqrt(-1)", "ValueError"},
		{"import math\nmath.log(0)", "ValueError"},
		{"import math\nmath.log(2, 1)", "ValueError"},
		{"import math\nmath.pow(0, -1)", "ValueError"},
		{"import math\nmath.exp(1000)", "OverflowError"},
		{"import math\nmath.floor(math.inf)", "OverflowError"},
		{"import math\nmath.sqrt('x')", "TypeError"},
		{"import math\nmath.gcd(1.5)", "TypeError"},
	}
	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			exc := runError(t, tc.src+"\n")
			if exc.Type().Name != tc.exc {
				t.Errorf("got %s: %s, want %s", exc.Type().Name, exc.message(), tc.exc)
			}
		})
	}
}
