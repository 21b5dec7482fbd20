package vm

import (
	"math"
	"testing"
)

func TestFormatFloatRepr(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "0.0"},
		{math.Copysign(0, -1), "-0.0"},
		{1.5, "1.5"},
		{0.1, "0.1"},
		{1e16, "1e+16"},
		{1234567890123456.0, "1234567890123456.0"},
		{0.0001, "0.0001"},
		{0.00001, "1e-05"},
		{math.Inf(1), "inf"},
		{math.Inf(-1), "-inf"},
		{math.NaN(), "nan"},
	}
	for _, tc := range cases {
		if got := formatFloatRepr(tc.in); got != tc.want {
			t.Errorf("formatFloatRepr(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatSpecs(t *testing.T) {
	vm, _ := newTestVM(t)
	cases := []struct {
		expr string
		want string
	}{
		{"format(42, 'd')", "'42'"},
		{"format(42, '+d'), format(-42, ' d')", "('+42', '-42')"},
		{"format(255, 'x'), format(255, '#X'), format(5, '08b')", "('ff', '0XFF', '00000101')"},
		{"format(1234567, ','), format(1234567, '_')", "('1,234,567', '1_234_567')"},
		{"format(7, '*^7'), format(7, '<3') + '|'", "('***7***', '7  |')"},
		{"format(-7, '=5'), format(-7, '05')", "('-   7', '-0007')"},
		{"format(3.14159, '.3f'), format(2.5, 'e')", "('3.142', '2.500000e+00')"},
		{"format(0.25, '%'), format(1e20, 'g'), format(1.5, '')", "('25.000000%', '1e+20', '1.5')"},
		{"format(1234.5, ',.1f')", "'1,234.5'"},
		{"format('ab', '>4'), format('abcdef', '.2')", "('  ab', 'ab')"},
		{"format(True, 'd'), format(65, 'c')", "('1', 'A')"},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			if got := evalRepr(t, vm, tc.expr); got != tc.want {
				t.Errorf("%s = %s, want %s", tc.expr, got, tc.want)
			}
		})
	}
}

func TestStrFormatMethod(t *testing.T) {
	vm, _ := newTestVM(t)
	cases := []struct {
		expr string
		want string
	}{
		{"'{} and {}'.format(1, 'x')", "'1 and x'"},
		{"'{1}{0}{1}'.format('a', 'b')", "'bab'"},
		{"'{name}={val:>3}'.format(name='k', val=5)", "'k=  5'"},
		{"'{0[1]} {0[k]}'.format({1: 'one', 'k': 'kay'})", "'one kay'"},
		{"'{!r:>6}'.format('s')", "\"   's'\""},
		{"'{:{w}.{p}f}'.format(3.14159, w=8, p=2)", "'    3.14'"},
		{"'{{literal}}'.format()", "'{literal}'"},
		{"'{x.real}'.format(x=4)", "'4'"},
		{"'{k}'.format_map({'k': 'v'})", "'v'"},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			if got := evalRepr(t, vm, tc.expr); got != tc.want {
				t.Errorf("%s = %s, want %s", tc.expr, got, tc.want)
			}
		})
	}
}

func TestStrFormatErrors(t *testing.T) {
	vm, _ := newTestVM(t)
	for _, expr := range []string{
		"'{0}{}'.format(1, 2)",
		"'{'.format()",
		"'{2}'.format(1)",
		"'%d' % 'x'",
		"'%s %s' % (1,)",
	} {
		if _, err := vm.Eval(expr, NewDict()); err == nil {
			t.Errorf("%s should fail", expr)
		}
	}
}

func TestPercentFormat(t *testing.T) {
	vm, _ := newTestVM(t)
	cases := []struct {
		expr string
		want string
	}{
		{"'%s-%r' % ('a', 'b')", "\"a-'b'\""},
		{"'%5d|%-5d|%05d' % (42, 42, 42)", "'   42|42   |00042'"},
		{"'%x %X %o %#x' % (255, 255, 8, 255)", "'ff FF 10 0xff'"},
		{"'%.2f %e %g' % (1.005, 12345.678, 0.00001)", "'1.00 1.234568e+04 1e-05'"},
		{"'%(a)s/%(b)d' % {'a': 'x', 'b': 2}", "'x/2'"},
		{"'%c%c' % (72, 'i')", "'Hi'"},
		{"'100%%' % ()", "'100%'"},
		{"'%*d' % (4, 7)", "'   7'"},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			if got := evalRepr(t, vm, tc.expr); got != tc.want {
				t.Errorf("%s = %s, want %s", tc.expr, got, tc.want)
			}
		})
	}
}

func TestFStrings(t *testing.T) {
	out := runOutput(t, `name = "adder"
n = 3.5
print(f"{name!r} has {n:.2f} {'x' * 2} {n!s:>5}")
`)
	if out != "'adder' has 3.50 xx   3.5\n" {
		t.Errorf("output = %q", out)
	}
}
