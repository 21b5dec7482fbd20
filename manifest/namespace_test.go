package manifest

import "testing"

func TestModuleName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"models", "models"},
		{"my-app", "my_app"},
		{"my_app", "my_app"},
		{"myApp", "myApp"},
		{"2d", "_2d"},
		{"a.b-c", "a_b_c"},
		{"", ""},
	}

	for _, tc := range tests {
		if got := ModuleName(tc.input); got != tc.want {
			t.Errorf("ModuleName(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestIsReservedModule(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"sys", true},
		{"builtins", true},
		{"math", true},
		{"sys.path", true},
		{"vendor.sys", false},
		{"mathx", false},
		{"helper", false},
	}

	for _, tc := range tests {
		if got := IsReservedModule(tc.name); got != tc.want {
			t.Errorf("IsReservedModule(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestIsIdentifier(t *testing.T) {
	for _, s := range []string{"a", "_x", "mod2", "é"} {
		if !isIdentifier(s) {
			t.Errorf("%q should be an identifier", s)
		}
	}
	for _, s := range []string{"", "2a", "a-b", "a.b"} {
		if isIdentifier(s) {
			t.Errorf("%q should not be an identifier", s)
		}
	}
}
