package manifest

import (
	"strings"
	"unicode"
)

// ModuleName converts a project or dependency name into an importable
// module name: "my-lib" -> "my_lib", "2d.tools" -> "_2d_tools".
func ModuleName(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == '_' || unicode.IsLetter(r):
			b.WriteRune(r)
		case unicode.IsDigit(r):
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// reservedModules lists modules the VM provides itself. A dependency that
// shadows one of them would never be imported.
var reservedModules = map[string]bool{
	"builtins":  true,
	"sys":       true,
	"math":      true,
	"__main__":  true,
	"__hello__": true,
}

// IsReservedModule reports whether name is provided by the VM. Only the
// first dotted segment is checked: "vendor.sys" is fine.
func IsReservedModule(name string) bool {
	root, _, _ := strings.Cut(name, ".")
	return reservedModules[root]
}

// isIdentifier reports whether s can be used in an import statement.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r)) {
			continue
		}
		return false
	}
	return true
}
