package vm

import (
	"bytes"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/chazu/adder/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// str
// ---------------------------------------------------------------------------

func (c *Context) initStr() {
	s := c.StrType
	s.Doc = "str(object='') -> str"
	s.Slots = TypeSlots{
		Hash:        strHash,
		RichCompare: strRichCompare,
		New:         strNew,
		Repr:        func(vm *VM, o *Object) (string, error) { return quoteStr(o.Payload.(string)), nil },
		Str:         func(vm *VM, o *Object) (string, error) { return o.Payload.(string), nil },
		Iter:        strIter,
		Number: &NumberSlots{
			Binary: strBinary,
		},
		Mapping: &MappingSlots{
			Len:     func(vm *VM, o *Object) (int, error) { return utf8.RuneCountInString(o.Payload.(string)), nil },
			GetItem: strGetItem,
		},
		Sequence: &SequenceSlots{
			Contains: strContains,
		},
	}
	c.addMethods(s, []methodDef{
		{name: "join", fn: strMethod(strJoin)},
		{name: "split", fn: strMethod(strSplit)},
		{name: "rsplit", fn: strMethod(strRSplit)},
		{name: "splitlines", fn: strMethod(strSplitLines)},
		{name: "strip", fn: strMethod(stripper(strings.Trim, strings.TrimFunc))},
		{name: "lstrip", fn: strMethod(stripper(strings.TrimLeft, strings.TrimLeftFunc))},
		{name: "rstrip", fn: strMethod(stripper(strings.TrimRight, strings.TrimRightFunc))},
		{name: "startswith", fn: strMethod(affixTest("startswith", strings.HasPrefix))},
		{name: "endswith", fn: strMethod(affixTest("endswith", strings.HasSuffix))},
		{name: "find", fn: strMethod(strFinder("find", false, false))},
		{name: "rfind", fn: strMethod(strFinder("rfind", true, false))},
		{name: "index", fn: strMethod(strFinder("index", false, true))},
		{name: "rindex", fn: strMethod(strFinder("rindex", true, true))},
		{name: "count", fn: strMethod(strCount)},
		{name: "replace", fn: strMethod(strReplace)},
		{name: "upper", fn: strMethod(strMap("upper", strings.ToUpper))},
		{name: "lower", fn: strMethod(strMap("lower", strings.ToLower))},
		{name: "casefold", fn: strMethod(strMap("casefold", strings.ToLower))},
		{name: "swapcase", fn: strMethod(strMap("swapcase", swapCase))},
		{name: "capitalize", fn: strMethod(strMap("capitalize", capitalize))},
		{name: "title", fn: strMethod(strMap("title", titleCase))},
		{name: "isdigit", fn: strMethod(strPredicate(unicode.IsDigit))},
		{name: "isdecimal", fn: strMethod(strPredicate(unicode.IsDigit))},
		{name: "isnumeric", fn: strMethod(strPredicate(unicode.IsNumber))},
		{name: "isalpha", fn: strMethod(strPredicate(unicode.IsLetter))},
		{name: "isalnum", fn: strMethod(strPredicate(func(r rune) bool { return unicode.IsLetter(r) || unicode.IsNumber(r) }))},
		{name: "isspace", fn: strMethod(strPredicate(unicode.IsSpace))},
		{name: "isupper", fn: strMethod(strCased(unicode.IsUpper, unicode.IsLower))},
		{name: "islower", fn: strMethod(strCased(unicode.IsLower, unicode.IsUpper))},
		{name: "isidentifier", fn: strMethod(func(vm *VM, s string, args Args) (*Object, error) {
			return vm.NewBool(isIdentifier(s)), nil
		})},
		{name: "center", fn: strMethod(strPad("center"))},
		{name: "ljust", fn: strMethod(strPad("ljust"))},
		{name: "rjust", fn: strMethod(strPad("rjust"))},
		{name: "zfill", fn: strMethod(strZfill)},
		{name: "partition", fn: strMethod(strPartition(false))},
		{name: "rpartition", fn: strMethod(strPartition(true))},
		{name: "expandtabs", fn: strMethod(strExpandTabs)},
		{name: "encode", fn: strMethod(strEncode)},
		{name: "format", fn: strMethod(func(vm *VM, s string, args Args) (*Object, error) {
			r, err := vm.strFormat(s, args)
			if err != nil {
				return nil, err
			}
			return vm.NewStr(r), nil
		})},
		{name: "format_map", fn: strMethod(func(vm *VM, s string, args Args) (*Object, error) {
			if err := vm.expectArgs("format_map", args, 1, 1); err != nil {
				return nil, err
			}
			r, err := vm.strFormatMap(s, args.Pos[0])
			if err != nil {
				return nil, err
			}
			return vm.NewStr(r), nil
		})},
		{name: "__format__", fn: strMethod(func(vm *VM, s string, args Args) (*Object, error) {
			if err := vm.expectArgs("__format__", args, 1, 1); err != nil {
				return nil, err
			}
			spec, err := vm.strArg("format", args.Pos[0])
			if err != nil {
				return nil, err
			}
			r, err := vm.formatStr(s, spec)
			if err != nil {
				return nil, err
			}
			return vm.NewStr(r), nil
		})},
		{name: "__getnewargs__", fn: strMethod(func(vm *VM, s string, args Args) (*Object, error) {
			return vm.NewTuple([]*Object{vm.NewStr(s)}), nil
		})},
	})
	c.initBytes()
}

// strMethod adapts a method body that receives the str receiver separately
// from the remaining arguments.
func strMethod(fn func(vm *VM, s string, args Args) (*Object, error)) BuiltinFn {
	return func(vm *VM, args Args) (*Object, error) {
		s, err := receiver[string](vm, args, "str")
		if err != nil {
			return nil, err
		}
		return fn(vm, s, Args{Pos: args.Pos[1:], Kw: args.Kw})
	}
}

func strHash(vm *VM, o *Object) (int64, error) {
	return hashBytes(vm.hashSeed, []byte(o.Payload.(string))), nil
}

func strRichCompare(vm *VM, a, b *Object, op bytecode.ComparisonOperator) (*Object, error) {
	x, ok1 := asStr(a)
	y, ok2 := asStr(b)
	if !ok1 || !ok2 {
		return vm.NotImplemented, nil
	}
	return vm.NewBool(cmpResult(strings.Compare(x, y), op)), nil
}

func strNew(vm *VM, cls *Type, args Args) (*Object, error) {
	params, err := vm.bindArgs("str", args, []string{"object", "encoding", "errors"}, 0)
	if err != nil {
		return nil, err
	}
	s := ""
	switch {
	case params[0] == nil:
	case params[1] != nil || params[2] != nil:
		b, ok := asBytes(params[0])
		if !ok {
			return nil, vm.NewTypeError("decoding to str: need a bytes-like object, %s found", params[0].typ.Name)
		}
		enc := "utf-8"
		if params[1] != nil {
			if enc, err = vm.strArg("str", params[1]); err != nil {
				return nil, err
			}
		}
		if s, err = vm.decode(b, enc); err != nil {
			return nil, err
		}
	default:
		if s, err = vm.Str(params[0]); err != nil {
			return nil, err
		}
	}
	if cls == vm.StrType {
		return vm.NewStr(s), nil
	}
	return vm.newObject(cls, s), nil
}

// quoteStr renders s the way repr() does for str.
func quoteStr(s string) string {
	quote := byte('\'')
	if strings.IndexByte(s, '\'') >= 0 && strings.IndexByte(s, '"') < 0 {
		quote = '"'
	}
	var b strings.Builder
	b.WriteByte(quote)
	for _, r := range s {
		switch {
		case r == rune(quote) || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 0x20 || r == 0x7f:
			b.WriteString(`\x`)
			b.WriteString(hex2(byte(r)))
		case r < 0x7f || unicode.IsPrint(r):
			b.WriteRune(r)
		case r <= 0xff:
			b.WriteString(`\x`)
			b.WriteString(hex2(byte(r)))
		case r <= 0xffff:
			b.WriteString(`\u`)
			b.WriteString(leftPad(strconv.FormatInt(int64(r), 16), 4, '0'))
		default:
			b.WriteString(`\U`)
			b.WriteString(leftPad(strconv.FormatInt(int64(r), 16), 8, '0'))
		}
	}
	b.WriteByte(quote)
	return b.String()
}

func hex2(c byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[c>>4], digits[c&15]})
}

func leftPad(s string, width int, fill rune) string {
	if n := utf8.RuneCountInString(s); n < width {
		return strings.Repeat(string(fill), width-n) + s
	}
	return s
}

func strBinary(vm *VM, self, other *Object, op bytecode.BinaryOperator, reflected bool) (*Object, error) {
	s := self.Payload.(string)
	switch op {
	case bytecode.OpAdd:
		o, ok := asStr(other)
		if !ok {
			if reflected {
				return vm.NotImplemented, nil
			}
			return nil, vm.NewTypeError("can only concatenate str (not \"%s\") to str", other.typ.Name)
		}
		if reflected {
			return vm.NewStr(o + s), nil
		}
		return vm.NewStr(s + o), nil
	case bytecode.OpMultiply:
		n, ok := repeatCount(vm, other)
		if !ok {
			return vm.NotImplemented, nil
		}
		if n <= 0 {
			return vm.EmptyStr, nil
		}
		return vm.NewStr(strings.Repeat(s, int(n))), nil
	case bytecode.OpModulo:
		if reflected {
			return vm.NotImplemented, nil
		}
		r, err := vm.percentFormat(s, other)
		if err != nil {
			return nil, err
		}
		return vm.NewStr(r), nil
	}
	return vm.NotImplemented, nil
}

// repeatCount returns the count operand of sequence repetition.
func repeatCount(vm *VM, o *Object) (int64, bool) {
	if v, ok := asInt(o); ok {
		return v, true
	}
	if o.typ.mroFindSlot(hasIndex) == nil {
		return 0, false
	}
	v, err := vm.Index(o)
	return v, err == nil
}

func strRunes(s string) []rune {
	return []rune(s)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func strGetItem(vm *VM, o, key *Object) (*Object, error) {
	s := o.Payload.(string)
	if sl, ok := key.Payload.(*Slice); ok {
		if isASCII(s) {
			start, stop, step, n, err := vm.sliceIndices(sl, len(s))
			if err != nil {
				return nil, err
			}
			if step == 1 {
				return vm.NewStr(s[start:stop]), nil
			}
			b := make([]byte, 0, n)
			for i, j := 0, start; i < n; i, j = i+1, j+step {
				b = append(b, s[j])
			}
			return vm.NewStr(string(b)), nil
		}
		rs := strRunes(s)
		start, _, step, n, err := vm.sliceIndices(sl, len(rs))
		if err != nil {
			return nil, err
		}
		out := make([]rune, 0, n)
		for i, j := 0, start; i < n; i, j = i+1, j+step {
			out = append(out, rs[j])
		}
		return vm.NewStr(string(out)), nil
	}
	if isASCII(s) {
		i, err := vm.seqIndex(key, len(s), "string")
		if err != nil {
			return nil, err
		}
		return vm.NewStr(s[i : i+1]), nil
	}
	rs := strRunes(s)
	i, err := vm.seqIndex(key, len(rs), "string")
	if err != nil {
		return nil, err
	}
	return vm.NewStr(string(rs[i])), nil
}

func strContains(vm *VM, o, item *Object) (bool, error) {
	sub, ok := asStr(item)
	if !ok {
		return false, vm.NewTypeError("'in <string>' requires string as left operand, not %s", item.typ.Name)
	}
	return strings.Contains(o.Payload.(string), sub), nil
}

func strIter(vm *VM, o *Object) (*Object, error) {
	s := o.Payload.(string)
	i := 0
	return vm.newIterator(func(vm *VM) (*Object, error) {
		if i >= len(s) {
			return nil, nil
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		ch := s[i : i+size]
		if r == utf8.RuneError && size == 1 {
			ch = string(r)
		}
		i += size
		return vm.NewStr(ch), nil
	}), nil
}

func strJoin(vm *VM, sep string, args Args) (*Object, error) {
	if err := vm.expectArgs("join", args, 1, 1); err != nil {
		return nil, err
	}
	var parts []string
	err := vm.Iterate(args.Pos[0], func(x *Object) (bool, error) {
		s, ok := asStr(x)
		if !ok {
			return false, vm.NewTypeError("sequence item %d: expected str instance, %s found", len(parts), x.typ.Name)
		}
		parts = append(parts, s)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return vm.NewStr(strings.Join(parts, sep)), nil
}

func (vm *VM) strList(parts []string) *Object {
	items := make([]*Object, len(parts))
	for i, p := range parts {
		items[i] = vm.NewStr(p)
	}
	return vm.NewList(items)
}

// splitArgs decodes the (sep=None, maxsplit=-1) parameters of split and
// rsplit. An empty sep means whitespace splitting.
func (vm *VM) splitArgs(name string, args Args) (sep string, whitespace bool, max int, err error) {
	params, err := vm.bindArgs(name, args, []string{"sep", "maxsplit"}, 0)
	if err != nil {
		return "", false, 0, err
	}
	whitespace = params[0] == nil || params[0] == vm.None
	if !whitespace {
		if sep, err = vm.strArg(name, params[0]); err != nil {
			return "", false, 0, err
		}
		if sep == "" {
			return "", false, 0, vm.NewValueError("empty separator")
		}
	}
	max = -1
	if params[1] != nil {
		n, err := vm.Index(params[1])
		if err != nil {
			return "", false, 0, err
		}
		max = int(n)
	}
	return sep, whitespace, max, nil
}

func strSplit(vm *VM, s string, args Args) (*Object, error) {
	sep, ws, max, err := vm.splitArgs("split", args)
	if err != nil {
		return nil, err
	}
	if !ws {
		n := -1
		if max >= 0 {
			n = max + 1
		}
		return vm.strList(strings.SplitN(s, sep, n)), nil
	}
	var parts []string
	rest := strings.TrimLeftFunc(s, unicode.IsSpace)
	for rest != "" {
		if max >= 0 && len(parts) == max {
			parts = append(parts, rest)
			break
		}
		i := strings.IndexFunc(rest, unicode.IsSpace)
		if i < 0 {
			parts = append(parts, rest)
			break
		}
		parts = append(parts, rest[:i])
		rest = strings.TrimLeftFunc(rest[i:], unicode.IsSpace)
	}
	return vm.strList(parts), nil
}

func strRSplit(vm *VM, s string, args Args) (*Object, error) {
	sep, ws, max, err := vm.splitArgs("rsplit", args)
	if err != nil {
		return nil, err
	}
	var parts []string
	if !ws {
		rest := s
		for max < 0 || len(parts) < max {
			i := strings.LastIndex(rest, sep)
			if i < 0 {
				break
			}
			parts = append(parts, rest[i+len(sep):])
			rest = rest[:i]
		}
		parts = append(parts, rest)
	} else {
		rest := strings.TrimRightFunc(s, unicode.IsSpace)
		for rest != "" {
			if max >= 0 && len(parts) == max {
				parts = append(parts, rest)
				break
			}
			i := strings.LastIndexFunc(rest, unicode.IsSpace)
			if i < 0 {
				parts = append(parts, rest)
				break
			}
			_, size := utf8.DecodeRuneInString(rest[i:])
			parts = append(parts, rest[i+size:])
			rest = strings.TrimRightFunc(rest[:i], unicode.IsSpace)
		}
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return vm.strList(parts), nil
}

func strSplitLines(vm *VM, s string, args Args) (*Object, error) {
	params, err := vm.bindArgs("splitlines", args, []string{"keepends"}, 0)
	if err != nil {
		return nil, err
	}
	keep := false
	if params[0] != nil {
		if keep, err = vm.Truthy(params[0]); err != nil {
			return nil, err
		}
	}
	var parts []string
	for s != "" {
		i := strings.IndexAny(s, "\n\r")
		if i < 0 {
			parts = append(parts, s)
			break
		}
		end := i + 1
		if s[i] == '\r' && end < len(s) && s[end] == '\n' {
			end++
		}
		if keep {
			parts = append(parts, s[:end])
		} else {
			parts = append(parts, s[:i])
		}
		s = s[end:]
	}
	return vm.strList(parts), nil
}

func stripper(trim func(string, string) string, trimFunc func(string, func(rune) bool) string) func(vm *VM, s string, args Args) (*Object, error) {
	return func(vm *VM, s string, args Args) (*Object, error) {
		if err := vm.expectArgs("strip", args, 0, 1); err != nil {
			return nil, err
		}
		if len(args.Pos) == 0 || args.Pos[0] == vm.None {
			return vm.NewStr(trimFunc(s, unicode.IsSpace)), nil
		}
		chars, err := vm.strArg("strip", args.Pos[0])
		if err != nil {
			return nil, err
		}
		return vm.NewStr(trim(s, chars)), nil
	}
}

// runeWindow applies the optional start and end arguments of the search
// methods. It returns the searched substring and its offset in runes.
func (vm *VM) runeWindow(s string, args []*Object) (string, int, error) {
	if len(args) == 0 {
		return s, 0, nil
	}
	rs := strRunes(s)
	n := len(rs)
	start, end := 0, n
	bound := func(o *Object, def int) (int, error) {
		if o == vm.None {
			return def, nil
		}
		v, err := vm.Index(o)
		if err != nil {
			return 0, err
		}
		i := int(v)
		if i < 0 {
			i += n
			if i < 0 {
				i = 0
			}
		}
		if i > n {
			i = n
		}
		return i, nil
	}
	var err error
	if start, err = bound(args[0], 0); err != nil {
		return "", 0, err
	}
	if len(args) > 1 {
		if end, err = bound(args[1], n); err != nil {
			return "", 0, err
		}
	}
	if start > end {
		return "", -1, nil
	}
	return string(rs[start:end]), start, nil
}

func affixTest(name string, test func(string, string) bool) func(vm *VM, s string, args Args) (*Object, error) {
	return func(vm *VM, s string, args Args) (*Object, error) {
		if err := vm.expectArgs(name, args, 1, 3); err != nil {
			return nil, err
		}
		window, off, err := vm.runeWindow(s, args.Pos[1:])
		if err != nil {
			return nil, err
		}
		if off < 0 {
			return vm.False, nil
		}
		affixes := []*Object{args.Pos[0]}
		if t, ok := asTuple(args.Pos[0]); ok {
			affixes = t
		}
		for _, a := range affixes {
			p, ok := asStr(a)
			if !ok {
				return nil, vm.NewTypeError("%s first arg must be str or a tuple of str, not %s", name, a.typ.Name)
			}
			if test(window, p) {
				return vm.True, nil
			}
		}
		return vm.False, nil
	}
}

func strFinder(name string, last, raise bool) func(vm *VM, s string, args Args) (*Object, error) {
	return func(vm *VM, s string, args Args) (*Object, error) {
		if err := vm.expectArgs(name, args, 1, 3); err != nil {
			return nil, err
		}
		sub, err := vm.strArg(name, args.Pos[0])
		if err != nil {
			return nil, err
		}
		window, off, err := vm.runeWindow(s, args.Pos[1:])
		if err != nil {
			return nil, err
		}
		i := -1
		if off >= 0 {
			if last {
				i = strings.LastIndex(window, sub)
			} else {
				i = strings.Index(window, sub)
			}
		}
		if i < 0 {
			if raise {
				return nil, vm.NewValueError("substring not found")
			}
			return vm.NewInt(-1), nil
		}
		return vm.NewInt(int64(off + utf8.RuneCountInString(window[:i]))), nil
	}
}

func strCount(vm *VM, s string, args Args) (*Object, error) {
	if err := vm.expectArgs("count", args, 1, 3); err != nil {
		return nil, err
	}
	sub, err := vm.strArg("count", args.Pos[0])
	if err != nil {
		return nil, err
	}
	window, off, err := vm.runeWindow(s, args.Pos[1:])
	if err != nil {
		return nil, err
	}
	if off < 0 {
		return vm.NewInt(0), nil
	}
	return vm.NewInt(int64(strings.Count(window, sub))), nil
}

func strReplace(vm *VM, s string, args Args) (*Object, error) {
	if err := vm.expectArgs("replace", args, 2, 3); err != nil {
		return nil, err
	}
	old, err := vm.strArg("replace", args.Pos[0])
	if err != nil {
		return nil, err
	}
	repl, err := vm.strArg("replace", args.Pos[1])
	if err != nil {
		return nil, err
	}
	n := int64(-1)
	if len(args.Pos) == 3 {
		if n, err = vm.Index(args.Pos[2]); err != nil {
			return nil, err
		}
	}
	return vm.NewStr(strings.Replace(s, old, repl, int(n))), nil
}

func strMap(name string, fn func(string) string) func(vm *VM, s string, args Args) (*Object, error) {
	return func(vm *VM, s string, args Args) (*Object, error) {
		if err := vm.expectArgs(name, args, 0, 0); err != nil {
			return nil, err
		}
		return vm.NewStr(fn(s)), nil
	}
}

func swapCase(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsUpper(r):
			return unicode.ToLower(r)
		case unicode.IsLower(r):
			return unicode.ToUpper(r)
		}
		return r
	}, s)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToTitle(r)) + strings.ToLower(s[size:])
}

func titleCase(s string) string {
	prevCased := false
	return strings.Map(func(r rune) rune {
		out := unicode.ToTitle(r)
		if prevCased {
			out = unicode.ToLower(r)
		}
		prevCased = unicode.IsUpper(r) || unicode.IsLower(r) || unicode.IsTitle(r)
		return out
	}, s)
}

func strPredicate(pred func(rune) bool) func(vm *VM, s string, args Args) (*Object, error) {
	return func(vm *VM, s string, args Args) (*Object, error) {
		if s == "" {
			return vm.False, nil
		}
		for _, r := range s {
			if !pred(r) {
				return vm.False, nil
			}
		}
		return vm.True, nil
	}
}

// strCased implements isupper and islower: at least one cased character
// and none of the opposite case.
func strCased(want, reject func(rune) bool) func(vm *VM, s string, args Args) (*Object, error) {
	return func(vm *VM, s string, args Args) (*Object, error) {
		seen := false
		for _, r := range s {
			if reject(r) || unicode.IsTitle(r) {
				return vm.False, nil
			}
			if want(r) {
				seen = true
			}
		}
		return vm.NewBool(seen), nil
	}
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && (unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Pc, r)) {
			continue
		}
		return false
	}
	return true
}

func strPad(name string) func(vm *VM, s string, args Args) (*Object, error) {
	return func(vm *VM, s string, args Args) (*Object, error) {
		if err := vm.expectArgs(name, args, 1, 2); err != nil {
			return nil, err
		}
		width, err := vm.Index(args.Pos[0])
		if err != nil {
			return nil, err
		}
		fill := " "
		if len(args.Pos) == 2 {
			f, ok := asStr(args.Pos[1])
			if !ok || utf8.RuneCountInString(f) != 1 {
				return nil, vm.NewTypeError("The fill character must be exactly one character long")
			}
			fill = f
		}
		n := utf8.RuneCountInString(s)
		pad := int(width) - n
		if pad <= 0 {
			return vm.NewStr(s), nil
		}
		switch name {
		case "ljust":
			return vm.NewStr(s + strings.Repeat(fill, pad)), nil
		case "rjust":
			return vm.NewStr(strings.Repeat(fill, pad) + s), nil
		}
		left := pad / 2
		if pad%2 == 1 && n%2 == 1 {
			left++
		}
		return vm.NewStr(strings.Repeat(fill, left) + s + strings.Repeat(fill, pad-left)), nil
	}
}

func strZfill(vm *VM, s string, args Args) (*Object, error) {
	if err := vm.expectArgs("zfill", args, 1, 1); err != nil {
		return nil, err
	}
	width, err := vm.Index(args.Pos[0])
	if err != nil {
		return nil, err
	}
	pad := int(width) - utf8.RuneCountInString(s)
	if pad <= 0 {
		return vm.NewStr(s), nil
	}
	sign := ""
	if s != "" && (s[0] == '+' || s[0] == '-') {
		sign, s = s[:1], s[1:]
	}
	return vm.NewStr(sign + strings.Repeat("0", pad) + s), nil
}

func strPartition(last bool) func(vm *VM, s string, args Args) (*Object, error) {
	return func(vm *VM, s string, args Args) (*Object, error) {
		if err := vm.expectArgs("partition", args, 1, 1); err != nil {
			return nil, err
		}
		sep, err := vm.strArg("partition", args.Pos[0])
		if err != nil {
			return nil, err
		}
		if sep == "" {
			return nil, vm.NewValueError("empty separator")
		}
		var i int
		if last {
			i = strings.LastIndex(s, sep)
		} else {
			i = strings.Index(s, sep)
		}
		if i < 0 {
			if last {
				return vm.NewTuple([]*Object{vm.EmptyStr, vm.EmptyStr, vm.NewStr(s)}), nil
			}
			return vm.NewTuple([]*Object{vm.NewStr(s), vm.EmptyStr, vm.EmptyStr}), nil
		}
		return vm.NewTuple([]*Object{vm.NewStr(s[:i]), vm.NewStr(sep), vm.NewStr(s[i+len(sep):])}), nil
	}
}

func strExpandTabs(vm *VM, s string, args Args) (*Object, error) {
	params, err := vm.bindArgs("expandtabs", args, []string{"tabsize"}, 0)
	if err != nil {
		return nil, err
	}
	size := int64(8)
	if params[0] != nil {
		if size, err = vm.Index(params[0]); err != nil {
			return nil, err
		}
	}
	var b strings.Builder
	col := 0
	for _, r := range s {
		switch r {
		case '\t':
			if size > 0 {
				n := int(size) - col%int(size)
				b.WriteString(strings.Repeat(" ", n))
				col += n
			}
		case '\n', '\r':
			b.WriteRune(r)
			col = 0
		default:
			b.WriteRune(r)
			col++
		}
	}
	return vm.NewStr(b.String()), nil
}

func strEncode(vm *VM, s string, args Args) (*Object, error) {
	params, err := vm.bindArgs("encode", args, []string{"encoding", "errors"}, 0)
	if err != nil {
		return nil, err
	}
	enc := "utf-8"
	if params[0] != nil {
		if enc, err = vm.strArg("encode", params[0]); err != nil {
			return nil, err
		}
	}
	b, err := vm.encode(s, enc)
	if err != nil {
		return nil, err
	}
	return vm.NewBytes(b), nil
}

func normalizeEncoding(enc string) string {
	return strings.ReplaceAll(strings.ToLower(enc), "_", "-")
}

func (vm *VM) encode(s, enc string) ([]byte, error) {
	switch normalizeEncoding(enc) {
	case "utf-8", "utf8":
		return []byte(s), nil
	case "ascii", "us-ascii", "latin-1", "latin1", "iso-8859-1":
		limit := rune(0x7f)
		if !strings.Contains(enc, "ascii") {
			limit = 0xff
		}
		out := make([]byte, 0, len(s))
		for i, r := range s {
			if r > limit {
				return nil, vm.newError(vm.Exceptions.UnicodeError,
					"'%s' codec can't encode character '\\u%04x' in position %d: ordinal not in range(%d)", enc, r, i, limit+1)
			}
			out = append(out, byte(r))
		}
		return out, nil
	}
	return nil, vm.newError(vm.Exceptions.LookupError, "unknown encoding: %s", enc)
}

func (vm *VM) decode(b []byte, enc string) (string, error) {
	switch normalizeEncoding(enc) {
	case "utf-8", "utf8":
		if !utf8.Valid(b) {
			return "", vm.newError(vm.Exceptions.UnicodeError, "'utf-8' codec can't decode bytes: invalid utf-8")
		}
		return string(b), nil
	case "ascii", "us-ascii":
		for i, c := range b {
			if c > 0x7f {
				return "", vm.newError(vm.Exceptions.UnicodeError,
					"'ascii' codec can't decode byte 0x%02x in position %d: ordinal not in range(128)", c, i)
			}
		}
		return string(b), nil
	case "latin-1", "latin1", "iso-8859-1":
		rs := make([]rune, len(b))
		for i, c := range b {
			rs[i] = rune(c)
		}
		return string(rs), nil
	}
	return "", vm.newError(vm.Exceptions.LookupError, "unknown encoding: %s", enc)
}

// ---------------------------------------------------------------------------
// bytes
// ---------------------------------------------------------------------------

func (c *Context) initBytes() {
	b := c.BytesType
	b.Doc = "bytes(iterable_of_ints) -> bytes\nbytes(string, encoding) -> bytes"
	b.Slots = TypeSlots{
		Hash: func(vm *VM, o *Object) (int64, error) {
			return hashBytes(vm.hashSeed, o.Payload.([]byte)), nil
		},
		RichCompare: bytesRichCompare,
		New:         bytesNew,
		Repr:        func(vm *VM, o *Object) (string, error) { return quoteBytes(o.Payload.([]byte)), nil },
		Iter: func(vm *VM, o *Object) (*Object, error) {
			data := o.Payload.([]byte)
			i := 0
			return vm.newIterator(func(vm *VM) (*Object, error) {
				if i >= len(data) {
					return nil, nil
				}
				i++
				return vm.NewInt(int64(data[i-1])), nil
			}), nil
		},
		Number: &NumberSlots{
			Binary: bytesBinary,
		},
		Mapping: &MappingSlots{
			Len:     func(vm *VM, o *Object) (int, error) { return len(o.Payload.([]byte)), nil },
			GetItem: bytesGetItem,
		},
		Sequence: &SequenceSlots{
			Contains: bytesContains,
		},
		Buffer: func(vm *VM, o *Object) ([]byte, error) { return o.Payload.([]byte), nil },
	}
	c.addMethods(b, []methodDef{
		{name: "decode", fn: bytesMethod(bytesDecode)},
		{name: "hex", fn: bytesMethod(func(vm *VM, data []byte, args Args) (*Object, error) {
			return vm.NewStr(hex.EncodeToString(data)), nil
		})},
		{name: "join", fn: bytesMethod(bytesJoin)},
		{name: "startswith", fn: bytesMethod(bytesAffix("startswith", bytes.HasPrefix))},
		{name: "endswith", fn: bytesMethod(bytesAffix("endswith", bytes.HasSuffix))},
		{name: "find", fn: bytesMethod(bytesFind)},
		{name: "count", fn: bytesMethod(func(vm *VM, data []byte, args Args) (*Object, error) {
			if err := vm.expectArgs("count", args, 1, 1); err != nil {
				return nil, err
			}
			sub, err := vm.bytesLike(args.Pos[0])
			if err != nil {
				return nil, err
			}
			return vm.NewInt(int64(bytes.Count(data, sub))), nil
		})},
		{name: "replace", fn: bytesMethod(func(vm *VM, data []byte, args Args) (*Object, error) {
			if err := vm.expectArgs("replace", args, 2, 2); err != nil {
				return nil, err
			}
			old, err := vm.bytesLike(args.Pos[0])
			if err != nil {
				return nil, err
			}
			repl, err := vm.bytesLike(args.Pos[1])
			if err != nil {
				return nil, err
			}
			return vm.NewBytes(bytes.ReplaceAll(data, old, repl)), nil
		})},
		{name: "split", fn: bytesMethod(bytesSplit)},
		{name: "strip", fn: bytesMethod(func(vm *VM, data []byte, args Args) (*Object, error) {
			if len(args.Pos) > 0 && args.Pos[0] != vm.None {
				chars, err := vm.bytesLike(args.Pos[0])
				if err != nil {
					return nil, err
				}
				return vm.NewBytes(bytes.Trim(data, string(chars))), nil
			}
			return vm.NewBytes(bytes.TrimSpace(data)), nil
		})},
		{name: "upper", fn: bytesMethod(func(vm *VM, data []byte, args Args) (*Object, error) {
			return vm.NewBytes(bytes.ToUpper(data)), nil
		})},
		{name: "lower", fn: bytesMethod(func(vm *VM, data []byte, args Args) (*Object, error) {
			return vm.NewBytes(bytes.ToLower(data)), nil
		})},
		{name: "fromhex", kind: classMethod, fn: func(vm *VM, args Args) (*Object, error) {
			if err := vm.expectArgs("fromhex", args, 2, 2); err != nil {
				return nil, err
			}
			s, err := vm.strArg("fromhex", args.Pos[1])
			if err != nil {
				return nil, err
			}
			data, herr := hex.DecodeString(strings.ReplaceAll(s, " ", ""))
			if herr != nil {
				return nil, vm.NewValueError("non-hexadecimal number found in fromhex() arg")
			}
			return vm.NewBytes(data), nil
		}},
	})
}

func bytesMethod(fn func(vm *VM, data []byte, args Args) (*Object, error)) BuiltinFn {
	return func(vm *VM, args Args) (*Object, error) {
		data, err := receiver[[]byte](vm, args, "bytes")
		if err != nil {
			return nil, err
		}
		return fn(vm, data, Args{Pos: args.Pos[1:], Kw: args.Kw})
	}
}

// bytesLike returns the buffer of o, raising TypeError for objects without
// one.
func (vm *VM) bytesLike(o *Object) ([]byte, error) {
	if s := o.typ.mroFindSlot(hasBuffer); s != nil {
		return s.Buffer(vm, o)
	}
	return nil, vm.NewTypeError("a bytes-like object is required, not '%s'", o.typ.Name)
}

func quoteBytes(data []byte) string {
	quote := byte('\'')
	if bytes.IndexByte(data, '\'') >= 0 && bytes.IndexByte(data, '"') < 0 {
		quote = '"'
	}
	var b strings.Builder
	b.WriteString("b")
	b.WriteByte(quote)
	for _, c := range data {
		switch {
		case c == quote || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\t':
			b.WriteString(`\t`)
		case c < 0x20 || c >= 0x7f:
			b.WriteString(`\x`)
			b.WriteString(hex2(c))
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte(quote)
	return b.String()
}

func bytesRichCompare(vm *VM, a, b *Object, op bytecode.ComparisonOperator) (*Object, error) {
	x, ok1 := asBytes(a)
	y, ok2 := asBytes(b)
	if !ok1 || !ok2 {
		return vm.NotImplemented, nil
	}
	return vm.NewBool(cmpResult(bytes.Compare(x, y), op)), nil
}

func bytesNew(vm *VM, cls *Type, args Args) (*Object, error) {
	params, err := vm.bindArgs("bytes", args, []string{"source", "encoding", "errors"}, 0)
	if err != nil {
		return nil, err
	}
	var data []byte
	switch src := params[0]; {
	case src == nil:
		data = []byte{}
	case params[1] != nil:
		s, ok := asStr(src)
		if !ok {
			return nil, vm.NewTypeError("encoding without a string argument")
		}
		enc, err := vm.strArg("bytes", params[1])
		if err != nil {
			return nil, err
		}
		if data, err = vm.encode(s, enc); err != nil {
			return nil, err
		}
	default:
		if _, ok := asStr(src); ok {
			return nil, vm.NewTypeError("string argument without an encoding")
		}
		if n, ok := asInt(src); ok {
			if n < 0 {
				return nil, vm.NewValueError("negative count")
			}
			data = make([]byte, n)
			break
		}
		if buf, ok := asBytes(src); ok {
			data = append([]byte{}, buf...)
			break
		}
		err := vm.Iterate(src, func(x *Object) (bool, error) {
			v, err := vm.Index(x)
			if err != nil {
				return false, err
			}
			if v < 0 || v > 255 {
				return false, vm.NewValueError("bytes must be in range(0, 256)")
			}
			data = append(data, byte(v))
			return true, nil
		})
		if err != nil {
			return nil, err
		}
		if data == nil {
			data = []byte{}
		}
	}
	if cls == vm.BytesType {
		return vm.NewBytes(data), nil
	}
	return vm.newObject(cls, data), nil
}

func bytesBinary(vm *VM, self, other *Object, op bytecode.BinaryOperator, reflected bool) (*Object, error) {
	data := self.Payload.([]byte)
	switch op {
	case bytecode.OpAdd:
		o, ok := asBytes(other)
		if !ok {
			if reflected {
				return vm.NotImplemented, nil
			}
			return nil, vm.NewTypeError("can't concat %s to bytes", other.typ.Name)
		}
		if reflected {
			data, o = o, data
		}
		out := make([]byte, 0, len(data)+len(o))
		return vm.NewBytes(append(append(out, data...), o...)), nil
	case bytecode.OpMultiply:
		n, ok := repeatCount(vm, other)
		if !ok {
			return vm.NotImplemented, nil
		}
		if n <= 0 {
			return vm.NewBytes([]byte{}), nil
		}
		return vm.NewBytes(bytes.Repeat(data, int(n))), nil
	}
	return vm.NotImplemented, nil
}

func bytesGetItem(vm *VM, o, key *Object) (*Object, error) {
	data := o.Payload.([]byte)
	if sl, ok := key.Payload.(*Slice); ok {
		start, stop, step, n, err := vm.sliceIndices(sl, len(data))
		if err != nil {
			return nil, err
		}
		if step == 1 {
			return vm.NewBytes(append([]byte{}, data[start:stop]...)), nil
		}
		out := make([]byte, 0, n)
		for i, j := 0, start; i < n; i, j = i+1, j+step {
			out = append(out, data[j])
		}
		return vm.NewBytes(out), nil
	}
	i, err := vm.seqIndex(key, len(data), "byte")
	if err != nil {
		return nil, err
	}
	return vm.NewInt(int64(data[i])), nil
}

func bytesContains(vm *VM, o, item *Object) (bool, error) {
	data := o.Payload.([]byte)
	if v, ok := asInt(item); ok {
		if v < 0 || v > 255 {
			return false, vm.NewValueError("byte must be in range(0, 256)")
		}
		return bytes.IndexByte(data, byte(v)) >= 0, nil
	}
	sub, err := vm.bytesLike(item)
	if err != nil {
		return false, err
	}
	return bytes.Contains(data, sub), nil
}

func bytesDecode(vm *VM, data []byte, args Args) (*Object, error) {
	params, err := vm.bindArgs("decode", args, []string{"encoding", "errors"}, 0)
	if err != nil {
		return nil, err
	}
	enc := "utf-8"
	if params[0] != nil {
		if enc, err = vm.strArg("decode", params[0]); err != nil {
			return nil, err
		}
	}
	s, err := vm.decode(data, enc)
	if err != nil {
		return nil, err
	}
	return vm.NewStr(s), nil
}

func bytesJoin(vm *VM, sep []byte, args Args) (*Object, error) {
	if err := vm.expectArgs("join", args, 1, 1); err != nil {
		return nil, err
	}
	var parts [][]byte
	err := vm.Iterate(args.Pos[0], func(x *Object) (bool, error) {
		b, ok := asBytes(x)
		if !ok {
			return false, vm.NewTypeError("sequence item %d: expected a bytes-like object, %s found", len(parts), x.typ.Name)
		}
		parts = append(parts, b)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return vm.NewBytes(bytes.Join(parts, sep)), nil
}

func bytesAffix(name string, test func([]byte, []byte) bool) func(vm *VM, data []byte, args Args) (*Object, error) {
	return func(vm *VM, data []byte, args Args) (*Object, error) {
		if err := vm.expectArgs(name, args, 1, 1); err != nil {
			return nil, err
		}
		affixes := []*Object{args.Pos[0]}
		if t, ok := asTuple(args.Pos[0]); ok {
			affixes = t
		}
		for _, a := range affixes {
			p, err := vm.bytesLike(a)
			if err != nil {
				return nil, err
			}
			if test(data, p) {
				return vm.True, nil
			}
		}
		return vm.False, nil
	}
}

func bytesFind(vm *VM, data []byte, args Args) (*Object, error) {
	if err := vm.expectArgs("find", args, 1, 1); err != nil {
		return nil, err
	}
	if v, ok := asInt(args.Pos[0]); ok {
		return vm.NewInt(int64(bytes.IndexByte(data, byte(v)))), nil
	}
	sub, err := vm.bytesLike(args.Pos[0])
	if err != nil {
		return nil, err
	}
	return vm.NewInt(int64(bytes.Index(data, sub))), nil
}

func bytesSplit(vm *VM, data []byte, args Args) (*Object, error) {
	if err := vm.expectArgs("split", args, 0, 1); err != nil {
		return nil, err
	}
	var parts [][]byte
	if len(args.Pos) == 0 || args.Pos[0] == vm.None {
		parts = bytes.Fields(data)
	} else {
		sep, err := vm.bytesLike(args.Pos[0])
		if err != nil {
			return nil, err
		}
		if len(sep) == 0 {
			return nil, vm.NewValueError("empty separator")
		}
		parts = bytes.Split(data, sep)
	}
	items := make([]*Object, len(parts))
	for i, p := range parts {
		items[i] = vm.NewBytes(append([]byte{}, p...))
	}
	return vm.NewList(items), nil
}
