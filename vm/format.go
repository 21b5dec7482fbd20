package vm

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Number and string rendering
// ---------------------------------------------------------------------------

// formatFloatRepr renders f the way repr() does: the shortest string that
// reads back to the same value, in positional notation for exponents
// from -4 up to 15.
func formatFloatRepr(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	e := strconv.FormatFloat(f, 'e', -1, 64)
	exp, _ := strconv.Atoi(e[strings.IndexByte(e, 'e')+1:])
	if exp < -4 || exp >= 16 {
		return e
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}

// asciiEscape replaces the non-ASCII characters of a repr with escapes.
func asciiEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r < 0x80:
			b.WriteRune(r)
		case r <= 0xff:
			b.WriteString(`\x` + hex2(byte(r)))
		case r <= 0xffff:
			b.WriteString(`\u` + leftPad(strconv.FormatInt(int64(r), 16), 4, '0'))
		default:
			b.WriteString(`\U` + leftPad(strconv.FormatInt(int64(r), 16), 8, '0'))
		}
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Format specifications
// ---------------------------------------------------------------------------

// formatSpec is a parsed [[fill]align][sign][#][0][width][,|_][.precision][type].
type formatSpec struct {
	fill      rune
	align     byte
	sign      byte
	alternate bool
	width     int
	grouping  byte
	precision int
	typ       byte
}

func isAlign(r rune) bool {
	return r == '<' || r == '>' || r == '=' || r == '^'
}

func (vm *VM) parseFormatSpec(spec string) (formatSpec, error) {
	fs := formatSpec{fill: ' ', precision: -1}
	r := []rune(spec)
	i := 0
	fillSet := false
	switch {
	case len(r) >= 2 && isAlign(r[1]):
		fs.fill, fs.align = r[0], byte(r[1])
		fillSet = true
		i = 2
	case len(r) >= 1 && isAlign(r[0]):
		fs.align = byte(r[0])
		i = 1
	}
	if i < len(r) && (r[i] == '+' || r[i] == '-' || r[i] == ' ') {
		fs.sign = byte(r[i])
		i++
	}
	if i < len(r) && r[i] == '#' {
		fs.alternate = true
		i++
	}
	if !fillSet && i < len(r) && r[i] == '0' {
		fs.fill = '0'
		if fs.align == 0 {
			fs.align = '='
		}
		i++
	}
	start := i
	for i < len(r) && r[i] >= '0' && r[i] <= '9' {
		i++
	}
	if i > start {
		w, err := strconv.Atoi(string(r[start:i]))
		if err != nil {
			return fs, vm.NewValueError("Too many decimal digits in format string")
		}
		fs.width = w
	}
	if i < len(r) && (r[i] == ',' || r[i] == '_') {
		fs.grouping = byte(r[i])
		i++
		if i < len(r) && (r[i] == ',' || r[i] == '_') {
			return fs, vm.NewValueError("Cannot specify both ',' and '_'.")
		}
	}
	if i < len(r) && r[i] == '.' {
		i++
		start = i
		for i < len(r) && r[i] >= '0' && r[i] <= '9' {
			i++
		}
		if i == start {
			return fs, vm.NewValueError("Format specifier missing precision")
		}
		p, err := strconv.Atoi(string(r[start:i]))
		if err != nil {
			return fs, vm.NewValueError("Too many decimal digits in format string")
		}
		fs.precision = p
	}
	switch len(r) - i {
	case 0:
	case 1:
		if r[i] >= utf8.RuneSelf {
			return fs, vm.NewValueError("Invalid format specifier")
		}
		fs.typ = byte(r[i])
	default:
		return fs, vm.NewValueError("Invalid format specifier")
	}
	return fs, nil
}

// pad lays out prefix and body in the field width. Alignment '=' puts the
// fill between them.
func (fs *formatSpec) pad(prefix, body string, defaultAlign byte) string {
	n := utf8.RuneCountInString(prefix) + utf8.RuneCountInString(body)
	if n >= fs.width {
		return prefix + body
	}
	align := fs.align
	if align == 0 {
		align = defaultAlign
	}
	fill := string(fs.fill)
	gap := fs.width - n
	switch align {
	case '<':
		return prefix + body + strings.Repeat(fill, gap)
	case '=':
		return prefix + strings.Repeat(fill, gap) + body
	case '^':
		left := gap / 2
		return strings.Repeat(fill, left) + prefix + body + strings.Repeat(fill, gap-left)
	}
	return strings.Repeat(fill, gap) + prefix + body
}

// signPrefix is the sign shown for a value with the given flag.
func signPrefix(neg bool, flag byte) string {
	switch {
	case neg:
		return "-"
	case flag == '+':
		return "+"
	case flag == ' ':
		return " "
	}
	return ""
}

// group inserts sep between every n digits from the right.
func group(digits string, sep byte, n int) string {
	if len(digits) <= n {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % n
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += n {
		if b.Len() > 0 {
			b.WriteByte(sep)
		}
		b.WriteString(digits[i : i+n])
	}
	return b.String()
}

// formatInt implements int.__format__.
func (vm *VM) formatInt(v int64, spec string) (string, error) {
	fs, err := vm.parseFormatSpec(spec)
	if err != nil {
		return "", err
	}
	switch fs.typ {
	case 'e', 'E', 'f', 'F', 'g', 'G', '%':
		return vm.formatFloatSpec(float64(v), fs)
	case 0:
		fs.typ = 'd'
	}
	if fs.precision >= 0 {
		return "", vm.NewValueError("Precision not allowed in integer format specifier")
	}
	mag := uint64(v)
	if v < 0 {
		mag = uint64(-v)
	}
	var body, prefix string
	every := 4
	switch fs.typ {
	case 'd', 'n':
		body = strconv.FormatUint(mag, 10)
		every = 3
	case 'b':
		body, prefix = strconv.FormatUint(mag, 2), "0b"
	case 'o':
		body, prefix = strconv.FormatUint(mag, 8), "0o"
	case 'x':
		body, prefix = strconv.FormatUint(mag, 16), "0x"
	case 'X':
		body, prefix = strings.ToUpper(strconv.FormatUint(mag, 16)), "0X"
	case 'c':
		if fs.sign != 0 {
			return "", vm.NewValueError("Sign not allowed with integer format specifier 'c'")
		}
		if fs.alternate {
			return "", vm.NewValueError("Alternate form (#) not allowed with integer format specifier 'c'")
		}
		if v < 0 || v > utf8.MaxRune {
			return "", vm.NewOverflowError("%%c arg not in range(0x110000)")
		}
		return fs.pad("", string(rune(v)), '<'), nil
	default:
		return "", vm.NewValueError("Unknown format code '%c' for object of type 'int'", fs.typ)
	}
	if fs.grouping != 0 {
		if fs.grouping == ',' && fs.typ != 'd' {
			return "", vm.NewValueError("Cannot specify ',' with '%c'.", fs.typ)
		}
		body = group(body, fs.grouping, every)
	}
	if !fs.alternate {
		prefix = ""
	}
	return fs.pad(signPrefix(v < 0, fs.sign)+prefix, body, '>'), nil
}

// formatFloat implements float.__format__.
func (vm *VM) formatFloat(f float64, spec string) (string, error) {
	fs, err := vm.parseFormatSpec(spec)
	if err != nil {
		return "", err
	}
	return vm.formatFloatSpec(f, fs)
}

func (vm *VM) formatFloatSpec(f float64, fs formatSpec) (string, error) {
	neg := math.Signbit(f) && !math.IsNaN(f)
	a := math.Abs(f)
	prec := fs.precision
	suffix := ""
	var body string
	switch fs.typ {
	case 0:
		if prec < 0 {
			body = formatFloatRepr(a)
			break
		}
		body = strconv.FormatFloat(a, 'g', max(prec, 1), 64)
		if !strings.ContainsAny(body, ".e") && !math.IsInf(a, 0) && !math.IsNaN(a) {
			body += ".0"
		}
	case 'e', 'E':
		body = strconv.FormatFloat(a, 'e', defaultPrecision(prec), 64)
	case 'f', 'F':
		body = strconv.FormatFloat(a, 'f', defaultPrecision(prec), 64)
	case 'g', 'G', 'n':
		body = strconv.FormatFloat(a, 'g', max(defaultPrecision(prec), 1), 64)
	case '%':
		body = strconv.FormatFloat(a*100, 'f', defaultPrecision(prec), 64)
		suffix = "%"
	default:
		return "", vm.NewValueError("Unknown format code '%c' for object of type 'float'", fs.typ)
	}
	switch {
	case math.IsNaN(a):
		body = "nan"
	case math.IsInf(a, 0):
		body = "inf"
	}
	if fs.typ == 'E' || fs.typ == 'F' || fs.typ == 'G' {
		body = strings.ToUpper(body)
	}
	if fs.grouping != 0 && fs.typ != 'n' {
		intEnd := strings.IndexAny(body, ".eE")
		if intEnd < 0 {
			intEnd = len(body)
		}
		if intEnd > 0 && body[0] >= '0' && body[0] <= '9' {
			body = group(body[:intEnd], fs.grouping, 3) + body[intEnd:]
		}
	}
	return fs.pad(signPrefix(neg, fs.sign), body+suffix, '>'), nil
}

func defaultPrecision(p int) int {
	if p < 0 {
		return 6
	}
	return p
}

// formatStr implements str.__format__.
func (vm *VM) formatStr(s, spec string) (string, error) {
	fs, err := vm.parseFormatSpec(spec)
	if err != nil {
		return "", err
	}
	switch {
	case fs.typ != 0 && fs.typ != 's':
		return "", vm.NewValueError("Unknown format code '%c' for object of type 'str'", fs.typ)
	case fs.sign != 0:
		return "", vm.NewValueError("Sign not allowed in string format specifier")
	case fs.alternate:
		return "", vm.NewValueError("Alternate form (#) not allowed in string format specifier")
	case fs.align == '=':
		return "", vm.NewValueError("'=' alignment not allowed in string format specifier")
	case fs.grouping != 0:
		return "", vm.NewValueError("Cannot specify '%c' with 's'.", fs.grouping)
	}
	if fs.precision >= 0 && utf8.RuneCountInString(s) > fs.precision {
		s = string([]rune(s)[:fs.precision])
	}
	return fs.pad("", s, '<'), nil
}

// ---------------------------------------------------------------------------
// str.format
// ---------------------------------------------------------------------------

type fieldNumbering uint8

const (
	numberingUnset fieldNumbering = iota
	numberingAuto
	numberingManual
)

// formatter expands the replacement fields of str.format and
// str.format_map. mapping is set for format_map.
type formatter struct {
	vm        *VM
	args      Args
	mapping   *Object
	next      int
	numbering fieldNumbering
}

func (vm *VM) strFormat(s string, args Args) (string, error) {
	fm := &formatter{vm: vm, args: args}
	return fm.expand(s, 2)
}

func (vm *VM) strFormatMap(s string, mapping *Object) (string, error) {
	fm := &formatter{vm: vm, mapping: mapping}
	return fm.expand(s, 2)
}

func (fm *formatter) expand(s string, depth int) (string, error) {
	vm := fm.vm
	if depth < 0 {
		return "", vm.NewValueError("Max string recursion exceeded")
	}
	var b strings.Builder
	for i := 0; i < len(s); {
		switch c := s[i]; c {
		case '{':
			if i+1 < len(s) && s[i+1] == '{' {
				b.WriteByte('{')
				i += 2
				continue
			}
			if i+1 == len(s) {
				return "", vm.NewValueError("Single '{' encountered in format string")
			}
			end := matchingBrace(s, i)
			if end < 0 {
				return "", vm.NewValueError("expected '}' before end of string")
			}
			out, err := fm.field(s[i+1:end], depth)
			if err != nil {
				return "", err
			}
			b.WriteString(out)
			i = end + 1
		case '}':
			if i+1 < len(s) && s[i+1] == '}' {
				b.WriteByte('}')
				i += 2
				continue
			}
			return "", vm.NewValueError("Single '}' encountered in format string")
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}

// matchingBrace returns the index of the '}' closing the field opened at
// start, or -1.
func matchingBrace(s string, start int) int {
	level := 0
	inKey := false
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '[':
			inKey = level == 1
		case ']':
			inKey = false
		case '{':
			if !inKey {
				level++
			}
		case '}':
			if !inKey {
				level--
				if level == 0 {
					return i
				}
			}
		}
	}
	return -1
}

func (fm *formatter) field(field string, depth int) (string, error) {
	vm := fm.vm
	nameEnd := len(field)
	inKey := false
scan:
	for i := 0; i < len(field); i++ {
		switch field[i] {
		case '[':
			inKey = true
		case ']':
			inKey = false
		case '!', ':':
			if !inKey {
				nameEnd = i
				break scan
			}
		}
	}
	name, rest := field[:nameEnd], field[nameEnd:]
	var conv byte
	if strings.HasPrefix(rest, "!") {
		if len(rest) < 2 {
			return "", vm.NewValueError("end of string while looking for conversion specifier")
		}
		conv = rest[1]
		rest = rest[2:]
		if rest != "" && rest[0] != ':' {
			return "", vm.NewValueError("expected ':' after conversion specifier")
		}
	}
	spec := strings.TrimPrefix(rest, ":")
	if strings.ContainsAny(spec, "{}") {
		var err error
		if spec, err = fm.expand(spec, depth-1); err != nil {
			return "", err
		}
	}

	obj, err := fm.resolve(name)
	if err != nil {
		return "", err
	}
	switch conv {
	case 0:
	case 'r', 'a':
		r, err := vm.Repr(obj)
		if err != nil {
			return "", err
		}
		if conv == 'a' {
			r = asciiEscape(r)
		}
		obj = vm.NewStr(r)
	case 's':
		if obj, err = vm.StrObject(obj); err != nil {
			return "", err
		}
	default:
		return "", vm.NewValueError("Unknown conversion specifier %c", conv)
	}
	res, err := vm.Format(obj, spec)
	if err != nil {
		return "", err
	}
	return res.Payload.(string), nil
}

// resolve evaluates a field name: an argument index or keyword followed by
// .attribute and [key] accessors.
func (fm *formatter) resolve(name string) (*Object, error) {
	vm := fm.vm
	first := strings.IndexAny(name, ".[")
	if first < 0 {
		first = len(name)
	}
	head, tail := name[:first], name[first:]

	var obj *Object
	index, numErr := strconv.Atoi(head)
	switch {
	case head == "" || numErr == nil:
		if head == "" {
			if fm.numbering == numberingManual {
				return nil, vm.NewValueError("cannot switch from manual field specification to automatic field numbering")
			}
			fm.numbering = numberingAuto
			index = fm.next
			fm.next++
		} else {
			if fm.numbering == numberingAuto {
				return nil, vm.NewValueError("cannot switch from automatic field numbering to manual field specification")
			}
			fm.numbering = numberingManual
		}
		if fm.mapping != nil {
			return nil, vm.NewValueError("Format string contains positional fields")
		}
		if index >= len(fm.args.Pos) {
			return nil, vm.NewIndexError("Replacement index %d out of range for positional args tuple", index)
		}
		obj = fm.args.Pos[index]
	case fm.mapping != nil:
		v, err := vm.GetItem(fm.mapping, vm.NewStr(head))
		if err != nil {
			return nil, err
		}
		obj = v
	default:
		obj = fm.args.Kwarg(head)
		if obj == nil {
			return nil, vm.NewKeyError(vm.NewStr(head))
		}
	}

	for tail != "" {
		switch tail[0] {
		case '.':
			end := strings.IndexAny(tail[1:], ".[")
			if end < 0 {
				end = len(tail) - 1
			}
			attr := tail[1 : end+1]
			if attr == "" {
				return nil, vm.NewValueError("Empty attribute in format string")
			}
			v, err := vm.GetAttr(obj, attr)
			if err != nil {
				return nil, err
			}
			obj, tail = v, tail[end+1:]
		case '[':
			end := strings.IndexByte(tail, ']')
			if end < 0 {
				return nil, vm.NewValueError("Missing ']' in format string")
			}
			keyText := tail[1:end]
			if keyText == "" {
				return nil, vm.NewValueError("Empty attribute in format string")
			}
			key := vm.NewStr(keyText)
			if n, err := strconv.Atoi(keyText); err == nil {
				key = vm.NewInt(int64(n))
			}
			v, err := vm.GetItem(obj, key)
			if err != nil {
				return nil, err
			}
			obj, tail = v, tail[end+1:]
			if tail != "" && tail[0] != '.' && tail[0] != '[' {
				return nil, vm.NewValueError("Only '.' or '[' may follow ']' in format field specifier")
			}
		default:
			return nil, vm.NewValueError("Only '.' or '[' may follow ']' in format field specifier")
		}
	}
	return obj, nil
}

// ---------------------------------------------------------------------------
// printf-style formatting
// ---------------------------------------------------------------------------

// percentFormat implements str % values.
func (vm *VM) percentFormat(s string, values *Object) (string, error) {
	var items []*Object
	var mapping *Object
	if t, ok := asTuple(values); ok {
		items = t
	} else {
		items = []*Object{values}
		if values.typ.mroFindSlot(hasGetItem) != nil && !values.typ.IsSubtype(vm.StrType) {
			mapping = values
		}
	}
	argi := 0
	nextArg := func() (*Object, error) {
		if argi >= len(items) {
			return nil, vm.NewTypeError("not enough arguments for format string")
		}
		argi++
		return items[argi-1], nil
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '%' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", vm.NewValueError("incomplete format")
		}

		var keyed *Object
		if s[i] == '(' {
			if mapping == nil {
				return "", vm.NewTypeError("format requires a mapping")
			}
			level, j := 1, i+1
			for ; j < len(s) && level > 0; j++ {
				switch s[j] {
				case '(':
					level++
				case ')':
					level--
				}
			}
			if level > 0 {
				return "", vm.NewValueError("incomplete format key")
			}
			v, err := vm.GetItem(mapping, vm.NewStr(s[i+1:j-1]))
			if err != nil {
				return "", err
			}
			keyed = v
			i = j
		}

		var flags struct{ left, plus, space, alt, zero bool }
	flagLoop:
		for ; i < len(s); i++ {
			switch s[i] {
			case '-':
				flags.left = true
			case '+':
				flags.plus = true
			case ' ':
				flags.space = true
			case '#':
				flags.alt = true
			case '0':
				flags.zero = true
			default:
				break flagLoop
			}
		}

		readNum := func() (int, error) {
			if i < len(s) && s[i] == '*' {
				i++
				v, err := nextArg()
				if err != nil {
					return 0, err
				}
				n, ok := asInt(v)
				if !ok {
					return 0, vm.NewTypeError("* wants int")
				}
				return int(n), nil
			}
			n := 0
			for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
				n = n*10 + int(s[i]-'0')
			}
			return n, nil
		}
		width, err := readNum()
		if err != nil {
			return "", err
		}
		if width < 0 {
			flags.left = true
			width = -width
		}
		prec := -1
		if i < len(s) && s[i] == '.' {
			i++
			if prec, err = readNum(); err != nil {
				return "", err
			}
		}
		for i < len(s) && (s[i] == 'h' || s[i] == 'l' || s[i] == 'L') {
			i++
		}
		if i >= len(s) {
			return "", vm.NewValueError("incomplete format")
		}
		c := s[i]
		if c == '%' {
			b.WriteByte('%')
			continue
		}
		arg := keyed
		if arg == nil {
			if arg, err = nextArg(); err != nil {
				return "", err
			}
		}

		sign := byte(0)
		if flags.plus {
			sign = '+'
		} else if flags.space {
			sign = ' '
		}
		var prefix, body string
		numeric := true
		switch c {
		case 's', 'r', 'a':
			numeric = false
			if c == 's' {
				body, err = vm.Str(arg)
			} else {
				body, err = vm.Repr(arg)
				if c == 'a' {
					body = asciiEscape(body)
				}
			}
			if err != nil {
				return "", err
			}
			if prec >= 0 && utf8.RuneCountInString(body) > prec {
				body = string([]rune(body)[:prec])
			}
		case 'd', 'i', 'u':
			v, err := vm.percentInt(arg, c, false)
			if err != nil {
				return "", err
			}
			prefix = signPrefix(v < 0, sign)
			body = zeroExtend(strconv.FormatUint(absUint(v), 10), prec)
		case 'o', 'x', 'X':
			v, err := vm.percentInt(arg, c, true)
			if err != nil {
				return "", err
			}
			base := map[byte]int{'o': 8, 'x': 16, 'X': 16}[c]
			body = zeroExtend(strconv.FormatUint(absUint(v), base), prec)
			prefix = signPrefix(v < 0, sign)
			if flags.alt {
				prefix += "0" + string(c)
			}
			if c == 'X' {
				body = strings.ToUpper(body)
			}
		case 'e', 'E', 'f', 'F', 'g', 'G':
			f, err := vm.percentFloat(arg)
			if err != nil {
				return "", err
			}
			spec := formatSpec{precision: defaultPrecision(prec), typ: c}
			body, err = vm.formatFloatSpec(math.Abs(f), spec)
			if err != nil {
				return "", err
			}
			prefix = signPrefix(math.Signbit(f) && !math.IsNaN(f), sign)
		case 'c':
			numeric = false
			if str, ok := asStr(arg); ok {
				if utf8.RuneCountInString(str) != 1 {
					return "", vm.NewTypeError("%%c requires int or char")
				}
				body = str
			} else if v, ok := asInt(arg); ok {
				if v < 0 || v > utf8.MaxRune {
					return "", vm.NewOverflowError("%%c arg not in range(0x110000)")
				}
				body = string(rune(v))
			} else {
				return "", vm.NewTypeError("%%c requires int or char")
			}
		default:
			return "", vm.NewValueError("unsupported format character '%c' (0x%x) at index %d", c, c, i)
		}

		fs := formatSpec{fill: ' ', width: width, align: '>'}
		switch {
		case flags.left:
			fs.align = '<'
		case flags.zero && numeric:
			fs.fill, fs.align = '0', '='
		}
		b.WriteString(fs.pad(prefix, body, '>'))
	}
	if argi < len(items) && mapping == nil {
		return "", vm.NewTypeError("not all arguments converted during string formatting")
	}
	return b.String(), nil
}

func (vm *VM) percentInt(arg *Object, c byte, exact bool) (int64, error) {
	switch v := arg.Payload.(type) {
	case int64:
		return v, nil
	case float64:
		if !exact {
			return vm.floatToInt64(v)
		}
	}
	if exact {
		if arg.typ.mroFindSlot(hasIndex) != nil {
			return vm.Index(arg)
		}
		return 0, vm.NewTypeError("%%%c format: an integer is required, not %s", c, arg.typ.Name)
	}
	if arg.typ.mroFindSlot(hasIntConv) != nil || arg.typ.mroFindSlot(hasIndex) != nil {
		return vm.toInt(arg)
	}
	return 0, vm.NewTypeError("%%%c format: a number is required, not %s", c, arg.typ.Name)
}

func (vm *VM) percentFloat(arg *Object) (float64, error) {
	switch v := arg.Payload.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	}
	if arg.typ.mroFindSlot(hasFloatConv) == nil {
		return 0, vm.NewTypeError("must be real number, not %s", arg.typ.Name)
	}
	return vm.toFloat(arg)
}

func absUint(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}

// zeroExtend pads digits with leading zeros to at least n characters.
func zeroExtend(digits string, n int) string {
	if len(digits) >= n {
		return digits
	}
	return strings.Repeat("0", n-len(digits)) + digits
}
