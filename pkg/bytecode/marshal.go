package bytecode

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// FormatVersion is bumped whenever the encoded layout changes.
const FormatVersion = 1

// ErrVersionMismatch is returned when a blob was written by another format.
var ErrVersionMismatch = errors.New("bytecode: format version mismatch")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Constant kinds on the wire.
const (
	wireNone uint8 = iota
	wireEllipsis
	wireBool
	wireInt
	wireFloat
	wireStr
	wireBytes
	wireTuple
	wireCodeKind
)

type wireConstant struct {
	Kind  uint8          `cbor:"k"`
	Int   int64          `cbor:"i,omitempty"`
	Float float64        `cbor:"f,omitempty"`
	Str   string         `cbor:"s,omitempty"`
	Bytes []byte         `cbor:"b,omitempty"`
	Items []wireConstant `cbor:"t,omitempty"`
	Code  *wireCode      `cbor:"c,omitempty"`
}

type wireInstruction struct {
	Op     uint8  `cbor:"0,keyasint"`
	Arg    uint32 `cbor:"1,keyasint,omitempty"`
	Arg2   uint32 `cbor:"2,keyasint,omitempty"`
	Unpack bool   `cbor:"3,keyasint,omitempty"`
}

type wireCode struct {
	Instructions    []wireInstruction `cbor:"ins"`
	Lines           []int             `cbor:"lines"`
	Columns         []int             `cbor:"cols"`
	Flags           uint16            `cbor:"flags"`
	PosOnlyArgCount int               `cbor:"posonly"`
	ArgCount        int               `cbor:"argc"`
	KwOnlyArgCount  int               `cbor:"kwonly"`
	Source          string            `cbor:"src"`
	FirstLineNo     int               `cbor:"line"`
	ObjName         string            `cbor:"name"`
	MaxStackSize    int               `cbor:"stack"`
	Constants       []wireConstant    `cbor:"consts"`
	Names           []string          `cbor:"names"`
	Varnames        []string          `cbor:"varnames"`
	Cellvars        []string          `cbor:"cellvars"`
	Freevars        []string          `cbor:"freevars"`
	Cell2Arg        []int             `cbor:"cell2arg,omitempty"`
}

type wireBlob struct {
	Version int       `cbor:"v"`
	Code    *wireCode `cbor:"code"`
}

// Marshal encodes a code object into a deterministic CBOR blob.
func Marshal(c *CodeObject) ([]byte, error) {
	return cborEncMode.Marshal(wireBlob{Version: FormatVersion, Code: toWireCode(c)})
}

// Unmarshal decodes a blob produced by Marshal.
func Unmarshal(data []byte) (*CodeObject, error) {
	var blob wireBlob
	if err := cbor.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal code: %w", err)
	}
	if blob.Version != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, blob.Version, FormatVersion)
	}
	if blob.Code == nil {
		return nil, errors.New("bytecode: unmarshal code: empty blob")
	}
	return fromWireCode(blob.Code)
}

func toWireCode(c *CodeObject) *wireCode {
	w := &wireCode{
		Instructions:    make([]wireInstruction, len(c.Instructions)),
		Lines:           make([]int, len(c.Locations)),
		Columns:         make([]int, len(c.Locations)),
		Flags:           uint16(c.Flags),
		PosOnlyArgCount: c.PosOnlyArgCount,
		ArgCount:        c.ArgCount,
		KwOnlyArgCount:  c.KwOnlyArgCount,
		Source:          c.Source,
		FirstLineNo:     c.FirstLineNo,
		ObjName:         c.ObjName,
		MaxStackSize:    c.MaxStackSize,
		Names:           c.Names,
		Varnames:        c.Varnames,
		Cellvars:        c.Cellvars,
		Freevars:        c.Freevars,
		Cell2Arg:        c.Cell2Arg,
	}
	for i, ins := range c.Instructions {
		w.Instructions[i] = wireInstruction{Op: uint8(ins.Op), Arg: ins.Arg, Arg2: ins.Arg2, Unpack: ins.Unpack}
	}
	for i, loc := range c.Locations {
		w.Lines[i] = loc.Line
		w.Columns[i] = loc.Column
	}
	for _, k := range c.Constants {
		w.Constants = append(w.Constants, toWireConstant(k))
	}
	return w
}

func toWireConstant(k Constant) wireConstant {
	switch v := k.(type) {
	case NoneConst:
		return wireConstant{Kind: wireNone}
	case EllipsisConst:
		return wireConstant{Kind: wireEllipsis}
	case BoolConst:
		var i int64
		if v {
			i = 1
		}
		return wireConstant{Kind: wireBool, Int: i}
	case IntConst:
		return wireConstant{Kind: wireInt, Int: int64(v)}
	case FloatConst:
		return wireConstant{Kind: wireFloat, Float: float64(v)}
	case StrConst:
		return wireConstant{Kind: wireStr, Str: string(v)}
	case BytesConst:
		return wireConstant{Kind: wireBytes, Bytes: []byte(v)}
	case TupleConst:
		items := make([]wireConstant, len(v))
		for i, e := range v {
			items[i] = toWireConstant(e)
		}
		return wireConstant{Kind: wireTuple, Items: items}
	case CodeConst:
		return wireConstant{Kind: wireCodeKind, Code: toWireCode(v.Code)}
	}
	panic(fmt.Sprintf("bytecode: cannot marshal constant %T", k))
}

func fromWireCode(w *wireCode) (*CodeObject, error) {
	if len(w.Lines) != len(w.Instructions) || len(w.Columns) != len(w.Instructions) {
		return nil, fmt.Errorf("bytecode: location table length %d does not match %d instructions", len(w.Lines), len(w.Instructions))
	}
	c := &CodeObject{
		Instructions:    make([]Instruction, len(w.Instructions)),
		Locations:       make([]Location, len(w.Lines)),
		Flags:           CodeFlags(w.Flags),
		PosOnlyArgCount: w.PosOnlyArgCount,
		ArgCount:        w.ArgCount,
		KwOnlyArgCount:  w.KwOnlyArgCount,
		Source:          w.Source,
		FirstLineNo:     w.FirstLineNo,
		ObjName:         w.ObjName,
		MaxStackSize:    w.MaxStackSize,
		Names:           w.Names,
		Varnames:        w.Varnames,
		Cellvars:        w.Cellvars,
		Freevars:        w.Freevars,
		Cell2Arg:        w.Cell2Arg,
	}
	for i, ins := range w.Instructions {
		op := Opcode(ins.Op)
		if !op.Valid() {
			return nil, fmt.Errorf("bytecode: invalid opcode %d at %d", ins.Op, i)
		}
		c.Instructions[i] = Instruction{Op: op, Arg: ins.Arg, Arg2: ins.Arg2, Unpack: ins.Unpack}
	}
	for i := range w.Lines {
		c.Locations[i] = Location{Line: w.Lines[i], Column: w.Columns[i]}
	}
	for _, wk := range w.Constants {
		k, err := fromWireConstant(wk)
		if err != nil {
			return nil, err
		}
		c.Constants = append(c.Constants, k)
	}
	return c, nil
}

func fromWireConstant(w wireConstant) (Constant, error) {
	switch w.Kind {
	case wireNone:
		return NoneConst{}, nil
	case wireEllipsis:
		return EllipsisConst{}, nil
	case wireBool:
		return BoolConst(w.Int != 0), nil
	case wireInt:
		return IntConst(w.Int), nil
	case wireFloat:
		return FloatConst(w.Float), nil
	case wireStr:
		return StrConst(w.Str), nil
	case wireBytes:
		return BytesConst(w.Bytes), nil
	case wireTuple:
		items := make(TupleConst, len(w.Items))
		for i, e := range w.Items {
			k, err := fromWireConstant(e)
			if err != nil {
				return nil, err
			}
			items[i] = k
		}
		return items, nil
	case wireCodeKind:
		if w.Code == nil {
			return nil, errors.New("bytecode: code constant without body")
		}
		code, err := fromWireCode(w.Code)
		if err != nil {
			return nil, err
		}
		return CodeConst{Code: code}, nil
	}
	return nil, fmt.Errorf("bytecode: unknown constant kind %d", w.Kind)
}
