package bytecode

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestStackEffectBranches(t *testing.T) {
	tests := []struct {
		ins          Instruction
		fall, jumped int
	}{
		{Instruction{Op: ForIter}, 1, -1},
		{Instruction{Op: JumpIfTrueOrPop}, -1, 0},
		{Instruction{Op: JumpIfFalseOrPop}, -1, 0},
		{Instruction{Op: SetupExcept}, 0, 1},
		{Instruction{Op: SetupWith}, 1, 0},
		{Instruction{Op: SetupAsyncWith}, 0, -1},
		{Instruction{Op: JumpIfTrue}, -1, -1},
	}
	for _, tt := range tests {
		if got := tt.ins.StackEffect(false); got != tt.fall {
			t.Errorf("%s fallthrough effect = %d, want %d", tt.ins.Op, got, tt.fall)
		}
		if got := tt.ins.StackEffect(true); got != tt.jumped {
			t.Errorf("%s jump effect = %d, want %d", tt.ins.Op, got, tt.jumped)
		}
	}
}

func TestStackEffectOperands(t *testing.T) {
	tests := []struct {
		ins  Instruction
		want int
	}{
		{Instruction{Op: BuildTuple, Arg: 3}, -2},
		{Instruction{Op: BuildTuple, Arg: 0}, 1},
		{Instruction{Op: BuildMap, Arg: 2}, -3},
		{Instruction{Op: BuildMap, Arg: 2, Unpack: true}, -1},
		{Instruction{Op: BuildSlice, Arg: 1}, -2},
		{Instruction{Op: BuildSlice}, -1},
		{Instruction{Op: CallFunctionPositional, Arg: 2}, -2},
		{Instruction{Op: CallFunctionKeyword, Arg: 2}, -3},
		{Instruction{Op: CallFunctionEx, Arg: 1}, -2},
		{Instruction{Op: CallMethodPositional, Arg: 1}, -3},
		{Instruction{Op: CallMethodKeyword, Arg: 1}, -4},
		{Instruction{Op: CallMethodEx}, -3},
		{Instruction{Op: LoadMethod}, 2},
		{Instruction{Op: MakeFunction, Arg: uint32(FuncHasDefaults | FuncHasClosure)}, -3},
		{Instruction{Op: MakeFunction}, -1},
		{Instruction{Op: UnpackSequence, Arg: 3}, 2},
		{Instruction{Op: UnpackEx, Arg: 1, Arg2: 2}, 3},
		{Instruction{Op: Raise, Arg: uint32(RaiseReraise)}, 0},
		{Instruction{Op: Raise, Arg: uint32(RaiseException)}, -1},
		{Instruction{Op: Raise, Arg: uint32(RaiseCause)}, -2},
		{Instruction{Op: StoreSubscript}, -3},
		{Instruction{Op: EndAsyncFor}, -2},
		{Instruction{Op: WithCleanupFinish}, -1},
	}
	for _, tt := range tests {
		if got := tt.ins.StackEffect(false); got != tt.want {
			t.Errorf("%s effect = %d, want %d", tt.ins, got, tt.want)
		}
	}
}

func TestEveryOpcodeHasAnEffect(t *testing.T) {
	for _, op := range AllOpcodes() {
		if GetOpcodeInfo(op).Name == "" {
			t.Errorf("opcode %d has no name", op)
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.Errorf("%s: StackEffect panicked: %v", op, r)
				}
			}()
			Instruction{Op: op}.StackEffect(false)
			Instruction{Op: op}.StackEffect(true)
		}()
	}
}

func TestUnconditionalBranch(t *testing.T) {
	for _, op := range []Opcode{Jump, Continue, Break, ReturnValue, Raise} {
		if !(Instruction{Op: op}).UnconditionalBranch() {
			t.Errorf("%s should be an unconditional branch", op)
		}
	}
	for _, op := range []Opcode{JumpIfTrue, ForIter, SetupLoop, YieldValue, Pop} {
		if (Instruction{Op: op}).UnconditionalBranch() {
			t.Errorf("%s should not be an unconditional branch", op)
		}
	}
}

func TestOpcodeByName(t *testing.T) {
	op, ok := OpcodeByName("WithCleanupStart")
	if !ok || op != WithCleanupStart {
		t.Fatalf("OpcodeByName(WithCleanupStart) = %v, %v", op, ok)
	}
	if _, ok := OpcodeByName("NoSuchThing"); ok {
		t.Fatal("expected lookup of unknown name to fail")
	}
}

func TestComparisonSwapped(t *testing.T) {
	pairs := map[ComparisonOperator]ComparisonOperator{
		CmpLess:        CmpGreater,
		CmpLessOrEqual: CmpGreaterOrEqual,
		CmpEqual:       CmpEqual,
		CmpNotEqual:    CmpNotEqual,
	}
	for op, want := range pairs {
		if got := op.Swapped(); got != want {
			t.Errorf("%s.Swapped() = %s, want %s", op, got, want)
		}
		if got := op.Swapped().Swapped(); got != op {
			t.Errorf("%s swapped twice = %s", op, got)
		}
	}
}

func sampleCode() *CodeObject {
	inner := &CodeObject{
		Instructions: []Instruction{{Op: LoadConst}, {Op: ReturnValue}},
		Locations:    []Location{{Line: 2, Column: 5}, {Line: 2, Column: 5}},
		Flags:        FlagNewLocals | FlagIsOptimized,
		ObjName:      "f",
		Source:       "<test>",
		FirstLineNo:  1,
		MaxStackSize: 1,
		Constants:    []Constant{IntConst(3)},
	}
	return &CodeObject{
		Instructions: []Instruction{
			{Op: LoadConst, Arg: 0},
			{Op: LoadConst, Arg: 1},
			{Op: MakeFunction},
			{Op: StoreLocal, Arg: 0},
			{Op: LoadConst, Arg: 2},
			{Op: ReturnValue},
		},
		Locations:    make([]Location, 6),
		ObjName:      "<module>",
		Source:       "<test>",
		MaxStackSize: 2,
		Constants: []Constant{
			CodeConst{Code: inner},
			StrConst("f"),
			TupleConst{NoneConst{}, BoolConst(true), FloatConst(1.5), BytesConst("ab"), EllipsisConst{}},
		},
		Names: []string{"f"},
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	code := sampleCode()
	blob, err := Marshal(code)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	again, err := Marshal(code)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(blob, again) {
		t.Fatal("encoding is not deterministic")
	}

	got, err := Unmarshal(blob)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.DisassembleString(true) != code.DisassembleString(true) {
		t.Errorf("round trip changed disassembly:\n%s\nvs\n%s", got.DisassembleString(true), code.DisassembleString(true))
	}
	inner := got.Constants[0].(CodeConst).Code
	if inner.Locations[1] != (Location{Line: 2, Column: 5}) {
		t.Errorf("inner location = %v", inner.Locations[1])
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte{0xff, 0x00}); err == nil {
		t.Fatal("expected error for garbage input")
	}
	blob, _ := cborEncMode.Marshal(wireBlob{Version: FormatVersion + 1, Code: toWireCode(sampleCode())})
	if _, err := Unmarshal(blob); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestDisassembleResolvesOperands(t *testing.T) {
	out := sampleCode().DisassembleString(true)
	for _, want := range []string{"Disassembly of <module>", "StoreLocal", "(f)", "Disassembly of f", "(3)"} {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteYAML(&buf, sampleCode()); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"name: <module>", "children:", "max_stack_size: 2"} {
		if !strings.Contains(out, want) {
			t.Errorf("yaml missing %q:\n%s", want, out)
		}
	}
}
