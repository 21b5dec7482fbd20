package vm

import (
	"testing"

	"github.com/joomcode/errorx"

	"github.com/chazu/adder/pkg/bytecode"
)

// unwindFrame returns a frame with room for a deep value stack and an
// exception entry of its own, as execFrame would give it.
func unwindFrame(t *testing.T) (*VM, *Frame) {
	t.Helper()
	vm, _ := newTestVM(t)
	code := &bytecode.CodeObject{ObjName: "<unwind>", MaxStackSize: 16}
	f := vm.newFrame(code, NewDict(), nil, nil)
	vm.pushExceptionEntry(nil)
	t.Cleanup(func() { vm.popExceptionEntry() })
	return vm, f
}

func TestUnwindBlocks(t *testing.T) {
	type step struct {
		values int
		block  BlockType
	}
	cases := []struct {
		name      string
		steps     []step
		reason    func(vm *VM) UnwindReason
		target    int
		level     int
		blocks    int
		pushesExc bool
	}{
		{
			name:   "break pops the loop",
			steps:  []step{{2, LoopBlock{BreakTarget: 40}}, {3, nil}},
			reason: func(*VM) UnwindReason { return Breaking{} },
			target: 40, level: 2, blocks: 0,
		},
		{
			name:   "continue keeps the loop",
			steps:  []step{{1, LoopBlock{BreakTarget: 40}}, {2, nil}},
			reason: func(*VM) UnwindReason { return Continuing{Target: 5} },
			target: 5, level: 3, blocks: 1,
		},
		{
			name:   "raise skips loops to the handler",
			steps:  []step{{1, TryExceptBlock{Handler: 20}}, {2, LoopBlock{BreakTarget: 40}}, {4, nil}},
			reason: func(vm *VM) UnwindReason { return Raising{Exception: vm.NewValueError("x")} },
			target: 20, level: 1, blocks: 1, pushesExc: true,
		},
		{
			name:   "return enters finally",
			steps:  []step{{1, FinallyBlock{Handler: 30}}, {1, TryExceptBlock{Handler: 20}}, {3, nil}},
			reason: func(vm *VM) UnwindReason { return Returning{Value: vm.NewInt(1)} },
			target: 30, level: 1, blocks: 1,
		},
		{
			name:   "break passes through finally",
			steps:  []step{{0, LoopBlock{BreakTarget: 40}}, {2, FinallyBlock{Handler: 30}}, {1, nil}},
			reason: func(*VM) UnwindReason { return Breaking{} },
			target: 30, level: 2, blocks: 2,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			vm, f := unwindFrame(t)
			for _, s := range tc.steps {
				for range s.values {
					f.push(vm.None)
				}
				if s.block != nil {
					f.pushBlock(s.block)
				}
			}
			reason := tc.reason(vm)
			res, err := f.unwindBlocks(vm, reason)
			if res != nil || err != nil {
				t.Fatalf("expected the reason to be handled, got %v, %v", res, err)
			}
			if f.lasti != tc.target {
				t.Errorf("lasti = %d, want %d", f.lasti, tc.target)
			}
			level := tc.level
			if tc.pushesExc {
				level++
				r := reason.(Raising)
				if f.top() != r.Exception.obj {
					t.Error("the handler should find the exception on the stack")
				}
				if vm.currentException() != r.Exception {
					t.Error("the exception should be the one being handled")
				}
			}
			if len(f.stack) != level {
				t.Errorf("stack depth = %d, want %d", len(f.stack), level)
			}
			if len(f.blocks) != tc.blocks {
				t.Errorf("blocks = %d, want %d", len(f.blocks), tc.blocks)
			}
		})
	}
}

func TestUnwindEmptyBlockStack(t *testing.T) {
	vm, f := unwindFrame(t)
	f.push(vm.None)
	res, err := f.unwindBlocks(vm, Returning{Value: vm.NewInt(9)})
	if err != nil || res == nil || res.Kind != ResultReturn {
		t.Fatalf("expected a return result, got %v, %v", res, err)
	}
	wantInt(t, res.Value, 9)

	exc := vm.NewKeyError(vm.NewStr("k"))
	if _, err := f.unwindBlocks(vm, Raising{Exception: exc}); err != exc {
		t.Fatalf("an unhandled exception should propagate, got %v", err)
	}
}

func TestUnwindBreakOutsideLoopIsFatal(t *testing.T) {
	vm, f := unwindFrame(t)
	defer func() {
		e, ok := errorx.ErrorFromPanic(recover())
		if !ok || !IsFatal(e) {
			t.Fatalf("expected a fatal error, got %v", e)
		}
	}()
	f.unwindBlocks(vm, Breaking{})
}

func TestFinallyHandlerRestoresException(t *testing.T) {
	vm, f := unwindFrame(t)
	outer := vm.NewValueError("outer")
	vm.setException(outer)
	f.pushBlock(FinallyBlock{Handler: 12})
	inner := vm.NewKeyError(vm.NewStr("inner"))
	if _, err := f.unwindBlocks(vm, Raising{Exception: inner}); err != nil {
		t.Fatalf("unwind: %v", err)
	}
	if vm.currentException() != inner {
		t.Fatal("the finally body should see the raised exception")
	}
	h := popHandler[FinallyHandlerBlock](vm, f, "finally handler")
	if vm.currentException() != outer {
		t.Error("leaving the finally body should restore the previous exception")
	}
	if _, err := f.resume(vm, h.Reason); err != inner {
		t.Errorf("resuming should re-raise, got %v", err)
	}
}

func TestValueStackOverflowIsFatal(t *testing.T) {
	vm, f := unwindFrame(t)
	for range f.Code.MaxStackSize {
		f.push(vm.None)
	}
	defer func() {
		if e, ok := errorx.ErrorFromPanic(recover()); !ok || !IsFatal(e) {
			t.Fatalf("expected a fatal error, got %v", e)
		}
	}()
	f.push(vm.None)
}
