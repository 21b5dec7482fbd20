package vm

import (
	"github.com/chazu/adder/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// BinaryOp evaluates a <op> b. The left operand's slot is tried first,
// then the right operand's reflected slot; a right operand whose type is a
// strict subclass of the left's goes first.
func (vm *VM) BinaryOp(a, b *Object, op bytecode.BinaryOperator) (*Object, error) {
	res, err := vm.binaryOp1(a, b, op)
	if err != nil {
		return nil, err
	}
	if res == vm.NotImplemented {
		return nil, vm.unsupportedOperands(a, b, op.Token())
	}
	return res, nil
}

func (vm *VM) binaryOp1(a, b *Object, op bytecode.BinaryOperator) (*Object, error) {
	sa := a.typ.mroFindSlot(hasBinary)
	var sb *TypeSlots
	if b.typ != a.typ {
		sb = b.typ.mroFindSlot(hasBinary)
		if sb == sa {
			sb = nil
		}
	}
	if sb != nil && b.typ.IsSubtype(a.typ) {
		res, err := sb.Number.Binary(vm, b, a, op, true)
		if err != nil || res != vm.NotImplemented {
			return res, err
		}
		sb = nil
	}
	if sa != nil {
		res, err := sa.Number.Binary(vm, a, b, op, false)
		if err != nil || res != vm.NotImplemented {
			return res, err
		}
	}
	if sb != nil {
		return sb.Number.Binary(vm, b, a, op, true)
	}
	return vm.NotImplemented, nil
}

// InplaceOp evaluates a <op>= b: the in-place slot of a first, then the
// binary protocol.
func (vm *VM) InplaceOp(a, b *Object, op bytecode.BinaryOperator) (*Object, error) {
	if s := a.typ.mroFindSlot(hasInplace); s != nil {
		res, err := s.Number.Inplace(vm, a, b, op)
		if err != nil || res != vm.NotImplemented {
			return res, err
		}
	}
	res, err := vm.binaryOp1(a, b, op)
	if err != nil {
		return nil, err
	}
	if res == vm.NotImplemented {
		return nil, vm.unsupportedOperands(a, b, op.Token()+"=")
	}
	return res, nil
}

func (vm *VM) unsupportedOperands(a, b *Object, token string) error {
	if token == "**" || token == "**=" {
		token += " or pow()"
	}
	return vm.NewTypeError("unsupported operand type(s) for %s: '%s' and '%s'", token, a.typ.Name, b.typ.Name)
}

var unaryTokens = map[bytecode.UnaryOperator]string{
	bytecode.OpMinus:  "-",
	bytecode.OpPlus:   "+",
	bytecode.OpInvert: "~",
}

// UnaryOp evaluates a unary operator.
func (vm *VM) UnaryOp(a *Object, op bytecode.UnaryOperator) (*Object, error) {
	if op == bytecode.OpNot {
		t, err := vm.Truthy(a)
		if err != nil {
			return nil, err
		}
		return vm.NewBool(!t), nil
	}
	if s := a.typ.mroFindSlot(hasUnary); s != nil {
		res, err := s.Number.Unary(vm, a, op)
		if !isProtocolError(err) {
			return res, err
		}
	}
	return nil, vm.NewTypeError("bad operand type for unary %s: '%s'", unaryTokens[op], a.typ.Name)
}

// Add is a convenience for a + b.
func (vm *VM) Add(a, b *Object) (*Object, error) {
	return vm.BinaryOp(a, b, bytecode.OpAdd)
}

// compare evaluates every CompareOperation form.
func (vm *VM) compare(a, b *Object, op bytecode.ComparisonOperator) (*Object, error) {
	switch op {
	case bytecode.CmpIs:
		return vm.NewBool(a == b), nil
	case bytecode.CmpIsNot:
		return vm.NewBool(a != b), nil
	case bytecode.CmpIn:
		ok, err := vm.Contains(b, a)
		if err != nil {
			return nil, err
		}
		return vm.NewBool(ok), nil
	case bytecode.CmpNotIn:
		ok, err := vm.Contains(b, a)
		if err != nil {
			return nil, err
		}
		return vm.NewBool(!ok), nil
	case bytecode.CmpExceptionMatch:
		ok, err := vm.exceptionMatch(a, b)
		if err != nil {
			return nil, err
		}
		return vm.NewBool(ok), nil
	}
	return vm.RichCompare(a, b, op)
}

// exceptionMatch implements the test of an except clause: exc is the
// raised instance, cls a class or tuple of classes.
func (vm *VM) exceptionMatch(exc, cls *Object) (bool, error) {
	if items, ok := asTuple(cls); ok {
		for _, c := range items {
			ok, err := vm.exceptionMatch(exc, c)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	}
	t, ok := asType(cls)
	if !ok || !t.IsSubtype(vm.Exceptions.BaseException) {
		return false, vm.NewTypeError("catching classes that do not inherit from BaseException is not allowed")
	}
	return exc.typ.IsSubtype(t), nil
}
