package vm

import (
	"strings"
	"weak"

	"github.com/chazu/adder/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Type: type objects and their slot tables
// ---------------------------------------------------------------------------

// Type describes a class. Builtin types are created once per Context; heap
// types are created by class statements and by calling type().
type Type struct {
	Name     string
	QualName string
	Doc      string

	// Base is the primary parent, nil only for object. Bases are the
	// declared parents in order.
	Base  *Type
	Bases []*Type
	// MRO is the linearized ancestor list, self first.
	MRO []*Type

	Slots TypeSlots

	// Heap is set for types created at run time.
	Heap bool
	// Final types cannot be subclassed.
	Final bool
	// HasInstanceDict gives instances a fresh attribute dictionary.
	HasInstanceDict bool

	self       *Object
	subclasses []weak.Pointer[Type]
}

// Object returns the type object wrapping t. The type's attribute
// dictionary is the dict of that object and its metatype is its type.
func (t *Type) Object() *Object {
	return t.self
}

// Dict returns the type attribute dictionary.
func (t *Type) Dict() *Dict {
	return t.self.dict
}

// Metatype returns the type of the type object.
func (t *Type) Metatype() *Type {
	return t.self.typ
}

// IsSubtype reports whether t is other or inherits from it.
func (t *Type) IsSubtype(other *Type) bool {
	for _, c := range t.MRO {
		if c == other {
			return true
		}
	}
	return false
}

// Lookup finds name in the dictionaries along the MRO without invoking
// descriptors.
func (t *Type) Lookup(name string) *Object {
	for _, c := range t.MRO {
		if v := c.self.dict.GetStr(name); v != nil {
			return v
		}
	}
	return nil
}

// lookupAfter searches the MRO of start for name, skipping every class up
// to and including after. It backs super().
func (t *Type) lookupAfter(after *Type, name string) *Object {
	i := 0
	for ; i < len(t.MRO); i++ {
		if t.MRO[i] == after {
			i++
			break
		}
	}
	for ; i < len(t.MRO); i++ {
		if v := t.MRO[i].self.dict.GetStr(name); v != nil {
			return v
		}
	}
	return nil
}

// Subclasses returns the live direct subclasses of t.
func (t *Type) Subclasses() []*Type {
	live := t.subclasses[:0]
	var out []*Type
	for _, w := range t.subclasses {
		if sub := w.Value(); sub != nil {
			live = append(live, w)
			out = append(out, sub)
		}
	}
	t.subclasses = live
	return out
}

func (t *Type) addSubclass(sub *Type) {
	t.subclasses = append(t.subclasses, weak.Make(sub))
}

// FullName is the module-qualified name used by repr() of heap types.
func (t *Type) FullName() string {
	if !t.Heap {
		return t.Name
	}
	if m := t.self.dict.GetStr("__module__"); m != nil {
		if s, ok := asStr(m); ok && s != "builtins" {
			return s + "." + t.QualName
		}
	}
	return t.QualName
}

// solidBase is the nearest builtin ancestor that fixes the payload shape
// of instances.
func (t *Type) solidBase() *Type {
	for c := t; c != nil; c = c.Base {
		if !c.Heap {
			return c
		}
	}
	return nil
}

// linearizeMRO computes the C3 linearization of a type with the given
// bases. It reports false when no consistent order exists.
func linearizeMRO(t *Type, bases []*Type) ([]*Type, bool) {
	seqs := [][]*Type{{t}}
	for _, b := range bases {
		seqs = append(seqs, append([]*Type(nil), b.MRO...))
	}
	seqs = append(seqs, append([]*Type(nil), bases...))
	res := mroMerge(seqs)
	return res, res != nil
}

func mroMerge(seqs [][]*Type) []*Type {
	var res []*Type
	for {
		nonEmpty := false
		for _, seq := range seqs {
			if len(seq) > 0 {
				nonEmpty = true
				break
			}
		}
		if !nonEmpty {
			return res
		}
		var cand *Type
		for _, seq := range seqs {
			if len(seq) == 0 {
				continue
			}
			cand = seq[0]
			if inTail(seqs, cand) {
				cand = nil
				continue
			}
			break
		}
		if cand == nil {
			return nil
		}
		res = append(res, cand)
		for i, seq := range seqs {
			if len(seq) > 0 && seq[0] == cand {
				seqs[i] = seq[1:]
			}
		}
	}
}

// inTail reports whether cand appears past the head of any sequence.
func inTail(seqs [][]*Type, cand *Type) bool {
	for _, seq := range seqs {
		if len(seq) == 0 {
			continue
		}
		for _, t := range seq[1:] {
			if t == cand {
				return true
			}
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Slots
// ---------------------------------------------------------------------------

// TypeSlots is the per-type dispatch table. A nil field means the type does
// not implement the protocol itself; dispatch walks the MRO and takes the
// first non-nil slot of the required kind.
type TypeSlots struct {
	Hash        func(vm *VM, o *Object) (int64, error)
	RichCompare func(vm *VM, a, b *Object, op bytecode.ComparisonOperator) (*Object, error)
	Call        func(vm *VM, callee *Object, args Args) (*Object, error)
	GetAttro    func(vm *VM, o *Object, name string) (*Object, error)
	// SetAttro deletes the attribute when value is nil.
	SetAttro func(vm *VM, o *Object, name string, value *Object) error
	Iter     func(vm *VM, o *Object) (*Object, error)
	// IterNext returns nil, nil once the iterator is exhausted.
	IterNext func(vm *VM, o *Object) (*Object, error)
	// DescrGet receives a nil obj for access through the owner.
	DescrGet func(vm *VM, descr, obj, owner *Object) (*Object, error)
	// DescrSet deletes when value is nil.
	DescrSet func(vm *VM, descr, obj, value *Object) error
	New      func(vm *VM, cls *Type, args Args) (*Object, error)
	Init     func(vm *VM, o *Object, args Args) error
	// Del is recorded for introspection only; no finalizers are run.
	Del  func(vm *VM, o *Object) error
	Repr func(vm *VM, o *Object) (string, error)
	Str  func(vm *VM, o *Object) (string, error)

	Number   *NumberSlots
	Mapping  *MappingSlots
	Sequence *SequenceSlots
	Buffer   func(vm *VM, o *Object) ([]byte, error)
}

// NumberSlots implement the arithmetic protocols. Binary and Inplace return
// NotImplemented for operand types they do not handle. Binary computes
// "self op other", or "other op self" when reflected is set.
type NumberSlots struct {
	Binary  func(vm *VM, self, other *Object, op bytecode.BinaryOperator, reflected bool) (*Object, error)
	Inplace func(vm *VM, self, other *Object, op bytecode.BinaryOperator) (*Object, error)
	Unary   func(vm *VM, self *Object, op bytecode.UnaryOperator) (*Object, error)
	Bool    func(vm *VM, self *Object) (bool, error)
	Index   func(vm *VM, self *Object) (int64, error)
	Int     func(vm *VM, self *Object) (*Object, error)
	Float   func(vm *VM, self *Object) (float64, error)
}

// MappingSlots implement len() and subscription. SetItem deletes when
// value is nil.
type MappingSlots struct {
	Len     func(vm *VM, o *Object) (int, error)
	GetItem func(vm *VM, o, key *Object) (*Object, error)
	SetItem func(vm *VM, o, key, value *Object) error
}

// SequenceSlots implement membership tests.
type SequenceSlots struct {
	Contains func(vm *VM, o, item *Object) (bool, error)
}

// mroFindSlot returns the slot table of the first type along the MRO for
// which has reports true, or nil.
func (t *Type) mroFindSlot(has func(*TypeSlots) bool) *TypeSlots {
	for _, c := range t.MRO {
		if has(&c.Slots) {
			return &c.Slots
		}
	}
	return nil
}

var (
	hasHash        = func(s *TypeSlots) bool { return s.Hash != nil }
	hasRichCompare = func(s *TypeSlots) bool { return s.RichCompare != nil }
	hasCall        = func(s *TypeSlots) bool { return s.Call != nil }
	hasGetAttro    = func(s *TypeSlots) bool { return s.GetAttro != nil }
	hasSetAttro    = func(s *TypeSlots) bool { return s.SetAttro != nil }
	hasIter        = func(s *TypeSlots) bool { return s.Iter != nil }
	hasIterNext    = func(s *TypeSlots) bool { return s.IterNext != nil }
	hasDescrGet    = func(s *TypeSlots) bool { return s.DescrGet != nil }
	hasDescrSet    = func(s *TypeSlots) bool { return s.DescrSet != nil }
	hasNew         = func(s *TypeSlots) bool { return s.New != nil }
	hasInit        = func(s *TypeSlots) bool { return s.Init != nil }
	hasRepr        = func(s *TypeSlots) bool { return s.Repr != nil }
	hasStr         = func(s *TypeSlots) bool { return s.Str != nil }
	hasBuffer      = func(s *TypeSlots) bool { return s.Buffer != nil }
	hasBinary      = func(s *TypeSlots) bool { return s.Number != nil && s.Number.Binary != nil }
	hasInplace     = func(s *TypeSlots) bool { return s.Number != nil && s.Number.Inplace != nil }
	hasUnary       = func(s *TypeSlots) bool { return s.Number != nil && s.Number.Unary != nil }
	hasBool        = func(s *TypeSlots) bool { return s.Number != nil && s.Number.Bool != nil }
	hasIndex       = func(s *TypeSlots) bool { return s.Number != nil && s.Number.Index != nil }
	hasIntConv     = func(s *TypeSlots) bool { return s.Number != nil && s.Number.Int != nil }
	hasFloatConv   = func(s *TypeSlots) bool { return s.Number != nil && s.Number.Float != nil }
	hasLen         = func(s *TypeSlots) bool { return s.Mapping != nil && s.Mapping.Len != nil }
	hasGetItem     = func(s *TypeSlots) bool { return s.Mapping != nil && s.Mapping.GetItem != nil }
	hasSetItem     = func(s *TypeSlots) bool { return s.Mapping != nil && s.Mapping.SetItem != nil }
	hasContains    = func(s *TypeSlots) bool { return s.Sequence != nil && s.Sequence.Contains != nil }
)

// ---------------------------------------------------------------------------
// Slot groups for heap types
// ---------------------------------------------------------------------------

type slotGroup uint8

const (
	groupHash slotGroup = iota
	groupRichCompare
	groupCall
	groupGetAttro
	groupSetAttro
	groupIter
	groupIterNext
	groupDescrGet
	groupDescrSet
	groupNew
	groupInit
	groupDel
	groupRepr
	groupStr
	groupNumber
	groupMapping
	groupSequence
)

// dunderSlots maps each special method name to the slot it feeds.
var dunderSlots = map[string]slotGroup{
	"__hash__":         groupHash,
	"__eq__":           groupRichCompare,
	"__ne__":           groupRichCompare,
	"__lt__":           groupRichCompare,
	"__le__":           groupRichCompare,
	"__gt__":           groupRichCompare,
	"__ge__":           groupRichCompare,
	"__call__":         groupCall,
	"__getattribute__": groupGetAttro,
	"__getattr__":      groupGetAttro,
	"__setattr__":      groupSetAttro,
	"__delattr__":      groupSetAttro,
	"__iter__":         groupIter,
	"__next__":         groupIterNext,
	"__get__":          groupDescrGet,
	"__set__":          groupDescrSet,
	"__delete__":       groupDescrSet,
	"__new__":          groupNew,
	"__init__":         groupInit,
	"__del__":          groupDel,
	"__repr__":         groupRepr,
	"__str__":          groupStr,
	"__neg__":          groupNumber,
	"__pos__":          groupNumber,
	"__invert__":       groupNumber,
	"__bool__":         groupNumber,
	"__index__":        groupNumber,
	"__int__":          groupNumber,
	"__float__":        groupNumber,
	"__len__":          groupMapping,
	"__getitem__":      groupMapping,
	"__setitem__":      groupMapping,
	"__delitem__":      groupMapping,
	"__contains__":     groupSequence,
}

var groupNames = map[slotGroup][]string{}

func init() {
	for op := bytecode.OpPower; op <= bytecode.OpOr; op++ {
		dunderSlots[op.Method()] = groupNumber
		dunderSlots[op.ReflectedMethod()] = groupNumber
		dunderSlots[op.InplaceMethod()] = groupNumber
	}
	for name, g := range dunderSlots {
		groupNames[g] = append(groupNames[g], name)
	}
}

// updateSlot recomputes the slot fed by name after the attribute was
// assigned or deleted on a heap type. The group is installed while any of
// its special methods is defined in the type's own dictionary, and cleared
// otherwise so the inherited slot applies again.
func (t *Type) updateSlot(name string) {
	g, ok := dunderSlots[name]
	if !ok || !t.Heap {
		return
	}
	defined := false
	for _, n := range groupNames[g] {
		if t.self.dict.GetStr(n) != nil {
			defined = true
			break
		}
	}
	t.setHeapSlot(g, defined)
}

func (t *Type) setHeapSlot(g slotGroup, on bool) {
	s := &t.Slots
	switch g {
	case groupHash:
		s.Hash = nil
		if on {
			s.Hash = heapHash
		}
	case groupRichCompare:
		s.RichCompare = nil
		if on {
			s.RichCompare = heapRichCompare
		}
	case groupCall:
		s.Call = nil
		if on {
			s.Call = heapCall
		}
	case groupGetAttro:
		s.GetAttro = nil
		if on {
			s.GetAttro = heapGetAttro
		}
	case groupSetAttro:
		s.SetAttro = nil
		if on {
			s.SetAttro = heapSetAttro
		}
	case groupIter:
		s.Iter = nil
		if on {
			s.Iter = heapIter
		}
	case groupIterNext:
		s.IterNext = nil
		if on {
			s.IterNext = heapIterNext
		}
	case groupDescrGet:
		s.DescrGet = nil
		if on {
			s.DescrGet = heapDescrGet
		}
	case groupDescrSet:
		s.DescrSet = nil
		if on {
			s.DescrSet = heapDescrSet
		}
	case groupNew:
		s.New = nil
		if on {
			s.New = heapNew
		}
	case groupInit:
		s.Init = nil
		if on {
			s.Init = heapInit
		}
	case groupDel:
		s.Del = nil
		if on {
			s.Del = heapDel
		}
	case groupRepr:
		s.Repr = nil
		if on {
			s.Repr = heapRepr
		}
	case groupStr:
		s.Str = nil
		if on {
			s.Str = heapStr
		}
	case groupNumber:
		s.Number = nil
		if on {
			s.Number = heapNumberSlots
		}
	case groupMapping:
		s.Mapping = nil
		if on {
			s.Mapping = heapMappingSlots
		}
	case groupSequence:
		s.Sequence = nil
		if on {
			s.Sequence = heapSequenceSlots
		}
	}
}

// initHeapSlots installs the slots of every special method a new heap type
// defines.
func (t *Type) initHeapSlots() {
	seen := map[slotGroup]bool{}
	t.self.dict.eachStr(func(name string, _ *Object) {
		if !strings.HasPrefix(name, "__") {
			return
		}
		if g, ok := dunderSlots[name]; ok && !seen[g] {
			seen[g] = true
			t.setHeapSlot(g, true)
		}
	})
}
