package symtable

import "sort"

// analyzer is the second pass. Child scopes are resolved before their
// parent so that a parent can see which of its names are captured.
type analyzer struct {
	// enclosing scopes of the table being resolved, outermost first
	stack []*Table
}

func (a *analyzer) run(t *Table) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(*Error)
			if !ok {
				panic(r)
			}
			err = e
		}
	}()
	a.analyzeTable(t)
	return nil
}

func (a *analyzer) analyzeTable(t *Table) {
	a.stack = append(a.stack, t)
	for _, child := range t.Children {
		a.analyzeTable(child)
	}
	a.stack = a.stack[:len(a.stack)-1]

	names := make([]string, 0, len(t.Symbols))
	for name := range t.Symbols {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a.analyzeSymbol(t.Symbols[name], t)
	}
}

func (a *analyzer) analyzeSymbol(sym *Symbol, t *Table) {
	switch sym.Scope {
	case ScopeFree:
		if len(a.stack) == 0 {
			panic(&Error{Msg: "nonlocal '" + sym.Name + "' defined at place without an enclosing scope"})
		}
		if len(a.stack) < 2 || a.foundInOuterScope(sym.Name) != ScopeFree {
			panic(&Error{Msg: "no binding for nonlocal '" + sym.Name + "' found"})
		}
	case ScopeGlobalExplicit, ScopeGlobalImplicit, ScopeLocal, ScopeCell:
	case ScopeUnknown:
		switch {
		case sym.IsBound():
			if scope, ok := a.foundInInnerScope(t, sym.Name); ok {
				sym.Scope = scope
			} else {
				sym.Scope = ScopeLocal
			}
		default:
			if scope := a.foundInOuterScope(sym.Name); scope != ScopeUnknown {
				sym.Scope = scope
			} else if len(a.stack) == 0 {
				// Module level: decided by name lookup at run time.
				sym.Scope = ScopeUnknown
			} else {
				sym.Scope = ScopeGlobalImplicit
			}
		}
	}
}

// foundInOuterScope looks for a function scope that binds name. When one
// is found, every scope in between gets a pass-through free symbol and the
// result is ScopeFree. Module scopes and class scopes are invisible to
// nested functions, except that a class exposes its __class__ cell.
func (a *analyzer) foundInOuterScope(name string) Scope {
	declDepth := -1
	for i := len(a.stack) - 1; i >= 0; i-- {
		t := a.stack[i]
		if t.Type == TableModule || t.Type == TableClass && name != "__class__" {
			continue
		}
		sym, ok := t.Symbols[name]
		if !ok {
			continue
		}
		if sym.Scope == ScopeGlobalExplicit {
			return ScopeGlobalExplicit
		}
		if sym.Scope != ScopeGlobalImplicit && sym.IsBound() {
			declDepth = i
			break
		}
	}
	if declDepth < 0 {
		return ScopeUnknown
	}

	for i := len(a.stack) - 1; i > declDepth; i-- {
		t := a.stack[i]
		if t.Type == TableClass {
			sym := t.symbol(name)
			if sym.Scope == ScopeUnknown && !sym.IsBound() {
				sym.Scope = ScopeFree
			}
			sym.Flags |= FlagFreeClass
			continue
		}
		if _, ok := t.Symbols[name]; !ok {
			t.symbol(name).Scope = ScopeFree
		}
	}
	return ScopeFree
}

// foundInInnerScope reports whether a child of t captures name, in which
// case t must store it in a cell.
func (a *analyzer) foundInInnerScope(t *Table, name string) (Scope, bool) {
	for _, child := range t.Children {
		sym, ok := child.Symbols[name]
		if !ok {
			continue
		}
		if sym.Scope == ScopeFree || sym.IsFreeClass() {
			if t.Type == TableClass && name != "__class__" {
				continue
			}
			return ScopeCell, true
		}
		if sym.Scope == ScopeGlobalExplicit && len(a.stack) == 0 {
			return ScopeGlobalExplicit, true
		}
	}
	return ScopeUnknown, false
}
