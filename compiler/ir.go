package compiler

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/chazu/adder/pkg/bytecode"
)

// noBlock terminates the Next chain of basic blocks.
const noBlock = bytecode.Label(math.MaxUint32)

// basicBlock is a straight-line run of instructions. Jumps inside a block
// name other blocks by index until finalizeCode rewrites them.
type basicBlock struct {
	instructions []bytecode.Instruction
	locations    []bytecode.Location
	next         bytecode.Label
}

// indexSet is an insertion-ordered set of names.
type indexSet struct {
	items []string
	index map[string]uint32
}

func newIndexSet(items []string) indexSet {
	s := indexSet{index: make(map[string]uint32, len(items))}
	for _, item := range items {
		s.insert(item)
	}
	return s
}

func (s *indexSet) insert(name string) uint32 {
	if s.index == nil {
		s.index = make(map[string]uint32)
	}
	if i, ok := s.index[name]; ok {
		return i
	}
	i := uint32(len(s.items))
	s.items = append(s.items, name)
	s.index[name] = i
	return i
}

func (s *indexSet) lookup(name string) (uint32, bool) {
	i, ok := s.index[name]
	return i, ok
}

func (s *indexSet) len() int { return len(s.items) }

// CodeInfo is a code object under construction: one per module, class
// body, function, lambda or comprehension.
type CodeInfo struct {
	flags           bytecode.CodeFlags
	posOnlyArgCount int
	argCount        int
	kwOnlyArgCount  int
	sourcePath      string
	firstLineNo     int
	objName         string

	blocks  []basicBlock
	current bytecode.Label

	constants  []bytecode.Constant
	constIndex map[string]uint32
	names      indexSet
	varnames   indexSet
	cellvars   indexSet
	freevars   indexSet
}

func newCodeInfo(flags bytecode.CodeFlags, name, path string, line int) *CodeInfo {
	return &CodeInfo{
		flags:       flags,
		objName:     name,
		sourcePath:  path,
		firstLineNo: line,
		blocks:      []basicBlock{{next: noBlock}},
		constIndex:  make(map[string]uint32),
	}
}

func (c *CodeInfo) newBlock() bytecode.Label {
	c.blocks = append(c.blocks, basicBlock{next: noBlock})
	return bytecode.Label(len(c.blocks) - 1)
}

// switchToBlock appends b to the chain after the current block.
func (c *CodeInfo) switchToBlock(b bytecode.Label) {
	if c.blocks[b].next != noBlock {
		internalError("switching to completed block %d", b)
	}
	prev := &c.blocks[c.current]
	if prev.next != noBlock {
		internalError("block %d already has a successor", c.current)
	}
	prev.next = b
	c.current = b
}

func (c *CodeInfo) emit(ins bytecode.Instruction, loc bytecode.Location) {
	b := &c.blocks[c.current]
	b.instructions = append(b.instructions, ins)
	b.locations = append(b.locations, loc)
}

// addConstant interns scalar constants and tuples of scalars; code
// constants are never shared.
func (c *CodeInfo) addConstant(k bytecode.Constant) uint32 {
	key, ok := constKey(k)
	if ok {
		if i, found := c.constIndex[key]; found {
			return i
		}
	}
	i := uint32(len(c.constants))
	c.constants = append(c.constants, k)
	if ok {
		c.constIndex[key] = i
	}
	return i
}

func constKey(k bytecode.Constant) (string, bool) {
	switch v := k.(type) {
	case bytecode.NoneConst:
		return "None", true
	case bytecode.EllipsisConst:
		return "...", true
	case bytecode.BoolConst:
		return fmt.Sprintf("b:%t", bool(v)), true
	case bytecode.IntConst:
		return fmt.Sprintf("i:%d", int64(v)), true
	case bytecode.FloatConst:
		return fmt.Sprintf("f:%x", math.Float64bits(float64(v))), true
	case bytecode.StrConst:
		return "s:" + string(v), true
	case bytecode.BytesConst:
		return "y:" + string(v), true
	case bytecode.TupleConst:
		parts := make([]string, len(v))
		for i, elt := range v {
			key, ok := constKey(elt)
			if !ok {
				return "", false
			}
			parts[i] = fmt.Sprintf("%d:%s", len(key), key)
		}
		return "t:(" + strings.Join(parts, ",") + ")", true
	}
	return "", false
}

// totalArgs counts the argument slots at the front of varnames.
func (c *CodeInfo) totalArgs() int {
	n := c.argCount + c.kwOnlyArgCount
	if c.flags&bytecode.FlagHasVarargs != 0 {
		n++
	}
	if c.flags&bytecode.FlagHasVarKeywords != 0 {
		n++
	}
	return n
}

// finalizeCode turns the block graph into a CodeObject.
func (c *CodeInfo) finalizeCode() *bytecode.CodeObject {
	c.eliminateDeadCode()
	maxDepth := c.maxStackDepth()

	offsets := make([]bytecode.Label, len(c.blocks))
	n := 0
	for b := bytecode.Label(0); b != noBlock; b = c.blocks[b].next {
		offsets[b] = bytecode.Label(n)
		n += len(c.blocks[b].instructions)
	}

	instructions := make([]bytecode.Instruction, 0, n)
	locations := make([]bytecode.Location, 0, n)
	for b := bytecode.Label(0); b != noBlock; b = c.blocks[b].next {
		block := &c.blocks[b]
		for i, ins := range block.instructions {
			if target, ok := ins.Label(); ok {
				ins = ins.WithLabel(offsets[target])
			}
			instructions = append(instructions, ins)
			locations = append(locations, block.locations[i])
		}
	}

	constants := make([]bytecode.Constant, len(c.constants))
	copy(constants, c.constants)

	return &bytecode.CodeObject{
		Instructions:    instructions,
		Locations:       locations,
		Flags:           c.flags,
		PosOnlyArgCount: c.posOnlyArgCount,
		ArgCount:        c.argCount,
		KwOnlyArgCount:  c.kwOnlyArgCount,
		Source:          c.sourcePath,
		FirstLineNo:     c.firstLineNo,
		ObjName:         c.objName,
		MaxStackSize:    maxDepth,
		Constants:       constants,
		Names:           c.names.items,
		Varnames:        c.varnames.items,
		Cellvars:        c.cellvars.items,
		Freevars:        c.freevars.items,
		Cell2Arg:        c.cell2arg(),
	}
}

// eliminateDeadCode truncates each block after its first unconditional
// branch. Nothing can reach those instructions: jumps only target block
// starts.
func (c *CodeInfo) eliminateDeadCode() {
	for i := range c.blocks {
		block := &c.blocks[i]
		for j, ins := range block.instructions {
			if ins.UnconditionalBranch() {
				block.instructions = block.instructions[:j+1]
				block.locations = block.locations[:j+1]
				break
			}
		}
	}
}

// maxStackDepth walks the block graph from the entry block with an
// explicit worklist. A block is revisited only when it is reached with a
// strictly greater depth than before, which bounds the walk.
func (c *CodeInfo) maxStackDepth() int {
	const unvisited = -1
	maxDepth := 0
	start := make([]int, len(c.blocks))
	for i := range start {
		start[i] = unvisited
	}
	start[0] = 0
	worklist := []bytecode.Label{0}

	push := func(target bytecode.Label, depth int) {
		if target == noBlock {
			return
		}
		if start[target] == unvisited || depth > start[target] {
			start[target] = depth
			worklist = append(worklist, target)
		}
	}
	checked := func(depth int, ins bytecode.Instruction) int {
		if depth < 0 {
			internalError("negative stack depth at %s in %s", ins, c.objName)
		}
		if depth > maxDepth {
			maxDepth = depth
		}
		return depth
	}

process:
	for len(worklist) > 0 {
		b := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		depth := start[b]
		block := &c.blocks[b]
		for _, ins := range block.instructions {
			next := checked(depth+ins.StackEffect(false), ins)
			// Continue reaches its target through block unwinding, not a
			// plain edge.
			if target, ok := ins.Label(); ok && ins.Op != bytecode.Continue {
				push(target, checked(depth+ins.StackEffect(true), ins))
			}
			depth = next
			if ins.UnconditionalBranch() {
				continue process
			}
		}
		push(block.next, depth)
	}
	return maxDepth
}

// cell2arg maps each cell to the argument slot it captures, or nil when
// no argument is a cell.
func (c *CodeInfo) cell2arg() []int {
	if c.cellvars.len() == 0 {
		return nil
	}
	total := c.totalArgs()
	found := false
	out := make([]int, c.cellvars.len())
	for i, name := range c.cellvars.items {
		out[i] = -1
		if slot, ok := c.varnames.lookup(name); ok && int(slot) < total {
			out[i] = int(slot)
			found = true
		}
	}
	if !found {
		return nil
	}
	return out
}

func sortedNames(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}
