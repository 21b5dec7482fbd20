// Package bytecode defines the instruction set and the code-object model
// shared by the compiler and the virtual machine.
//
// # Instructions
//
// An Instruction is a typed Opcode plus up to two operands. Every
// instruction has a static stack effect (StackEffect), which may depend on
// whether a branch is taken, and a classification (UnconditionalBranch)
// used by dead-code elimination and by the compiler's stack-depth walk.
//
// Branching instructions carry a Label. While the compiler is running a
// label names a basic block; once a CodeObject is finished every label is
// an index into Instructions.
//
// # Code objects
//
// A CodeObject is immutable once built. Its Names, Varnames, Cellvars and
// Freevars tables are deduplicated and insertion ordered, and instructions
// index into them. Cell and free variables share one index space: cells
// first, then frees.
//
// # Serialization
//
// Marshal and Unmarshal encode a code object as canonical CBOR. The blob
// carries a format version and is otherwise opaque; it is used for frozen
// modules and the on-disk compile cache.
package bytecode
