// Package vm implements the adder virtual machine.
//
// This package contains:
//   - The object model: types with slot tables, C3 method resolution and
//     the descriptor protocol
//   - The frame interpreter and its block stack for loops, handlers and
//     finally clauses
//   - Generators and coroutines driven through the same frame loop
//   - Exceptions, chaining and tracebacks
//   - The builtins, sys and math modules and the import machinery
//
// Every type, singleton and module belongs to one VM; independent VMs can
// run side by side in a process.
package vm
