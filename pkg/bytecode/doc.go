// Package bytecode describes the source side of the translator: function
// records produced by the loader, the source opcode set, and the decoder
// that turns raw (opcode, argument, offset) triples into typed instructions.
//
// # Records
//
// A FunctionRecord mirrors a code object: an ordered instruction list,
// variable tables (varnames, cellvars, freevars, names), a constant pool and
// the parameter shape. Offsets in a record are instruction indices; the
// loader normalises byte offsets before handing records over.
//
// # Versions
//
// The language version tag changes how raw jump arguments are decoded:
//
//   - before 3.10 arguments are byte distances, so they are halved
//   - from 3.10 on they are instruction distances and used as-is
//
// Opcodes introduced in a later version than the record declares are
// rejected as unknown.
//
// # Successors
//
// Every decoded instruction reports its possible successor offsets, in
// order: fallthrough first, then the branch target. Forced jumps report only
// their target, and returns and raises report none. The control-flow graph
// in package flow is built from these lists alone.
package bytecode
