// Package target defines the instruction set that compiled functions are
// emitted in: a typed stack machine with numbered local slots, a per-unit
// constant pool, instance fields for generator state and a JVM-style
// exception handler table.
//
// # Units and Methods
//
// A Unit is the class-like result of compiling one source function. It
// implements a single-method Interface; function units carry one entry
// method, generator units carry $init, $progress and one advance method per
// resume point. Nested units hold inner functions and generator bodies and
// are referenced by index from MAKE_FUNCTION and NEW_GENERATOR.
//
// # Building Code
//
// Code is built in a Chunk. Jumps name Labels, which may be placed before
// or after the jump; Finish patches them into code indices and runs Verify,
// which rejects stack underflow and paths that reach one instruction at
// different depths, and records the maximum depth.
//
// # Exceptions
//
// A Handler covers a code range. When an instruction in the range raises,
// the operand stack is cleared, the exception is pushed and control moves
// to the handler target. Ranges are searched in order, so inner ranges are
// listed first.
//
// # Output Forms
//
// Units can be listed with Disassemble, serialized with MarshalUnit, or
// rendered as Go source with GoSource. The runtime package executes them
// directly.
package target
