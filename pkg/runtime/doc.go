// Package runtime loads and executes compiled units.
//
// It is the object model boundary of generated code: every value a target
// instruction touches is a Value, and every operation that can fail returns
// an error, usually an *Exception carrying a source-level exception class.
//
// # Loading
//
// A Loader verifies a target.Unit and its nested units (stack discipline,
// interface entry method and arity, unique names) and registers them as
// Classes. Nothing is registered unless the whole unit tree loads.
//
// # Execution
//
// A Machine runs methods against an Instance, which carries the unit's
// constants, its fields and its closure cells. Methods are interpreted, or,
// after UseCompiled, run as the Go functions target.GoSource rendered for
// them. Both paths call the same operations in this package, so they agree
// on semantics, including exception handler ranges:
//
//   - Value model: None, Null, Bool, Int, Float, Str, Tuple, List, Dict,
//     Object, TypeObject, Cell, Function, HostFunction, BoundMethod,
//     Generator, Exception
//   - Operators: Binop, Compare, Unop, Is, Contains, CheckCast
//   - Calls: InvokeHost for statically bound host calls, Call for the
//     dynamic protocol, MakeFunction and NewGenerator for nested units
//
// # Host Functions
//
// Host functions are described by callsig signatures, loaded from the
// embedded builtins.yaml table, and implemented by HostImpl functions keyed
// by symbol. RegisterBuiltins gives a compiler the same table, so a call the
// compiler binds statically and the same call made dynamically reach the
// same implementation with the same argument order.
//
// # Generators
//
// A generator body unit keeps its state in fields ($state, $yielded, $sent,
// $thrown). Generator resumes it through its $progress method and exposes
// HasNext, Next, Send and Throw.
package runtime
