package compiler

import (
	"errors"
	"fmt"

	"github.com/chazu/pyaot/pkg/bytecode"
)

var (
	// ErrUnsupported means the record uses a construct the compiler has no
	// code generator for.
	ErrUnsupported = errors.New("unsupported construct")

	// ErrArity means the requested interface does not take as many
	// arguments as the function declares parameters.
	ErrArity = errors.New("interface arity mismatch")
)

// Error is a failed compilation. Offset is the instruction being compiled,
// or -1 when the failure concerns the whole function. Dump holds the
// instruction listing.
type Error struct {
	Function string
	Offset   int
	Err      error
	Dump     string
}

func (e *Error) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("compile %s: %v", e.Function, e.Err)
	}
	return fmt.Sprintf("compile %s@%d: %v", e.Function, e.Offset, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// failure wraps err for the instruction at offset. Errors that already
// name a function, such as those of nested code, pass through unchanged.
func failure(rec *bytecode.FunctionRecord, instrs []bytecode.Instruction, offset int, err error) error {
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{
		Function: rec.DisplayName(),
		Offset:   offset,
		Err:      err,
		Dump:     bytecode.Dump(rec, instrs),
	}
}
