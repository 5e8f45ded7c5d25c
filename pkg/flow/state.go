package flow

import (
	"fmt"
	"slices"
	"strings"

	"github.com/chazu/pyaot/pkg/types"
)

// ValueOrigin is what the analysis knows about one value: its type and the
// instructions that may have produced it. A nil *ValueOrigin is a variable
// that has not been assigned on some path reaching the current point.
type ValueOrigin struct {
	Type      *types.Type
	Producers []int // Sorted, without duplicates
}

// Origin creates the origin of a value produced by the instruction at offset.
// A negative offset means the value was present on entry.
func Origin(t *types.Type, offset int) *ValueOrigin {
	if offset < 0 {
		return &ValueOrigin{Type: t}
	}
	return &ValueOrigin{Type: t, Producers: []int{offset}}
}

// Equal reports whether two origins carry the same type and producers.
func (v *ValueOrigin) Equal(o *ValueOrigin) bool {
	if v == nil || o == nil {
		return v == o
	}
	return types.Same(v.Type, o.Type) && slices.Equal(v.Producers, o.Producers)
}

func (v *ValueOrigin) String() string {
	if v == nil {
		return "<unset>"
	}
	return v.Type.String()
}

// UnifyOrigin joins two origins at a merge. An unset side takes the other
// side's value; differing types widen to their nearest common ancestor.
func UnifyOrigin(a, b *ValueOrigin) *ValueOrigin {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.Equal(b):
		return a
	}
	t := a.Type
	if !types.Same(a.Type, b.Type) {
		t = types.CommonAncestor(a.Type, b.Type)
	}
	producers := append(slices.Clone(a.Producers), b.Producers...)
	slices.Sort(producers)
	return &ValueOrigin{Type: t, Producers: slices.Compact(producers)}
}

// TypeState is the analysis state at one program point. The top of Stack is
// its last element. States are treated as values: operations return new
// states and never modify their receiver.
type TypeState struct {
	Stack  []*ValueOrigin
	Locals []*ValueOrigin
	Cells  []*ValueOrigin

	dead bool
}

// Dead is the state of unreachable code. It absorbs into every join.
var Dead = &TypeState{dead: true}

// IsDead reports whether s is the unreachable state.
func (s *TypeState) IsDead() bool { return s == nil || s.dead }

// NewState creates the state with an empty stack and every local and cell
// unset.
func NewState(locals, cells int) *TypeState {
	return &TypeState{
		Locals: make([]*ValueOrigin, locals),
		Cells:  make([]*ValueOrigin, cells),
	}
}

// Clone returns a copy of s that can be modified freely. Origins are shared;
// they are immutable.
func (s *TypeState) Clone() *TypeState {
	if s.IsDead() {
		return Dead
	}
	return &TypeState{
		Stack:  slices.Clone(s.Stack),
		Locals: slices.Clone(s.Locals),
		Cells:  slices.Clone(s.Cells),
	}
}

// Depth is the operand stack depth.
func (s *TypeState) Depth() int { return len(s.Stack) }

// Peek returns the stack entry n below the top; Peek(0) is the top.
func (s *TypeState) Peek(n int) *ValueOrigin {
	return s.Stack[len(s.Stack)-1-n]
}

// Top returns the top n stack entries, bottom first.
func (s *TypeState) Top(n int) []*ValueOrigin {
	return s.Stack[len(s.Stack)-n:]
}

// StackTypes returns the types on the stack, bottom first.
func (s *TypeState) StackTypes() []*types.Type {
	return originTypes(s.Stack)
}

// LocalTypes returns the local types; unset locals are nil.
func (s *TypeState) LocalTypes() []*types.Type {
	return originTypes(s.Locals)
}

func originTypes(vs []*ValueOrigin) []*types.Type {
	out := make([]*types.Type, len(vs))
	for i, v := range vs {
		if v != nil {
			out[i] = v.Type
		}
	}
	return out
}

// Equal reports whether two states are identical.
func (s *TypeState) Equal(o *TypeState) bool {
	if s.IsDead() || o.IsDead() {
		return s.IsDead() == o.IsDead()
	}
	return slices.EqualFunc(s.Stack, o.Stack, (*ValueOrigin).Equal) &&
		slices.EqualFunc(s.Locals, o.Locals, (*ValueOrigin).Equal) &&
		slices.EqualFunc(s.Cells, o.Cells, (*ValueOrigin).Equal)
}

// Unify joins the states of two paths reaching the same instruction. The
// paths must agree on stack depth and slot counts.
func Unify(a, b *TypeState) (*TypeState, error) {
	switch {
	case a.IsDead():
		return b, nil
	case b.IsDead():
		return a, nil
	}
	if len(a.Stack) != len(b.Stack) || len(a.Locals) != len(b.Locals) || len(a.Cells) != len(b.Cells) {
		return nil, fmt.Errorf("%w: cannot unify %s with %s", ErrImpossibleState, a, b)
	}
	out := &TypeState{
		Stack:  unifyAll(a.Stack, b.Stack),
		Locals: unifyAll(a.Locals, b.Locals),
		Cells:  unifyAll(a.Cells, b.Cells),
	}
	return out, nil
}

func unifyAll(a, b []*ValueOrigin) []*ValueOrigin {
	out := make([]*ValueOrigin, len(a))
	for i := range a {
		out[i] = UnifyOrigin(a[i], b[i])
	}
	return out
}

func (s *TypeState) String() string {
	if s.IsDead() {
		return "DEAD"
	}
	var sb strings.Builder
	sb.WriteString("stack=")
	sb.WriteString(types.Describe(s.StackTypes()))
	sb.WriteString(" locals=")
	sb.WriteString(types.Describe(s.LocalTypes()))
	sb.WriteString(" cells=")
	sb.WriteString(types.Describe(originTypes(s.Cells)))
	return sb.String()
}

// ---------------------------------------------------------------------------
// Builders used by transitions
// ---------------------------------------------------------------------------

func (s *TypeState) pop(n int) *TypeState {
	out := s.Clone()
	out.Stack = out.Stack[:len(out.Stack)-n]
	return out
}

func (s *TypeState) push(vs ...*ValueOrigin) *TypeState {
	out := s.Clone()
	out.Stack = append(out.Stack, vs...)
	return out
}

func (s *TypeState) withLocal(i int, v *ValueOrigin) *TypeState {
	out := s.Clone()
	out.Locals[i] = v
	return out
}

func (s *TypeState) withCell(i int, v *ValueOrigin) *TypeState {
	out := s.Clone()
	out.Cells[i] = v
	return out
}
