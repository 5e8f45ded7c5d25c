// Package callsig describes the parameter shapes of callables and binds
// call sites against them.
//
// A Signature is registered once, from Go or from a YAML table, and never
// changes afterwards. Binding a call site is a pure function of the
// signature, the number of positional arguments and the keyword names; it
// produces a Plan saying where each declared parameter takes its value from.
// The compiler turns a Plan into argument shuffling code, and the runtime
// applies the same Plan to actual values when a compiled function is called
// through the dynamic protocol.
package callsig

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/pyaot/pkg/bytecode"
	"github.com/chazu/pyaot/pkg/types"
)

// ParamKind is how a parameter may be supplied.
type ParamKind uint8

const (
	PositionalOnly ParamKind = iota
	PositionalOrKeyword
	VarPositional
	KeywordOnly
	VarKeyword
)

// Declaration order: a Signature lists its parameters in ascending kind.
var paramKindNames = [...]string{"positional-only", "positional", "var-positional", "keyword-only", "var-keyword"}

func (k ParamKind) String() string {
	if int(k) < len(paramKindNames) {
		return paramKindNames[k]
	}
	return fmt.Sprintf("ParamKind(%d)", k)
}

// ParseParamKind is the inverse of ParamKind.String.
func ParseParamKind(s string) (ParamKind, error) {
	for i, n := range paramKindNames {
		if n == s {
			return ParamKind(i), nil
		}
	}
	if s == "" {
		return PositionalOrKeyword, nil
	}
	return 0, fmt.Errorf("unknown parameter kind %q", s)
}

// Binding is how the callee receives its receiver.
type Binding uint8

const (
	Static  Binding = iota // No receiver
	Class                  // Receives the receiver's type
	Virtual                // Receives the receiver itself
)

var bindingNames = [...]string{"static", "class", "virtual"}

func (b Binding) String() string {
	if int(b) < len(bindingNames) {
		return bindingNames[b]
	}
	return fmt.Sprintf("Binding(%d)", b)
}

// ParseBinding is the inverse of Binding.String.
func ParseBinding(s string) (Binding, error) {
	for i, n := range bindingNames {
		if n == s {
			return Binding(i), nil
		}
	}
	if s == "" {
		return Static, nil
	}
	return 0, fmt.Errorf("unknown binding %q", s)
}

// Param is one declared parameter.
type Param struct {
	Name     string             `cbor:"name"`
	Kind     ParamKind          `cbor:"kind"`
	Type     string             `cbor:"type,omitempty"` // "" means object
	Nullable bool               `cbor:"nullable,omitempty"`
	Default  *bytecode.Constant `cbor:"default,omitempty"`
}

// Signature is the declared shape of a callable.
type Signature struct {
	Name    string  `cbor:"name"`
	Owner   string  `cbor:"owner,omitempty"` // Type name for methods
	Symbol  string  `cbor:"symbol,omitempty"`
	Binding Binding `cbor:"binding"`
	Params  []Param `cbor:"params"`
	Return  string  `cbor:"return,omitempty"`
}

// ErrInvalidSignature is returned by Validate.
var ErrInvalidSignature = errors.New("invalid signature")

// Validate checks that parameter kinds appear in the legal order and names
// are unique.
func (s *Signature) Validate() error {
	seen := make(map[string]bool, len(s.Params))
	last := PositionalOnly
	sawDefault := false
	for _, p := range s.Params {
		if p.Name == "" {
			return fmt.Errorf("%w: %s has an unnamed parameter", ErrInvalidSignature, s.QualifiedName())
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: %s declares %q twice", ErrInvalidSignature, s.QualifiedName(), p.Name)
		}
		seen[p.Name] = true
		if p.Kind < last || (p.Kind == last && (p.Kind == VarPositional || p.Kind == VarKeyword)) {
			return fmt.Errorf("%w: %s parameter %q (%s) out of order", ErrInvalidSignature, s.QualifiedName(), p.Name, p.Kind)
		}
		last = p.Kind
		if p.Kind == PositionalOnly || p.Kind == PositionalOrKeyword {
			if p.Default != nil {
				sawDefault = true
			} else if sawDefault && !p.Nullable {
				return fmt.Errorf("%w: %s parameter %q without default follows a defaulted parameter", ErrInvalidSignature, s.QualifiedName(), p.Name)
			}
		}
		if _, ok := types.Lookup(p.Type); !ok {
			return fmt.Errorf("%w: %s parameter %q has unknown type %q", ErrInvalidSignature, s.QualifiedName(), p.Name, p.Type)
		}
	}
	if _, ok := types.Lookup(s.Return); !ok {
		return fmt.Errorf("%w: %s has unknown return type %q", ErrInvalidSignature, s.QualifiedName(), s.Return)
	}
	return nil
}

// QualifiedName is owner.name for methods and name for functions.
func (s *Signature) QualifiedName() string {
	if s.Owner != "" {
		return s.Owner + "." + s.Name
	}
	return s.Name
}

// ParamType resolves the declared type of parameter i.
func (s *Signature) ParamType(i int) *types.Type {
	t, ok := types.Lookup(s.Params[i].Type)
	if !ok {
		return types.Object
	}
	return t
}

// ReturnType resolves the declared return type.
func (s *Signature) ReturnType() *types.Type {
	t, ok := types.Lookup(s.Return)
	if !ok {
		return types.Object
	}
	return t
}

// Arity is the number of values the host implementation receives: one per
// declared parameter plus the receiver for class and virtual bindings.
func (s *Signature) Arity() int {
	if s.Binding == Static {
		return len(s.Params)
	}
	return len(s.Params) + 1
}

func (s *Signature) String() string {
	var sb strings.Builder
	sb.WriteString(s.QualifiedName())
	sb.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		switch p.Kind {
		case VarPositional:
			sb.WriteByte('*')
		case VarKeyword:
			sb.WriteString("**")
		}
		sb.WriteString(p.Name)
		if p.Type != "" {
			sb.WriteString(": " + p.Type)
		}
		if p.Default != nil {
			sb.WriteString("=" + p.Default.String())
		}
	}
	sb.WriteByte(')')
	if s.Return != "" {
		sb.WriteString(" -> " + s.Return)
	}
	return sb.String()
}

// FromRecord derives the signature of a compiled function from its record.
// Defaults come from the record; closures created at runtime override them.
func FromRecord(rec *bytecode.FunctionRecord) *Signature {
	names := rec.ParamNames()
	sig := &Signature{
		Name:    rec.DisplayName(),
		Binding: Static,
		Return:  rec.ReturnType,
	}
	firstDefault := rec.ArgCount - len(rec.Defaults)
	i := 0
	for ; i < rec.ArgCount && i < len(names); i++ {
		p := Param{Name: names[i], Kind: PositionalOrKeyword, Type: rec.ParamType(i)}
		if i < rec.PosOnlyCount {
			p.Kind = PositionalOnly
		}
		if i >= firstDefault {
			d := rec.Defaults[i-firstDefault]
			p.Default = &d
		}
		sig.Params = append(sig.Params, p)
	}
	// *args sits after the keyword-only names in varnames but binds before
	// them.
	kwEnd := rec.ArgCount + rec.KwOnlyCount
	if rec.VarArgs && kwEnd < len(names) {
		sig.Params = append(sig.Params, Param{Name: names[kwEnd], Kind: VarPositional})
	}
	for ; i < kwEnd && i < len(names); i++ {
		p := Param{Name: names[i], Kind: KeywordOnly, Type: rec.ParamType(i)}
		if d, ok := rec.KwDefaults[names[i]]; ok {
			p.Default = &d
		}
		sig.Params = append(sig.Params, p)
	}
	if rec.VarKwargs {
		at := kwEnd
		if rec.VarArgs {
			at++
		}
		if at < len(names) {
			sig.Params = append(sig.Params, Param{Name: names[at], Kind: VarKeyword})
		}
	}
	return sig
}
