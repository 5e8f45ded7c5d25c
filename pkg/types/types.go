// Package types is the type lattice shared by the dataflow engine, the call
// resolver and the runtime. Every type has at most one base; the lattice top
// is Object. Types are immutable once built.
package types

import "strings"

// Kind distinguishes ordinary nominal types from the synthetic types the
// analysis uses to remember which callable a value is.
type Kind uint8

const (
	KindClass    Kind = iota // Nominal type
	KindFunction             // A known host function; Ref is its registry name
	KindMethod               // A known method; Owner and Ref identify it
	KindCode                 // A code constant; Ref is its constant index
)

// Type is a node in the lattice.
type Type struct {
	Name  string
	Base  *Type
	Kind  Kind
	Owner *Type  // KindMethod only
	Ref   string // KindFunction, KindMethod, KindCode
}

func (t *Type) String() string {
	if t == nil {
		return "<unset>"
	}
	return t.Name
}

// Same reports whether a and b denote the same type. Synthetic types are
// compared structurally so that two analyses of one function agree.
func Same(a, b *Type) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Kind == b.Kind && a.Name == b.Name && a.Ref == b.Ref && Same(a.Owner, b.Owner)
}

// IsSubtype reports whether t is sup or derives from it.
func IsSubtype(t, sup *Type) bool {
	for c := t; c != nil; c = c.Base {
		if Same(c, sup) {
			return true
		}
	}
	return false
}

// Depth is the number of edges between t and Object.
func Depth(t *Type) int {
	d := 0
	for c := t; c != nil && c.Base != nil; c = c.Base {
		d++
	}
	return d
}

// CommonAncestor returns the nearest type both a and b derive from.
func CommonAncestor(a, b *Type) *Type {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	for da, db := Depth(a), Depth(b); da != db; {
		if da > db {
			a, da = a.Base, da-1
		} else {
			b, db = b.Base, db-1
		}
	}
	for !Same(a, b) {
		a, b = a.Base, b.Base
	}
	if a == nil {
		return Object
	}
	return a
}

// ---------------------------------------------------------------------------
// Builtin lattice
// ---------------------------------------------------------------------------

func class(name string, base *Type) *Type {
	return &Type{Name: name, Base: base}
}

var (
	Object = &Type{Name: "object"}

	None      = class("NoneType", Object)
	Null      = class("NULL", Object) // Absent receiver / "no value" sentinel
	Int       = class("int", Object)
	Bool      = class("bool", Int)
	Float     = class("float", Object)
	Str       = class("str", Object)
	Tuple     = class("tuple", Object)
	List      = class("list", Object)
	Dict      = class("dict", Object)
	TypeType  = class("type", Object)
	Cell      = class("cell", Object)
	Traceback = class("traceback", Object)
	CodeType  = class("code", Object)

	Function  = class("function", Object)
	Method    = class("method", Object)
	Iterator  = class("iterator", Object)
	Generator = class("generator", Iterator)

	BaseException     = class("BaseException", Object)
	Exception         = class("Exception", BaseException)
	StopIteration     = class("StopIteration", Exception)
	TypeError         = class("TypeError", Exception)
	ValueError        = class("ValueError", Exception)
	AttributeError    = class("AttributeError", Exception)
	NameError         = class("NameError", Exception)
	UnboundLocalError = class("UnboundLocalError", NameError)
	LookupError       = class("LookupError", Exception)
	KeyError          = class("KeyError", LookupError)
	IndexError        = class("IndexError", LookupError)
	ArithmeticError   = class("ArithmeticError", Exception)
	ZeroDivisionError = class("ZeroDivisionError", ArithmeticError)
	RuntimeError      = class("RuntimeError", Exception)
	AssertionError    = class("AssertionError", Exception)
)

var builtins = func() map[string]*Type {
	m := make(map[string]*Type)
	for _, t := range []*Type{
		Object, None, Null, Int, Bool, Float, Str, Tuple, List, Dict, TypeType,
		Cell, Traceback, CodeType, Function, Method, Iterator, Generator,
		BaseException, Exception, StopIteration, TypeError, ValueError,
		AttributeError, NameError, UnboundLocalError, LookupError, KeyError,
		IndexError, ArithmeticError, ZeroDivisionError, RuntimeError,
		AssertionError,
	} {
		m[t.Name] = t
	}
	return m
}()

// Lookup resolves a builtin type by name. The empty name and "object" both
// resolve to Object; "None" is accepted for NoneType.
func Lookup(name string) (*Type, bool) {
	switch name {
	case "", "object", "Any":
		return Object, true
	case "None":
		return None, true
	}
	t, ok := builtins[name]
	return t, ok
}

// MustLookup is Lookup for names known to exist.
func MustLookup(name string) *Type {
	t, ok := Lookup(name)
	if !ok {
		panic("types: unknown type " + name)
	}
	return t
}

// ---------------------------------------------------------------------------
// Synthetic callable types
// ---------------------------------------------------------------------------

// KnownFunction is the type of a value statically known to be the host
// function registered under name.
func KnownFunction(name string) *Type {
	return &Type{Name: "function<" + name + ">", Base: Function, Kind: KindFunction, Ref: name}
}

// KnownMethod is the type of a value statically known to be method name of
// owner, looked up through the type.
func KnownMethod(owner *Type, name string) *Type {
	return &Type{
		Name:  "method<" + owner.Name + "." + name + ">",
		Base:  Method,
		Kind:  KindMethod,
		Owner: owner,
		Ref:   name,
	}
}

// CodeConstant is the type of LOAD_CONST of a code object; ref is the
// constant index so MAKE_FUNCTION can find the nested record.
func CodeConstant(ref string) *Type {
	return &Type{Name: "code<" + ref + ">", Base: CodeType, Kind: KindCode, Ref: ref}
}

// Describe renders a list of types, used in diagnostics and tests.
func Describe(ts []*Type) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = t.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
