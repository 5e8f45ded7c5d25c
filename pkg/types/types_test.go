package types

import "testing"

func TestCommonAncestor(t *testing.T) {
	tests := []struct {
		a, b *Type
		want *Type
	}{
		{Int, Int, Int},
		{Int, Str, Object},
		{Bool, Int, Int},
		{Int, Bool, Int},
		{KeyError, IndexError, LookupError},
		{ZeroDivisionError, KeyError, Exception},
		{Generator, Iterator, Iterator},
		{nil, Str, Str},
		{Str, nil, Str},
		{KnownFunction("len"), KnownFunction("abs"), Function},
		{KnownFunction("len"), Int, Object},
		{Null, None, Object},
	}
	for _, tt := range tests {
		if got := CommonAncestor(tt.a, tt.b); !Same(got, tt.want) {
			t.Errorf("CommonAncestor(%s, %s) = %s, want %s", tt.a, tt.b, got, tt.want)
		}
		if got, rev := CommonAncestor(tt.a, tt.b), CommonAncestor(tt.b, tt.a); !Same(got, rev) {
			t.Errorf("CommonAncestor not symmetric for %s, %s: %s vs %s", tt.a, tt.b, got, rev)
		}
	}
}

func TestSyntheticTypesCompareStructurally(t *testing.T) {
	if !Same(KnownFunction("len"), KnownFunction("len")) {
		t.Error("two KnownFunction(len) values should be the same type")
	}
	if Same(KnownMethod(Str, "upper"), KnownMethod(List, "upper")) {
		t.Error("methods of different owners must differ")
	}
	if !IsSubtype(KnownMethod(Str, "upper"), Method) {
		t.Error("known methods derive from method")
	}
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"", "object", "int", "str", "StopIteration", "None"} {
		if _, ok := Lookup(name); !ok {
			t.Errorf("Lookup(%q) failed", name)
		}
	}
	if _, ok := Lookup("frobnicator"); ok {
		t.Error("Lookup of unknown type succeeded")
	}
	if got := Describe([]*Type{Int, nil, Str}); got != "[int, <unset>, str]" {
		t.Errorf("Describe = %q", got)
	}
}
