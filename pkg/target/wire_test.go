package target

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/chazu/pyaot/pkg/callsig"
)

func TestMarshalUnitRoundTrip(t *testing.T) {
	u := sampleUnit(t)
	u.Signature = &callsig.Signature{
		Name:   "greet",
		Params: []callsig.Param{{Name: "who", Kind: callsig.PositionalOrKeyword}},
	}
	u.AddNested(NewUnit("greet$$2", UnitGenerator, GeneratorInterface))

	data, err := MarshalUnit(u)
	if err != nil {
		t.Fatalf("MarshalUnit: %v", err)
	}
	again, err := MarshalUnit(u)
	if err != nil {
		t.Fatalf("MarshalUnit: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Error("encoding is not deterministic")
	}

	got, err := UnmarshalUnit(data)
	if err != nil {
		t.Fatalf("UnmarshalUnit: %v", err)
	}
	if got.Name != u.Name || got.Interface != u.Interface || len(got.Nested) != 1 {
		t.Errorf("header mismatch: %+v", got)
	}
	if !reflect.DeepEqual(got.Methods[0].Code, u.Methods[0].Code) {
		t.Errorf("code = %+v, want %+v", got.Methods[0].Code, u.Methods[0].Code)
	}
	if got.Signature == nil || got.Signature.Params[0].Name != "who" {
		t.Errorf("signature lost: %+v", got.Signature)
	}
}

func TestUnmarshalUnitRejectsVersion(t *testing.T) {
	u := sampleUnit(t)
	u.Version = FormatVersion + 1
	data, err := MarshalUnit(u)
	if err != nil {
		t.Fatalf("MarshalUnit: %v", err)
	}
	if _, err := UnmarshalUnit(data); err == nil {
		t.Fatal("expected a version error")
	}
}
