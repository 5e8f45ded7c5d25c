// Package hash computes the content hash that keys the compiled-unit cache.
//
// The hash covers everything that decides the output of a compilation: the
// record, the interface the unit implements, the signatures calls may bind
// to and the pinned types of module globals. It is computed over a
// canonical CBOR encoding, so equal inputs hash equally regardless of map
// order or the process that produced them.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/pyaot/compiler"
	"github.com/chazu/pyaot/pkg/bytecode"
	"github.com/chazu/pyaot/pkg/target"
)

// HashVersion is part of every hash input. Bump it when the meaning of an
// input field changes.
const HashVersion = 1

// Key is a SHA-256 content hash.
type Key [32]byte

// String returns the lowercase hex form of k.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// ParseKey parses the hex form produced by String.
func ParseKey(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("hash: %w", err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("hash: key has %d bytes, want %d", len(b), len(k))
	}
	copy(k[:], b)
	return k, nil
}

// Input is everything a compilation depends on.
type Input struct {
	Version    int                      `cbor:"v"`
	Format     int                      `cbor:"format"`
	Record     *bytecode.FunctionRecord `cbor:"record"`
	Interface  target.Interface         `cbor:"interface"`
	Signatures []string                 `cbor:"signatures,omitempty"`
	Globals    map[string]string        `cbor:"globals,omitempty"`
}

// ForCompiler collects the input of compiling rec into iface with c.
func ForCompiler(c *compiler.Compiler, rec *bytecode.FunctionRecord, iface target.Interface) Input {
	in := Input{
		Version:    HashVersion,
		Format:     target.FormatVersion,
		Record:     rec,
		Interface:  iface,
		Signatures: c.Registry().Fingerprints(),
	}
	if len(c.Globals) > 0 {
		in.Globals = make(map[string]string, len(c.Globals))
		for name, t := range c.Globals {
			in.Globals[name] = t.String()
		}
	}
	return in
}

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("hash: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Sum hashes in.
func Sum(in Input) (Key, error) {
	if in.Record == nil {
		return Key{}, fmt.Errorf("hash: no record")
	}
	data, err := encMode.Marshal(in)
	if err != nil {
		return Key{}, fmt.Errorf("hash: encode %s: %w", in.Record.DisplayName(), err)
	}
	return sha256.Sum256(data), nil
}

// Record hashes the compilation of rec into iface with c.
func Record(c *compiler.Compiler, rec *bytecode.FunctionRecord, iface target.Interface) (Key, error) {
	return Sum(ForCompiler(c, rec, iface))
}
