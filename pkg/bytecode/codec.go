package bytecode

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// Records are exchanged as canonical CBOR so that identical records encode
// to identical bytes; the compiled-unit cache hashes this encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalRecord serializes a FunctionRecord to canonical CBOR.
func MarshalRecord(rec *FunctionRecord) ([]byte, error) {
	return cborEncMode.Marshal(rec)
}

// UnmarshalRecord deserializes a FunctionRecord from CBOR.
func UnmarshalRecord(data []byte) (*FunctionRecord, error) {
	var rec FunctionRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal record: %w", err)
	}
	return &rec, nil
}

// ReadRecordFile loads a CBOR-encoded record from path.
func ReadRecordFile(path string) (*FunctionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	rec, err := UnmarshalRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rec, nil
}

// WriteRecordFile stores rec at path as CBOR.
func WriteRecordFile(path string, rec *FunctionRecord) error {
	data, err := MarshalRecord(rec)
	if err != nil {
		return fmt.Errorf("bytecode: marshal record: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
