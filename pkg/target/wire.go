package target

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical mode so equal units encode to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("target: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalUnit serializes a Unit, nested units included, to CBOR bytes.
func MarshalUnit(u *Unit) ([]byte, error) {
	return cborEncMode.Marshal(u)
}

// UnmarshalUnit deserializes a Unit from CBOR bytes.
func UnmarshalUnit(data []byte) (*Unit, error) {
	var u Unit
	if err := cbor.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("target: unmarshal unit: %w", err)
	}
	if u.Version != FormatVersion {
		return nil, fmt.Errorf("target: unit format v%d, want v%d", u.Version, FormatVersion)
	}
	return &u, nil
}
