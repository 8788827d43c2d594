// Package codec encodes session documents with CBOR Core Deterministic
// Encoding, so the same logical document always produces the same bytes.
// The store relies on that to recognise writes that change nothing.
package codec

import (
	"bytes"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Documents only ever have string keys; decode untyped maps the
		// way encoding/json would.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

func Marshal(v any) ([]byte, error) { return encMode.Marshal(v) }

func Unmarshal(data []byte, v any) error { return decMode.Unmarshal(data, v) }

// Normalize round-trips v so typed Go values (map[string][]string, int,
// named string types) become the generic shapes stored in a document.
func Normalize(v any) (any, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ToFields converts a struct into top-level document fields.
func ToFields(v any) (map[string]any, error) {
	data, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// FromFields decodes document fields into v.
func FromFields(fields map[string]any, v any) error {
	data, err := Marshal(fields)
	if err != nil {
		return err
	}
	return Unmarshal(data, v)
}

// Equal reports whether a and b encode to the same bytes.
func Equal(a, b any) bool {
	da, errA := Marshal(a)
	db, errB := Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(da, db)
}
